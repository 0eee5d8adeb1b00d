package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gocv.io/x/gocv"
)

// DefaultIdleTimeout stops an unused worker process.
const DefaultIdleTimeout = 30 * time.Second

// maxMessageSize bounds a single response from the worker.
const maxMessageSize = 64 << 20

// SubprocessConfig configures a SubprocessBackend.
type SubprocessConfig struct {
	// Script is the worker script. When empty, well-known locations are searched.
	Script string
	// Python is the interpreter. When empty a nearby virtualenv or python3 is used.
	Python      string
	IdleTimeout time.Duration
	Stderr      io.Writer
}

// inferRequest is written to the worker as a length-prefixed msgpack map.
type inferRequest struct {
	Mode    string `msgpack:"mode"`
	Quality string `msgpack:"quality"`
	Width   int    `msgpack:"width"`
	Height  int    `msgpack:"height"`
	Format  string `msgpack:"format"`
	Image   []byte `msgpack:"image"`
}

// inferResponse carries an 8-bit confidence map, row-major, 255 == 1.0.
// A zero width means no subject.
type inferResponse struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Mask   []byte `msgpack:"mask"`
	Error  string `msgpack:"error"`
}

// SubprocessBackend delegates inference to an external worker process
// speaking msgpack over stdin/stdout, each message prefixed with its
// 4-byte big-endian length. The worker is started lazily on first use and
// stopped after IdleTimeout without requests.
type SubprocessBackend struct {
	cfg       SubprocessConfig
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewSubprocessBackend creates a backend for the configured worker script.
func NewSubprocessBackend(cfg SubprocessConfig) (*SubprocessBackend, error) {
	if cfg.Script == "" {
		cfg.Script = findWorkerScript()
	}
	if cfg.Script == "" {
		return nil, fmt.Errorf("%w: segmentation_service.py not found", ErrBackendUnavailable)
	}
	if _, err := os.Stat(cfg.Script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	return &SubprocessBackend{cfg: cfg}, nil
}

// newPipeBackend wires a backend to an already running worker.
func newPipeBackend(stdin io.WriteCloser, stdout io.Reader) *SubprocessBackend {
	return &SubprocessBackend{
		cfg:     SubprocessConfig{IdleTimeout: DefaultIdleTimeout},
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		started: true,
	}
}

// Infer sends frame to the worker and waits for its mask.
func (b *SubprocessBackend) Infer(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, frame)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("encode frame: %w", err)
	}
	req := inferRequest{
		Mode:    cfg.Mode.String(),
		Quality: cfg.Quality,
		Width:   cfg.InputSize.X,
		Height:  cfg.InputSize.Y,
		Format:  "png",
		Image:   append([]byte(nil), buf.GetBytes()...),
	}
	buf.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureStarted(); err != nil {
		return gocv.NewMat(), err
	}

	if err := writeMessage(b.stdin, req); err != nil {
		b.abandon()
		return gocv.NewMat(), err
	}

	var resp inferResponse
	if err := readMessage(b.stdout, &resp); err != nil {
		b.abandon()
		return gocv.NewMat(), err
	}

	b.resetIdleTimer()

	if resp.Error != "" {
		return gocv.NewMat(), fmt.Errorf("worker: %s", resp.Error)
	}
	if resp.Width == 0 || resp.Height == 0 {
		return gocv.NewMat(), nil
	}
	if len(resp.Mask) != resp.Width*resp.Height {
		return gocv.NewMat(), fmt.Errorf("worker mask has %d bytes, want %dx%d", len(resp.Mask), resp.Width, resp.Height)
	}

	raw, err := gocv.NewMatFromBytes(resp.Height, resp.Width, gocv.MatTypeCV8UC1, resp.Mask)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode mask: %w", err)
	}
	defer raw.Close()

	prob := gocv.NewMat()
	raw.ConvertToWithParams(&prob, gocv.MatTypeCV32FC1, 1.0/255, 0)
	return prob, nil
}

func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))

	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v any) error {
	length := make([]byte, 4)
	if _, err := io.ReadFull(r, length); err != nil {
		return fmt.Errorf("read length: %w", err)
	}

	n := binary.BigEndian.Uint32(length)
	if n > maxMessageSize {
		return fmt.Errorf("response of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// Close shuts down the worker process.
func (b *SubprocessBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown()
}

func (b *SubprocessBackend) ensureStarted() error {
	if b.started {
		return nil
	}

	python := b.cfg.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	b.cmd = exec.Command(python, b.cfg.Script)

	stdin, err := b.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := b.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	b.cmd.Stderr = b.cfg.Stderr

	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("start segmentation worker: %w", err)
	}

	b.stdin = stdin
	b.stdout = bufio.NewReader(stdout)
	b.started = true

	return nil
}

func (b *SubprocessBackend) shutdown() error {
	if !b.started {
		return nil
	}

	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}

	if b.stdin != nil {
		b.stdin.Close()
	}

	var err error
	if b.cmd != nil {
		err = b.cmd.Wait()
	}
	b.started = false
	b.cmd = nil
	b.stdin = nil
	b.stdout = nil

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// the worker exits non-zero when its stdin closes mid-read
		return nil
	}
	return err
}

// abandon drops a worker whose pipe broke so the next Infer starts a fresh one.
func (b *SubprocessBackend) abandon() {
	if b.cmd != nil && b.cmd.Process != nil {
		b.cmd.Process.Kill()
	}
	b.shutdown()
}

func (b *SubprocessBackend) resetIdleTimer() {
	if b.cmd == nil {
		return
	}
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
	b.idleTimer = time.AfterFunc(b.cfg.IdleTimeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.shutdown()
	})
}

func findWorkerScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/segmentation_service.py",
		"../scripts/segmentation_service.py",
		filepath.Join(execDir, "scripts/segmentation_service.py"),
		filepath.Join(os.Getenv("HOME"), ".cardmaker/scripts/segmentation_service.py"),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".cardmaker/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
