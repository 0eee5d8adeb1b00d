// Package capture provides the frame source side of the pipeline: camera
// capture using GoCV (OpenCV) and the handoff primitives that move frames
// between execution contexts.
package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 1280
	DefaultHeight = 720
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrEndOfStream is returned when a file or stream source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
)

// Camera defines the interface for frame source implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	// FrameCount returns the number of frames in a finite source, or 0 for live devices.
	FrameCount() int
	IsOpen() bool
}

// Options selects and configures a capture source. When URL is set it takes
// precedence over DeviceID and may name a video file or a network stream.
type Options struct {
	DeviceID int
	URL      string
	Width    int
	Height   int
	FPS      int
}

// cameraImpl reads frames from a device, file or stream using GoCV.
type cameraImpl struct {
	opts    Options
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a new Camera for the given options.
func NewCamera(opts Options) Camera {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}

	return &cameraImpl{
		opts: opts,
		fps:  fps,
	}
}

// Open opens the underlying capture source.
// Resolution hints only apply to live devices; files keep their native size.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if c.opts.URL != "" {
		capture, err = gocv.OpenVideoCapture(c.opts.URL)
	} else {
		capture, err = gocv.OpenVideoCapture(c.opts.DeviceID)
	}
	if err != nil {
		return err
	}

	if c.opts.URL == "" {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
	} else if native := int(capture.Get(gocv.VideoCaptureFPS)); native > 0 {
		c.fps = native
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the source.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if c.opts.URL != "" {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil && c.opts.URL == "" {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// FrameCount reports the length of a file source.
func (c *cameraImpl) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil || c.opts.URL == "" {
		return 0
	}
	n := int(c.capture.Get(gocv.VideoCaptureFrameCount))
	if n < 0 {
		return 0
	}
	return n
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
