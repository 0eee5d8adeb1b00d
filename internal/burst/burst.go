// Package burst captures several frames on demand, segments each at the
// highest accuracy available, and keeps the one with the best coverage.
package burst

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
	"github.com/matsumoto-fabrica/cardmaker/internal/mask"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

// Capture defaults.
const (
	DefaultAttempts = 3
	DefaultDelay    = 150 * time.Millisecond
)

var (
	// ErrCaptureEmpty is returned when no attempt produced a usable subject.
	ErrCaptureEmpty = errors.New("capture found no subject")

	// ErrCaptureInProgress is returned when a capture is requested while
	// another one is still running. Requests are rejected, never queued.
	ErrCaptureInProgress = errors.New("capture already in progress")
)

// Segmenter runs segmentation on a frame.
type Segmenter interface {
	Segment(frame gocv.Mat, mode segment.Mode) segment.Result
}

// Renderer turns a segmentation result into a cutout.
type Renderer interface {
	Render(frame gocv.Mat, res segment.Result, threshold float64) (*mask.Cutout, error)
}

// Frames gives the capturer access to the frame source. Both methods return
// a retained frame the caller must release, or nil when none is available.
type Frames interface {
	// Previewed returns the frame most recently shown in the live preview.
	Previewed() *capture.Frame
	// Current returns the newest frame delivered by the source.
	Current() *capture.Frame
}

// Config holds capturer dependencies.
type Config struct {
	Segmenter Segmenter
	Renderer  Renderer
	Frames    Frames
	// Stride is the coverage sampling stride (mask.DefaultStride when <= 0).
	Stride int
	Logger logrus.FieldLogger
}

// Request describes one capture.
type Request struct {
	Attempts int
	Delay    time.Duration
	// Mode is the session mode; the capture runs at Mode.Highest().
	Mode      segment.Mode
	Threshold float64
}

// Candidate is the winning capture. Both images are immutable copies safe to
// hand to other goroutines.
type Candidate struct {
	ID         string
	Frame      *image.NRGBA
	Cutout     *image.NRGBA
	Score      float64
	Attempt    int
	Seq        uint64
	Mode       segment.Mode
	Threshold  float64
	CapturedAt time.Time
}

// Outcome summarizes a capture whether or not it succeeded.
type Outcome struct {
	Best *Candidate
	// Attempts is the number of iterations run, including skipped ones.
	Attempts int
	// Segmented counts segmentation calls.
	Segmented int
	// Skipped counts iterations with no frame available.
	Skipped  int
	Duration time.Duration
}

// Capturer runs burst captures. It is safe for concurrent use; overlapping
// calls fail fast with ErrCaptureInProgress.
type Capturer struct {
	cfg   Config
	log   logrus.FieldLogger
	busy  sync.Mutex
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Capturer.
func New(cfg Config) *Capturer {
	if cfg.Stride <= 0 {
		cfg.Stride = mask.DefaultStride
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Capturer{
		cfg:   cfg,
		log:   cfg.Logger.WithField("component", "burst"),
		sleep: sleepContext,
	}
}

// scored is an in-flight candidate still holding Mats.
type scored struct {
	frame   *capture.Frame
	cutout  *mask.Cutout
	score   float64
	attempt int
}

func (s *scored) release() {
	s.cutout.Close()
	s.frame.Release()
}

// CaptureBest runs up to req.Attempts iterations. The first uses the frame
// currently shown in the preview; each later one waits req.Delay and takes
// the newest frame, skipping the iteration if there is none. The candidate
// with the strictly highest coverage wins, so ties keep the earlier one.
//
// Cancelling ctx stops further attempts; the best candidate found so far is
// still returned. ErrCaptureEmpty is returned when nothing usable was found.
func (c *Capturer) CaptureBest(ctx context.Context, req Request) (Outcome, error) {
	if !c.busy.TryLock() {
		return Outcome{}, ErrCaptureInProgress
	}
	defer c.busy.Unlock()

	if req.Attempts <= 0 {
		req.Attempts = DefaultAttempts
	}
	if req.Delay < 0 {
		req.Delay = 0
	}
	mode := req.Mode.Highest()

	start := time.Now()
	var (
		out     Outcome
		best    *scored
		stopErr error
	)

	for i := 0; i < req.Attempts; i++ {
		var f *capture.Frame
		if i == 0 {
			f = c.cfg.Frames.Previewed()
			if f == nil {
				f = c.cfg.Frames.Current()
			}
		} else {
			if err := c.sleep(ctx, req.Delay); err != nil {
				stopErr = err
				break
			}
			f = c.cfg.Frames.Current()
		}
		out.Attempts++

		if f == nil {
			out.Skipped++
			continue
		}

		out.Segmented++
		cand := c.attempt(f, mode, req.Threshold, i+1)
		if cand == nil {
			continue
		}

		c.log.WithFields(logrus.Fields{
			"attempt": i + 1,
			"seq":     f.Seq(),
			"score":   cand.score,
		}).Debug("capture attempt scored")

		if best == nil || cand.score > best.score {
			if best != nil {
				best.release()
			}
			best = cand
		} else {
			cand.release()
		}
	}
	out.Duration = time.Since(start)

	if best == nil {
		if stopErr != nil {
			return out, fmt.Errorf("%w: %v", ErrCaptureEmpty, stopErr)
		}
		return out, ErrCaptureEmpty
	}
	defer best.release()

	cand, err := c.finish(best, mode, req.Threshold)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrCaptureEmpty, err)
	}
	out.Best = cand

	c.log.WithFields(logrus.Fields{
		"id":        cand.ID,
		"attempt":   cand.Attempt,
		"score":     cand.Score,
		"segmented": out.Segmented,
		"skipped":   out.Skipped,
		"elapsed":   out.Duration,
	}).Info("capture complete")

	return out, nil
}

// attempt segments one frame, taking over the caller's reference to f.
func (c *Capturer) attempt(f *capture.Frame, mode segment.Mode, threshold float64, n int) *scored {
	res := c.cfg.Segmenter.Segment(f.Mat(), mode)
	defer res.Close()

	if res.Empty() {
		f.Release()
		return nil
	}

	cut, err := c.cfg.Renderer.Render(f.Mat(), res, threshold)
	if err != nil || cut == nil {
		if err != nil {
			c.log.WithError(err).WithField("attempt", n).Warn("capture render failed")
		}
		f.Release()
		return nil
	}

	alpha := cut.Alpha()
	score := mask.Coverage(alpha, c.cfg.Stride)
	alpha.Close()

	if score <= 0 {
		cut.Close()
		f.Release()
		return nil
	}

	return &scored{frame: f, cutout: cut, score: score, attempt: n}
}

func (c *Capturer) finish(s *scored, mode segment.Mode, threshold float64) (*Candidate, error) {
	frameImg, err := mask.ToNRGBA(s.frame.Mat())
	if err != nil {
		return nil, err
	}
	cutImg, err := s.cutout.Image()
	if err != nil {
		return nil, err
	}

	return &Candidate{
		ID:         uuid.New().String(),
		Frame:      frameImg,
		Cutout:     cutImg,
		Score:      s.score,
		Attempt:    s.attempt,
		Seq:        s.frame.Seq(),
		Mode:       mode,
		Threshold:  threshold,
		CapturedAt: s.frame.Timestamp(),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
