// Package segment isolates foreground subjects in frames.
//
// An Engine wraps a Backend that produces per-pixel foreground probability.
// Depending on the Mode, the engine returns that probability map as-is or
// splits it into hard per-instance masks with a pre-composited cutout.
// Failures never surface as errors: a detector error and an empty frame both
// yield an empty Result, which callers render as the unmasked frame.
package segment

import (
	"errors"

	"gocv.io/x/gocv"
)

// ErrBackendUnavailable is returned when a backend cannot be constructed.
var ErrBackendUnavailable = errors.New("segmentation backend unavailable")

// Backend produces foreground probability for a frame.
type Backend interface {
	// Infer returns a single-channel probability map (CV_32F in [0,1], or
	// CV_8U where 255 is certain foreground). The map may be smaller than the
	// frame. An empty Mat means nothing was found.
	Infer(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error)

	// Close releases any resources held by the backend.
	Close() error
}
