package capture

import (
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image shared between the frame-processing and
// capture contexts. Its pixels must not be modified after NewFrame. The
// underlying Mat is closed when the last holder calls Release.
type Frame struct {
	mat       gocv.Mat
	seq       uint64
	timestamp time.Time
	refs      atomic.Int32
}

// NewFrame takes ownership of mat and returns a frame holding one reference.
func NewFrame(mat gocv.Mat, seq uint64, timestamp time.Time) *Frame {
	f := &Frame{mat: mat, seq: seq, timestamp: timestamp}
	f.refs.Store(1)
	return f
}

// Mat returns the frame pixels. Callers must treat them as read-only.
func (f *Frame) Mat() gocv.Mat { return f.mat }

// Seq is the source-assigned sequence number.
func (f *Frame) Seq() uint64 { return f.seq }

// Timestamp is when the frame was delivered by the source.
func (f *Frame) Timestamp() time.Time { return f.timestamp }

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.mat.Cols() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.mat.Rows() }

// Retain adds a reference and returns f for chaining.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops a reference, closing the Mat when none remain.
func (f *Frame) Release() {
	if f.refs.Add(-1) == 0 {
		f.mat.Close()
	}
}
