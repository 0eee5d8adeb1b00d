package capture

import "sync"

// LatestFrame holds the most recent frame for readers on other goroutines.
// The lock only guards the pointer swap; pixel data is never copied.
type LatestFrame struct {
	mu    sync.Mutex
	frame *Frame
}

// Store publishes f, retaining it, and releases the frame it replaces.
// A nil f clears the holder.
func (l *LatestFrame) Store(f *Frame) {
	if f != nil {
		f.Retain()
	}

	l.mu.Lock()
	old := l.frame
	l.frame = f
	l.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Load returns the current frame with an extra reference, or nil.
// The caller must Release it.
func (l *LatestFrame) Load() *Frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frame == nil {
		return nil
	}
	return l.frame.Retain()
}
