package segment

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockBackend is a test implementation of the Backend interface.
// By default it finds nothing.
type MockBackend struct {
	mu    sync.Mutex
	mask  *gocv.Mat
	fn    func(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error)
	err   error
	calls int
	modes []Mode
}

// NewMockBackend creates a new MockBackend instance.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// SetMask makes Infer return a copy of m. The mock keeps its own copy.
func (b *MockBackend) SetMask(m gocv.Mat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mask != nil {
		b.mask.Close()
	}
	c := m.Clone()
	b.mask = &c
}

// SetUniform makes Infer return a size map filled with v.
func (b *MockBackend) SetUniform(size image.Point, v float32) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(v), 0, 0, 0), size.Y, size.X, gocv.MatTypeCV32FC1)
	defer m.Close()
	b.SetMask(m)
}

// SetFunc delegates Infer to fn, taking precedence over a fixed mask.
func (b *MockBackend) SetFunc(fn func(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = fn
}

// SetError sets the error that will be returned by Infer.
func (b *MockBackend) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Infer returns the configured result.
func (b *MockBackend) Infer(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error) {
	b.mu.Lock()
	b.calls++
	b.modes = append(b.modes, cfg.Mode)
	fn := b.fn
	if fn == nil || b.err != nil {
		defer b.mu.Unlock()
		if b.err != nil {
			return gocv.NewMat(), b.err
		}
		if b.mask == nil {
			return gocv.NewMat(), nil
		}
		return b.mask.Clone(), nil
	}
	b.mu.Unlock()

	return fn(frame, cfg)
}

// Calls returns how many times Infer ran.
func (b *MockBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Modes returns the modes Infer was called with, in order.
func (b *MockBackend) Modes() []Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Mode(nil), b.modes...)
}

// Close releases the stored mask.
func (b *MockBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mask != nil {
		b.mask.Close()
		b.mask = nil
	}
	return nil
}
