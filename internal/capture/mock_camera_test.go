package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func newTestFrames(n int) []gocv.Mat {
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*10), 0, 0, 0), 4, 4, gocv.MatTypeCV8UC3)
	}
	return frames
}

func closeAll(frames []gocv.Mat) {
	for i := range frames {
		frames[i].Close()
	}
}

func TestMockCamera_Playback(t *testing.T) {
	frames := newTestFrames(3)
	defer closeAll(frames)

	tests := []struct {
		name      string
		loop      bool
		reads     int
		wantErrAt int // index of the first failing read, -1 for none
	}{
		{name: "no loop stops after last frame", loop: false, reads: 4, wantErrAt: 3},
		{name: "loop wraps around", loop: true, reads: 7, wantErrAt: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewMockCamera(frames, tt.loop)
			if err := cam.Open(); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer cam.Close()

			for i := 0; i < tt.reads; i++ {
				mat, err := cam.ReadFrame()
				if i == tt.wantErrAt {
					if !errors.Is(err, ErrEndOfStream) {
						t.Fatalf("read %d: error = %v, want %v", i, err, ErrEndOfStream)
					}
					return
				}
				if err != nil {
					t.Fatalf("read %d: unexpected error %v", i, err)
				}
				want := float64((i % len(frames)) * 10)
				if got := float64(mat.GetVecbAt(0, 0)[0]); got != want {
					t.Errorf("read %d: pixel = %v, want %v", i, got, want)
				}
				mat.Close()
			}

			if got := cam.Reads(); got != tt.reads {
				t.Errorf("Reads() = %d, want %d", got, tt.reads)
			}
		})
	}
}

func TestMockCamera_Errors(t *testing.T) {
	t.Run("closed camera", func(t *testing.T) {
		cam := NewMockCamera(nil, false)
		if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
			t.Errorf("ReadFrame() error = %v, want %v", err, ErrCameraNotOpen)
		}
	})

	t.Run("no frames", func(t *testing.T) {
		cam := NewMockCamera(nil, true)
		cam.Open()
		if _, err := cam.ReadFrame(); !errors.Is(err, ErrNoFrames) {
			t.Errorf("ReadFrame() error = %v, want %v", err, ErrNoFrames)
		}
	})
}

func TestMockCamera_FrameCount(t *testing.T) {
	frames := newTestFrames(5)
	defer closeAll(frames)

	if got := NewMockCamera(frames, false).FrameCount(); got != 5 {
		t.Errorf("FrameCount() = %d, want 5", got)
	}
	if got := NewMockCamera(frames, true).FrameCount(); got != 0 {
		t.Errorf("looping FrameCount() = %d, want 0", got)
	}
}
