package mask

import (
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func rectMask(rows, cols int, r image.Rectangle) gocv.Mat {
	m := gocv.Zeros(rows, cols, gocv.MatTypeCV8UC1)
	if r.Empty() {
		return m
	}
	region := m.Region(r)
	region.SetTo(gocv.NewScalar(255, 0, 0, 0))
	region.Close()
	return m
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		name string
		rect image.Rectangle
		want float64
	}{
		{name: "empty", rect: image.Rectangle{}, want: 0},
		{name: "full", rect: image.Rect(0, 0, 64, 64), want: 1},
		{name: "left half", rect: image.Rect(0, 0, 32, 64), want: 0.5},
		{name: "quarter", rect: image.Rect(0, 0, 32, 32), want: 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := rectMask(64, 64, tt.rect)
			defer m.Close()

			if got := Coverage(m, DefaultStride); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Coverage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoverage_TranslationInvariant(t *testing.T) {
	base := rectMask(96, 96, image.Rect(8, 8, 40, 48))
	defer base.Close()
	want := Coverage(base, DefaultStride)

	// shifts on the sampling grid
	for _, d := range []image.Point{{4, 0}, {0, 8}, {24, 32}, {52, 44}} {
		moved := rectMask(96, 96, image.Rect(8, 8, 40, 48).Add(d))
		if got := Coverage(moved, DefaultStride); got != want {
			t.Errorf("shift %v: Coverage() = %v, want %v", d, got, want)
		}
		moved.Close()
	}
}

func TestCoverage_DecreasesAsMaskIsCleared(t *testing.T) {
	m := rectMask(32, 32, image.Rect(0, 0, 32, 32))
	defer m.Close()

	prev := Coverage(m, DefaultStride)
	for y := 0; y < 32; y += DefaultStride {
		row := m.Region(image.Rect(0, y, 32, y+1))
		row.SetTo(gocv.NewScalar(0, 0, 0, 0))
		row.Close()

		got := Coverage(m, DefaultStride)
		if got >= prev {
			t.Fatalf("after clearing row %d: Coverage() = %v, want < %v", y, got, prev)
		}
		prev = got
	}
	if prev != 0 {
		t.Errorf("fully cleared Coverage() = %v, want 0", prev)
	}
}

func TestCoverage_FloatMask(t *testing.T) {
	m := floatMask(16, 16, func(r, _ int) float32 {
		if r < 8 {
			return 0.9
		}
		return 0.5
	})
	defer m.Close()

	// 0.5 is not above the cutoff
	if got := Coverage(m, DefaultStride); got != 0.5 {
		t.Errorf("Coverage() = %v, want 0.5", got)
	}
}
