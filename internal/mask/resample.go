package mask

import (
	"image"

	"gocv.io/x/gocv"
)

// Resample scales m to exactly size. Soft (float) masks use bilinear
// interpolation and hard 8-bit masks nearest neighbour so their edges stay
// binary. The result is always a new Mat.
func Resample(m gocv.Mat, size image.Point) gocv.Mat {
	out := gocv.NewMat()
	if m.Cols() == size.X && m.Rows() == size.Y {
		m.CopyTo(&out)
		return out
	}

	interp := gocv.InterpolationLinear
	if m.Type() == gocv.MatTypeCV8UC1 {
		interp = gocv.InterpolationNearestNeighbor
	}
	gocv.Resize(m, &out, size, 0, 0, interp)
	return out
}
