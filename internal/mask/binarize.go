// Package mask converts segmentation output into alpha masks and cutouts.
//
// Probability maps are single-channel CV_32F Mats with values in [0,1].
// Hard masks are CV_8U with 0 or 255. Cutouts are 4-channel BGRA Mats with
// straight (non-premultiplied) alpha.
package mask

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// DefaultSharpness is the default steepness of the binarization ramp.
const DefaultSharpness = 20.0

var (
	// ErrEmptyMask is returned when an operation receives an empty Mat.
	ErrEmptyMask = errors.New("mask is empty")

	// ErrThresholdRange is returned for thresholds outside [0,1].
	ErrThresholdRange = errors.New("threshold must be within [0,1]")
)

// Binarize sharpens a probability map around threshold and returns a new
// CV_32F alpha mask clamped to [0,1].
//
// Each value is mapped through v*sharpness + 0.5 - threshold*sharpness, so
// the output crosses 0.5 exactly at threshold and saturates within
// 1/(2*sharpness) on either side. A sharpness <= 0 selects DefaultSharpness.
func Binarize(prob gocv.Mat, threshold, sharpness float64) (gocv.Mat, error) {
	if prob.Empty() {
		return gocv.NewMat(), ErrEmptyMask
	}
	if threshold < 0 || threshold > 1 {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrThresholdRange, threshold)
	}
	if prob.Channels() != 1 {
		return gocv.NewMat(), fmt.Errorf("binarize: expected 1 channel, got %d", prob.Channels())
	}
	if sharpness <= 0 {
		sharpness = DefaultSharpness
	}

	src, err := Probability(prob)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer src.Close()

	bias := 0.5 - threshold*sharpness
	out := gocv.NewMat()
	src.ConvertToWithParams(&out, gocv.MatTypeCV32FC1, float32(sharpness), float32(bias))
	Clamp(&out)

	return out, nil
}

// Clamp limits a CV_32F Mat to [0,1] in place.
func Clamp(m *gocv.Mat) {
	gocv.Threshold(*m, m, 1, 1, gocv.ThresholdTrunc)
	gocv.Threshold(*m, m, 0, 0, gocv.ThresholdToZero)
}

// Probability returns m as a new CV_32F map in [0,1]. 8-bit input is scaled
// by 1/255; float input is copied and clamped.
func Probability(m gocv.Mat) (gocv.Mat, error) {
	if m.Empty() {
		return gocv.NewMat(), ErrEmptyMask
	}

	out := gocv.NewMat()
	switch m.Type() {
	case gocv.MatTypeCV8UC1:
		m.ConvertToWithParams(&out, gocv.MatTypeCV32FC1, 1.0/255, 0)
	case gocv.MatTypeCV32FC1:
		m.CopyTo(&out)
		Clamp(&out)
	default:
		out.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported mask type %v", m.Type())
	}
	return out, nil
}
