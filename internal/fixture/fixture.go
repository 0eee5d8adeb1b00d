// Package fixture generates synthetic frames and segmentation backends
// shared by tests across packages.
package fixture

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

// Default fixture frame size.
const (
	FrameWidth  = 160
	FrameHeight = 120
)

// SubjectColor is the fill of synthetic subjects.
var SubjectColor = color.RGBA{R: 230, G: 200, B: 180, A: 255}

// SubjectFrame returns a black BGR frame of the given size with a solid
// subject in rect. An empty rect gives an empty scene.
func SubjectFrame(width, height int, rect image.Rectangle) gocv.Mat {
	frame := gocv.Zeros(height, width, gocv.MatTypeCV8UC3)
	rect = rect.Intersect(image.Rect(0, 0, width, height))
	if rect.Empty() {
		return frame
	}
	region := frame.Region(rect)
	region.SetTo(gocv.NewScalar(float64(SubjectColor.B), float64(SubjectColor.G), float64(SubjectColor.R), 0))
	region.Close()
	return frame
}

// CenteredSubject returns a rectangle covering roughly fraction of a
// width×height frame, centered.
func CenteredSubject(width, height int, fraction float64) image.Rectangle {
	if fraction <= 0 {
		return image.Rectangle{}
	}
	w := int(float64(width) * math.Sqrt(fraction))
	h := int(float64(height) * math.Sqrt(fraction))
	x := (width - w) / 2
	y := (height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Sequence returns frames whose subjects cover the given fractions.
// The caller closes every Mat.
func Sequence(fractions ...float64) []gocv.Mat {
	frames := make([]gocv.Mat, len(fractions))
	for i, f := range fractions {
		frames[i] = SubjectFrame(FrameWidth, FrameHeight, CenteredSubject(FrameWidth, FrameHeight, f))
	}
	return frames
}

// BrightnessBackend returns a mock backend that treats every non-black pixel
// as foreground with full confidence. It works for all modes.
func BrightnessBackend() *segment.MockBackend {
	b := segment.NewMockBackend()
	b.SetFunc(Brightness)
	return b
}

// Brightness is a backend function mapping lit pixels to probability 1.
func Brightness(frame gocv.Mat, _ segment.ModeConfig) (gocv.Mat, error) {
	gray := gocv.NewMat()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return gocv.NewMat(), err
	}
	out := gocv.NewMat()
	gocv.Threshold(gray, &out, 0, 255, gocv.ThresholdBinary)
	gray.Close()
	return out, nil
}

// Cutout returns a w×h straight-alpha image with an opaque subject in its
// middle half and transparency elsewhere.
func Cutout(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	c := color.NRGBA{R: SubjectColor.R, G: SubjectColor.G, B: SubjectColor.B, A: 255}
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
