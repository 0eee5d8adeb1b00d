package mask

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when compositing against an empty frame.
var ErrEmptyFrame = errors.New("frame is empty")

// Cutout is a frame with a computed alpha channel, stored as a BGRA Mat.
type Cutout struct {
	mat gocv.Mat
}

// Composite resamples alpha to the frame's resolution and attaches it to the
// frame colors, producing a cutout over a fully transparent background.
// alpha may be a CV_32F map in [0,1] or a CV_8U mask in [0,255].
func Composite(frame gocv.Mat, alpha gocv.Mat) (*Cutout, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}
	if alpha.Empty() {
		return nil, ErrEmptyMask
	}

	bgr, err := toBGR(frame)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	a8, err := alpha8(alpha, image.Pt(bgr.Cols(), bgr.Rows()))
	if err != nil {
		return nil, err
	}
	defer a8.Close()

	channels := gocv.Split(bgr)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	out := gocv.NewMat()
	gocv.Merge([]gocv.Mat{channels[0], channels[1], channels[2], a8}, &out)

	return &Cutout{mat: out}, nil
}

func toBGR(frame gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	switch frame.Channels() {
	case 3:
		frame.CopyTo(&out)
	case 4:
		gocv.CvtColor(frame, &out, gocv.ColorBGRAToBGR)
	case 1:
		gocv.CvtColor(frame, &out, gocv.ColorGrayToBGR)
	default:
		out.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported frame with %d channels", frame.Channels())
	}
	return out, nil
}

// alpha8 returns alpha at size as CV_8U.
func alpha8(alpha gocv.Mat, size image.Point) (gocv.Mat, error) {
	if alpha.Channels() != 1 {
		return gocv.NewMat(), fmt.Errorf("alpha: expected 1 channel, got %d", alpha.Channels())
	}

	scaled := Resample(alpha, size)
	if scaled.Type() == gocv.MatTypeCV8UC1 {
		return scaled, nil
	}
	defer scaled.Close()

	out := gocv.NewMat()
	scaled.ConvertToWithParams(&out, gocv.MatTypeCV8UC1, 255, 0)
	return out, nil
}

// Mat returns the BGRA pixels. Callers must not modify them.
func (c *Cutout) Mat() gocv.Mat { return c.mat }

// Width returns the cutout width in pixels.
func (c *Cutout) Width() int { return c.mat.Cols() }

// Height returns the cutout height in pixels.
func (c *Cutout) Height() int { return c.mat.Rows() }

// Alpha returns a copy of the alpha channel as a CV_8U Mat.
func (c *Cutout) Alpha() gocv.Mat {
	channels := gocv.Split(c.mat)
	for i := 0; i < 3; i++ {
		channels[i].Close()
	}
	return channels[3]
}

// Coverage scores the cutout's alpha with the default stride.
func (c *Cutout) Coverage() float64 {
	alpha := c.Alpha()
	defer alpha.Close()
	return Coverage(alpha, DefaultStride)
}

// Clone returns an independent copy.
func (c *Cutout) Clone() *Cutout {
	return &Cutout{mat: c.mat.Clone()}
}

// Close releases the pixels.
func (c *Cutout) Close() error {
	return c.mat.Close()
}

// Image converts the cutout to a Go image with straight alpha.
func (c *Cutout) Image() (*image.NRGBA, error) {
	return ToNRGBA(c.mat)
}
