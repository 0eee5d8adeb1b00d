// Package preview turns segmentation results into live preview cutouts and
// measures preview throughput.
package preview

import (
	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/mask"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

// Compositor blends frames with their segmentation into cutouts.
type Compositor struct {
	sharpness float64
}

// NewCompositor creates a compositor binarizing with sharpness
// (mask.DefaultSharpness when <= 0).
func NewCompositor(sharpness float64) *Compositor {
	if sharpness <= 0 {
		sharpness = mask.DefaultSharpness
	}
	return &Compositor{sharpness: sharpness}
}

// Sharpness returns the binarization steepness in use.
func (c *Compositor) Sharpness() float64 {
	return c.sharpness
}

// Render produces the cutout for frame. Probability maps are binarized at
// threshold, resampled to the frame and blended over transparency; instance
// results already carry a hard cutout and are copied through. A nil cutout
// with a nil error means there is no subject and the caller should show the
// unmasked frame.
func (c *Compositor) Render(frame gocv.Mat, res segment.Result, threshold float64) (*mask.Cutout, error) {
	if res.Empty() {
		return nil, nil
	}

	if res.Cutout != nil {
		return res.Cutout.Clone(), nil
	}

	alpha, err := mask.Binarize(*res.Probability, threshold, c.sharpness)
	if err != nil {
		return nil, err
	}
	defer alpha.Close()

	return mask.Composite(frame, alpha)
}
