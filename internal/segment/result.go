package segment

import (
	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/mask"
)

// Instance is one separated foreground object.
type Instance struct {
	ID int
	// Mask is CV_8U at frame resolution, 255 inside the instance.
	Mask gocv.Mat
	Area int
}

// Result is the outcome of segmenting one frame. Exactly one of Probability
// or Instances/Cutout is populated; neither is when nothing was found.
type Result struct {
	Mode Mode

	// Probability is a CV_32F map in [0,1], set for probabilistic modes.
	Probability *gocv.Mat

	// Instances and Cutout are set for ForegroundInstanceMask.
	Instances []Instance
	Cutout    *mask.Cutout
}

// Empty reports whether no subject was found.
func (r *Result) Empty() bool {
	return r.Probability == nil && r.Cutout == nil
}

// Close releases all Mats held by the result.
func (r *Result) Close() {
	if r.Probability != nil {
		r.Probability.Close()
		r.Probability = nil
	}
	for i := range r.Instances {
		r.Instances[i].Mask.Close()
	}
	r.Instances = nil
	if r.Cutout != nil {
		r.Cutout.Close()
		r.Cutout = nil
	}
}
