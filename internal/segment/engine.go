package segment

import (
	"image"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/matsumoto-fabrica/cardmaker/internal/mask"
)

// Engine defaults.
const (
	// DefaultMinInstanceArea drops connected components smaller than this many pixels.
	DefaultMinInstanceArea = 64
	// DefaultInstanceCutoff is the probability at which instance masks are cut.
	DefaultInstanceCutoff = 0.5
	// noForeground is the peak probability below which a map counts as empty.
	noForeground = 0.01
	// ccStatArea is the area column of connected component stats.
	ccStatArea = 4
)

// Config holds engine options.
type Config struct {
	Backend         Backend
	MinInstanceArea int
	InstanceCutoff  float64
	Logger          logrus.FieldLogger
}

// Engine runs a Backend and shapes its output per Mode. It is safe for
// concurrent use as long as the backend is; it keeps no per-mode state.
type Engine struct {
	backend Backend
	minArea int
	cutoff  float32
	log     logrus.FieldLogger
	calls   atomic.Uint64
}

// NewEngine creates an engine over cfg.Backend.
func NewEngine(cfg Config) *Engine {
	if cfg.MinInstanceArea <= 0 {
		cfg.MinInstanceArea = DefaultMinInstanceArea
	}
	if cfg.InstanceCutoff <= 0 || cfg.InstanceCutoff >= 1 {
		cfg.InstanceCutoff = DefaultInstanceCutoff
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Engine{
		backend: cfg.Backend,
		minArea: cfg.MinInstanceArea,
		cutoff:  float32(cfg.InstanceCutoff),
		log:     cfg.Logger.WithField("component", "segment"),
	}
}

// Segment isolates the subject in frame. It never fails: detector errors
// are logged and reported, like an absent subject, as an empty Result.
func (e *Engine) Segment(frame gocv.Mat, mode Mode) Result {
	e.calls.Add(1)
	empty := Result{Mode: mode}

	if e.backend == nil || frame.Empty() {
		return empty
	}
	if !mode.Valid() {
		e.log.WithField("mode", int(mode)).Warn("ignoring invalid segmentation mode")
		return empty
	}

	cfg := mode.Config()
	raw, err := e.backend.Infer(frame, cfg)
	if err != nil {
		e.log.WithError(err).WithField("mode", mode).Warn("segmentation failed")
		return empty
	}
	if raw.Empty() {
		raw.Close()
		return empty
	}

	prob, err := mask.Probability(raw)
	raw.Close()
	if err != nil {
		e.log.WithError(err).WithField("mode", mode).Warn("unusable segmentation output")
		return empty
	}

	if _, peak, _, _ := gocv.MinMaxLoc(prob); peak < noForeground {
		prob.Close()
		return empty
	}

	if !cfg.Instances {
		return Result{Mode: mode, Probability: &prob}
	}

	defer prob.Close()
	return e.instances(frame, prob, mode)
}

// instances splits prob into connected components at frame resolution and
// composites the union of those large enough into a hard cutout.
func (e *Engine) instances(frame gocv.Mat, prob gocv.Mat, mode Mode) Result {
	full := mask.Resample(prob, image.Pt(frame.Cols(), frame.Rows()))
	defer full.Close()

	hard := gocv.NewMat()
	defer hard.Close()
	gocv.Threshold(full, &hard, e.cutoff, 255, gocv.ThresholdBinary)

	hard8 := gocv.NewMat()
	defer hard8.Close()
	hard.ConvertTo(&hard8, gocv.MatTypeCV8UC1)

	labels := gocv.NewMat()
	stats := gocv.NewMat()
	centroids := gocv.NewMat()
	defer labels.Close()
	defer stats.Close()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(hard8, &labels, &stats, &centroids)

	union := gocv.Zeros(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
	defer union.Close()

	var instances []Instance
	for label := 1; label < n; label++ {
		area := int(stats.GetIntAt(label, ccStatArea))
		if area < e.minArea {
			continue
		}

		m := gocv.NewMat()
		v := float64(label)
		gocv.InRangeWithScalar(labels, gocv.NewScalar(v, 0, 0, 0), gocv.NewScalar(v, 0, 0, 0), &m)
		gocv.BitwiseOr(union, m, &union)

		instances = append(instances, Instance{ID: len(instances) + 1, Mask: m, Area: area})
	}

	if len(instances) == 0 {
		return Result{Mode: mode}
	}

	cutout, err := mask.Composite(frame, union)
	if err != nil {
		for i := range instances {
			instances[i].Mask.Close()
		}
		e.log.WithError(err).Warn("instance composite failed")
		return Result{Mode: mode}
	}

	return Result{Mode: mode, Instances: instances, Cutout: cutout}
}

// Calls returns how many times Segment has been invoked.
func (e *Engine) Calls() uint64 {
	return e.calls.Load()
}

// Close releases the backend.
func (e *Engine) Close() error {
	if e.backend == nil {
		return nil
	}
	return e.backend.Close()
}
