package segment

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// KeyConfig configures a KeyBackend.
type KeyConfig struct {
	// Key is the backdrop color, e.g. a green screen or a black booth wall.
	Key color.RGBA
	// Low and High bound the per-channel distance ramp (0-255). Distances at
	// or below Low are background, at or above High certain foreground.
	Low, High float64
}

// DefaultKeyConfig keys against a green screen.
func DefaultKeyConfig() KeyConfig {
	return KeyConfig{Key: color.RGBA{G: 177, B: 64, A: 255}, Low: 30, High: 90}
}

// KeyBackend segments by distance from a backdrop color. It needs no model,
// which makes it suitable for booths with a controlled background and for
// tests. Frames wider than the mode's input size are downscaled first, so
// faster modes return coarser maps.
type KeyBackend struct {
	cfg KeyConfig
}

// NewKeyBackend creates a KeyBackend.
func NewKeyBackend(cfg KeyConfig) *KeyBackend {
	if cfg.High <= cfg.Low {
		cfg.High = cfg.Low + 1
	}
	return &KeyBackend{cfg: cfg}
}

// Infer returns a CV_32F probability map.
func (b *KeyBackend) Infer(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error) {
	src := frame
	if frame.Channels() == 4 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(frame, &bgr, gocv.ColorBGRAToBGR)
		src = bgr
	}

	if size, ok := fitWithin(image.Pt(src.Cols(), src.Rows()), cfg.InputSize); ok {
		small := gocv.NewMat()
		defer small.Close()
		gocv.Resize(src, &small, size, 0, 0, gocv.InterpolationArea)
		src = small
	}

	key := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(b.cfg.Key.B), float64(b.cfg.Key.G), float64(b.cfg.Key.R), 0),
		src.Rows(), src.Cols(), src.Type())
	defer key.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(src, key, &diff)

	channels := gocv.Split(diff)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	dist := channels[0].Clone()
	defer dist.Close()
	for _, c := range channels[1:] {
		gocv.Max(dist, c, &dist)
	}

	scale := 1 / (b.cfg.High - b.cfg.Low)
	prob := gocv.NewMat()
	dist.ConvertToWithParams(&prob, gocv.MatTypeCV32FC1, float32(scale), float32(-b.cfg.Low*scale))
	gocv.Threshold(prob, &prob, 1, 1, gocv.ThresholdTrunc)
	gocv.Threshold(prob, &prob, 0, 0, gocv.ThresholdToZero)

	return prob, nil
}

// Close is a no-op.
func (b *KeyBackend) Close() error { return nil }

// fitWithin returns size scaled down to fit limit, keeping aspect ratio.
func fitWithin(size, limit image.Point) (image.Point, bool) {
	if limit.X <= 0 || limit.Y <= 0 || (size.X <= limit.X && size.Y <= limit.Y) {
		return size, false
	}
	sx := float64(limit.X) / float64(size.X)
	sy := float64(limit.Y) / float64(size.Y)
	s := sx
	if sy < s {
		s = sy
	}
	w, h := int(float64(size.X)*s), int(float64(size.Y)*s)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Pt(w, h), true
}
