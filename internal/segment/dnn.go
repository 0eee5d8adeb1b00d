package segment

import (
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// DNNConfig describes an OpenCV-loadable segmentation network whose output
// blob is NxCxHxW with the foreground probability in the last channel.
type DNNConfig struct {
	Model  string
	Config string
	// Scale multiplies pixel values before inference (default 1/255).
	Scale float64
	// Mean is subtracted from each channel before scaling.
	Mean   gocv.Scalar
	SwapRB bool
}

// DNNBackend runs a segmentation network through gocv's dnn module.
// Input resolution comes from the per-call ModeConfig, so concurrent calls
// in different modes never reconfigure shared state. The network itself is
// not reentrant; forward passes are serialized.
type DNNBackend struct {
	cfg DNNConfig
	net gocv.Net
	mu  sync.Mutex
}

// NewDNNBackend loads the network described by cfg.
func NewDNNBackend(cfg DNNConfig) (*DNNBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: no model configured", ErrBackendUnavailable)
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0 / 255
	}

	net := gocv.ReadNet(cfg.Model, cfg.Config)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot read network %s", ErrBackendUnavailable, cfg.Model)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set dnn backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set dnn target: %w", err)
	}

	return &DNNBackend{cfg: cfg, net: net}, nil
}

// Infer runs one forward pass at the mode's input size.
func (b *DNNBackend) Infer(frame gocv.Mat, cfg ModeConfig) (gocv.Mat, error) {
	src := frame
	if frame.Channels() == 4 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(frame, &bgr, gocv.ColorBGRAToBGR)
		src = bgr
	}

	blob := gocv.BlobFromImage(src, b.cfg.Scale, cfg.InputSize, b.cfg.Mean, b.cfg.SwapRB, false)
	defer blob.Close()

	b.mu.Lock()
	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	b.mu.Unlock()
	defer out.Close()

	if out.Empty() {
		return gocv.NewMat(), fmt.Errorf("dnn forward returned no output")
	}

	dims := gocv.GetBlobSize(out)
	channels := int(dims.Val2)
	if channels < 1 {
		return gocv.NewMat(), fmt.Errorf("unexpected output shape %v", dims)
	}

	plane := gocv.GetBlobChannel(out, 0, channels-1)
	defer plane.Close()

	prob := plane.Clone()
	gocv.Threshold(prob, &prob, 1, 1, gocv.ThresholdTrunc)
	gocv.Threshold(prob, &prob, 0, 0, gocv.ThresholdToZero)

	return prob, nil
}

// Close releases the network.
func (b *DNNBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.net.Close()
}
