package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
	"github.com/matsumoto-fabrica/cardmaker/internal/config"
	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
	"github.com/matsumoto-fabrica/cardmaker/internal/store"
)

// newBackend builds the segmentation backend named kind. BackendNone yields
// a nil backend, which the engine treats as "no subject".
func newBackend(seg config.SegmentationConfig, kind string) (segment.Backend, error) {
	switch kind {
	case config.BackendKey:
		return segment.NewKeyBackend(segment.DefaultKeyConfig()), nil
	case config.BackendDNN:
		return segment.NewDNNBackend(segment.DNNConfig{
			Model:  seg.Model,
			Config: seg.ModelConfig,
		})
	case config.BackendSubprocess:
		return segment.NewSubprocessBackend(segment.SubprocessConfig{
			Script:      seg.Script,
			Python:      seg.Python,
			IdleTimeout: seg.IdleTimeout,
		})
	case config.BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown segmentation backend %q", kind)
	}
}

// newApp builds the application around cam from the loaded config.
func newApp(cam capture.Camera, st *store.Store) (*app.App, error) {
	seg := cfg.Segmentation

	previewBackend, err := newBackend(seg, seg.Backend)
	if err != nil {
		return nil, fmt.Errorf("preview backend: %w", err)
	}

	var captureBackend segment.Backend
	if seg.CaptureBackend != "" && seg.CaptureBackend != seg.Backend {
		captureBackend, err = newBackend(seg, seg.CaptureBackend)
		if err != nil {
			if previewBackend != nil {
				previewBackend.Close()
			}
			return nil, fmt.Errorf("capture backend: %w", err)
		}
	}

	return app.New(app.Config{
		Camera:          cam,
		PreviewBackend:  previewBackend,
		CaptureBackend:  captureBackend,
		Store:           st,
		Mode:            seg.Mode,
		Threshold:       seg.Threshold,
		Sharpness:       seg.Sharpness,
		MinInstanceArea: seg.MinArea,
		Attempts:        cfg.Capture.Attempts,
		CaptureDelay:    cfg.Capture.Delay,
		CaptureTimeout:  cfg.Capture.Timeout,
		Logger:          logger,
	}), nil
}

// openStore opens the journal, or returns nil when it is disabled.
func openStore() (*store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}
