package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/matsumoto-fabrica/cardmaker/internal/capture"
)

type replayOptions struct {
	Input      string
	At         float64
	TemplateID int
	Label      string
	Out        string
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run the pipeline over a video file and render a card from it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayOpts.Input == "" {
			return errors.New("--input is required")
		}
		if replayOpts.At <= 0 || replayOpts.At > 1 {
			return fmt.Errorf("--at must be in (0, 1], got %v", replayOpts.At)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runReplay(cmd.Context(), replayOpts)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayOpts.Input, "input", "i", "", "Path to video")
	replayCmd.Flags().Float64Var(&replayOpts.At, "at", 0.5, "Position in the video to capture at, as a fraction of its length")
	replayCmd.Flags().IntVarP(&replayOpts.TemplateID, "template", "t", 0, "Card template id")
	replayCmd.Flags().StringVarP(&replayOpts.Label, "label", "l", "", "Card label")
	replayCmd.Flags().StringVarP(&replayOpts.Out, "out", "o", "card.png", "Output PNG path")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, opts replayOptions) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	cam := capture.NewCamera(capture.Options{URL: opts.Input})
	a, err := newApp(cam, st)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		a.Stop()
		return fmt.Errorf("failed to open %s: %w", opts.Input, err)
	}
	defer a.Stop()

	total := cam.FrameCount()
	if total <= 0 {
		total = -1
	}
	captureAt := uint64(1)
	if total > 0 {
		captureAt = uint64(float64(total) * opts.At)
		if captureAt == 0 {
			captureAt = 1
		}
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Replaying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var (
		captured   bool
		captureErr error
	)
loop:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.PumpDone():
			break loop
		case <-ticker.C:
			read := a.Stats().FramesRead
			bar.Set(int(read))
			if !captured && read >= captureAt && a.Snapshot() != nil {
				captured = true
				_, captureErr = a.CaptureBest(ctx, 0, 0)
			}
		}
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	// Short clips can end before the capture point was observed.
	if !captured {
		_, captureErr = a.CaptureBest(ctx, 0, 0)
	}
	if captureErr != nil {
		return fmt.Errorf("capture failed: %w", captureErr)
	}

	img, err := a.Compose(opts.TemplateID, opts.Label)
	if err != nil {
		return fmt.Errorf("compose failed: %w", err)
	}
	if err := writePNG(opts.Out, img); err != nil {
		return err
	}

	last := a.LastCapture()
	logger.WithFields(logrus.Fields{
		"out":     opts.Out,
		"score":   last.Score,
		"attempt": last.Attempt,
		"frames":  a.Stats().FramesRead,
	}).Info("card written")
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
