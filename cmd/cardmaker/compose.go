package main

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsumoto-fabrica/cardmaker/internal/card"
)

type composeOptions struct {
	Cutout         string
	TemplateID     int
	Label          string
	Out            string
	BackgroundOnly bool
}

var composeOpts composeOptions

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Render a card from a cutout image",
	RunE: func(cmd *cobra.Command, args []string) error {
		if composeOpts.Cutout == "" && !composeOpts.BackgroundOnly {
			return errors.New("--cutout is required unless --background-only is set")
		}
		return runCompose(composeOpts)
	},
}

func init() {
	composeCmd.Flags().StringVar(&composeOpts.Cutout, "cutout", "", "Cutout image with transparency (PNG)")
	composeCmd.Flags().IntVarP(&composeOpts.TemplateID, "template", "t", 0, "Card template id")
	composeCmd.Flags().StringVarP(&composeOpts.Label, "label", "l", "", "Card label")
	composeCmd.Flags().StringVarP(&composeOpts.Out, "out", "o", "card.png", "Output PNG path")
	composeCmd.Flags().BoolVar(&composeOpts.BackgroundOnly, "background-only", false, "Render the template without a subject")
	rootCmd.AddCommand(composeCmd)
}

func runCompose(opts composeOptions) error {
	tpl, err := card.LookupTemplate(opts.TemplateID)
	if err != nil {
		return err
	}

	var out *image.NRGBA
	if opts.BackgroundOnly {
		out, err = card.ComposeBackground(tpl, opts.Label)
	} else {
		var cutout image.Image
		cutout, err = readImage(opts.Cutout)
		if err != nil {
			return err
		}
		out, err = card.Compose(cutout, tpl, opts.Label)
	}
	if err != nil {
		return fmt.Errorf("compose failed: %w", err)
	}

	if err := writePNG(opts.Out, out); err != nil {
		return err
	}
	logger.WithField("out", opts.Out).WithField("template", tpl.Name).Info("card written")
	return nil
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
