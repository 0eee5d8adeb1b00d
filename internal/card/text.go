package card

import (
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Label typography.
const (
	LabelSize     = 48
	LabelTracking = 4
	LabelCenter   = 0.88
)

var (
	labelFontOnce sync.Once
	labelFont     *opentype.Font
	labelFontErr  error
)

func loadLabelFont() (*opentype.Font, error) {
	labelFontOnce.Do(func() {
		labelFont, labelFontErr = opentype.Parse(gobold.TTF)
	})
	return labelFont, labelFontErr
}

// newLabelFace returns a fresh face; faces are not safe for concurrent use.
func newLabelFace() (font.Face, error) {
	f, err := loadLabelFont()
	if err != nil {
		return nil, fmt.Errorf("parse label font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    LabelSize,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("label face: %w", err)
	}
	return face, nil
}

// measureLabel returns the advance width of text with kerning and tracking
// between glyphs.
func measureLabel(face font.Face, text string) fixed.Int26_6 {
	var (
		width fixed.Int26_6
		prev  rune = -1
	)
	for _, r := range text {
		if prev >= 0 {
			width += face.Kern(prev, r) + fixed.I(LabelTracking)
		}
		adv, _ := face.GlyphAdvance(r)
		width += adv
		prev = r
	}
	return width
}

// drawLabel writes label uppercased in white, centered horizontally on the
// canvas and vertically on LabelCenter.
func drawLabel(canvas *image.NRGBA, label string) error {
	text := strings.ToUpper(strings.TrimSpace(label))
	if text == "" {
		return nil
	}

	face, err := newLabelFace()
	if err != nil {
		return err
	}
	defer face.Close()

	b := canvas.Bounds()
	m := face.Metrics()
	width := measureLabel(face, text)

	x := fixed.I(b.Min.X) + (fixed.I(b.Dx())-width)/2
	center := fixed.Int26_6(math.Round(float64(b.Dy()) * LabelCenter * 64))
	baseline := fixed.I(b.Min.Y) + center + (m.Ascent-m.Descent)/2

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.White,
		Face: face,
		Dot:  fixed.Point26_6{X: x, Y: baseline},
	}
	prev := rune(-1)
	for _, r := range text {
		if prev >= 0 {
			d.Dot.X += face.Kern(prev, r) + fixed.I(LabelTracking)
		}
		d.DrawString(string(r))
		prev = r
	}
	return nil
}
