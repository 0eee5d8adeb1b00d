package card

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Canvas and layout constants. Fractions are of the canvas height.
const (
	Width  = 630
	Height = 880

	GradientDarken = 0.3

	SubjectHeight = 0.70
	SubjectTop    = 0.08

	OuterBorderWidth = 8
	OuterBorderInset = 12
	InnerBorderWidth = 2
	InnerBorderInset = 20

	BarTop    = 0.82
	BarHeight = 0.18
)

// Color harmonization applied to every subject.
const (
	NeutralTemperature = 6500
	TargetTemperature  = 6500
	SaturationBoost    = 10
	ContrastBoost      = 5
	BrightnessBoost    = 2
)

// ErrNoCutout is returned by Compose when there is no visible subject.
var ErrNoCutout = errors.New("no cutout to compose")

var barColor = color.NRGBA{A: 153}

// Compose renders a card with the subject cut out in cutout. It returns
// ErrNoCutout when cutout is nil, empty or fully transparent; use
// ComposeBackground for a card without a subject. The output depends only on
// the inputs.
func Compose(cutout image.Image, tpl Template, label string) (*image.NRGBA, error) {
	if cutout == nil || cutout.Bounds().Empty() {
		return nil, ErrNoCutout
	}
	subject := imaging.Clone(cutout)
	if !visible(subject) {
		return nil, ErrNoCutout
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, Width, Height))
	drawBackground(canvas, tpl)
	drawSubject(canvas, harmonize(subject))
	drawFrame(canvas, tpl)
	if err := drawLabel(canvas, label); err != nil {
		return nil, err
	}
	return canvas, nil
}

// ComposeBackground renders a card with no subject layer.
func ComposeBackground(tpl Template, label string) (*image.NRGBA, error) {
	canvas := image.NewNRGBA(image.Rect(0, 0, Width, Height))
	drawBackground(canvas, tpl)
	drawFrame(canvas, tpl)
	if err := drawLabel(canvas, label); err != nil {
		return nil, err
	}
	return canvas, nil
}

// SubjectRect returns where a subject of the given size lands on the
// canvas: scaled uniformly to SubjectHeight of the canvas, centered
// horizontally, starting at SubjectTop.
func SubjectRect(size image.Point) image.Rectangle {
	if size.X <= 0 || size.Y <= 0 {
		return image.Rectangle{}
	}
	h := int(math.Round(Height * SubjectHeight))
	w := int(math.Round(float64(size.X) * float64(h) / float64(size.Y)))
	if w < 1 {
		w = 1
	}
	x := (Width - w) / 2
	y := int(math.Round(Height * SubjectTop))
	return image.Rect(x, y, x+w, y+h)
}

func visible(img *image.NRGBA) bool {
	for y := 0; y < img.Rect.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+img.Rect.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			if row[i] != 0 {
				return true
			}
		}
	}
	return false
}

func drawBackground(canvas *image.NRGBA, tpl Template) {
	top := tpl.Background
	top.A = 255
	bottom := Darken(top, GradientDarken)

	b := canvas.Bounds()
	span := float64(b.Dy() - 1)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		t := float64(y-b.Min.Y) / span
		c := color.NRGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: 255,
		}
		row := canvas.Pix[(y-b.Min.Y)*canvas.Stride:]
		for i := 0; i < b.Dx()*4; i += 4 {
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}
}

// harmonize applies the temperature correction followed by the saturation,
// contrast and brightness lift.
func harmonize(img *image.NRGBA) *image.NRGBA {
	out := adjustTemperature(img, NeutralTemperature, TargetTemperature)
	out = imaging.AdjustSaturation(out, SaturationBoost)
	out = imaging.AdjustContrast(out, ContrastBoost)
	return imaging.AdjustBrightness(out, BrightnessBoost)
}

// adjustTemperature shifts the white point of img from one color
// temperature to another.
func adjustTemperature(img *image.NRGBA, from, to float64) *image.NRGBA {
	fr, fg, fb := kelvinWhite(from)
	tr, tg, tb := kelvinWhite(to)
	gain := func(t, f float64) float64 {
		if f == 0 {
			return 1
		}
		return t / f
	}
	gr, gg, gb := gain(tr, fr), gain(tg, fg), gain(tb, fb)

	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: to8(float64(c.R) / 255 * gr),
			G: to8(float64(c.G) / 255 * gg),
			B: to8(float64(c.B) / 255 * gb),
			A: c.A,
		}
	})
}

func drawSubject(canvas *image.NRGBA, subject *image.NRGBA) {
	dst := SubjectRect(subject.Bounds().Size())
	if dst.Empty() {
		return
	}
	scaled := imaging.Resize(subject, dst.Dx(), dst.Dy(), imaging.Lanczos)
	draw.Draw(canvas, dst, scaled, image.Point{}, draw.Over)
}

func drawFrame(canvas *image.NRGBA, tpl Template) {
	accent := tpl.Accent
	strokeRect(canvas, OuterBorderInset, OuterBorderWidth, accent)
	strokeRect(canvas, InnerBorderInset, InnerBorderWidth, accent)

	b := canvas.Bounds()
	top := int(math.Round(float64(b.Dy()) * BarTop))
	bottom := top + int(math.Round(float64(b.Dy())*BarHeight))
	bar := image.Rect(b.Min.X, top, b.Max.X, bottom).Intersect(b)
	draw.Draw(canvas, bar, image.NewUniform(barColor), image.Point{}, draw.Over)
}

// strokeRect strokes the canvas bounds inset by inset with a line of the
// given width centered on the inset edge.
func strokeRect(canvas *image.NRGBA, inset, width int, c color.Color) {
	outer := canvas.Bounds().Inset(inset - width/2)
	inner := canvas.Bounds().Inset(inset + (width+1)/2)
	src := image.NewUniform(c)

	sides := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y),
		image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y),
		image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y),
	}
	for _, r := range sides {
		draw.Draw(canvas, r, src, image.Point{}, draw.Over)
	}
}
