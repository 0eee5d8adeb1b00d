package card

import (
	"image/color"
	"math"
)

// Darken lowers the HSB brightness of c by amount, flooring at zero. Hue,
// saturation and alpha are kept.
func Darken(c color.NRGBA, amount float64) color.NRGBA {
	h, s, v := toHSB(c)
	v = math.Max(v-amount, 0)
	r, g, b := fromHSB(h, s, v)
	return color.NRGBA{R: r, G: g, B: b, A: c.A}
}

func toHSB(c color.NRGBA) (h, s, v float64) {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255

	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	delta := hi - lo

	v = hi
	if hi > 0 {
		s = delta / hi
	}
	if delta == 0 {
		return 0, s, v
	}

	switch hi {
	case r:
		h = math.Mod((g-b)/delta, 6)
	case g:
		h = (b-r)/delta + 2
	default:
		h = (r-g)/delta + 4
	}
	h /= 6
	if h < 0 {
		h++
	}
	return h, s, v
}

func fromHSB(h, s, v float64) (r, g, b uint8) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var rf, gf, bf float64
	switch int(i) % 6 {
	case 0:
		rf, gf, bf = v, t, p
	case 1:
		rf, gf, bf = q, v, p
	case 2:
		rf, gf, bf = p, v, t
	case 3:
		rf, gf, bf = p, q, v
	case 4:
		rf, gf, bf = t, p, v
	default:
		rf, gf, bf = v, p, q
	}
	return to8(rf), to8(gf), to8(bf)
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// kelvinWhite approximates the RGB white point of a black body at k kelvin.
func kelvinWhite(k float64) (r, g, b float64) {
	t := k / 100

	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}

	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	clamp := func(x float64) float64 { return math.Min(math.Max(x, 0), 255) / 255 }
	return clamp(r), clamp(g), clamp(b)
}
