package mask

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// ToNRGBA copies a BGR or BGRA 8-bit Mat into a new *image.NRGBA.
// BGR input becomes fully opaque.
func ToNRGBA(m gocv.Mat) (*image.NRGBA, error) {
	if m.Empty() {
		return nil, ErrEmptyFrame
	}

	cn := m.Channels()
	if cn != 3 && cn != 4 {
		return nil, fmt.Errorf("to image: unsupported channel count %d", cn)
	}

	w, h := m.Cols(), m.Rows()
	src := m.ToBytes()
	if len(src) != w*h*cn {
		return nil, fmt.Errorf("to image: got %d bytes for %dx%dx%d", len(src), w, h, cn)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(src); i, j = i+cn, j+4 {
		img.Pix[j+0] = src[i+2]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+0]
		if cn == 4 {
			img.Pix[j+3] = src[i+3]
		} else {
			img.Pix[j+3] = 0xff
		}
	}
	return img, nil
}

// FromImage converts any Go image into a BGRA Mat with straight alpha.
func FromImage(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	if b.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}

	buf := make([]byte, b.Dx()*b.Dy()*4)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := nrgbaAt(img, x, y)
			buf[i+0] = c.B
			buf[i+1] = c.G
			buf[i+2] = c.R
			buf[i+3] = c.A
			i += 4
		}
	}
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, buf)
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}
