package stdimage

import (
	"encoding/binary"
	"image"
	"image/color"

	"github.com/logicossoftware/go-imageio/typedesc"
)

// layout is the native pixel shape of a decoded image.
type layout struct {
	nch  int
	deep bool // 16-bit samples
}

func (l layout) format() typedesc.TypeDesc {
	if l.deep {
		return typedesc.TypeUInt16
	}
	return typedesc.TypeUInt8
}

func (l layout) sampleBytes() int { return l.format().Size() }

// layoutOf picks channels and depth from a color model.
func layoutOf(m color.Model) layout {
	switch m {
	case color.GrayModel:
		return layout{nch: 1}
	case color.Gray16Model:
		return layout{nch: 1, deep: true}
	case color.RGBA64Model, color.NRGBA64Model:
		return layout{nch: 4, deep: true}
	case color.YCbCrModel, color.CMYKModel:
		return layout{nch: 3}
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return layout{nch: 4}
			}
		}
		return layout{nch: 3}
	}
	return layout{nch: 4}
}

// imageLayout refines layoutOf by dropping alpha from opaque images.
func imageLayout(img image.Image) layout {
	l := layoutOf(img.ColorModel())
	if l.nch == 4 {
		if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
			l.nch = 3
		}
	}
	return l
}

// unpack stores img as native interleaved samples.
func unpack(img image.Image, l layout) []byte {
	b := img.Bounds()
	ss := l.sampleBytes()
	out := make([]byte, b.Dx()*b.Dy()*l.nch*ss)
	ne := binary.NativeEndian
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			switch {
			case l.nch == 1 && l.deep:
				ne.PutUint16(out[i:], color.Gray16Model.Convert(c).(color.Gray16).Y)
			case l.nch == 1:
				out[i] = color.GrayModel.Convert(c).(color.Gray).Y
			case l.deep:
				p := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				for k, v := range []uint16{p.R, p.G, p.B, p.A}[:l.nch] {
					ne.PutUint16(out[i+2*k:], v)
				}
			default:
				p := color.NRGBAModel.Convert(c).(color.NRGBA)
				copy(out[i:], []byte{p.R, p.G, p.B, p.A}[:l.nch])
			}
			i += l.nch * ss
		}
	}
	return out
}

// pack builds an image from native interleaved samples. One channel makes
// a gray image, two are gray and alpha, three are RGB and four RGBA.
func pack(px []byte, w, h int, l layout) image.Image {
	r := image.Rect(0, 0, w, h)
	ne := binary.NativeEndian
	if l.nch == 1 {
		if l.deep {
			img := image.NewGray16(r)
			for i := 0; i < w*h; i++ {
				binary.BigEndian.PutUint16(img.Pix[2*i:], ne.Uint16(px[2*i:]))
			}
			return img
		}
		img := image.NewGray(r)
		copy(img.Pix, px)
		return img
	}
	src := func(i, c int) uint16 {
		switch {
		case l.nch == 2 && c < 3:
			c = 0
		case l.nch == 2:
			c = 1
		case l.nch == 3 && c == 3:
			if l.deep {
				return 0xffff
			}
			return 0xff
		}
		j := i*l.nch + c
		if l.deep {
			return ne.Uint16(px[2*j:])
		}
		return uint16(px[j])
	}
	if l.deep {
		img := image.NewNRGBA64(r)
		for i := 0; i < w*h; i++ {
			for c := 0; c < 4; c++ {
				binary.BigEndian.PutUint16(img.Pix[8*i+2*c:], src(i, c))
			}
		}
		return img
	}
	img := image.NewNRGBA(r)
	for i := 0; i < w*h; i++ {
		for c := 0; c < 4; c++ {
			img.Pix[4*i+c] = uint8(src(i, c))
		}
	}
	return img
}
