package imageio

import (
	"fmt"

	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// ImageSpec describes one subimage: its windows, tiling, channels and
// metadata.
//
// Copying an ImageSpec by assignment shares its Attributes storage; use
// Clone for an independent copy.
type ImageSpec struct {
	X, Y, Z              int // origin of the data window
	Width, Height, Depth int

	FullX, FullY, FullZ              int // display window
	FullWidth, FullHeight, FullDepth int

	// Tile sizes. TileWidth == 0 means the image is stored in scanlines.
	TileWidth, TileHeight, TileDepth int

	NChannels      int
	Format         typedesc.TypeDesc
	ChannelFormats []typedesc.TypeDesc // empty when every channel uses Format
	ChannelNames   []string
	AlphaChannel   int // -1 if none
	ZChannel       int // -1 if none
	Deep           bool

	Attributes param.List
}

// NewImageSpec returns a scanline spec with default channel names and the
// full window equal to the data window.
func NewImageSpec(width, height, nchannels int, format typedesc.TypeDesc) ImageSpec {
	s := ImageSpec{
		Width:        width,
		Height:       height,
		Depth:        1,
		FullWidth:    width,
		FullHeight:   height,
		FullDepth:    1,
		NChannels:    nchannels,
		Format:       format,
		AlphaChannel: -1,
		ZChannel:     -1,
	}
	s.DefaultChannelNames()
	return s
}

// DefaultChannelNames sets R, G, B, A and then channelN names, and marks
// channel 3 as alpha when there are at least four channels.
func (s *ImageSpec) DefaultChannelNames() {
	s.ChannelNames = make([]string, s.NChannels)
	s.AlphaChannel = -1
	for i := range s.ChannelNames {
		switch i {
		case 0:
			s.ChannelNames[i] = "R"
		case 1:
			s.ChannelNames[i] = "G"
		case 2:
			s.ChannelNames[i] = "B"
		case 3:
			s.ChannelNames[i] = "A"
			s.AlphaChannel = 3
		default:
			s.ChannelNames[i] = fmt.Sprintf("channel%d", i)
		}
	}
}

// ChannelFormat returns the native format of channel c.
func (s *ImageSpec) ChannelFormat(c int) typedesc.TypeDesc {
	if c >= 0 && c < len(s.ChannelFormats) {
		return s.ChannelFormats[c]
	}
	return s.Format
}

// Tiled reports whether pixels are stored in tiles.
func (s *ImageSpec) Tiled() bool { return s.TileWidth > 0 }

// PixelBytes returns the size of one pixel. An unknown format means the
// native per-channel formats.
func (s *ImageSpec) PixelBytes(format typedesc.TypeDesc) int {
	if !format.IsUnknown() {
		return s.NChannels * format.Size()
	}
	if len(s.ChannelFormats) == 0 {
		return s.NChannels * s.Format.Size()
	}
	n := 0
	for c := 0; c < s.NChannels; c++ {
		n += s.ChannelFormat(c).Size()
	}
	return n
}

// ScanlineBytes returns the size of one scanline.
func (s *ImageSpec) ScanlineBytes(format typedesc.TypeDesc) int {
	return s.Width * s.PixelBytes(format)
}

// TilePixels returns the number of pixels in one tile, or 0 if untiled.
func (s *ImageSpec) TilePixels() int {
	if !s.Tiled() {
		return 0
	}
	return s.TileWidth * max(s.TileHeight, 1) * max(s.TileDepth, 1)
}

// TileBytes returns the size of one full tile.
func (s *ImageSpec) TileBytes(format typedesc.TypeDesc) int {
	return s.TilePixels() * s.PixelBytes(format)
}

// ImageBytes returns the size of the whole data window.
func (s *ImageSpec) ImageBytes(format ...typedesc.TypeDesc) uint64 {
	f := typedesc.TypeUnknown
	if len(format) > 0 {
		f = format[0]
	}
	return uint64(s.Width) * uint64(s.Height) * uint64(max(s.Depth, 1)) * uint64(s.PixelBytes(f))
}

// Validate reports ErrInvalidSpec for specs no codec can honor.
func (s *ImageSpec) Validate() error {
	switch {
	case s.Width <= 0 || s.Height <= 0 || s.Depth <= 0:
		return fmt.Errorf("%w: resolution %dx%dx%d", ErrInvalidSpec, s.Width, s.Height, s.Depth)
	case s.NChannels <= 0:
		return fmt.Errorf("%w: %d channels", ErrInvalidSpec, s.NChannels)
	case s.Format.IsUnknown() || s.Format.IsArray() || s.Format.Aggregate.Components() != 1:
		return fmt.Errorf("%w: pixel format %s", ErrInvalidSpec, s.Format)
	case s.Format.Base == typedesc.String || s.Format.Base == typedesc.Pointer:
		return fmt.Errorf("%w: pixel format %s", ErrInvalidSpec, s.Format)
	case len(s.ChannelFormats) != 0 && len(s.ChannelFormats) != s.NChannels:
		return fmt.Errorf("%w: %d channel formats for %d channels", ErrInvalidSpec, len(s.ChannelFormats), s.NChannels)
	case len(s.ChannelNames) != 0 && len(s.ChannelNames) != s.NChannels:
		return fmt.Errorf("%w: %d channel names for %d channels", ErrInvalidSpec, len(s.ChannelNames), s.NChannels)
	case s.AlphaChannel >= s.NChannels || s.ZChannel >= s.NChannels:
		return fmt.Errorf("%w: alpha/z channel out of range", ErrInvalidSpec)
	case s.TileWidth < 0 || s.TileHeight < 0 || s.TileDepth < 0:
		return fmt.Errorf("%w: negative tile size", ErrInvalidSpec)
	case s.TileWidth > 0 && s.TileHeight <= 0:
		return fmt.Errorf("%w: tile width without tile height", ErrInvalidSpec)
	}
	for _, f := range s.ChannelFormats {
		if f.IsUnknown() || f.IsArray() || f.Aggregate.Components() != 1 || !(f.Base.IsInteger() || f.Base.IsFloat()) {
			return fmt.Errorf("%w: channel format %s", ErrInvalidSpec, f)
		}
	}
	return nil
}

// Clone returns a deep copy of s.
func (s *ImageSpec) Clone() ImageSpec {
	c := *s
	c.ChannelFormats = append([]typedesc.TypeDesc(nil), s.ChannelFormats...)
	c.ChannelNames = append([]string(nil), s.ChannelNames...)
	c.Attributes = s.Attributes.Clone()
	return c
}

// Common attribute names.
const (
	AttrCompression        = "compression"
	AttrCompressionQuality = "CompressionQuality"
	AttrBitsPerSample      = "oiio:BitsPerSample"
	AttrColorSpace         = "oiio:ColorSpace"
	AttrOrientation        = "Orientation"
	AttrNoWait             = "nowait"
)
