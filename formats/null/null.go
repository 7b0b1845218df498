// Package null implements the null format: readers produce a constant
// image described entirely by REST arguments in the filename, and writers
// accept everything and store nothing. It is useful for benchmarking and
// for exercising I/O paths without touching the disk.
//
//	flat.null?RES=640x480&CHANNELS=3&TYPE=uint8&PIXEL=0.25,0.5,1
//
// The format is not built in; cmd/nullplugin exports it as an external
// plugin.
package null

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// AttrForce is the reader config attribute that, when non-zero, opens
// files without a null extension.
const AttrForce = "null:force"

// LibraryVersion is reported by the plugin.
const LibraryVersion = "null 1.0"

// Extensions lists the file extensions of the format.
var Extensions = []string{"null", "nul"}

// Format declares the null codec.
func Format() imageio.Format {
	return imageio.Format{
		Name:             "null",
		InputExtensions:  Extensions,
		OutputExtensions: Extensions,
		NewReader:        func() imageio.ReaderImpl { return &Reader{} },
		NewWriter:        func() imageio.WriterImpl { return &Writer{} },
	}
}

func hasExtension(name string) bool {
	return strings.HasSuffix(name, ".null") || strings.HasSuffix(name, ".nul")
}

// Reader serves a constant image.
type Reader struct {
	spec  imageio.ImageSpec
	value []byte // one native pixel
	open  bool
}

func (r *Reader) FormatName() string     { return "null" }
func (r *Reader) Supports(_ string) bool { return true }

// ValidFile accepts any name ending in .null or .nul, REST arguments aside.
func (r *Reader) ValidFile(name string) bool {
	base, _, err := imageio.SplitREST(name)
	return err == nil && hasExtension(base)
}

// Open builds the image from REST arguments found in name or config.
// Without arguments the image is 1024x1024 RGBA float black.
func (r *Reader) Open(name string, config *param.List) (imageio.ImageSpec, error) {
	base, args, err := imageio.SplitREST(name)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	if base == "" {
		return imageio.ImageSpec{}, fmt.Errorf("%w: empty file name", imageio.ErrInvalidFile)
	}
	var cfg param.List
	if config != nil {
		cfg = config.Clone()
	}
	for _, v := range args.All() {
		cfg.Set(v.Clone())
	}
	if !hasExtension(base) && !flag(&cfg, AttrForce) {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %s is not a null file", imageio.ErrInvalidFile, base)
	}

	spec := imageio.NewImageSpec(1024, 1024, 4, typedesc.TypeFloat)
	var pixel []float32
	for _, v := range cfg.All() {
		val, ok := v.Str()
		if !ok {
			continue
		}
		key := v.Name().String()
		switch key {
		case "RES":
			w, h, d, err := parseRes(val)
			if err != nil {
				return imageio.ImageSpec{}, err
			}
			spec.Width, spec.Height, spec.Depth = w, h, d
			spec.FullX, spec.FullY, spec.FullZ = spec.X, spec.Y, spec.Z
			spec.FullWidth, spec.FullHeight, spec.FullDepth = w, h, d
		case "TILE", "TILES":
			w, h, d, err := parseRes(val)
			if err != nil {
				return imageio.ImageSpec{}, err
			}
			spec.TileWidth, spec.TileHeight, spec.TileDepth = w, h, d
		case "CHANNELS":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return imageio.ImageSpec{}, fmt.Errorf("%w: CHANNELS=%q", imageio.ErrInvalidSpec, val)
			}
			spec.NChannels = n
			spec.DefaultChannelNames()
		case "TEX":
			if n, _ := strconv.Atoi(val); n != 0 {
				if !spec.Tiled() {
					spec.TileWidth, spec.TileHeight, spec.TileDepth = 64, 64, 1
				}
				spec.Attributes.SetString("wrapmodes", "black,black")
				spec.Attributes.SetString("textureformat", "Plain Texture")
			}
		case "TYPE":
			t, err := typedesc.Parse(val)
			if err != nil {
				return imageio.ImageSpec{}, fmt.Errorf("%w: TYPE=%q: %v", imageio.ErrInvalidSpec, val, err)
			}
			spec.Format = t
			spec.ChannelFormats = nil
		case "PIXEL":
			pixel, err = parseFloats(val)
			if err != nil {
				return imageio.ImageSpec{}, err
			}
		default:
			if strings.HasPrefix(key, "imageio:") || key == AttrForce || key == imageio.AttrNoWait || val == "" {
				continue
			}
			if err := parseParam(key, val, &spec.Attributes); err != nil {
				return imageio.ImageSpec{}, err
			}
		}
	}
	if err := spec.Validate(); err != nil {
		return imageio.ImageSpec{}, err
	}

	value := make([]byte, spec.PixelBytes(typedesc.TypeUnknown))
	if len(pixel) > 0 {
		pixel = append(pixel, make([]float32, max(spec.NChannels-len(pixel), 0))...)[:spec.NChannels]
		src := make([]byte, 4*spec.NChannels)
		for i, f := range pixel {
			binary.NativeEndian.PutUint32(src[4*i:], math.Float32bits(f))
		}
		if err := imageio.ConvertPixels(value, spec.Format, src, typedesc.TypeFloat, spec.NChannels); err != nil {
			return imageio.ImageSpec{}, err
		}
	}
	r.spec, r.value, r.open = spec, value, true
	return spec.Clone(), nil
}

func (r *Reader) fill(buf []byte, npixels int) error {
	if !r.open {
		return imageio.ErrState
	}
	s := len(r.value)
	for x := 0; x < npixels; x++ {
		copy(buf[x*s:], r.value)
	}
	return nil
}

func (r *Reader) ReadNativeScanline(_, _ int, buf []byte) error {
	return r.fill(buf, r.spec.Width)
}

func (r *Reader) ReadNativeTile(_, _, _ int, buf []byte) error {
	return r.fill(buf, r.spec.TilePixels())
}

func (r *Reader) Close() error {
	r.open, r.value = false, nil
	return nil
}

// Writer discards everything written to it.
type Writer struct {
	open bool
}

func (w *Writer) FormatName() string { return "null" }

// Supports reports every capability except rectangles.
func (w *Writer) Supports(feature string) bool { return feature != imageio.CapRectangles }

func (w *Writer) Open(_ string, spec imageio.ImageSpec, _ imageio.OpenMode) (imageio.ImageSpec, error) {
	w.open = true
	return spec, nil
}

func (w *Writer) WriteNativeScanline(_, _ int, _ []byte) error { return w.check() }
func (w *Writer) WriteNativeTile(_, _, _ int, _ []byte) error  { return w.check() }

func (w *Writer) check() error {
	if !w.open {
		return imageio.ErrState
	}
	return nil
}

func (w *Writer) Close() error {
	w.open = false
	return nil
}
