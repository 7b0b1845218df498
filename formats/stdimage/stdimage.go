// Package stdimage adapts the image codecs of the Go ecosystem (png, jpeg,
// gif, bmp, tiff and webp) to the codec interface.
//
// Readers decode the whole file on Open and serve scanlines from memory
// as 8 or 16-bit gray, RGB or RGBA. Writers collect scanlines and encode
// on Close. webp is read-only.
package stdimage

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// AttrReorient is the reader config attribute that, when non-zero, makes
// the jpeg reader apply the EXIF orientation while decoding.
const AttrReorient = "imageio:reorient"

const defaultJPEGQuality = 95

// Function variables for testing injection.
var (
	openFile   = func(name string) (io.ReadCloser, error) { return os.Open(name) }
	createFile = func(name string) (io.WriteCloser, error) { return os.Create(name) }
)

// kind describes one member of the family.
type kind struct {
	name   string
	exts   []string
	deep   bool // can store 16-bit samples
	caps   imageio.CapabilityTable
	config func(io.Reader) (image.Config, error)
	decode func(io.Reader, *param.List) (image.Image, error)
	encode func(io.Writer, image.Image, *imageio.ImageSpec) error // nil for read-only
	// channels lists the channel counts the encoder takes.
	channels []int
}

var alphaCaps = imageio.CapabilityTable{imageio.CapAlpha: true}

var kinds = []*kind{
	{
		name:     "png",
		exts:     []string{"png"},
		deep:     true,
		caps:     alphaCaps,
		config:   png.DecodeConfig,
		decode:   plain(png.Decode),
		encode:   encodePNG,
		channels: []int{1, 2, 3, 4},
	},
	{
		name:     "jpeg",
		exts:     []string{"jpg", "jpe", "jpeg", "jif", "jfif", "jfi"},
		config:   jpeg.DecodeConfig,
		decode:   decodeJPEG,
		encode:   encodeJPEG,
		channels: []int{1, 3},
	},
	{
		name:     "gif",
		exts:     []string{"gif"},
		caps:     alphaCaps,
		config:   gif.DecodeConfig,
		decode:   plain(gif.Decode),
		encode:   encodeGIF,
		channels: []int{1, 2, 3, 4},
	},
	{
		name:     "bmp",
		exts:     []string{"bmp", "dib"},
		caps:     alphaCaps,
		config:   bmp.DecodeConfig,
		decode:   plain(bmp.Decode),
		encode:   func(w io.Writer, img image.Image, _ *imageio.ImageSpec) error { return bmp.Encode(w, img) },
		channels: []int{1, 3, 4},
	},
	{
		name:     "tiff",
		exts:     []string{"tif", "tiff", "tx", "env", "sm", "vsm"},
		deep:     true,
		caps:     alphaCaps,
		config:   tiff.DecodeConfig,
		decode:   plain(tiff.Decode),
		encode:   encodeTIFF,
		channels: []int{1, 2, 3, 4},
	},
	{
		name:   "webp",
		exts:   []string{"webp"},
		caps:   alphaCaps,
		config: webp.DecodeConfig,
		decode: plain(webp.Decode),
	},
}

func plain(dec func(io.Reader) (image.Image, error)) func(io.Reader, *param.List) (image.Image, error) {
	return func(r io.Reader, _ *param.List) (image.Image, error) { return dec(r) }
}

func decodeJPEG(r io.Reader, config *param.List) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(flag(config, AttrReorient)))
}

// flag reads a config switch given either as a number or, from REST
// arguments, as a string.
func flag(config *param.List, name string) bool {
	if config == nil {
		return false
	}
	v, ok := config.Find(name)
	if !ok {
		return false
	}
	if n, ok := v.AsInt(); ok {
		return n != 0
	}
	if s, ok := v.Str(); ok {
		n, err := strconv.Atoi(s)
		return err == nil && n != 0
	}
	return false
}

func encodePNG(w io.Writer, img image.Image, spec *imageio.ImageSpec) error {
	level := png.DefaultCompression
	switch strings.ToLower(spec.Attributes.GetString(imageio.AttrCompression, "")) {
	case "none":
		level = png.NoCompression
	case "fast":
		level = png.BestSpeed
	case "best":
		level = png.BestCompression
	}
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(level))
}

func encodeJPEG(w io.Writer, img image.Image, spec *imageio.ImageSpec) error {
	q := spec.Attributes.GetInt(imageio.AttrCompressionQuality, defaultJPEGQuality)
	q = min(max(q, 1), 100)
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(q))
}

func encodeGIF(w io.Writer, img image.Image, _ *imageio.ImageSpec) error {
	return imaging.Encode(w, img, imaging.GIF, imaging.GIFNumColors(256))
}

func encodeTIFF(w io.Writer, img image.Image, spec *imageio.ImageSpec) error {
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if strings.EqualFold(spec.Attributes.GetString(imageio.AttrCompression, ""), "none") {
		opts = &tiff.Options{Compression: tiff.Uncompressed}
	}
	return tiff.Encode(w, img, opts)
}

func (k *kind) format() imageio.Format {
	f := imageio.Format{
		Name:            k.name,
		InputExtensions: k.exts,
		NewReader:       func() imageio.ReaderImpl { return &reader{k: k} },
	}
	if k.encode != nil {
		f.OutputExtensions = k.exts
		f.NewWriter = func() imageio.WriterImpl { return &writer{k: k} }
	}
	return f
}

// Formats declares every member of the family.
func Formats() []imageio.Format {
	fs := make([]imageio.Format, len(kinds))
	for i, k := range kinds {
		fs[i] = k.format()
	}
	return fs
}

// Format declares the named member of the family.
func Format(name string) (imageio.Format, bool) {
	for _, k := range kinds {
		if k.name == name {
			return k.format(), true
		}
	}
	return imageio.Format{}, false
}

type reader struct {
	k    *kind
	spec imageio.ImageSpec
	px   []byte
	line int
}

func (r *reader) FormatName() string           { return r.k.name }
func (r *reader) Supports(feature string) bool { return r.k.caps.Supports(feature) }

func (r *reader) ValidFile(name string) bool {
	f, err := openFile(name)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = r.k.config(bufio.NewReader(f))
	return err == nil
}

func (r *reader) Open(name string, config *param.List) (imageio.ImageSpec, error) {
	limits := imageio.LimitsFromConfig(config, imageio.Limits{})
	f, err := openFile(name)
	if err != nil {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %v", imageio.ErrInvalidFile, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)
	// Peeking leaves the header for the full decode.
	hdr, _ := br.Peek(br.Size())
	cfg, err := r.k.config(bytes.NewReader(hdr))
	if err == nil {
		l := layoutOf(cfg.ColorModel)
		trial := imageio.NewImageSpec(cfg.Width, cfg.Height, l.nch, l.format())
		if err := limits.Check(&trial); err != nil {
			return imageio.ImageSpec{}, err
		}
	}
	img, err := r.k.decode(br, config)
	if err != nil {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %s: %v", imageio.ErrInvalidFile, r.k.name, err)
	}
	b := img.Bounds()
	l := imageLayout(img)
	spec := imageio.NewImageSpec(b.Dx(), b.Dy(), l.nch, l.format())
	if err := limits.Check(&spec); err != nil {
		return imageio.ImageSpec{}, err
	}
	bits := int32(8)
	if l.deep {
		bits = 16
	}
	spec.Attributes.SetInt(imageio.AttrBitsPerSample, bits)
	spec.Attributes.SetString(imageio.AttrColorSpace, "sRGB")
	if r.k.name == "jpeg" && flag(config, AttrReorient) {
		spec.Attributes.SetInt(imageio.AttrOrientation, 1)
	}
	r.spec, r.px, r.line = spec, unpack(img, l), spec.ScanlineBytes(typedesc.TypeUnknown)
	return spec.Clone(), nil
}

func (r *reader) ReadNativeScanline(y, _ int, buf []byte) error {
	if r.px == nil {
		return imageio.ErrState
	}
	off := (y - r.spec.Y) * r.line
	copy(buf, r.px[off:off+r.line])
	return nil
}

func (r *reader) ReadNativeTile(_, _, _ int, _ []byte) error {
	return fmt.Errorf("%w: %s is not tiled", imageio.ErrUnsupportedCapability, r.k.name)
}

func (r *reader) Close() error {
	r.px = nil
	return nil
}

type writer struct {
	k    *kind
	f    io.WriteCloser
	spec imageio.ImageSpec
	l    layout
	px   []byte
	line int
}

func (w *writer) FormatName() string           { return w.k.name }
func (w *writer) Supports(feature string) bool { return w.k.caps.Supports(feature) }

func (w *writer) Open(name string, spec imageio.ImageSpec, mode imageio.OpenMode) (imageio.ImageSpec, error) {
	if mode != imageio.Create {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %s holds a single image", imageio.ErrUnsupportedCapability, w.k.name)
	}
	ok := false
	for _, n := range w.k.channels {
		ok = ok || n == spec.NChannels
	}
	if !ok {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %s cannot store %d channels", imageio.ErrInvalidSpec, w.k.name, spec.NChannels)
	}
	l := layout{nch: spec.NChannels, deep: w.k.deep && wide(spec)}
	spec.Format = l.format()
	spec.ChannelFormats = nil
	spec.Attributes.SetInt(imageio.AttrBitsPerSample, int32(8*l.sampleBytes()))

	f, err := createFile(name)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	w.f, w.spec, w.l = f, spec, l
	w.line = spec.ScanlineBytes(typedesc.TypeUnknown)
	w.px = make([]byte, w.line*spec.Height)
	return spec.Clone(), nil
}

// wide reports whether any channel carries more than 8 bits.
func wide(s imageio.ImageSpec) bool {
	for c := 0; c < s.NChannels; c++ {
		if s.ChannelFormat(c).Size() > 1 {
			return true
		}
	}
	return false
}

func (w *writer) WriteNativeScanline(y, _ int, buf []byte) error {
	if w.f == nil {
		return imageio.ErrState
	}
	off := (y - w.spec.Y) * w.line
	copy(w.px[off:off+w.line], buf)
	return nil
}

func (w *writer) WriteNativeTile(_, _, _ int, _ []byte) error {
	return fmt.Errorf("%w: %s is not tiled", imageio.ErrUnsupportedCapability, w.k.name)
}

// Close encodes the collected scanlines. Rows never written stay black.
func (w *writer) Close() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	img := pack(w.px, w.spec.Width, w.spec.Height, w.l)
	w.px = nil
	bw := bufio.NewWriter(f)
	if err := w.k.encode(bw, img, &w.spec); err != nil {
		f.Close()
		return fmt.Errorf("%s: encode: %w", w.k.name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
