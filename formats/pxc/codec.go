package pxc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// AttrVerifyChecksum is the reader config attribute that, when zero,
// skips pixel digest verification.
const AttrVerifyChecksum = "pxc:verify_checksum"

var capabilities = imageio.CapabilityTable{
	imageio.CapTiles:             true,
	imageio.CapRandomAccess:      true,
	imageio.CapAlpha:             true,
	imageio.CapNChannels:         true,
	imageio.CapArbitraryMetadata: true,
	imageio.CapVolumes:           true,
}

// Function variables for testing injection.
var (
	openFile   = func(name string) (io.ReadCloser, error) { return os.Open(name) }
	createFile = func(name string) (io.WriteCloser, error) { return os.Create(name) }
)

// Format declares the pxc codec.
func Format() imageio.Format {
	return imageio.Format{
		Name:             "pxc",
		InputExtensions:  []string{"pxc"},
		OutputExtensions: []string{"pxc"},
		NewReader:        func() imageio.ReaderImpl { return &reader{} },
		NewWriter:        func() imageio.WriterImpl { return &writer{} },
	}
}

// NewReader returns an unopened pxc reader.
func NewReader() imageio.Reader { return imageio.NewGuardReader(&reader{}) }

// NewWriter returns an unopened pxc writer.
func NewWriter() imageio.Writer { return imageio.NewGuardWriter(&writer{}) }

// layout locates native pixels inside a stored payload.
type layout struct {
	spec *imageio.ImageSpec
	px   int // native pixel bytes
	line int // native scanline bytes
	tile int // native tile bytes
	nx   int
	ny   int
}

func newLayout(s *imageio.ImageSpec) layout {
	l := layout{spec: s, px: s.PixelBytes(typedesc.TypeUnknown), line: s.ScanlineBytes(typedesc.TypeUnknown)}
	if s.Tiled() {
		l.tile = s.TileBytes(typedesc.TypeUnknown)
		l.nx, l.ny, _ = tileGrid(s)
	}
	return l
}

func (l layout) tileOffset(x, y, z int) int {
	s := l.spec
	tx := (x - s.X) / s.TileWidth
	ty := (y - s.Y) / max(s.TileHeight, 1)
	tz := (z - s.Z) / max(s.TileDepth, 1)
	return ((tz*l.ny+ty)*l.nx + tx) * l.tile
}

// scanline copies scanline (y, z) between line and the payload.
func (l layout) scanline(payload, line []byte, y, z int, toPayload bool) {
	s := l.spec
	if !s.Tiled() {
		off := ((z-s.Z)*s.Height + (y - s.Y)) * l.line
		if toPayload {
			copy(payload[off:off+l.line], line)
		} else {
			copy(line, payload[off:off+l.line])
		}
		return
	}
	th, td := max(s.TileHeight, 1), max(s.TileDepth, 1)
	row := (y - s.Y) % th
	slice := (z - s.Z) % td
	tileRow := s.TileWidth * l.px
	ty, tz := s.Y+(y-s.Y)/th*th, s.Z+(z-s.Z)/td*td
	for x := s.X; x < s.X+s.Width; x += s.TileWidth {
		n := min(s.TileWidth, s.X+s.Width-x) * l.px
		toff := l.tileOffset(x, ty, tz) + (slice*th+row)*tileRow
		loff := (x - s.X) * l.px
		if toPayload {
			copy(payload[toff:toff+n], line[loff:loff+n])
		} else {
			copy(line[loff:loff+n], payload[toff:toff+n])
		}
	}
}

type reader struct {
	img    *Image
	layout layout
}

func (r *reader) FormatName() string           { return "pxc" }
func (r *reader) Supports(feature string) bool { return capabilities.Supports(feature) }

func (r *reader) ValidFile(name string) bool {
	f, err := openFile(name)
	if err != nil {
		return false
	}
	defer f.Close()
	var m [8]byte
	if _, err := io.ReadFull(f, m[:]); err != nil {
		return false
	}
	return m == Magic
}

func (r *reader) Open(name string, config *param.List) (imageio.ImageSpec, error) {
	f, err := openFile(name)
	if err != nil {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %v", imageio.ErrInvalidFile, err)
	}
	defer f.Close()
	opts := []ReadOption{WithReadLimits(imageio.LimitsFromConfig(config, imageio.Limits{}))}
	if config != nil && config.GetInt(AttrVerifyChecksum, 1) == 0 {
		opts = append(opts, WithVerifyChecksum(false))
	}
	img, err := Decode(bufio.NewReader(f), opts...)
	if err != nil {
		return imageio.ImageSpec{}, fmt.Errorf("%s: %w", name, err)
	}
	r.img = img
	r.layout = newLayout(&img.Spec)
	return img.Spec.Clone(), nil
}

func (r *reader) ReadNativeScanline(y, z int, buf []byte) error {
	if r.img == nil {
		return imageio.ErrState
	}
	r.layout.scanline(r.img.Pixels, buf, y, z, false)
	return nil
}

func (r *reader) ReadNativeTile(x, y, z int, buf []byte) error {
	if r.img == nil {
		return imageio.ErrState
	}
	if !r.img.Spec.Tiled() {
		return fmt.Errorf("%w: file is not tiled", imageio.ErrUnsupportedCapability)
	}
	off := r.layout.tileOffset(x, y, z)
	copy(buf, r.img.Pixels[off:off+r.layout.tile])
	return nil
}

func (r *reader) Close() error {
	r.img = nil
	r.layout = layout{}
	return nil
}

type writer struct {
	name   string
	out    io.WriteCloser
	spec   imageio.ImageSpec
	comp   Compression
	pixels []byte
	layout layout
}

func (w *writer) FormatName() string           { return "pxc" }
func (w *writer) Supports(feature string) bool { return capabilities.Supports(feature) }

func (w *writer) Open(name string, spec imageio.ImageSpec, mode imageio.OpenMode) (imageio.ImageSpec, error) {
	if mode != imageio.Create {
		return imageio.ImageSpec{}, fmt.Errorf("%w: pxc holds a single image", imageio.ErrUnsupportedCapability)
	}
	comp, err := ParseCompression(spec.Attributes.GetString(imageio.AttrCompression, ""))
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	if err := validateSpec(&spec, imageio.LimitsFromConfig(nil, imageio.Limits{})); err != nil {
		return imageio.ImageSpec{}, err
	}
	out, err := createFile(name)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	w.name, w.out, w.comp = name, out, comp
	w.spec = spec
	w.spec.Attributes.SetString(imageio.AttrCompression, comp.String())
	w.pixels = make([]byte, payloadSize(&w.spec))
	w.layout = newLayout(&w.spec)
	return w.spec.Clone(), nil
}

func (w *writer) WriteNativeScanline(y, z int, buf []byte) error {
	if w.out == nil {
		return imageio.ErrState
	}
	w.layout.scanline(w.pixels, buf, y, z, true)
	return nil
}

func (w *writer) WriteNativeTile(x, y, z int, buf []byte) error {
	if w.out == nil {
		return imageio.ErrState
	}
	if !w.spec.Tiled() {
		return fmt.Errorf("%w: spec is not tiled", imageio.ErrUnsupportedCapability)
	}
	off := w.layout.tileOffset(x, y, z)
	copy(w.pixels[off:off+w.layout.tile], buf)
	return nil
}

// Close encodes the buffered image and closes the file.
func (w *writer) Close() error {
	if w.out == nil {
		return nil
	}
	bw := bufio.NewWriter(w.out)
	err := Encode(bw, &w.spec, w.pixels, WithCompression(w.comp))
	if err == nil {
		err = bw.Flush()
	}
	err = errors.Join(err, w.out.Close())
	w.out, w.pixels, w.layout = nil, nil, layout{}
	if err != nil {
		return fmt.Errorf("%s: %w", w.name, err)
	}
	return nil
}
