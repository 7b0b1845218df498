// Package zfile implements the Zfile depth format: a 136-byte header
// carrying the resolution and two 4x4 matrices, followed by one float
// channel of depth values in scanline order. Files are optionally gzip
// compressed as a whole.
//
// Writers store little-endian data. Readers accept either byte order,
// told apart by the magic number.
package zfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

const (
	Magic      uint32 = 0x2f0867ab
	headerSize        = 136

	// Matrix attributes carried by every file.
	AttrWorldToScreen = "worldtoscreen"
	AttrWorldToCamera = "worldtocamera"
)

// ErrNotZfile is returned when a file does not start with the Zfile magic.
var ErrNotZfile = errors.New("zfile: not a zfile")

var identity = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// Function variables for testing injection.
var (
	openFile      = func(name string) (io.ReadCloser, error) { return os.Open(name) }
	createFile    = func(name string) (io.WriteCloser, error) { return os.Create(name) }
	newGzipReader = func(r io.Reader) (*gzip.Reader, error) { return gzip.NewReader(r) }
)

// header is the part after the magic.
type header struct {
	Width, Height int16
	WorldToScreen [16]float32
	WorldToCamera [16]float32
}

// Format declares the zfile codec.
func Format() imageio.Format {
	return imageio.Format{
		Name:             "zfile",
		InputExtensions:  []string{"zfile"},
		OutputExtensions: []string{"zfile"},
		NewReader:        func() imageio.ReaderImpl { return &reader{} },
		NewWriter:        func() imageio.WriterImpl { return &writer{} },
	}
}

// NewReader returns an unopened zfile reader.
func NewReader() imageio.Reader { return imageio.NewGuardReader(&reader{}) }

// NewWriter returns an unopened zfile writer.
func NewWriter() imageio.Writer { return imageio.NewGuardWriter(&writer{}) }

// stream is an open file positioned just after the header.
type stream struct {
	f     io.ReadCloser
	gz    *gzip.Reader
	src   io.Reader
	order binary.ByteOrder
	hdr   header
}

func openStream(name string) (*stream, error) {
	f, err := openFile(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imageio.ErrInvalidFile, err)
	}
	s := &stream{f: f}
	br := bufio.NewReader(f)
	s.src = br
	if m, _ := br.Peek(2); len(m) == 2 && m[0] == 0x1f && m[1] == 0x8b {
		gz, err := newGzipReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zfile: gzip: %w", err)
		}
		s.gz, s.src = gz, gz
	}
	if err := s.readHeader(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *stream) readHeader() error {
	var m [4]byte
	if _, err := io.ReadFull(s.src, m[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNotZfile, err)
	}
	switch {
	case binary.LittleEndian.Uint32(m[:]) == Magic:
		s.order = binary.LittleEndian
	case binary.BigEndian.Uint32(m[:]) == Magic:
		s.order = binary.BigEndian
	default:
		return ErrNotZfile
	}
	if err := binary.Read(s.src, s.order, &s.hdr); err != nil {
		return fmt.Errorf("zfile: header: %w", err)
	}
	if s.hdr.Width <= 0 || s.hdr.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", imageio.ErrInvalidFile, s.hdr.Width, s.hdr.Height)
	}
	return nil
}

func (s *stream) Close() error {
	var err error
	if s.gz != nil {
		err = s.gz.Close()
	}
	return errors.Join(err, s.f.Close())
}

type reader struct {
	name string
	s    *stream
	spec imageio.ImageSpec
	next int
}

func (r *reader) FormatName() string     { return "zfile" }
func (r *reader) Supports(_ string) bool { return false }

func (r *reader) ValidFile(name string) bool {
	s, err := openStream(name)
	if err != nil {
		return false
	}
	s.Close()
	return true
}

func (r *reader) Open(name string, _ *param.List) (imageio.ImageSpec, error) {
	s, err := openStream(name)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	spec := imageio.NewImageSpec(int(s.hdr.Width), int(s.hdr.Height), 1, typedesc.TypeFloat)
	spec.ChannelNames = []string{"z"}
	spec.ZChannel = 0
	spec.Attributes.Set(matrix(AttrWorldToScreen, s.hdr.WorldToScreen))
	spec.Attributes.Set(matrix(AttrWorldToCamera, s.hdr.WorldToCamera))
	if s.gz != nil {
		spec.Attributes.SetString(imageio.AttrCompression, "gzip")
	} else {
		spec.Attributes.SetString(imageio.AttrCompression, "none")
	}
	r.name, r.s, r.spec, r.next = name, s, spec, 0
	return spec.Clone(), nil
}

func matrix(name string, m [16]float32) param.Value {
	v, _ := param.FromFloats(name, typedesc.TypeMatrix44, m[:]...)
	return v
}

// ReadNativeScanline reads forward to scanline y, re-opening the file when
// y lies behind the current position.
func (r *reader) ReadNativeScanline(y, _ int, buf []byte) error {
	if r.s == nil {
		return imageio.ErrState
	}
	row := y - r.spec.Y
	if row < r.next {
		r.s.Close()
		s, err := openStream(r.name)
		if err != nil {
			r.s = nil
			return err
		}
		r.s, r.next = s, 0
	}
	line := buf[:r.spec.Width*4]
	for r.next <= row {
		if _, err := io.ReadFull(r.s.src, line); err != nil {
			return fmt.Errorf("zfile: scanline %d: %w", r.next, err)
		}
		r.next++
	}
	for i := 0; i < len(line); i += 4 {
		binary.NativeEndian.PutUint32(line[i:], r.s.order.Uint32(line[i:]))
	}
	return nil
}

func (r *reader) ReadNativeTile(_, _, _ int, _ []byte) error {
	return fmt.Errorf("%w: zfile is not tiled", imageio.ErrUnsupportedCapability)
}

func (r *reader) Close() error {
	if r.s == nil {
		return nil
	}
	err := r.s.Close()
	r.s, r.next = nil, 0
	return err
}

type writer struct {
	name string
	f    io.WriteCloser
	bw   *bufio.Writer
	gz   *gzip.Writer
	out  io.Writer
	spec imageio.ImageSpec
	next int
	line []byte
}

func (w *writer) FormatName() string     { return "zfile" }
func (w *writer) Supports(_ string) bool { return false }

// parseCompression maps the compression attribute to a gzip level.
// Anything other than "none" selects gzip; "gzip:9" picks a level.
func parseCompression(s string) (level int, compressed bool, err error) {
	name, lv, hasLevel := strings.Cut(s, ":")
	if name == "" || strings.EqualFold(name, "none") {
		return 0, false, nil
	}
	if !hasLevel {
		return gzip.DefaultCompression, true, nil
	}
	n, err := strconv.Atoi(lv)
	if err != nil || n < gzip.HuffmanOnly || n > gzip.BestCompression {
		return 0, false, fmt.Errorf("%w: compression level %q", imageio.ErrInvalidSpec, lv)
	}
	return n, true, nil
}

func (w *writer) Open(name string, spec imageio.ImageSpec, mode imageio.OpenMode) (imageio.ImageSpec, error) {
	if mode != imageio.Create {
		return imageio.ImageSpec{}, fmt.Errorf("%w: zfile holds a single image", imageio.ErrUnsupportedCapability)
	}
	if spec.NChannels != 1 {
		return imageio.ImageSpec{}, fmt.Errorf("%w: zfile holds 1 channel, not %d", imageio.ErrInvalidSpec, spec.NChannels)
	}
	if spec.Width > math.MaxInt16 || spec.Height > math.MaxInt16 {
		return imageio.ImageSpec{}, fmt.Errorf("%w: resolution %dx%d does not fit a zfile header", imageio.ErrInvalidSpec, spec.Width, spec.Height)
	}
	level, compressed, err := parseCompression(spec.Attributes.GetString(imageio.AttrCompression, "none"))
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	hdr := header{
		Width:         int16(spec.Width),
		Height:        int16(spec.Height),
		WorldToScreen: findMatrix(&spec.Attributes, AttrWorldToScreen),
		WorldToCamera: findMatrix(&spec.Attributes, AttrWorldToCamera),
	}

	f, err := createFile(name)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	w.bw = bufio.NewWriter(f)
	w.out = w.bw
	w.gz = nil
	if compressed {
		gz, err := gzip.NewWriterLevel(w.bw, level)
		if err != nil {
			f.Close()
			return imageio.ImageSpec{}, fmt.Errorf("%w: %v", imageio.ErrInvalidSpec, err)
		}
		w.gz, w.out = gz, gz
	}
	if err := binary.Write(w.out, binary.LittleEndian, Magic); err != nil {
		f.Close()
		return imageio.ImageSpec{}, err
	}
	if err := binary.Write(w.out, binary.LittleEndian, &hdr); err != nil {
		f.Close()
		return imageio.ImageSpec{}, err
	}

	spec.Format = typedesc.TypeFloat
	spec.ChannelFormats = nil
	spec.ZChannel = 0
	spec.AlphaChannel = -1
	if w.gz != nil {
		spec.Attributes.SetString(imageio.AttrCompression, "gzip")
	} else {
		spec.Attributes.SetString(imageio.AttrCompression, "none")
	}
	w.name, w.f, w.spec, w.next = name, f, spec, 0
	w.line = make([]byte, spec.Width*4)
	return spec.Clone(), nil
}

func findMatrix(l *param.List, name string) [16]float32 {
	if v, ok := l.FindType(name, typedesc.TypeMatrix44); ok {
		if fs, ok := v.Floats(); ok && len(fs) == 16 {
			return [16]float32(fs)
		}
	}
	return identity
}

// WriteNativeScanline appends scanline y. Scanlines must arrive in order.
func (w *writer) WriteNativeScanline(y, _ int, buf []byte) error {
	if w.f == nil {
		return imageio.ErrState
	}
	if row := y - w.spec.Y; row != w.next {
		return fmt.Errorf("%w: zfile scanlines are written in order, expected y=%d", imageio.ErrUnsupportedCapability, w.spec.Y+w.next)
	}
	for i := 0; i < len(w.line); i += 4 {
		binary.LittleEndian.PutUint32(w.line[i:], binary.NativeEndian.Uint32(buf[i:]))
	}
	if _, err := w.out.Write(w.line); err != nil {
		return err
	}
	w.next++
	return nil
}

func (w *writer) WriteNativeTile(_, _, _ int, _ []byte) error {
	return fmt.Errorf("%w: zfile is not tiled", imageio.ErrUnsupportedCapability)
}

func (w *writer) Close() error {
	if w.f == nil {
		return nil
	}
	var err error
	if w.next < w.spec.Height {
		err = fmt.Errorf("zfile: %s: only %d of %d scanlines written", w.name, w.next, w.spec.Height)
	}
	if w.gz != nil {
		err = errors.Join(err, w.gz.Close())
	}
	err = errors.Join(err, w.bw.Flush(), w.f.Close())
	w.f, w.gz, w.bw, w.out, w.line = nil, nil, nil, nil, nil
	return err
}
