// Package cineon reads Kodak Cineon film scans.
//
// 8-bit and 16-bit samples and 10-bit samples filled three to a 32-bit
// word (left or right justified) are decoded; 10-bit data is widened to
// uint16. Only pixel interleaved files with one bit depth across all
// elements are read. The writer is registered so that ".cin" resolves for
// output, but it declines every file with [imageio.ErrNotImplemented].
package cineon

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

type file interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// Function variables for testing injection.
var openFile = func(name string) (file, error) { return os.Open(name) }

// Format declares the cineon codec.
func Format() imageio.Format {
	return imageio.Format{
		Name:             "cineon",
		InputExtensions:  []string{"cin"},
		OutputExtensions: []string{"cin"},
		NewReader:        func() imageio.ReaderImpl { return &reader{} },
		NewWriter:        func() imageio.WriterImpl { return writer{} },
	}
}

// NewReader returns an unopened cineon reader.
func NewReader() imageio.Reader { return imageio.NewGuardReader(&reader{}) }

// NewWriter returns a cineon writer. Its Open always fails.
func NewWriter() imageio.Writer { return imageio.NewGuardWriter(writer{}) }

type reader struct {
	f      file
	h      header
	order  binary.ByteOrder
	width  int
	stride int64 // bytes per stored line, padding included
	raw    []byte
}

func (r *reader) FormatName() string     { return "cineon" }
func (r *reader) Supports(_ string) bool { return false }

func (r *reader) ValidFile(name string) bool {
	f, err := openFile(name)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = readHeader(f)
	return err == nil
}

func (r *reader) Open(name string, config *param.List) (imageio.ImageSpec, error) {
	f, err := openFile(name)
	if err != nil {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %v", imageio.ErrInvalidFile, err)
	}
	spec, err := r.open(f, imageio.LimitsFromConfig(config, imageio.Limits{}))
	if err != nil {
		f.Close()
		return imageio.ImageSpec{}, fmt.Errorf("%s: %w", name, err)
	}
	r.f = f
	return spec, nil
}

func (r *reader) open(f file, limits imageio.Limits) (imageio.ImageSpec, error) {
	h, order, err := readHeader(f)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	w, ht := h.size()
	if w <= 0 || ht <= 0 {
		return imageio.ImageSpec{}, fmt.Errorf("%w: resolution %dx%d", imageio.ErrInvalidFile, w, ht)
	}
	bits := h.maxBits()
	for _, e := range h.elements() {
		if int(e.BitDepth) != bits {
			return imageio.ImageSpec{}, fmt.Errorf("%w: mixed bit depths", imageio.ErrNotImplemented)
		}
	}
	if h.Interleave != 0 {
		return imageio.ImageSpec{}, fmt.Errorf("%w: interleave %d", imageio.ErrNotImplemented, h.Interleave)
	}
	n := w * int(h.NumElements)
	var format typedesc.TypeDesc
	var line int
	switch {
	case bits == 8:
		format, line = typedesc.TypeUInt8, n
	case bits == 16:
		format, line = typedesc.TypeUInt16, n*2
	case bits == 10 && (h.Packing&^PackAsManyAsFit == PackLongWordLeft || h.Packing&^PackAsManyAsFit == PackLongWordRight):
		format, line = typedesc.TypeUInt16, (n+2)/3*4
	default:
		return imageio.ImageSpec{}, fmt.Errorf("%w: %d-bit samples with packing %d", imageio.ErrNotImplemented, bits, h.Packing)
	}

	spec := imageio.NewImageSpec(w, ht, int(h.NumElements), format)
	spec.ChannelNames = channelNames(h.elements())
	spec.AlphaChannel = -1
	if err := limits.Check(&spec); err != nil {
		return imageio.ImageSpec{}, err
	}
	r.setAttributes(&spec, &h, bits)
	if h.UserSize != 0 && h.UserSize != undefined32 {
		if h.UserSize > limits.MaxMetadataBytes {
			return imageio.ImageSpec{}, fmt.Errorf("%w: %d bytes of user data", imageio.ErrLimitExceeded, h.UserSize)
		}
		user := make([]byte, h.UserSize)
		if _, err := f.ReadAt(user, userOffset(&h)); err != nil {
			return imageio.ImageSpec{}, fmt.Errorf("cineon: user data: %w", err)
		}
		v, _ := param.FromBytes("cineon:UserData", user, false)
		spec.Attributes.Set(v)
	}

	r.h, r.order, r.width = h, order, w
	r.stride = int64(line + h.eolPadding())
	r.raw = make([]byte, line)
	return spec.Clone(), nil
}

func userOffset(h *header) int64 {
	if h.GenericSize == 0 || h.GenericSize == undefined32 || h.IndustrySize == undefined32 {
		return headerSize
	}
	return int64(h.GenericSize) + int64(h.IndustrySize)
}

func channelNames(es []element) []string {
	names := make([]string, len(es))
	counts := map[string]int{}
	for i, e := range es {
		var base string
		switch e.Descriptor {
		case 0:
			base = "I"
		case 1, 4:
			base = "R"
		case 2, 5:
			base = "G"
		case 3, 6:
			base = "B"
		default:
			names[i] = fmt.Sprintf("channel%d", i)
			continue
		}
		counts[base]++
		if c := counts[base]; c > 1 {
			names[i] = fmt.Sprintf("%s%d", base, c)
		} else {
			names[i] = base
		}
	}
	return names
}

func (r *reader) setAttributes(spec *imageio.ImageSpec, h *header, bits int) {
	a := &spec.Attributes
	es := h.elements()
	a.SetInt(imageio.AttrBitsPerSample, int32(bits))
	a.SetInt(imageio.AttrOrientation, orientation(h.Orientation))
	// Cineon files are log encoded in practice whatever their gamma field says.
	a.SetString(imageio.AttrColorSpace, "KodakLog")

	if d, t := text(h.CreationDate[:]), text(h.CreationTime[:]); d != "" && t != "" {
		a.SetString("DateTime", d+" "+t)
	}
	if d, t := text(h.SourceDate[:]), text(h.SourceTime[:]); d != "" && t != "" {
		a.SetString("DateTime", d+" "+t)
	}

	descs := make([]string, len(es))
	metric := make([]int32, len(es))
	depth := make([]int32, len(es))
	ppl := make([]int32, len(es))
	lpe := make([]int32, len(es))
	for i, e := range es {
		descs[i] = descriptorName(e.Descriptor)
		metric[i], depth[i] = int32(e.Metric), int32(e.BitDepth)
		ppl[i], lpe[i] = int32(e.PixelsPerLine), int32(e.LinesPerElement)
	}
	if v, err := param.Strings("cineon:ImageDescriptor", typedesc.NewArray(typedesc.String, len(es)), descs...); err == nil {
		a.Set(v)
	}
	setInts(a, "cineon:Metric", metric)
	setInts(a, "cineon:BitDepth", depth)
	setInts(a, "cineon:PixelsPerLine", ppl)
	setInts(a, "cineon:LinesPerElement", lpe)
	for _, f := range []struct {
		name string
		get  func(element) float32
	}{
		{"cineon:LowData", func(e element) float32 { return e.LowData }},
		{"cineon:LowQuantity", func(e element) float32 { return e.LowQuantity }},
		{"cineon:HighData", func(e element) float32 { return e.HighData }},
		{"cineon:HighQuantity", func(e element) float32 { return e.HighQuantity }},
	} {
		vals := make([]float32, 0, len(es))
		for _, e := range es {
			if x := f.get(e); defined(x) {
				vals = append(vals, x)
			}
		}
		if len(vals) == len(es) {
			setFloats(a, f.name, vals)
		}
	}
	for _, c := range []struct {
		name string
		xy   [2]float32
	}{
		{"cineon:WhitePoint", h.WhitePoint},
		{"cineon:RedPrimary", h.RedPrimary},
		{"cineon:GreenPrimary", h.GreenPrimary},
		{"cineon:BluePrimary", h.BluePrimary},
	} {
		if defined(c.xy[0]) && defined(c.xy[1]) && (c.xy[0] != 0 || c.xy[1] != 0) {
			setFloats(a, c.name, c.xy[:])
		}
	}

	for _, s := range []struct {
		name string
		b    []byte
	}{
		{"cineon:Version", h.Version[:]},
		{"cineon:LabelText", h.LabelText[:]},
		{"cineon:SourceImageFileName", h.SourceFileName[:]},
		{"cineon:InputDevice", h.InputDevice[:]},
		{"cineon:InputDeviceModelNumber", h.InputDeviceModel[:]},
		{"cineon:InputDeviceSerialNumber", h.InputDeviceSerial[:]},
		{"cineon:Format", h.Format[:]},
		{"cineon:FrameId", h.FrameID[:]},
		{"cineon:SlateInfo", h.SlateInfo[:]},
	} {
		if t := text(s.b); t != "" {
			a.SetString(s.name, t)
		}
	}
	if uint32(h.XOffset) != undefined32 {
		a.SetInt("cineon:XOffset", h.XOffset)
	}
	if uint32(h.YOffset) != undefined32 {
		a.SetInt("cineon:YOffset", h.YOffset)
	}
	if h.FramePosition != undefined32 {
		a.SetInt("cineon:FramePosition", int32(h.FramePosition))
	}
	for _, f := range []struct {
		name string
		x    float32
	}{
		{"cineon:XDevicePitch", h.XDevicePitch},
		{"cineon:YDevicePitch", h.YDevicePitch},
		{"cineon:FrameRate", h.FrameRate},
	} {
		if defined(f.x) {
			a.SetFloat(f.name, f.x)
		}
	}
	a.SetString("cineon:Packing", packingName(h.Packing))
	if ec := h.edgeCode(); ec != "" {
		a.SetString("cineon:FilmEdgeCode", ec)
	}
}

func setInts(a *param.List, name string, xs []int32) {
	if v, err := param.FromInts(name, typedesc.NewArray(typedesc.Int32, len(xs)), xs...); err == nil {
		a.Set(v)
	}
}

func setFloats(a *param.List, name string, xs []float32) {
	if v, err := param.FromFloats(name, typedesc.NewArray(typedesc.Float, len(xs)), xs...); err == nil {
		a.Set(v)
	}
}

func (r *reader) ReadNativeScanline(y, _ int, buf []byte) error {
	if r.f == nil {
		return imageio.ErrState
	}
	off := pixelOffset(&r.h) + int64(y)*r.stride
	if _, err := r.f.ReadAt(r.raw, off); err != nil {
		return fmt.Errorf("cineon: scanline %d: %w", y, err)
	}
	n := r.width * int(r.h.NumElements)
	switch r.h.maxBits() {
	case 8:
		copy(buf, r.raw[:n])
	case 16:
		for i := 0; i < n; i++ {
			binary.NativeEndian.PutUint16(buf[2*i:], r.order.Uint16(r.raw[2*i:]))
		}
	case 10:
		pad := 0
		if r.h.Packing&^PackAsManyAsFit == PackLongWordLeft {
			pad = 2
		}
		for i := 0; i < n; i++ {
			word := r.order.Uint32(r.raw[i/3*4:])
			v := uint16(word>>((2-i%3)*10+pad)) & 0x3FF
			binary.NativeEndian.PutUint16(buf[2*i:], v<<6|v>>4)
		}
	}
	return nil
}

// pixelOffset is the file offset of the first scanline.
func pixelOffset(h *header) int64 {
	if h.ImageOffset == 0 || h.ImageOffset == undefined32 {
		return headerSize
	}
	return int64(h.ImageOffset)
}

func (r *reader) ReadNativeTile(_, _, _ int, _ []byte) error {
	return fmt.Errorf("%w: cineon is not tiled", imageio.ErrUnsupportedCapability)
}

func (r *reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f, r.raw = nil, nil
	return err
}

type writer struct{}

func (writer) FormatName() string     { return "cineon" }
func (writer) Supports(_ string) bool { return false }

func (writer) Open(string, imageio.ImageSpec, imageio.OpenMode) (imageio.ImageSpec, error) {
	return imageio.ImageSpec{}, fmt.Errorf("%w: cineon output", imageio.ErrNotImplemented)
}

func (writer) WriteNativeScanline(int, int, []byte) error {
	return fmt.Errorf("%w: cineon output", imageio.ErrNotImplemented)
}

func (writer) WriteNativeTile(int, int, int, []byte) error {
	return fmt.Errorf("%w: cineon output", imageio.ErrNotImplemented)
}

func (writer) Close() error { return nil }
