package cineon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

func newHeader(w, h int, bits uint8, packing uint8, descriptors ...uint8) header {
	var hd header
	hd.Magic = Magic
	hd.ImageOffset = headerSize
	hd.GenericSize, hd.IndustrySize = 1024, 1024
	hd.UserSize = 0
	copy(hd.Version[:], "V4.5")
	copy(hd.CreationDate[:], "2024:05:01")
	copy(hd.CreationTime[:], "12:30:00")
	hd.NumElements = uint8(len(descriptors))
	for i, d := range descriptors {
		hd.Elements[i] = element{
			Descriptor:      d,
			BitDepth:        bits,
			PixelsPerLine:   uint32(w),
			LinesPerElement: uint32(h),
			LowData:         95,
			HighData:        685,
			LowQuantity:     float32(math.Inf(1)),
			HighQuantity:    2.048,
		}
	}
	hd.WhitePoint = [2]float32{0.3127, 0.329}
	hd.Packing = packing
	hd.EOLPadding = undefined32
	hd.XOffset, hd.YOffset = -1, 16
	hd.XDevicePitch = float32(math.Inf(1))
	hd.YDevicePitch = float32(math.Inf(1))
	hd.FrameRate = 24
	hd.FramePosition = undefined32
	hd.FilmMfgID, hd.FilmType, hd.PerfsOffset = 0xFF, 0xFF, 0xFF
	hd.Prefix, hd.Count = undefined32, undefined32
	copy(hd.Format[:], "Academy")
	return hd
}

func encodeFile(t *testing.T, order binary.ByteOrder, h header, user, pixels []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, order, &h.genericHeader); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(&buf, order, &h.industryHeader); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != headerSize {
		t.Fatalf("header is %d bytes", buf.Len())
	}
	buf.Write(user)
	buf.Write(pixels)
	path := filepath.Join(t.TempDir(), "scan.cin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// pack10 fills three 10-bit samples per word, left justified.
func pack10(order binary.ByteOrder, samples []uint16) []byte {
	out := make([]byte, (len(samples)+2)/3*4)
	for i, s := range samples {
		off := i / 3 * 4
		w := order.Uint32(out[off:])
		w |= uint32(s&0x3FF) << ((2-i%3)*10 + 2)
		order.PutUint32(out[off:], w)
	}
	return out
}

func TestRead10BitRGB(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		t.Run(order.String(), func(t *testing.T) {
			samples := []uint16{0, 1023, 512, 100, 200, 300}
			h := newHeader(2, 1, 10, PackLongWordLeft, 1, 2, 3)
			path := encodeFile(t, order, h, nil, pack10(order, samples))

			r := NewReader()
			defer r.Destroy()
			if !r.ValidFile(path) {
				t.Fatal("ValidFile rejected a cineon file")
			}
			spec, err := r.Open(path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if spec.Width != 2 || spec.Height != 1 || spec.NChannels != 3 || spec.Format != typedesc.TypeUInt16 {
				t.Fatalf("spec=%+v", spec)
			}
			if got := spec.ChannelNames; got[0] != "R" || got[1] != "G" || got[2] != "B" {
				t.Fatalf("channels=%v", got)
			}
			if spec.Attributes.GetInt(imageio.AttrBitsPerSample, 0) != 10 {
				t.Fatal("bits per sample")
			}
			px := make([]byte, 12)
			if err := r.ReadScanline(0, 0, typedesc.TypeUnknown, px); err != nil {
				t.Fatal(err)
			}
			for i, s := range samples {
				want := s<<6 | s>>4
				if got := binary.NativeEndian.Uint16(px[2*i:]); got != want {
					t.Fatalf("sample %d: got %d want %d", i, got, want)
				}
			}
		})
	}
}

func TestReadRightJustified10Bit(t *testing.T) {
	order := binary.BigEndian
	word := uint32(7)<<20 | uint32(8)<<10 | 9
	pixels := make([]byte, 4)
	order.PutUint32(pixels, word)
	path := encodeFile(t, order, newHeader(1, 1, 10, PackLongWordRight|PackAsManyAsFit, 1, 2, 3), nil, pixels)

	r := NewReader()
	defer r.Destroy()
	spec, err := r.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p := spec.Attributes.GetString("cineon:Packing", ""); p != "32-bit boundary, right justified, as many fields as possible per cell" {
		t.Fatalf("packing=%q", p)
	}
	px := make([]byte, 6)
	if err := r.ReadScanline(0, 0, typedesc.TypeUnknown, px); err != nil {
		t.Fatal(err)
	}
	if binary.NativeEndian.Uint16(px) != 7<<6 || binary.NativeEndian.Uint16(px[4:]) != 9<<6 {
		t.Fatalf("px=%v", px)
	}
}

func TestRead8BitGrayWithPadding(t *testing.T) {
	h := newHeader(3, 2, 8, PackByteLeft, 0)
	h.EOLPadding = 1
	pixels := []byte{10, 20, 30, 0xEE, 40, 50, 60, 0xEE}
	path := encodeFile(t, binary.LittleEndian, h, nil, pixels)

	r := NewReader()
	defer r.Destroy()
	spec, err := r.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if spec.ChannelNames[0] != "I" || spec.Format != typedesc.TypeUInt8 {
		t.Fatalf("spec=%+v", spec)
	}
	img := make([]byte, 6)
	if err := r.ReadImage(typedesc.TypeUInt8, img); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img, []byte{10, 20, 30, 40, 50, 60}) {
		t.Fatalf("img=%v", img)
	}
}

func TestMetadata(t *testing.T) {
	h := newHeader(1, 1, 8, PackByteLeft, 1, 1)
	h.Orientation = 2
	h.UserSize = 5
	h.ImageOffset = headerSize + 5
	copy(h.SlateInfo[:], "slate")
	h.FilmMfgID, h.FilmType, h.PerfsOffset, h.Prefix, h.Count = 1, 2, 3, 456, 78
	path := encodeFile(t, binary.BigEndian, h, []byte("hello"), []byte{1, 2})

	r := NewReader()
	defer r.Destroy()
	spec, err := r.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	a := &spec.Attributes
	if spec.ChannelNames[1] != "R2" {
		t.Fatalf("names=%v", spec.ChannelNames)
	}
	checks := map[string]string{
		"cineon:Version":       "V4.5",
		"cineon:Format":        "Academy",
		"cineon:SlateInfo":     "slate",
		"cineon:FilmEdgeCode":  "0102030004560078",
		"DateTime":             "2024:05:01 12:30:00",
		imageio.AttrColorSpace: "KodakLog",
	}
	for name, want := range checks {
		if got := a.GetString(name, ""); got != want {
			t.Fatalf("%s=%q want %q", name, got, want)
		}
	}
	if a.GetInt(imageio.AttrOrientation, 0) != 4 {
		t.Fatal("orientation")
	}
	if a.GetInt("cineon:YOffset", 0) != 16 {
		t.Fatal("yoffset")
	}
	for _, absent := range []string{"cineon:XOffset", "cineon:LowQuantity", "cineon:XDevicePitch", "cineon:FramePosition", "cineon:RedPrimary"} {
		if _, ok := a.Find(absent); ok {
			t.Fatalf("%s should be absent", absent)
		}
	}
	if v, ok := a.Find("cineon:HighData"); !ok || v.Type() != typedesc.NewArray(typedesc.Float, 2) {
		t.Fatal("HighData")
	}
	if v, ok := a.Find("cineon:ImageDescriptor"); !ok {
		t.Fatal("ImageDescriptor missing")
	} else if ss, _ := v.Strings(); len(ss) != 2 || ss[0] != "Red, printing density" {
		t.Fatalf("descriptors=%v", ss)
	}
	v, ok := a.Find("cineon:UserData")
	if !ok {
		t.Fatal("UserData missing")
	}
	if b, _ := v.Bytes(); string(b) != "hello" {
		t.Fatalf("user data %q", b)
	}
	px := make([]byte, 2)
	if err := r.ReadScanline(0, 0, typedesc.TypeUInt8, px); err != nil || px[0] != 1 || px[1] != 2 {
		t.Fatalf("px=%v err=%v", px, err)
	}
}

func TestUserDataLimit(t *testing.T) {
	h := newHeader(1, 1, 8, PackByteLeft, 0)
	h.UserSize = 64
	h.ImageOffset = headerSize + 64
	path := encodeFile(t, binary.BigEndian, h, make([]byte, 64), []byte{0})
	var cfg param.List
	cfg.SetInt(imageio.AttrMaxMetadataBytes, 16)
	if _, err := NewReader().Open(path, &cfg); !errors.Is(err, imageio.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestReaderDeclinesUnsupportedLayouts(t *testing.T) {
	cases := map[string]header{
		"packed 10-bit": newHeader(2, 2, 10, PackPacked, 1, 2, 3),
		"12-bit":        newHeader(2, 2, 12, PackLongWordLeft, 0),
	}
	mixed := newHeader(2, 2, 8, PackByteLeft, 1, 2)
	mixed.Elements[1].BitDepth = 10
	cases["mixed"] = mixed
	line := newHeader(2, 2, 8, PackByteLeft, 1, 2)
	line.Interleave = 1
	cases["line interleave"] = line
	for name, h := range cases {
		path := encodeFile(t, binary.BigEndian, h, nil, make([]byte, 64))
		if _, err := NewReader().Open(path, nil); !errors.Is(err, imageio.ErrNotImplemented) {
			t.Fatalf("%s: expected ErrNotImplemented, got %v", name, err)
		}
	}
}

func TestReaderRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.cin")
	os.WriteFile(junk, bytes.Repeat([]byte{1}, 4096), 0o644)
	short := filepath.Join(dir, "short.cin")
	os.WriteFile(short, []byte{0x80, 0x2A, 0x5F, 0xD7, 0, 0}, 0o644)

	r := NewReader()
	defer r.Destroy()
	if r.ValidFile(junk) || r.ValidFile(short) || r.ValidFile(filepath.Join(dir, "none.cin")) {
		t.Fatal("ValidFile accepted a bad file")
	}
	if _, err := r.Open(junk, nil); !errors.Is(err, ErrNotCineon) {
		t.Fatalf("junk: %v", err)
	}
	if _, err := r.Open(short, nil); err == nil {
		t.Fatal("short: expected error")
	}
	none := newHeader(1, 1, 8, PackByteLeft)
	if _, err := r.Open(encodeFile(t, binary.BigEndian, none, nil, nil), nil); err == nil {
		t.Fatal("no elements: expected error")
	}
	zero := newHeader(0, 1, 8, PackByteLeft, 0)
	if _, err := r.Open(encodeFile(t, binary.BigEndian, zero, nil, nil), nil); !errors.Is(err, imageio.ErrInvalidFile) {
		t.Fatalf("zero width: %v", err)
	}
	trunc := newHeader(4, 4, 8, PackByteLeft, 0)
	if _, err := r.Open(encodeFile(t, binary.BigEndian, trunc, nil, []byte{1}), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.ReadScanline(3, 0, typedesc.TypeUInt8, make([]byte, 4)); err == nil {
		t.Fatal("truncated scanline: expected error")
	}
}

func TestWriterNotImplemented(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.cin")
	w := NewWriter()
	defer w.Destroy()
	spec := imageio.NewImageSpec(4, 4, 3, typedesc.TypeUInt16)
	if err := w.Open(path, spec, imageio.Create); !errors.Is(err, imageio.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if msg := w.LastError(false); msg == "" {
		t.Fatal("no message recorded")
	}
	if err := w.WriteScanline(0, 0, typedesc.TypeUInt16, make([]byte, 24)); !errors.Is(err, imageio.ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("writer created a file")
	}
}
