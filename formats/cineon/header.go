package cineon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	Magic       uint32 = 0x802A5FD7
	headerSize         = 2048
	maxElements        = 8

	undefined32 uint32 = 0xFFFFFFFF
)

// ErrNotCineon is returned when a file does not start with the Cineon magic.
var ErrNotCineon = errors.New("cineon: not a cineon file")

// Packing values of the generic header.
const (
	PackPacked        = 0
	PackByteLeft      = 1
	PackByteRight     = 2
	PackWordLeft      = 3
	PackWordRight     = 4
	PackLongWordLeft  = 5
	PackLongWordRight = 6
	PackAsManyAsFit   = 0x80
)

type element struct {
	Metric          uint8
	Descriptor      uint8
	BitDepth        uint8
	_               uint8
	PixelsPerLine   uint32
	LinesPerElement uint32
	LowData         float32
	LowQuantity     float32
	HighData        float32
	HighQuantity    float32
}

// genericHeader is the first 1024 bytes of a file.
type genericHeader struct {
	Magic        uint32
	ImageOffset  uint32
	GenericSize  uint32
	IndustrySize uint32
	UserSize     uint32
	FileSize     uint32
	Version      [8]byte
	FileName     [100]byte
	CreationDate [12]byte
	CreationTime [12]byte
	_            [36]byte

	Orientation  uint8
	NumElements  uint8
	_            [2]byte
	Elements     [maxElements]element
	WhitePoint   [2]float32
	RedPrimary   [2]float32
	GreenPrimary [2]float32
	BluePrimary  [2]float32
	LabelText    [200]byte
	_            [28]byte
	Interleave   uint8
	Packing      uint8
	DataSign     uint8
	ImageSense   uint8
	EOLPadding   uint32
	EOIPadding   uint32
	_            [20]byte

	XOffset           int32
	YOffset           int32
	SourceFileName    [100]byte
	SourceDate        [12]byte
	SourceTime        [12]byte
	InputDevice       [64]byte
	InputDeviceModel  [32]byte
	InputDeviceSerial [32]byte
	XDevicePitch      float32
	YDevicePitch      float32
	Gamma             float32
	_                 [40]byte
}

// industryHeader is the motion picture film block that follows.
type industryHeader struct {
	FilmMfgID     uint8
	FilmType      uint8
	PerfsOffset   uint8
	_             uint8
	Prefix        uint32
	Count         uint32
	Format        [32]byte
	FramePosition uint32
	FrameRate     float32
	FrameID       [32]byte
	SlateInfo     [200]byte
	_             [740]byte
}

type header struct {
	genericHeader
	industryHeader
}

// readHeader reads the 2048-byte header and returns it with the byte order
// named by its magic.
func readHeader(r io.Reader) (header, binary.ByteOrder, error) {
	var b [headerSize]byte
	if _, err := io.ReadFull(r, b[:4]); err != nil {
		return header{}, nil, fmt.Errorf("%w: %v", ErrNotCineon, err)
	}
	var order binary.ByteOrder
	switch {
	case binary.BigEndian.Uint32(b[:4]) == Magic:
		order = binary.BigEndian
	case binary.LittleEndian.Uint32(b[:4]) == Magic:
		order = binary.LittleEndian
	default:
		return header{}, nil, ErrNotCineon
	}
	if _, err := io.ReadFull(r, b[4:]); err != nil {
		return header{}, nil, fmt.Errorf("cineon: header: %w", err)
	}
	var h header
	br := bytes.NewReader(b[:])
	if err := binary.Read(br, order, &h.genericHeader); err != nil {
		return header{}, nil, fmt.Errorf("cineon: header: %w", err)
	}
	if err := binary.Read(br, order, &h.industryHeader); err != nil {
		return header{}, nil, fmt.Errorf("cineon: header: %w", err)
	}
	if h.NumElements == 0 || h.NumElements > maxElements {
		return header{}, nil, fmt.Errorf("cineon: %d image elements", h.NumElements)
	}
	return h, order, nil
}

func (h *header) elements() []element { return h.Elements[:h.NumElements] }

// size returns the stored line length and line count. Transposed
// orientations are reported through the Orientation attribute only.
func (h *header) size() (width, height int) {
	for _, e := range h.elements() {
		width = max(width, int(e.PixelsPerLine))
		height = max(height, int(e.LinesPerElement))
	}
	return width, height
}

func (h *header) maxBits() int {
	bits := 0
	for _, e := range h.elements() {
		bits = max(bits, int(e.BitDepth))
	}
	return bits
}

func (h *header) eolPadding() int {
	if h.EOLPadding == undefined32 {
		return 0
	}
	return int(h.EOLPadding)
}

// edgeCode formats the film edge code, or "" when every field is undefined.
func (h *header) edgeCode() string {
	if h.FilmMfgID == 0xFF && h.FilmType == 0xFF && h.PerfsOffset == 0xFF && h.Prefix == undefined32 && h.Count == undefined32 {
		return ""
	}
	return fmt.Sprintf("%02d%02d%02d%06d%04d", h.FilmMfgID, h.FilmType, h.PerfsOffset, h.Prefix, h.Count)
}

// text returns a NUL or 0xFF terminated header string.
func text(b []byte) string {
	for i, c := range b {
		if c == 0 || c == 0xFF {
			return string(b[:i])
		}
	}
	return string(b)
}

func defined(f float32) bool { return !math.IsInf(float64(f), 0) && !math.IsNaN(float64(f)) }

func descriptorName(d uint8) string {
	switch d {
	case 0:
		return "Grayscale"
	case 1:
		return "Red, printing density"
	case 2:
		return "Green, printing density"
	case 3:
		return "Blue, printing density"
	case 4:
		return "Red, Rec709"
	case 5:
		return "Green, Rec709"
	case 6:
		return "Blue, Rec709"
	}
	return "Undefined"
}

func packingName(p uint8) string {
	var s string
	switch p &^ PackAsManyAsFit {
	case PackPacked:
		s = "Packed"
	case PackByteLeft:
		s = "8-bit boundary, left justified"
	case PackByteRight:
		s = "8-bit boundary, right justified"
	case PackWordLeft:
		s = "16-bit boundary, left justified"
	case PackWordRight:
		s = "16-bit boundary, right justified"
	case PackLongWordLeft:
		s = "32-bit boundary, left justified"
	case PackLongWordRight:
		s = "32-bit boundary, right justified"
	}
	if p&PackAsManyAsFit != 0 {
		return s + ", as many fields as possible per cell"
	}
	return s + ", at most one pixel per cell"
}

// orientation maps the header orientation to the TIFF/EXIF convention.
func orientation(o uint8) int32 {
	switch o {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	case 3:
		return 3
	case 4:
		return 5
	case 5:
		return 6
	case 6:
		return 8
	case 7:
		return 7
	}
	return 0
}
