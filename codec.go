package imageio

import (
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// Capability names accepted by Supports. A codec answers false for any
// name it does not know, so new capabilities never change the interfaces.
const (
	CapTiles             = "tiles"
	CapMipmap            = "mipmap"
	CapMultiImage        = "multiimage"
	CapAppendSubimage    = "appendsubimage"
	CapAlpha             = "alpha"
	CapNChannels         = "nchannels"
	CapArbitraryMetadata = "arbitrary_metadata"
	CapExif              = "exif"
	CapIPTC              = "iptc"
	CapIOProxy           = "ioproxy"
	CapAppendable        = "appendable"
	CapRandomAccess      = "random_access"
	CapRectangles        = "rectangles"
	CapVolumes           = "volumes"
	CapProcedural        = "procedural"
)

// OpenMode selects how a Writer opens its file.
type OpenMode int32

const (
	Create OpenMode = iota
	AppendSubimage
	AppendMIPLevel
)

func (m OpenMode) String() string {
	switch m {
	case Create:
		return "create"
	case AppendSubimage:
		return "append-subimage"
	case AppendMIPLevel:
		return "append-miplevel"
	}
	return "mode(?)"
}

// Codec is the part shared by readers and writers.
type Codec interface {
	FormatName() string
	Supports(feature string) bool
	// Close ends the current file. The codec is CLOSED afterwards even when
	// an error is returned: a non-nil error only reports that the file could
	// not be finished, never a state failure, and a later Open proceeds as
	// on a fresh codec.
	Close() error
	// LastError returns the messages of failed calls since the last clear.
	LastError(clear bool) string
	// Destroy closes the codec and releases it. It must be the last call.
	Destroy()
}

// Reader reads images of one format.
//
// Data calls take the pixel format the caller wants in buf. An unknown
// format means the codec's native layout, as described by Spec.
type Reader interface {
	Codec
	ValidFile(name string) bool
	Open(name string, config *param.List) (ImageSpec, error)
	Spec() ImageSpec
	ReadScanline(y, z int, format typedesc.TypeDesc, buf []byte) error
	ReadTile(x, y, z int, format typedesc.TypeDesc, buf []byte) error
	ReadImage(format typedesc.TypeDesc, buf []byte) error
}

// Writer writes images of one format.
type Writer interface {
	Codec
	Open(name string, spec ImageSpec, mode OpenMode) error
	Spec() ImageSpec
	WriteScanline(y, z int, format typedesc.TypeDesc, buf []byte) error
	WriteTile(x, y, z int, format typedesc.TypeDesc, buf []byte) error
	WriteImage(format typedesc.TypeDesc, buf []byte) error
}

// ReaderImpl is what a format implements to become a Reader. Pixel buffers
// are always in the native layout of the spec returned by Open, and
// coordinates are already range checked.
//
// Open is called only on a closed instance; Close only on an open one.
type ReaderImpl interface {
	FormatName() string
	Supports(feature string) bool
	ValidFile(name string) bool
	Open(name string, config *param.List) (ImageSpec, error)
	ReadNativeScanline(y, z int, buf []byte) error
	ReadNativeTile(x, y, z int, buf []byte) error
	Close() error
}

// WriterImpl is what a format implements to become a Writer. Open returns
// the spec actually written, which may differ from the request (a format
// that stores only float pixels reports Format float).
type WriterImpl interface {
	FormatName() string
	Supports(feature string) bool
	Open(name string, spec ImageSpec, mode OpenMode) (ImageSpec, error)
	WriteNativeScanline(y, z int, buf []byte) error
	WriteNativeTile(x, y, z int, buf []byte) error
	Close() error
}

// Destroyer is implemented by codecs holding resources beyond an open
// file, such as a plugin-side instance.
type Destroyer interface {
	Destroy()
}

// CapabilityTable answers Supports from a fixed set of names.
type CapabilityTable map[string]bool

// Supports reports whether feature is in the table.
func (t CapabilityTable) Supports(feature string) bool { return t[feature] }
