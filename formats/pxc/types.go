package pxc

import (
	"fmt"
	"strings"

	imageio "github.com/logicossoftware/go-imageio"
)

const (
	VersionV1 uint16 = 1

	fixedHeaderSizeV1 uint32 = 32
	checksumSize             = 32
)

// Magic is the 8-byte PXC file signature.
var Magic = [8]byte{'P', 'X', 'C', '\r', '\n', 0x1A, '\n', 0}

// Header flags.
const (
	HeaderFlagMetadata uint16 = 0x0001
	HeaderFlagTiled    uint16 = 0x0002
	HeaderFlagChecksum uint16 = 0x0004

	knownHeaderFlags = HeaderFlagMetadata | HeaderFlagTiled | HeaderFlagChecksum
)

type SectionType uint16

const SectionPixels SectionType = 1

type Compression uint16

const (
	CompNone Compression = 0x0
	CompZIP  Compression = 0x1
	CompZSTD Compression = 0x2
	CompLZ4  Compression = 0x3
	CompBR   Compression = 0x4
)

const (
	sectionFlagCompressionMask    uint16 = 0x000F
	sectionFlagHasUncompressedLen uint16 = 0x0010
)

func (c Compression) String() string {
	switch c {
	case CompNone:
		return "none"
	case CompZIP:
		return "zip"
	case CompZSTD:
		return "zstd"
	case CompLZ4:
		return "lz4"
	case CompBR:
		return "brotli"
	default:
		return "unknown"
	}
}

// ParseCompression maps a "compression" attribute value to a Compression.
// An empty name selects zstd. A ":level" suffix, as in "zip:6", is ignored.
func ParseCompression(name string) (Compression, error) {
	name, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(name)), ":")
	switch name {
	case "", "zstd":
		return CompZSTD, nil
	case "none":
		return CompNone, nil
	case "zip", "deflate":
		return CompZIP, nil
	case "lz4":
		return CompLZ4, nil
	case "brotli", "br":
		return CompBR, nil
	}
	return 0, fmt.Errorf("%w: unknown compression %q", imageio.ErrInvalidSpec, name)
}

// Image is a decoded PXC file: its spec and the native pixel bytes in
// scanline order, or tile order when the spec is tiled.
type Image struct {
	Spec   imageio.ImageSpec
	Pixels []byte
}
