package pxc

import (
	"fmt"
	"io"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/internal/attrcodec"
	"github.com/logicossoftware/go-imageio/typedesc"
	"github.com/zeebo/blake3"
)

// Function variables for testing injection.
var (
	encodeSpec = attrcodec.EncodeSpec
)

// Encode writes spec and its native pixels to w as a PXC v1 file.
//
// pixels holds the data window in host byte order: scanlines, z-major, or
// whole tiles in x, then y, then z order when spec is tiled. Its length
// must match the spec exactly.
//
// By default Encode uses zstd and appends a blake3 digest of the pixels.
// Use WriteOption functions to change that:
//   - WithCompression(comp): pixel section compression
//   - WithChecksum(false): omit the digest
//   - WithWriteLimits(l): custom size limits
func Encode(w io.Writer, spec *imageio.ImageSpec, pixels []byte, opts ...WriteOption) error {
	cfg := writeConfig{compression: CompZSTD, checksum: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.limits = imageio.LimitsFromConfig(nil, cfg.limits)

	if err := validateSpec(spec, cfg.limits); err != nil {
		return err
	}
	if want := payloadSize(spec); uint64(len(pixels)) != want {
		return fmt.Errorf("%w: %d pixel bytes for a spec needing %d", imageio.ErrBufferSize, len(pixels), want)
	}

	meta, err := encodeSpec(spec)
	if err != nil {
		return err
	}
	if uint64(len(meta)) > uint64(cfg.limits.MaxMetadataBytes) {
		return fmt.Errorf("%w: metadata too large", imageio.ErrLimitExceeded)
	}

	raw := toLittle(spec, pixels)
	secFlags, payload, err := compressPayload(cfg.compression, raw)
	if err != nil {
		return err
	}

	flags := HeaderFlagMetadata
	if spec.Tiled() {
		flags |= HeaderFlagTiled
	}
	if cfg.checksum {
		flags |= HeaderFlagChecksum
	}
	h := fixedHeaderV1{
		Magic:          Magic,
		Version:        VersionV1,
		HeaderFlags:    flags,
		FixedHdrSize:   fixedHeaderSizeV1,
		MetadataLength: uint32(len(meta)),
	}
	if err := writeFixedHeader(w, h); err != nil {
		return err
	}
	if _, err := w.Write(meta); err != nil {
		return err
	}
	sh := sectionHeaderV1{
		SectionType:  uint16(SectionPixels),
		SectionFlags: secFlags,
		PayloadLen:   uint64(len(payload)),
	}
	if err := writeSectionHeader(w, sh); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if cfg.checksum {
		sum := blake3.Sum256(raw)
		_, err = w.Write(sum[:])
	}
	return err
}

// toLittle returns pixels in little-endian order. On little-endian hosts
// that is pixels itself.
func toLittle(s *imageio.ImageSpec, pixels []byte) []byte {
	if attrcodec.LittleHost() {
		return pixels
	}
	out := append([]byte(nil), pixels...)
	swapPixels(s, out)
	return out
}

// swapPixels converts buf between host order and little-endian in place.
func swapPixels(s *imageio.ImageSpec, buf []byte) {
	if attrcodec.LittleHost() {
		return
	}
	if len(s.ChannelFormats) == 0 {
		attrcodec.SwapLittle(buf, s.Format.Size())
		return
	}
	px := s.PixelBytes(typedesc.TypeUnknown)
	for off := 0; off+px <= len(buf); off += px {
		c0 := off
		for c := 0; c < s.NChannels; c++ {
			n := s.ChannelFormat(c).Size()
			attrcodec.SwapLittle(buf[c0:c0+n], n)
			c0 += n
		}
	}
}
