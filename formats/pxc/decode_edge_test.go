package pxc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/internal/attrcodec"
)

func TestDecode_HeaderRejected(t *testing.T) {
	spec := sampleSpec()
	good := encodeSample(t, &spec, CompNone)
	cases := []struct {
		name   string
		mutate func(b []byte)
		want   error
	}{
		{"magic", func(b []byte) { b[0] = 'X' }, ErrInvalidMagic},
		{"version", func(b []byte) { binary.LittleEndian.PutUint16(b[8:10], 2) }, ErrUnsupportedVersion},
		{"header size", func(b []byte) { binary.LittleEndian.PutUint32(b[12:16], 40) }, ErrInvalidHeader},
		{"reserved", func(b []byte) { b[24] = 1 }, ErrInvalidHeader},
		{"unknown flag", func(b []byte) { b[11] |= 0x80 }, ErrInvalidHeader},
		{"no metadata flag", func(b []byte) { b[10] &^= byte(HeaderFlagMetadata) }, ErrInvalidHeader},
		{"tiled flag", func(b []byte) { b[10] |= byte(HeaderFlagTiled) }, ErrInvalidHeader},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := append([]byte(nil), good...)
			tc.mutate(b)
			if _, err := Decode(bytes.NewReader(b)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecode_MetadataLimit(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompNone)
	_, err := Decode(bytes.NewReader(b), WithReadLimits(imageio.Limits{MaxMetadataBytes: 2}))
	if !errors.Is(err, imageio.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestDecode_ImageLimitBeforeAllocation(t *testing.T) {
	huge := imageio.NewImageSpec(1<<15, 1<<15, 4, spec8())
	meta, err := attrcodec.EncodeSpec(&huge)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	h := fixedHeaderV1{Magic: Magic, Version: VersionV1, HeaderFlags: HeaderFlagMetadata, FixedHdrSize: fixedHeaderSizeV1, MetadataLength: uint32(len(meta))}
	_ = writeFixedHeader(&buf, h)
	buf.Write(meta)
	_, err = Decode(bytes.NewReader(buf.Bytes()), WithReadLimits(imageio.Limits{MaxImageBytes: 1 << 20}))
	if !errors.Is(err, imageio.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestDecode_CorruptMetadata(t *testing.T) {
	var buf bytes.Buffer
	h := fixedHeaderV1{Magic: Magic, Version: VersionV1, HeaderFlags: HeaderFlagMetadata, FixedHdrSize: fixedHeaderSizeV1, MetadataLength: 2}
	_ = writeFixedHeader(&buf, h)
	buf.Write([]byte{0xff, 0xff})
	if _, err := Decode(bytes.NewReader(buf.Bytes())); !errors.Is(err, attrcodec.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDecode_MetadataFailsSpecValidation(t *testing.T) {
	bad := sampleSpec()
	bad.ChannelNames[1] = bad.ChannelNames[0]
	meta, err := attrcodec.EncodeSpec(&bad)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	h := fixedHeaderV1{Magic: Magic, Version: VersionV1, HeaderFlags: HeaderFlagMetadata, FixedHdrSize: fixedHeaderSizeV1, MetadataLength: uint32(len(meta))}
	_ = writeFixedHeader(&buf, h)
	buf.Write(meta)
	if _, err := Decode(bytes.NewReader(buf.Bytes())); !errors.Is(err, imageio.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestDecode_SectionHeaderInvalid(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompNone)
	off := 32 + metadataLen(b)
	binary.LittleEndian.PutUint16(b[off:off+2], 7)
	if _, err := Decode(bytes.NewReader(b)); !errors.Is(err, ErrInvalidSection) {
		t.Fatalf("expected ErrInvalidSection, got %v", err)
	}
}

func TestDecode_SectionLenLimitExceeded(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompNone)
	off := 32 + metadataLen(b)
	binary.LittleEndian.PutUint64(b[off+4:off+12], 1<<40)
	if _, err := Decode(bytes.NewReader(b)); !errors.Is(err, imageio.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestDecode_CorruptCompressedPayload(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompZIP)
	off := 32 + metadataLen(b) + sectionHeaderSize
	payloadLen := int(binary.LittleEndian.Uint64(b[off-12 : off-4]))
	if payloadLen > 12 {
		b[off+10] ^= 0xFF
	}
	if _, err := Decode(bytes.NewReader(b)); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecode_WrongUncompressedLength(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompZSTD)
	off := 32 + metadataLen(b) + sectionHeaderSize
	binary.LittleEndian.PutUint64(b[off:off+8], 3)
	if _, err := Decode(bytes.NewReader(b)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeSpecReadsHeaderOnly(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompBR)
	cut := 32 + metadataLen(b)
	got, err := DecodeSpec(bytes.NewReader(b[:cut]))
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != spec.Width || got.Attributes.GetString("Artist", "") != "pxc test" {
		t.Fatalf("spec=%+v", got)
	}
}
