package pxc

import (
	"encoding/binary"
	"fmt"
	"io"
)

type fixedHeaderV1 struct {
	Magic          [8]byte
	Version        uint16
	HeaderFlags    uint16
	FixedHdrSize   uint32
	MetadataLength uint32
	Reserved0      uint32
	Reserved1      uint64
}

type sectionHeaderV1 struct {
	SectionType  uint16
	SectionFlags uint16
	PayloadLen   uint64
	Reserved     uint32
}

const sectionHeaderSize = 16

func readFixedHeader(r io.Reader) (fixedHeaderV1, error) {
	var buf [fixedHeaderSizeV1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fixedHeaderV1{}, err
	}
	le := binary.LittleEndian
	var h fixedHeaderV1
	copy(h.Magic[:], buf[0:8])
	h.Version = le.Uint16(buf[8:10])
	h.HeaderFlags = le.Uint16(buf[10:12])
	h.FixedHdrSize = le.Uint32(buf[12:16])
	h.MetadataLength = le.Uint32(buf[16:20])
	h.Reserved0 = le.Uint32(buf[20:24])
	h.Reserved1 = le.Uint64(buf[24:32])
	return h, nil
}

func writeFixedHeader(w io.Writer, h fixedHeaderV1) error {
	var buf [fixedHeaderSizeV1]byte
	le := binary.LittleEndian
	copy(buf[0:8], h.Magic[:])
	le.PutUint16(buf[8:10], h.Version)
	le.PutUint16(buf[10:12], h.HeaderFlags)
	le.PutUint32(buf[12:16], h.FixedHdrSize)
	le.PutUint32(buf[16:20], h.MetadataLength)
	le.PutUint32(buf[20:24], h.Reserved0)
	le.PutUint64(buf[24:32], h.Reserved1)
	_, err := w.Write(buf[:])
	return err
}

func validateFixedHeader(h fixedHeaderV1) error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	if h.FixedHdrSize != fixedHeaderSizeV1 {
		return fmt.Errorf("%w: fixed header size %d", ErrInvalidHeader, h.FixedHdrSize)
	}
	if h.Version != VersionV1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Reserved0 != 0 || h.Reserved1 != 0 {
		return fmt.Errorf("%w: reserved must be zero", ErrInvalidHeader)
	}
	if h.HeaderFlags&^knownHeaderFlags != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrInvalidHeader, h.HeaderFlags&^knownHeaderFlags)
	}
	if h.HeaderFlags&HeaderFlagMetadata == 0 || h.MetadataLength == 0 {
		return fmt.Errorf("%w: metadata block is required", ErrInvalidHeader)
	}
	return nil
}

func readSectionHeader(r io.Reader) (sectionHeaderV1, error) {
	var buf [sectionHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return sectionHeaderV1{}, err
	}
	le := binary.LittleEndian
	var sh sectionHeaderV1
	sh.SectionType = le.Uint16(buf[0:2])
	sh.SectionFlags = le.Uint16(buf[2:4])
	sh.PayloadLen = le.Uint64(buf[4:12])
	sh.Reserved = le.Uint32(buf[12:16])
	return sh, nil
}

func writeSectionHeader(w io.Writer, sh sectionHeaderV1) error {
	var buf [sectionHeaderSize]byte
	le := binary.LittleEndian
	le.PutUint16(buf[0:2], sh.SectionType)
	le.PutUint16(buf[2:4], sh.SectionFlags)
	le.PutUint64(buf[4:12], sh.PayloadLen)
	le.PutUint32(buf[12:16], sh.Reserved)
	_, err := w.Write(buf[:])
	return err
}

func (sh sectionHeaderV1) compression() Compression {
	return Compression(sh.SectionFlags & sectionFlagCompressionMask)
}

func (sh sectionHeaderV1) hasUncompressedLen() bool {
	return (sh.SectionFlags & sectionFlagHasUncompressedLen) != 0
}

func validateSectionHeader(sh sectionHeaderV1, expected SectionType) error {
	if sh.Reserved != 0 {
		return fmt.Errorf("%w: reserved must be 0", ErrInvalidSection)
	}
	if SectionType(sh.SectionType) != expected {
		return fmt.Errorf("%w: expected section type %d got %d", ErrInvalidSection, expected, sh.SectionType)
	}
	if sh.SectionFlags&^(sectionFlagCompressionMask|sectionFlagHasUncompressedLen) != 0 {
		return fmt.Errorf("%w: unknown flags %#x", ErrInvalidSection, sh.SectionFlags)
	}
	comp := sh.compression()
	switch comp {
	case CompNone, CompZIP, CompZSTD, CompLZ4, CompBR:
	default:
		return fmt.Errorf("%w: unknown compression %d", ErrInvalidSection, comp)
	}
	if comp == CompNone {
		if sh.hasUncompressedLen() {
			return fmt.Errorf("%w: uncompressed section must not carry a length prefix", ErrInvalidSection)
		}
	} else if !sh.hasUncompressedLen() {
		return fmt.Errorf("%w: compressed payload must carry a length prefix", ErrInvalidSection)
	}
	return nil
}
