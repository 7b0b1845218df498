package pxc

import (
	"crypto/subtle"
	"fmt"
	"io"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/internal/attrcodec"
	"github.com/zeebo/blake3"
)

// Decode reads a PXC file from r.
//
// The decoding process:
//  1. Reads and validates the 32-byte fixed header
//  2. Reads and decodes the CBOR metadata block into an ImageSpec
//  3. Checks the spec against the limits before sizing any buffer
//  4. Reads and decompresses the pixel section
//  5. Verifies the pixel digest, if present
//
// Decode returns ErrInvalidMagic if r is not a PXC file,
// ErrUnsupportedVersion if the version is not 1, and
// imageio.ErrLimitExceeded if any size limit is exceeded.
func Decode(r io.Reader, opts ...ReadOption) (*Image, error) {
	cfg := readConfig{verifyChecksum: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.limits = imageio.LimitsFromConfig(nil, cfg.limits)

	h, spec, err := decodeHeader(r, cfg.limits)
	if err != nil {
		return nil, err
	}
	want := payloadSize(&spec)

	sh, err := readSectionHeader(r)
	if err != nil {
		return nil, err
	}
	if err := validateSectionHeader(sh, SectionPixels); err != nil {
		return nil, err
	}
	if sh.PayloadLen > maxPayload(want) {
		return nil, fmt.Errorf("%w: pixel section of %d bytes", imageio.ErrLimitExceeded, sh.PayloadLen)
	}
	payload := make([]byte, sh.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	raw, err := decompressPayload(sh.compression(), sh.SectionFlags, payload, want)
	if err != nil {
		return nil, err
	}

	if h.HeaderFlags&HeaderFlagChecksum != 0 {
		var sum [checksumSize]byte
		if _, err := io.ReadFull(r, sum[:]); err != nil {
			return nil, err
		}
		if cfg.verifyChecksum {
			got := blake3.Sum256(raw)
			if subtle.ConstantTimeCompare(got[:], sum[:]) != 1 {
				return nil, ErrChecksum
			}
		}
	}

	swapPixels(&spec, raw)
	return &Image{Spec: spec, Pixels: raw}, nil
}

// DecodeSpec reads only the header and metadata of a PXC file.
func DecodeSpec(r io.Reader, opts ...ReadOption) (imageio.ImageSpec, error) {
	cfg := readConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	_, spec, err := decodeHeader(r, imageio.LimitsFromConfig(nil, cfg.limits))
	return spec, err
}

func decodeHeader(r io.Reader, limits imageio.Limits) (fixedHeaderV1, imageio.ImageSpec, error) {
	h, err := readFixedHeader(r)
	if err != nil {
		return h, imageio.ImageSpec{}, err
	}
	if err := validateFixedHeader(h); err != nil {
		return h, imageio.ImageSpec{}, err
	}
	if h.MetadataLength > limits.MaxMetadataBytes {
		return h, imageio.ImageSpec{}, fmt.Errorf("%w: metadata length %d", imageio.ErrLimitExceeded, h.MetadataLength)
	}
	mb := make([]byte, h.MetadataLength)
	if _, err := io.ReadFull(r, mb); err != nil {
		return h, imageio.ImageSpec{}, err
	}
	spec, err := attrcodec.DecodeSpec(mb)
	if err != nil {
		return h, imageio.ImageSpec{}, err
	}
	if err := validateSpec(&spec, limits); err != nil {
		return h, imageio.ImageSpec{}, err
	}
	if (h.HeaderFlags&HeaderFlagTiled != 0) != spec.Tiled() {
		return h, imageio.ImageSpec{}, fmt.Errorf("%w: tiled flag disagrees with metadata", ErrInvalidHeader)
	}
	return h, spec, nil
}

// maxPayload bounds the stored size of want pixel bytes under any of the
// supported compressors.
func maxPayload(want uint64) uint64 {
	return want + want/8 + 1<<16
}
