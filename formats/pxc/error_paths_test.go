package pxc

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	imageio "github.com/logicossoftware/go-imageio"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

type errAfterWriter struct {
	remaining int
}

func (w *errAfterWriter) Write(p []byte) (int, error) {
	if w.remaining <= 0 {
		return 0, io.ErrClosedPipe
	}
	if len(p) > w.remaining {
		return 0, io.ErrClosedPipe
	}
	w.remaining -= len(p)
	return len(p), nil
}

func TestCompressHelpers_ErrorPaths(t *testing.T) {
	// zip Create error via injection
	origCreate := zipCreate
	zipCreate = func(_ *zip.Writer, _ string) (io.Writer, error) { return nil, io.ErrClosedPipe }
	if err := zipCompressNamed(io.Discard, zipEntryName, []byte("x")); err == nil {
		zipCreate = origCreate
		t.Fatal("expected error")
	}
	zipCreate = origCreate

	// zip entry.Write error branch: make Create succeed but return a writer that errors on Write.
	origCreate = zipCreate
	zipCreate = func(_ *zip.Writer, _ string) (io.Writer, error) { return errWriter{}, nil }
	if err := zipCompressNamed(io.Discard, zipEntryName, []byte("x")); err == nil {
		zipCreate = origCreate
		t.Fatal("expected error")
	}
	zipCreate = origCreate

	// zip Close error via injection
	origClose := zipClose
	zipClose = func(_ *zip.Writer) error { return io.ErrClosedPipe }
	if err := zipCompressNamed(io.Discard, zipEntryName, []byte("x")); err == nil {
		zipClose = origClose
		t.Fatal("expected error")
	}
	zipClose = origClose

	// zip write error
	if err := zipCompressNamed(errWriter{}, zipEntryName, []byte("x")); err == nil {
		t.Fatal("expected error")
	}
	// lz4 write error
	if err := lz4CompressTo(errWriter{}, []byte("x")); err == nil {
		t.Fatal("expected error")
	}
	// lz4 Close error via injection
	origLZ4Close := lz4Close
	lz4Close = func(_ *lz4.Writer) error { return io.ErrClosedPipe }
	if err := lz4CompressTo(io.Discard, []byte("x")); err == nil {
		lz4Close = origLZ4Close
		t.Fatal("expected error")
	}
	lz4Close = origLZ4Close

	// brotli write error
	origBrotliWrite := brotliWrite
	brotliWrite = func(_ *brotli.Writer, _ []byte) (int, error) { return 0, io.ErrClosedPipe }
	if err := brotliCompressTo(io.Discard, []byte("x")); err == nil {
		brotliWrite = origBrotliWrite
		t.Fatal("expected error")
	}
	brotliWrite = origBrotliWrite
	// brotli Close error via injection
	origBrotliClose := brotliClose
	brotliClose = func(_ *brotli.Writer) error { return io.ErrClosedPipe }
	if err := brotliCompressTo(io.Discard, []byte("x")); err == nil {
		brotliClose = origBrotliClose
		t.Fatal("expected error")
	}
	brotliClose = origBrotliClose
}

func TestBrotliDecompress_ReadAllError(t *testing.T) {
	orig := readAll
	readAll = func(io.Reader) ([]byte, error) { return nil, io.ErrClosedPipe }
	defer func() { readAll = orig }()
	if _, err := brotliDecompress([]byte("anything"), 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestZstdConstructorInjection(t *testing.T) {
	origW := newZstdWriter
	origR := newZstdReader
	defer func() {
		newZstdWriter = origW
		newZstdReader = origR
	}()

	newZstdWriter = func() (*zstd.Encoder, error) { return nil, io.ErrClosedPipe }
	if _, err := zstdCompress([]byte("x")); err == nil {
		t.Fatal("expected error")
	}

	newZstdWriter = origW
	newZstdReader = func() (*zstd.Decoder, error) { return nil, io.ErrClosedPipe }
	if _, err := zstdDecompress([]byte("x"), 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestZIPDecompress_InjectionErrorPaths(t *testing.T) {
	z, err := zipCompress([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	origOpen := zipOpen
	zipOpen = func(_ *zip.File) (io.ReadCloser, error) { return nil, io.ErrClosedPipe }
	if _, err := zipDecompress(z, 3); err == nil {
		zipOpen = origOpen
		t.Fatal("expected error")
	}
	zipOpen = origOpen

	origReadAll := readAll
	readAll = func(io.Reader) ([]byte, error) { return nil, io.ErrClosedPipe }
	if _, err := zipDecompress(z, 3); err == nil {
		readAll = origReadAll
		t.Fatal("expected error")
	}
	readAll = origReadAll
}

func TestCompressPayload_UnderlyingError(t *testing.T) {
	origW := newZstdWriter
	defer func() { newZstdWriter = origW }()
	newZstdWriter = func() (*zstd.Encoder, error) { return nil, io.ErrClosedPipe }
	_, _, err := compressPayload(CompZSTD, []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecompressPayload_UnderlyingError(t *testing.T) {
	// invalid ZIP bytes through decompressPayload
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload[:8], 3)
	payload = append(payload, []byte("notzip")...)
	_, err := decompressPayload(CompZIP, uint16(CompZIP)|sectionFlagHasUncompressedLen, payload, 100)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecode_TruncatedInputs(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("short"))); err == nil {
		t.Fatal("expected error")
	}

	// metadata shorter than advertised
	var buf bytes.Buffer
	h := fixedHeaderV1{Magic: Magic, Version: VersionV1, HeaderFlags: HeaderFlagMetadata, FixedHdrSize: fixedHeaderSizeV1, MetadataLength: 10}
	if err := writeFixedHeader(&buf, h); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("\xa0")
	if _, err := Decode(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("expected error")
	}

	// truncated section header
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompNone)
	cut := 32 + metadataLen(b) + 2
	if _, err := Decode(bytes.NewReader(b[:cut])); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecode_TruncatedPayload(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompNone)
	off := 32 + metadataLen(b) + sectionHeaderSize
	if _, err := Decode(bytes.NewReader(b[:off+3])); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecode_TruncatedChecksum(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompLZ4)
	if _, err := Decode(bytes.NewReader(b[:len(b)-1])); err == nil {
		t.Fatal("expected error")
	}
}

func TestEncode_ErrorPositions(t *testing.T) {
	spec := sampleSpec()
	px := samplePixels(&spec)
	full := encodeSample(t, &spec, CompNone)
	meta := metadataLen(full)
	cases := []struct {
		stage     string
		remaining int
	}{
		{"fixed header", 0},
		{"metadata", 32},
		{"section header", 32 + meta},
		{"payload", 32 + meta + sectionHeaderSize},
		{"checksum", len(full) - checksumSize},
	}
	for _, tc := range cases {
		if err := Encode(&errAfterWriter{remaining: tc.remaining}, &spec, px, WithCompression(CompNone)); err == nil {
			t.Fatalf("%s: expected error", tc.stage)
		}
	}
	if err := Encode(io.Discard, &spec, px, WithCompression(Compression(99))); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("unknown compression: %v", err)
	}
}

func TestEncode_MetadataInjectedError(t *testing.T) {
	orig := encodeSpec
	defer func() { encodeSpec = orig }()
	encodeSpec = func(*imageio.ImageSpec) ([]byte, error) { return nil, io.ErrClosedPipe }
	spec := sampleSpec()
	if err := Encode(io.Discard, &spec, samplePixels(&spec)); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected injected error, got %v", err)
	}
}

func TestEncode_ValidationErrors(t *testing.T) {
	spec := sampleSpec()
	px := samplePixels(&spec)
	if err := Encode(io.Discard, &spec, px[:len(px)-1]); !errors.Is(err, imageio.ErrBufferSize) {
		t.Fatalf("short pixels: %v", err)
	}
	bad := spec.Clone()
	bad.Width = 0
	if err := Encode(io.Discard, &bad, px); !errors.Is(err, imageio.ErrInvalidSpec) {
		t.Fatalf("invalid spec: %v", err)
	}
	if err := Encode(io.Discard, nil, px); !errors.Is(err, imageio.ErrInvalidSpec) {
		t.Fatalf("nil spec: %v", err)
	}
	if err := Encode(io.Discard, &spec, px, WithWriteLimits(imageio.Limits{MaxMetadataBytes: 4})); !errors.Is(err, imageio.ErrLimitExceeded) {
		t.Fatalf("metadata limit: %v", err)
	}
	if err := Encode(io.Discard, &spec, px, WithWriteLimits(imageio.Limits{MaxImageBytes: 8})); !errors.Is(err, imageio.ErrLimitExceeded) {
		t.Fatalf("image limit: %v", err)
	}
}

func TestChecksumOptions(t *testing.T) {
	spec := sampleSpec()
	b := encodeSample(t, &spec, CompNone)
	// flip one pixel byte
	off := 32 + metadataLen(b) + sectionHeaderSize
	b[off] ^= 0xFF
	if _, err := Decode(bytes.NewReader(b)); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if _, err := Decode(bytes.NewReader(b), WithVerifyChecksum(false)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, &spec, samplePixels(&spec), WithChecksum(false), WithCompression(CompNone)); err != nil {
		t.Fatal(err)
	}
	if flags := binary.LittleEndian.Uint16(buf.Bytes()[10:12]); flags&HeaderFlagChecksum != 0 {
		t.Fatal("checksum flag set")
	}
	if buf.Len() != len(b)-checksumSize {
		t.Fatalf("len=%d want %d", buf.Len(), len(b)-checksumSize)
	}
	if _, err := Decode(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
}

func TestZipDecompress_BadArchive(t *testing.T) {
	_, err := zipDecompress([]byte("not a zip"), 1)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecompressPayload_UnknownCompression(t *testing.T) {
	_, err := decompressPayload(Compression(99), uint16(99)|sectionFlagHasUncompressedLen, make([]byte, 8), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
