package pxc

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Function variables for testing injection.
var (
	newZstdWriter = func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) }
	newZstdReader = func() (*zstd.Decoder, error) { return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1)) }
	zipCreate     = func(zw *zip.Writer, name string) (io.Writer, error) { return zw.Create(name) }
	zipClose      = func(zw *zip.Writer) error { return zw.Close() }
	zipOpen       = func(zf *zip.File) (io.ReadCloser, error) { return zf.Open() }
	readAll       = io.ReadAll
	lz4Close      = func(w *lz4.Writer) error { return w.Close() }
	brotliClose   = func(w *brotli.Writer) error { return w.Close() }
	brotliWrite   = func(w *brotli.Writer, p []byte) (int, error) { return w.Write(p) }
)

// zipEntryName is the single member of a zip-compressed pixel payload.
const zipEntryName = "pixels"

type codec struct {
	compress   func(in []byte) ([]byte, error)
	decompress func(in []byte, expected uint64) ([]byte, error)
}

var codecs = map[Compression]codec{
	CompZIP:  {zipCompress, zipDecompress},
	CompZSTD: {zstdCompress, zstdDecompress},
	CompLZ4:  {lz4Compress, lz4Decompress},
	CompBR:   {brotliCompress, brotliDecompress},
}

// compressPayload returns the section flags and payload for raw. Compressed
// payloads start with the 8-byte uncompressed length.
func compressPayload(comp Compression, raw []byte) (sectionFlags uint16, payload []byte, err error) {
	if comp == CompNone {
		return uint16(CompNone), raw, nil
	}
	c, ok := codecs[comp]
	if !ok {
		return 0, nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidPayload, comp)
	}
	compressed, err := c.compress(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("pxc: %s compression: %w", comp, err)
	}
	payload = make([]byte, 8, 8+len(compressed))
	binary.LittleEndian.PutUint64(payload, uint64(len(raw)))
	payload = append(payload, compressed...)
	return uint16(comp) | sectionFlagHasUncompressedLen, payload, nil
}

// decompressPayload reverses compressPayload. The uncompressed length must
// be exactly want; anything else is a corrupt or hostile file.
func decompressPayload(comp Compression, sectionFlags uint16, payload []byte, want uint64) ([]byte, error) {
	hasLen := (sectionFlags & sectionFlagHasUncompressedLen) != 0
	if comp == CompNone {
		if hasLen {
			return nil, fmt.Errorf("%w: uncompressed payload with length prefix", ErrInvalidPayload)
		}
		if uint64(len(payload)) != want {
			return nil, fmt.Errorf("%w: %d pixel bytes, want %d", ErrInvalidPayload, len(payload), want)
		}
		return payload, nil
	}
	if !hasLen {
		return nil, fmt.Errorf("%w: missing uncompressed length", ErrInvalidPayload)
	}
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: payload too short for uncompressed length", ErrInvalidPayload)
	}
	n := binary.LittleEndian.Uint64(payload[:8])
	if n != want {
		return nil, fmt.Errorf("%w: uncompressed length %d, want %d", ErrInvalidPayload, n, want)
	}
	c, ok := codecs[comp]
	if !ok {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidPayload, comp)
	}
	out, err := c.decompress(payload[8:], n)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != n {
		return nil, fmt.Errorf("%w: decompressed length %d != expected %d", ErrInvalidPayload, len(out), n)
	}
	return out, nil
}

func zipCompress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := zipCompressNamed(&buf, zipEntryName, in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zipCompressNamed(w io.Writer, name string, in []byte) error {
	zw := zip.NewWriter(w)
	entry, err := zipCreate(zw, name)
	if err != nil {
		_ = zipClose(zw)
		return err
	}
	if _, err := entry.Write(in); err != nil {
		_ = zipClose(zw)
		return err
	}
	return zipClose(zw)
}

// zipDecompress extracts the single pixels entry of a zip archive.
func zipDecompress(zipBytes []byte, expected uint64) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) != 1 {
		return nil, fmt.Errorf("%w: zip must contain exactly one entry", ErrInvalidPayload)
	}
	zf := zr.File[0]
	if zf.Name != zipEntryName || zf.FileInfo().IsDir() {
		return nil, fmt.Errorf("%w: zip entry must be a file named %s", ErrInvalidPayload, zipEntryName)
	}
	if zf.UncompressedSize64 != expected {
		return nil, fmt.Errorf("%w: zip uncompressed size %d != expected %d", ErrInvalidPayload, zf.UncompressedSize64, expected)
	}
	rc, err := zipOpen(zf)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readAll(io.LimitReader(rc, int64(expected)))
}

func zstdCompress(in []byte) ([]byte, error) {
	enc, err := newZstdWriter()
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(in, make([]byte, 0, len(in)/2)), nil
}

func zstdDecompress(in []byte, expected uint64) ([]byte, error) {
	dec, err := newZstdReader()
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(in, make([]byte, 0, expected))
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) > expected {
		return nil, fmt.Errorf("%w: zstd expanded beyond expected size", ErrInvalidPayload)
	}
	return out, nil
}

func lz4Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := lz4CompressTo(&buf, in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4CompressTo(w io.Writer, in []byte) error {
	zw := lz4.NewWriter(w)
	if _, err := zw.Write(in); err != nil {
		_ = lz4Close(zw)
		return err
	}
	return lz4Close(zw)
}

func lz4Decompress(in []byte, expected uint64) ([]byte, error) {
	return readBounded(lz4.NewReader(bytes.NewReader(in)), expected, "lz4")
}

func brotliCompress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := brotliCompressTo(&buf, in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func brotliCompressTo(w io.Writer, in []byte) error {
	bw := brotli.NewWriter(w)
	if _, err := brotliWrite(bw, in); err != nil {
		_ = brotliClose(bw)
		return err
	}
	return brotliClose(bw)
}

func brotliDecompress(in []byte, expected uint64) ([]byte, error) {
	return readBounded(brotli.NewReader(bytes.NewReader(in)), expected, "brotli")
}

// readBounded reads at most expected bytes from a decompressor and fails
// if it would produce more.
func readBounded(r io.Reader, expected uint64, name string) ([]byte, error) {
	b, err := readAll(io.LimitReader(r, int64(expected)+1))
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) > expected {
		return nil, fmt.Errorf("%w: %s expanded beyond expected size", ErrInvalidPayload, name)
	}
	return b, nil
}
