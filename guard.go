package imageio

import (
	"fmt"

	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// GuardReader turns a ReaderImpl into a Reader. It owns the open/closed
// state machine, rejects out of range and undersized requests before they
// reach the implementation, converts pixels to the requested format and
// records every failure in the instance error channel.
type GuardReader struct {
	impl      ReaderImpl
	spec      ImageSpec
	open      bool
	destroyed bool
	limits    Limits
	errs      errorChannel
	scratch   []byte
	release   func()
}

// NewGuardReader wraps impl. The returned reader starts CLOSED.
func NewGuardReader(impl ReaderImpl) *GuardReader {
	return &GuardReader{impl: impl}
}

func (g *GuardReader) FormatName() string           { return g.impl.FormatName() }
func (g *GuardReader) Supports(feature string) bool { return g.impl.Supports(feature) }
func (g *GuardReader) LastError(clear bool) string  { return g.errs.take(clear) }

// IsOpen reports whether the reader is OPEN.
func (g *GuardReader) IsOpen() bool { return g.open }

func (g *GuardReader) ValidFile(name string) bool {
	if g.destroyed {
		return false
	}
	return g.impl.ValidFile(name)
}

func (g *GuardReader) Open(name string, config *param.List) (ImageSpec, error) {
	if g.destroyed {
		return ImageSpec{}, g.errs.record(fmt.Errorf("%w: open on a destroyed reader", ErrState))
	}
	if g.open {
		g.reset()
	}
	spec, err := g.impl.Open(name, config)
	if err != nil {
		return ImageSpec{}, g.errs.record(fmt.Errorf("%s: %w", g.impl.FormatName(), err))
	}
	if err := spec.Validate(); err != nil {
		g.impl.Close()
		return ImageSpec{}, g.errs.record(fmt.Errorf("%s: %s: %w", g.impl.FormatName(), name, err))
	}
	if err := LimitsFromConfig(config, g.limits).Check(&spec); err != nil {
		g.impl.Close()
		return ImageSpec{}, g.errs.record(fmt.Errorf("%s: %s: %w", g.impl.FormatName(), name, err))
	}
	g.spec = spec
	g.open = true
	return spec.Clone(), nil
}

// reset closes the implementation and forgets the current file.
func (g *GuardReader) reset() {
	if g.open {
		g.impl.Close()
	}
	g.open = false
	g.spec = ImageSpec{}
}

// Spec returns the spec of the open file, or the zero spec when CLOSED.
func (g *GuardReader) Spec() ImageSpec {
	if !g.open {
		return ImageSpec{}
	}
	return g.spec.Clone()
}

func (g *GuardReader) ReadScanline(y, z int, format typedesc.TypeDesc, buf []byte) error {
	if !g.open {
		return g.errs.record(fmt.Errorf("%w: read_scanline on a closed reader", ErrState))
	}
	s := &g.spec
	if err := checkScanline(s, y, z, format, buf); err != nil {
		return g.errs.record(err)
	}
	if isNative(s, format) {
		return g.errs.record(g.impl.ReadNativeScanline(y, z, buf[:s.ScanlineBytes(format)]))
	}
	tmp := g.scratchBuf(s.ScanlineBytes(typedesc.TypeUnknown))
	if err := g.impl.ReadNativeScanline(y, z, tmp); err != nil {
		return g.errs.record(err)
	}
	return g.errs.record(convertNative(s, buf, tmp, format, s.Width, false))
}

func (g *GuardReader) ReadTile(x, y, z int, format typedesc.TypeDesc, buf []byte) error {
	if !g.open {
		return g.errs.record(fmt.Errorf("%w: read_tile on a closed reader", ErrState))
	}
	s := &g.spec
	if err := checkTile(s, x, y, z, format, buf); err != nil {
		return g.errs.record(err)
	}
	if isNative(s, format) {
		return g.errs.record(g.impl.ReadNativeTile(x, y, z, buf[:s.TileBytes(format)]))
	}
	tmp := g.scratchBuf(s.TileBytes(typedesc.TypeUnknown))
	if err := g.impl.ReadNativeTile(x, y, z, tmp); err != nil {
		return g.errs.record(err)
	}
	return g.errs.record(convertNative(s, buf, tmp, format, s.TilePixels(), false))
}

// ReadImage reads the whole data window into buf, scanline by scanline or
// tile by tile as the file is stored.
func (g *GuardReader) ReadImage(format typedesc.TypeDesc, buf []byte) error {
	if !g.open {
		return g.errs.record(fmt.Errorf("%w: read_image on a closed reader", ErrState))
	}
	s := &g.spec
	need := s.ImageBytes(format)
	if uint64(len(buf)) < need {
		return g.errs.record(fmt.Errorf("%w: need %d bytes, have %d", ErrBufferSize, need, len(buf)))
	}
	if !s.Tiled() {
		line := s.ScanlineBytes(format)
		off := 0
		for z := s.Z; z < s.Z+s.Depth; z++ {
			for y := s.Y; y < s.Y+s.Height; y++ {
				if err := g.ReadScanline(y, z, format, buf[off:off+line]); err != nil {
					return err
				}
				off += line
			}
		}
		return nil
	}
	tile := make([]byte, s.TileBytes(format))
	return forEachTile(s, func(x, y, z int) error {
		if err := g.ReadTile(x, y, z, format, tile); err != nil {
			return err
		}
		copyTile(s, format, buf, tile, x, y, z, true)
		return nil
	})
}

// Close ends the current file. The reader is CLOSED afterwards whatever
// the implementation reports.
func (g *GuardReader) Close() error {
	if !g.open {
		return nil
	}
	err := g.impl.Close()
	g.open = false
	g.spec = ImageSpec{}
	return g.errs.record(err)
}

// Destroy closes the reader and releases the implementation.
func (g *GuardReader) Destroy() {
	if g.destroyed {
		return
	}
	g.Close()
	if d, ok := g.impl.(Destroyer); ok {
		d.Destroy()
	}
	g.destroyed = true
	if g.release != nil {
		g.release()
		g.release = nil
	}
}

func (g *GuardReader) scratchBuf(n int) []byte {
	if cap(g.scratch) < n {
		g.scratch = make([]byte, n)
	}
	return g.scratch[:n]
}

// GuardWriter turns a WriterImpl into a Writer.
type GuardWriter struct {
	impl      WriterImpl
	spec      ImageSpec
	open      bool
	destroyed bool
	limits    Limits
	errs      errorChannel
	scratch   []byte
	release   func()
}

// NewGuardWriter wraps impl. The returned writer starts CLOSED.
func NewGuardWriter(impl WriterImpl) *GuardWriter {
	return &GuardWriter{impl: impl}
}

func (g *GuardWriter) FormatName() string           { return g.impl.FormatName() }
func (g *GuardWriter) Supports(feature string) bool { return g.impl.Supports(feature) }
func (g *GuardWriter) LastError(clear bool) string  { return g.errs.take(clear) }

// IsOpen reports whether the writer is OPEN.
func (g *GuardWriter) IsOpen() bool { return g.open }

func (g *GuardWriter) Open(name string, spec ImageSpec, mode OpenMode) error {
	if g.destroyed {
		return g.errs.record(fmt.Errorf("%w: open on a destroyed writer", ErrState))
	}
	if g.open {
		g.impl.Close()
		g.open = false
		g.spec = ImageSpec{}
	}
	fmtName := g.impl.FormatName()
	switch mode {
	case Create:
	case AppendSubimage:
		if !g.impl.Supports(CapMultiImage) || !g.impl.Supports(CapAppendSubimage) {
			return g.errs.record(fmt.Errorf("%w: %s does not support appending subimages", ErrUnsupportedCapability, fmtName))
		}
	case AppendMIPLevel:
		if !g.impl.Supports(CapMipmap) {
			return g.errs.record(fmt.Errorf("%w: %s does not support MIP levels", ErrUnsupportedCapability, fmtName))
		}
	default:
		return g.errs.record(fmt.Errorf("%w: open mode %d", ErrInvalidSpec, mode))
	}
	if err := spec.Validate(); err != nil {
		return g.errs.record(fmt.Errorf("%s: %w", fmtName, err))
	}
	if spec.Tiled() && !g.impl.Supports(CapTiles) {
		return g.errs.record(fmt.Errorf("%w: %s does not support tiles", ErrUnsupportedCapability, fmtName))
	}
	if spec.Depth > 1 && !g.impl.Supports(CapVolumes) {
		return g.errs.record(fmt.Errorf("%w: %s does not support volumes", ErrUnsupportedCapability, fmtName))
	}
	if err := g.limits.Check(&spec); err != nil {
		return g.errs.record(fmt.Errorf("%s: %w", fmtName, err))
	}
	got, err := g.impl.Open(name, spec.Clone(), mode)
	if err != nil {
		return g.errs.record(fmt.Errorf("%s: %w", fmtName, err))
	}
	g.spec = got
	g.open = true
	return nil
}

// Spec returns the spec being written, or the zero spec when CLOSED.
func (g *GuardWriter) Spec() ImageSpec {
	if !g.open {
		return ImageSpec{}
	}
	return g.spec.Clone()
}

func (g *GuardWriter) WriteScanline(y, z int, format typedesc.TypeDesc, buf []byte) error {
	if !g.open {
		return g.errs.record(fmt.Errorf("%w: write_scanline on a closed writer", ErrState))
	}
	s := &g.spec
	if err := checkScanline(s, y, z, format, buf); err != nil {
		return g.errs.record(err)
	}
	if isNative(s, format) {
		return g.errs.record(g.impl.WriteNativeScanline(y, z, buf[:s.ScanlineBytes(format)]))
	}
	tmp := g.scratchBuf(s.ScanlineBytes(typedesc.TypeUnknown))
	if err := convertNative(s, tmp, buf, format, s.Width, true); err != nil {
		return g.errs.record(err)
	}
	return g.errs.record(g.impl.WriteNativeScanline(y, z, tmp))
}

func (g *GuardWriter) WriteTile(x, y, z int, format typedesc.TypeDesc, buf []byte) error {
	if !g.open {
		return g.errs.record(fmt.Errorf("%w: write_tile on a closed writer", ErrState))
	}
	s := &g.spec
	if err := checkTile(s, x, y, z, format, buf); err != nil {
		return g.errs.record(err)
	}
	if isNative(s, format) {
		return g.errs.record(g.impl.WriteNativeTile(x, y, z, buf[:s.TileBytes(format)]))
	}
	tmp := g.scratchBuf(s.TileBytes(typedesc.TypeUnknown))
	if err := convertNative(s, tmp, buf, format, s.TilePixels(), true); err != nil {
		return g.errs.record(err)
	}
	return g.errs.record(g.impl.WriteNativeTile(x, y, z, tmp))
}

// WriteImage writes the whole data window from buf.
func (g *GuardWriter) WriteImage(format typedesc.TypeDesc, buf []byte) error {
	if !g.open {
		return g.errs.record(fmt.Errorf("%w: write_image on a closed writer", ErrState))
	}
	s := &g.spec
	need := s.ImageBytes(format)
	if uint64(len(buf)) < need {
		return g.errs.record(fmt.Errorf("%w: need %d bytes, have %d", ErrBufferSize, need, len(buf)))
	}
	if !s.Tiled() {
		line := s.ScanlineBytes(format)
		off := 0
		for z := s.Z; z < s.Z+s.Depth; z++ {
			for y := s.Y; y < s.Y+s.Height; y++ {
				if err := g.WriteScanline(y, z, format, buf[off:off+line]); err != nil {
					return err
				}
				off += line
			}
		}
		return nil
	}
	tile := make([]byte, s.TileBytes(format))
	return forEachTile(s, func(x, y, z int) error {
		clear(tile)
		copyTile(s, format, buf, tile, x, y, z, false)
		return g.WriteTile(x, y, z, format, tile)
	})
}

// Close finishes the file. The writer is CLOSED afterwards; a returned
// error means the file is incomplete.
func (g *GuardWriter) Close() error {
	if !g.open {
		return nil
	}
	err := g.impl.Close()
	g.open = false
	g.spec = ImageSpec{}
	return g.errs.record(err)
}

// Destroy closes the writer and releases the implementation.
func (g *GuardWriter) Destroy() {
	if g.destroyed {
		return
	}
	g.Close()
	if d, ok := g.impl.(Destroyer); ok {
		d.Destroy()
	}
	g.destroyed = true
	if g.release != nil {
		g.release()
		g.release = nil
	}
}

func (g *GuardWriter) scratchBuf(n int) []byte {
	if cap(g.scratch) < n {
		g.scratch = make([]byte, n)
	}
	return g.scratch[:n]
}

func isNative(s *ImageSpec, format typedesc.TypeDesc) bool {
	if format.IsUnknown() {
		return true
	}
	return len(s.ChannelFormats) == 0 && format.Base == s.Format.Base
}

func checkPixelFormat(format typedesc.TypeDesc) error {
	if format.IsUnknown() {
		return nil
	}
	if format.IsArray() || format.Aggregate.Components() != 1 || !numeric(format.Base) {
		return fmt.Errorf("%w: pixel format %s", ErrInvalidSpec, format)
	}
	return nil
}

func checkScanline(s *ImageSpec, y, z int, format typedesc.TypeDesc, buf []byte) error {
	if err := checkPixelFormat(format); err != nil {
		return err
	}
	if y < s.Y || y >= s.Y+s.Height || z < s.Z || z >= s.Z+max(s.Depth, 1) {
		return fmt.Errorf("%w: scanline y=%d z=%d", ErrRange, y, z)
	}
	if need := s.ScanlineBytes(format); len(buf) < need {
		return fmt.Errorf("%w: scanline needs %d bytes, have %d", ErrBufferSize, need, len(buf))
	}
	return nil
}

func checkTile(s *ImageSpec, x, y, z int, format typedesc.TypeDesc, buf []byte) error {
	if err := checkPixelFormat(format); err != nil {
		return err
	}
	if !s.Tiled() {
		return fmt.Errorf("%w: image is not tiled", ErrUnsupportedCapability)
	}
	th, td := max(s.TileHeight, 1), max(s.TileDepth, 1)
	if x < s.X || x >= s.X+s.Width || y < s.Y || y >= s.Y+s.Height || z < s.Z || z >= s.Z+max(s.Depth, 1) {
		return fmt.Errorf("%w: tile x=%d y=%d z=%d", ErrRange, x, y, z)
	}
	if (x-s.X)%s.TileWidth != 0 || (y-s.Y)%th != 0 || (z-s.Z)%td != 0 {
		return fmt.Errorf("%w: tile x=%d y=%d z=%d is not on a tile boundary", ErrRange, x, y, z)
	}
	if need := s.TileBytes(format); len(buf) < need {
		return fmt.Errorf("%w: tile needs %d bytes, have %d", ErrBufferSize, need, len(buf))
	}
	return nil
}

func forEachTile(s *ImageSpec, fn func(x, y, z int) error) error {
	th, td := max(s.TileHeight, 1), max(s.TileDepth, 1)
	for z := s.Z; z < s.Z+max(s.Depth, 1); z += td {
		for y := s.Y; y < s.Y+s.Height; y += th {
			for x := s.X; x < s.X+s.Width; x += s.TileWidth {
				if err := fn(x, y, z); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// copyTile moves the part of the tile at (x, y, z) that lies inside the
// data window between a whole-image buffer and a tile buffer.
func copyTile(s *ImageSpec, format typedesc.TypeDesc, img, tile []byte, x, y, z int, toImage bool) {
	pb := s.PixelBytes(format)
	th, td := max(s.TileHeight, 1), max(s.TileDepth, 1)
	cols := min(s.TileWidth, s.X+s.Width-x)
	rows := min(th, s.Y+s.Height-y)
	slices := min(td, s.Z+max(s.Depth, 1)-z)
	for tz := 0; tz < slices; tz++ {
		for ty := 0; ty < rows; ty++ {
			t0 := ((tz*th)+ty)*s.TileWidth*pb
			i0 := (((z+tz-s.Z)*s.Height+(y+ty-s.Y))*s.Width + (x - s.X)) * pb
			n := cols * pb
			if toImage {
				copy(img[i0:i0+n], tile[t0:t0+n])
			} else {
				copy(tile[t0:t0+n], img[i0:i0+n])
			}
		}
	}
}
