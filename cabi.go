package imageio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/logicossoftware/go-imageio/dynlib"
	"github.com/logicossoftware/go-imageio/param"
)

// CABIBinder returns the Binder for plugins exporting the C entry points
// <format>_imageio_version, <format>_input_imageio_create and friends.
// Pixel buffers cross the boundary in the plugin's native format.
func CABIBinder() Binder { return cabiBinder{} }

type cabiBinder struct{}

type pluginAPI struct {
	format string

	destroy  func(h uintptr)
	supports func(h uintptr, feature string) int32
	close    func(h uintptr) int32
	geterror func(h uintptr) string

	inputCreate  func() uintptr
	inputOpen    func(h uintptr, name string, config string) int32
	inputSpec    func(h uintptr) string
	readScanline func(h uintptr, y, z int32, buf unsafe.Pointer, n int64) int32
	readTile     func(h uintptr, x, y, z int32, buf unsafe.Pointer, n int64) int32

	outputCreate  func() uintptr
	outputOpen    func(h uintptr, name string, spec string, mode int32) int32
	writeScanline func(h uintptr, y, z int32, buf unsafe.Pointer, n int64) int32
	writeTile     func(h uintptr, x, y, z int32, buf unsafe.Pointer, n int64) int32
}

// register binds fptr to the C function at addr. purego reports an
// unusable Go signature by panicking.
func register(fptr any, addr uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("imageio: binding plugin symbol: %v", r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}

func (cabiBinder) Bind(loader *dynlib.Loader, lib *dynlib.Library, format string) (Format, error) {
	sym := func(suffix string, fptr any, required bool) error {
		name := format + "_" + suffix
		var addr uintptr
		if required {
			var err error
			if addr, err = loader.Lookup(lib, name); err != nil {
				return err
			}
		} else if addr = loader.Try(lib, name); addr == 0 {
			return nil
		}
		return register(fptr, addr)
	}

	var version func() int32
	if err := sym("imageio_version", &version, true); err != nil {
		return Format{}, err
	}
	if v := version(); v != PluginVersion {
		return Format{}, fmt.Errorf("%w: %s reports %d, want %d", ErrPluginVersion, lib.Path(), v, PluginVersion)
	}

	api := &pluginAPI{format: format}
	var libVersion, inExts, outExts func() string
	var errs []error
	errs = append(errs,
		sym("imageio_library_version", &libVersion, false),
		sym("input_extensions", &inExts, false),
		sym("output_extensions", &outExts, false),
		sym("input_imageio_create", &api.inputCreate, false),
		sym("output_imageio_create", &api.outputCreate, false),
	)
	if err := errors.Join(errs...); err != nil {
		return Format{}, err
	}
	if api.inputCreate == nil && api.outputCreate == nil {
		return Format{}, fmt.Errorf("%w: %s exports neither a reader nor a writer", ErrUnknownFormat, lib.Path())
	}
	errs = append(errs[:0],
		sym("imageio_destroy", &api.destroy, true),
		sym("imageio_supports", &api.supports, true),
		sym("imageio_close", &api.close, true),
		sym("imageio_geterror", &api.geterror, true),
	)
	if api.inputCreate != nil {
		errs = append(errs,
			sym("input_open", &api.inputOpen, true),
			sym("input_spec", &api.inputSpec, true),
			sym("input_read_scanline", &api.readScanline, true),
			sym("input_read_tile", &api.readTile, false),
		)
	}
	if api.outputCreate != nil {
		errs = append(errs,
			sym("output_open", &api.outputOpen, true),
			sym("output_write_scanline", &api.writeScanline, true),
			sym("output_write_tile", &api.writeTile, false),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return Format{}, err
	}

	f := Format{Name: format}
	if libVersion != nil {
		f.LibraryVersion = libVersion()
	}
	if inExts != nil {
		f.InputExtensions = splitExtensions(inExts())
	}
	if outExts != nil {
		f.OutputExtensions = splitExtensions(outExts())
	}
	if api.inputCreate != nil {
		f.NewReader = func() ReaderImpl {
			h := api.inputCreate()
			if h == 0 {
				return nil
			}
			return &pluginReader{api: api, h: h}
		}
	}
	if api.outputCreate != nil {
		f.NewWriter = func() WriterImpl {
			h := api.outputCreate()
			if h == 0 {
				return nil
			}
			return &pluginWriter{api: api, h: h}
		}
	}
	return f, nil
}

func splitExtensions(s string) []string {
	var out []string
	for _, x := range strings.Split(s, ",") {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func (a *pluginAPI) fail(h uintptr, op string) error {
	msg := a.geterror(h)
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("%s plugin: %s: %s", a.format, op, msg)
}

func bufPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

type pluginReader struct {
	api *pluginAPI
	h   uintptr
}

func (r *pluginReader) FormatName() string { return r.api.format }

func (r *pluginReader) Supports(feature string) bool {
	return r.api.supports(r.h, feature) != 0
}

func (r *pluginReader) ValidFile(name string) bool {
	if r.api.inputOpen(r.h, name, "[]") != 1 {
		r.api.geterror(r.h)
		return false
	}
	r.api.close(r.h)
	return true
}

func (r *pluginReader) Open(name string, config *param.List) (ImageSpec, error) {
	cfg, err := AttributesToJSON(config)
	if err != nil {
		return ImageSpec{}, err
	}
	if r.api.inputOpen(r.h, name, string(cfg)) != 1 {
		return ImageSpec{}, r.api.fail(r.h, "open "+name)
	}
	var spec ImageSpec
	if err := json.Unmarshal([]byte(r.api.inputSpec(r.h)), &spec); err != nil {
		r.api.close(r.h)
		return ImageSpec{}, err
	}
	return spec, nil
}

func (r *pluginReader) ReadNativeScanline(y, z int, buf []byte) error {
	if r.api.readScanline(r.h, int32(y), int32(z), bufPtr(buf), int64(len(buf))) != 1 {
		return r.api.fail(r.h, "read_scanline")
	}
	return nil
}

func (r *pluginReader) ReadNativeTile(x, y, z int, buf []byte) error {
	if r.api.readTile == nil {
		return fmt.Errorf("%w: %s plugin has no tile reader", ErrUnsupportedCapability, r.api.format)
	}
	if r.api.readTile(r.h, int32(x), int32(y), int32(z), bufPtr(buf), int64(len(buf))) != 1 {
		return r.api.fail(r.h, "read_tile")
	}
	return nil
}

func (r *pluginReader) Close() error {
	if r.api.close(r.h) != 1 {
		return r.api.fail(r.h, "close")
	}
	return nil
}

func (r *pluginReader) Destroy() {
	if r.h != 0 {
		r.api.destroy(r.h)
		r.h = 0
	}
}

type pluginWriter struct {
	api *pluginAPI
	h   uintptr
}

func (w *pluginWriter) FormatName() string { return w.api.format }

func (w *pluginWriter) Supports(feature string) bool {
	return w.api.supports(w.h, feature) != 0
}

func (w *pluginWriter) Open(name string, spec ImageSpec, mode OpenMode) (ImageSpec, error) {
	js, err := json.Marshal(spec)
	if err != nil {
		return ImageSpec{}, err
	}
	if w.api.outputOpen(w.h, name, string(js), int32(mode)) != 1 {
		return ImageSpec{}, w.api.fail(w.h, "open "+name)
	}
	return spec, nil
}

func (w *pluginWriter) WriteNativeScanline(y, z int, buf []byte) error {
	if w.api.writeScanline(w.h, int32(y), int32(z), bufPtr(buf), int64(len(buf))) != 1 {
		return w.api.fail(w.h, "write_scanline")
	}
	return nil
}

func (w *pluginWriter) WriteNativeTile(x, y, z int, buf []byte) error {
	if w.api.writeTile == nil {
		return fmt.Errorf("%w: %s plugin has no tile writer", ErrUnsupportedCapability, w.api.format)
	}
	if w.api.writeTile(w.h, int32(x), int32(y), int32(z), bufPtr(buf), int64(len(buf))) != 1 {
		return w.api.fail(w.h, "write_tile")
	}
	return nil
}

func (w *pluginWriter) Close() error {
	if w.api.close(w.h) != 1 {
		return w.api.fail(w.h, "close")
	}
	return nil
}

func (w *pluginWriter) Destroy() {
	if w.h != 0 {
		w.api.destroy(w.h)
		w.h = 0
	}
}
