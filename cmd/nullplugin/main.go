// Command nullplugin builds the null format as an external plugin:
//
//	go build -buildmode=c-shared -o null.so ./cmd/nullplugin
//
// Place the library (null.dylib on macOS) on the plugin search path and
// the registry binds it on first use of a .null or .nul file.
package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"runtime/cgo"
	"strings"
	"unsafe"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/formats/null"
)

// Static strings handed to the host. They live as long as the library.
var (
	cLibraryVersion = C.CString(null.LibraryVersion)
	cExtensions     = C.CString(strings.Join(null.Extensions, ","))
)

// handle pairs an instance with the C strings it last returned. Each is
// replaced on the next call of the same kind and freed on destroy.
type handle struct {
	in   *instance
	err  *C.char
	spec *C.char
}

func (h *handle) setErr(s string) *C.char {
	C.free(unsafe.Pointer(h.err))
	h.err = C.CString(s)
	return h.err
}

func (h *handle) setSpec(s string) *C.char {
	C.free(unsafe.Pointer(h.spec))
	h.spec = C.CString(s)
	return h.spec
}

func newHandle(in *instance) C.uintptr_t {
	return C.uintptr_t(cgo.NewHandle(&handle{in: in}))
}

func lookup(h C.uintptr_t) (hd *handle) {
	if h == 0 {
		return nil
	}
	defer func() {
		if recover() != nil {
			hd = nil
		}
	}()
	hd, _ = cgo.Handle(h).Value().(*handle)
	return hd
}

func buffer(buf unsafe.Pointer, n C.int64_t) []byte {
	if buf == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(buf), int(n))
}

//export null_imageio_version
func null_imageio_version() C.int32_t { return C.int32_t(imageio.PluginVersion) }

//export null_imageio_library_version
func null_imageio_library_version() *C.char { return cLibraryVersion }

//export null_input_extensions
func null_input_extensions() *C.char { return cExtensions }

//export null_output_extensions
func null_output_extensions() *C.char { return cExtensions }

//export null_input_imageio_create
func null_input_imageio_create() C.uintptr_t { return newHandle(newInput()) }

//export null_output_imageio_create
func null_output_imageio_create() C.uintptr_t { return newHandle(newOutput()) }

// null_imageio_destroy releases the instance and the strings it returned.
//
//export null_imageio_destroy
func null_imageio_destroy(h C.uintptr_t) {
	hd := lookup(h)
	if hd == nil {
		return
	}
	hd.in.close()
	C.free(unsafe.Pointer(hd.err))
	C.free(unsafe.Pointer(hd.spec))
	cgo.Handle(h).Delete()
}

//export null_imageio_supports
func null_imageio_supports(h C.uintptr_t, feature *C.char) C.int32_t {
	hd := lookup(h)
	if hd == nil || !hd.in.supports(C.GoString(feature)) {
		return 0
	}
	return 1
}

//export null_imageio_close
func null_imageio_close(h C.uintptr_t) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	return C.int32_t(hd.in.close())
}

// null_imageio_geterror returns and clears the last error. The string is
// owned by the plugin and valid until the next geterror call.
//
//export null_imageio_geterror
func null_imageio_geterror(h C.uintptr_t) *C.char {
	hd := lookup(h)
	if hd == nil {
		return nil
	}
	return hd.setErr(hd.in.takeError())
}

//export null_input_open
func null_input_open(h C.uintptr_t, name, config *C.char) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	cfg := "[]"
	if config != nil {
		cfg = C.GoString(config)
	}
	return C.int32_t(hd.in.open(C.GoString(name), cfg))
}

// null_input_spec returns the open image's spec as JSON, valid until the
// next input_spec call.
//
//export null_input_spec
func null_input_spec(h C.uintptr_t) *C.char {
	hd := lookup(h)
	if hd == nil {
		return nil
	}
	return hd.setSpec(hd.in.specJSON())
}

//export null_input_read_scanline
func null_input_read_scanline(h C.uintptr_t, y, z C.int32_t, buf unsafe.Pointer, n C.int64_t) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	return C.int32_t(hd.in.readScanline(int(y), int(z), buffer(buf, n)))
}

//export null_input_read_tile
func null_input_read_tile(h C.uintptr_t, x, y, z C.int32_t, buf unsafe.Pointer, n C.int64_t) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	return C.int32_t(hd.in.readTile(int(x), int(y), int(z), buffer(buf, n)))
}

//export null_output_open
func null_output_open(h C.uintptr_t, name, spec *C.char, mode C.int32_t) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	return C.int32_t(hd.in.openOutput(C.GoString(name), C.GoString(spec), int32(mode)))
}

//export null_output_write_scanline
func null_output_write_scanline(h C.uintptr_t, y, z C.int32_t, buf unsafe.Pointer, n C.int64_t) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	return C.int32_t(hd.in.writeScanline(int(y), int(z), buffer(buf, n)))
}

//export null_output_write_tile
func null_output_write_tile(h C.uintptr_t, x, y, z C.int32_t, buf unsafe.Pointer, n C.int64_t) C.int32_t {
	hd := lookup(h)
	if hd == nil {
		return 0
	}
	return C.int32_t(hd.in.writeTile(int(x), int(y), int(z), buffer(buf, n)))
}

func main() {}
