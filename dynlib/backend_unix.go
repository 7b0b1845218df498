//go:build darwin || freebsd || linux

package dynlib

import (
	"runtime"

	"github.com/ebitengine/purego"
)

var pluginExtension = func() string {
	if runtime.GOOS == "darwin" {
		return "dylib"
	}
	return "so"
}()

type platformBackend struct{}

func (platformBackend) Open(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
}

func (platformBackend) Sym(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func (platformBackend) Close(handle uintptr) error {
	return purego.Dlclose(handle)
}
