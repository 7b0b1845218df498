//go:build windows

package dynlib

import "golang.org/x/sys/windows"

const pluginExtension = "dll"

type platformBackend struct{}

func (platformBackend) Open(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	return uintptr(h), err
}

func (platformBackend) Sym(handle uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(handle), name)
}

func (platformBackend) Close(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}
