//go:build !darwin && !freebsd && !linux && !windows

package dynlib

import "errors"

const pluginExtension = "so"

var errUnsupported = errors.New("dynamic loading is not supported on this platform")

type platformBackend struct{}

func (platformBackend) Open(string) (uintptr, error)         { return 0, errUnsupported }
func (platformBackend) Sym(uintptr, string) (uintptr, error) { return 0, errUnsupported }
func (platformBackend) Close(uintptr) error                  { return errUnsupported }
