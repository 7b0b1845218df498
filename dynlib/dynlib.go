// Package dynlib loads shared libraries and resolves their symbols.
//
// A Loader serializes every call on one mutex, so LastError always refers
// to the most recent completed call. Opening a path that is already open
// returns the same *Library with its open count raised; the OS handle is
// released when Close has been called as many times as Open.
package dynlib

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrLoad   = errors.New("dynlib: cannot load library")
	ErrSymbol = errors.New("dynlib: symbol not found")
	ErrClosed = errors.New("dynlib: library is closed")
)

// Backend is the platform dynamic loading primitive.
type Backend interface {
	Open(path string) (uintptr, error)
	Sym(handle uintptr, name string) (uintptr, error)
	Close(handle uintptr) error
}

// Library is an open shared library.
type Library struct {
	path   string
	handle uintptr
	refs   int
}

// Path returns the path the library was opened with.
func (l *Library) Path() string { return l.path }

// Loader opens and closes libraries through a Backend.
type Loader struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
	libs    map[string]*Library
	lastErr string
}

// Option configures a Loader.
type Option func(*Loader)

// WithBackend replaces the platform backend.
func WithBackend(b Backend) Option {
	return func(l *Loader) {
		if b != nil {
			l.backend = b
		}
	}
}

// WithLogger sets the logger for load events.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader returns a Loader using the platform backend unless overridden.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{backend: platformBackend{}, logger: slog.Default(), libs: make(map[string]*Library)}
	for _, o := range opts {
		o(l)
	}
	return l
}

var (
	defaultOnce   sync.Once
	defaultLoader *Loader
)

// Default returns the process-wide Loader.
func Default() *Loader {
	defaultOnce.Do(func() { defaultLoader = NewLoader() })
	return defaultLoader
}

// PluginExtension returns the platform's shared library suffix without
// the leading dot.
func PluginExtension() string { return pluginExtension }

func (l *Loader) fail(err error) error {
	l.lastErr = err.Error()
	return err
}

// Open loads the library at path.
func (l *Loader) Open(path string) (*Library, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lib, ok := l.libs[path]; ok {
		lib.refs++
		return lib, nil
	}
	h, err := l.backend.Open(path)
	if err != nil {
		return nil, l.fail(fmt.Errorf("%w: %s: %v", ErrLoad, path, err))
	}
	if h == 0 {
		return nil, l.fail(fmt.Errorf("%w: %s: null handle", ErrLoad, path))
	}
	lib := &Library{path: path, handle: h, refs: 1}
	l.libs[path] = lib
	l.logger.Debug("dynlib: opened", "path", path)
	return lib, nil
}

// Close drops one open reference to lib and unloads it when none remain.
func (l *Loader) Close(lib *Library) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lib == nil || lib.refs == 0 {
		return l.fail(ErrClosed)
	}
	lib.refs--
	if lib.refs > 0 {
		return nil
	}
	if l.libs[lib.path] == lib {
		delete(l.libs, lib.path)
	}
	h := lib.handle
	lib.handle = 0
	if err := l.backend.Close(h); err != nil {
		return l.fail(fmt.Errorf("%w: close %s: %v", ErrLoad, lib.path, err))
	}
	l.logger.Debug("dynlib: closed", "path", lib.path)
	return nil
}

// Lookup resolves a symbol in lib.
func (l *Loader) Lookup(lib *Library, name string) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(lib, name, true)
}

// Try is Lookup for speculative queries: a missing symbol yields 0 and
// leaves the error slot untouched.
func (l *Loader) Try(lib *Library, name string) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, _ := l.lookup(lib, name, false)
	return addr
}

func (l *Loader) lookup(lib *Library, name string, record bool) (uintptr, error) {
	var err error
	var addr uintptr
	switch {
	case lib == nil || lib.refs == 0:
		err = ErrClosed
	default:
		addr, err = l.backend.Sym(lib.handle, name)
		if err == nil && addr == 0 {
			err = errors.New("null address")
		}
		if err != nil {
			err = fmt.Errorf("%w: %s in %s: %v", ErrSymbol, name, lib.path, err)
		}
	}
	if err != nil {
		if record {
			l.fail(err)
		}
		return 0, err
	}
	return addr, nil
}

// LastError returns the message of the most recent failure, or "" if the
// slot is empty. With clear set the slot is emptied.
func (l *Loader) LastError(clear bool) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.lastErr
	if clear {
		l.lastErr = ""
	}
	return e
}

// OpenCount returns how many times path is currently open.
func (l *Loader) OpenCount(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lib, ok := l.libs[path]; ok {
		return lib.refs
	}
	return 0
}
