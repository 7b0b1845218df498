// Package builtin lists the formats compiled into the module and owns the
// process-wide default registry.
package builtin

import (
	"sync"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/formats/cineon"
	"github.com/logicossoftware/go-imageio/formats/pxc"
	"github.com/logicossoftware/go-imageio/formats/stdimage"
	"github.com/logicossoftware/go-imageio/formats/zfile"
)

// Formats returns the built-in formats in declaration order. The null
// format is not among them; it ships as a plugin.
func Formats() []imageio.Format {
	fs := []imageio.Format{pxc.Format(), zfile.Format(), cineon.Format()}
	return append(fs, stdimage.Formats()...)
}

// New returns a registry holding the built-in formats, configured by opts.
func New(opts ...imageio.Option) *imageio.Registry {
	return imageio.NewRegistry(append([]imageio.Option{imageio.WithFormats(Formats()...)}, opts...)...)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *imageio.Registry
)

// Default returns the process-wide registry. It is created on first use
// with the built-in formats and the IMAGEIO_LIBRARY_PATH search path.
func Default() *imageio.Registry {
	defaultOnce.Do(func() { defaultRegistry = New() })
	return defaultRegistry
}
