package imageio

import (
	"log/slog"

	"github.com/logicossoftware/go-imageio/dynlib"
)

type registryConfig struct {
	searchPath []string
	logger     *slog.Logger
	loader     *dynlib.Loader
	binder     Binder
	formats    []Format
	limits     Limits
	disabled   []string
	noEnv      bool
}

// Option configures a Registry.
type Option func(*registryConfig)

// WithSearchPath appends directories searched for plugins.
func WithSearchPath(dirs ...string) Option {
	return func(c *registryConfig) { c.searchPath = append(c.searchPath, dirs...) }
}

// WithoutEnvSearchPath ignores IMAGEIO_LIBRARY_PATH.
func WithoutEnvSearchPath() Option {
	return func(c *registryConfig) { c.noEnv = true }
}

// WithLogger sets the logger for plugin catalog decisions.
func WithLogger(l *slog.Logger) Option {
	return func(c *registryConfig) { c.logger = l }
}

// WithLoader sets the dynamic library loader used for plugins.
func WithLoader(l *dynlib.Loader) Option {
	return func(c *registryConfig) { c.loader = l }
}

// WithBinder sets how a loaded plugin library becomes a Format.
func WithBinder(b Binder) Option {
	return func(c *registryConfig) { c.binder = b }
}

// WithFormats declares formats at construction, in order.
func WithFormats(fs ...Format) Option {
	return func(c *registryConfig) { c.formats = append(c.formats, fs...) }
}

// WithLimits sets the limits applied to every codec the registry creates.
func WithLimits(l Limits) Option {
	return func(c *registryConfig) { c.limits = l }
}

// WithDisabledFormats makes the named formats unresolvable, whether
// built in or provided by a plugin.
func WithDisabledFormats(names ...string) Option {
	return func(c *registryConfig) { c.disabled = append(c.disabled, names...) }
}
