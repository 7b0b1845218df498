package config

import (
	"io"
	"log/slog"
	"os"

	imageio "github.com/logicossoftware/go-imageio"
)

// Logger returns a logger writing to stderr in the configured format and
// level.
func (c *Config) Logger() (*slog.Logger, error) { return c.LoggerTo(os.Stderr) }

// LoggerTo is Logger writing to w.
func (c *Config) LoggerTo(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Options returns the registry options the file describes. A nil logger
// leaves the registry default.
func (c *Config) Options(logger *slog.Logger) []imageio.Option {
	opts := []imageio.Option{imageio.WithLimits(c.ImageLimits())}
	if len(c.PluginSearchPath) > 0 {
		opts = append(opts, imageio.WithSearchPath(c.PluginSearchPath...))
	}
	if len(c.DisabledFormats) > 0 {
		opts = append(opts, imageio.WithDisabledFormats(c.DisabledFormats...))
	}
	if logger != nil {
		opts = append(opts, imageio.WithLogger(logger))
	}
	return opts
}
