package pxc

import imageio "github.com/logicossoftware/go-imageio"

type readConfig struct {
	limits         imageio.Limits
	verifyChecksum bool
}

type ReadOption func(*readConfig)

func WithReadLimits(l imageio.Limits) ReadOption {
	return func(c *readConfig) { c.limits = l }
}

// WithVerifyChecksum controls whether Decode checks the pixel digest of
// files that carry one.
func WithVerifyChecksum(v bool) ReadOption {
	return func(c *readConfig) { c.verifyChecksum = v }
}

type writeConfig struct {
	limits      imageio.Limits
	compression Compression
	checksum    bool
}

type WriteOption func(*writeConfig)

func WithWriteLimits(l imageio.Limits) WriteOption {
	return func(c *writeConfig) { c.limits = l }
}

// WithCompression sets the pixel section compression. The default is zstd.
func WithCompression(comp Compression) WriteOption {
	return func(c *writeConfig) { c.compression = comp }
}

// WithChecksum controls whether Encode appends the pixel digest.
func WithChecksum(v bool) WriteOption {
	return func(c *writeConfig) { c.checksum = v }
}
