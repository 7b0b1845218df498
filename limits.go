package imageio

import (
	"fmt"

	"github.com/logicossoftware/go-imageio/param"
)

// Limits bound what a codec will allocate for one image. Zero fields take
// the defaults.
type Limits struct {
	MaxImageBytes    uint64 // native pixel bytes of one subimage
	MaxDimension     int    // per axis
	MaxChannels      int
	MaxMetadataBytes uint32 // encoded metadata block, where a format has one
}

func defaultLimits() Limits {
	return Limits{
		MaxImageBytes:    4 << 30, // 4 GiB
		MaxDimension:     1 << 20,
		MaxChannels:      1024,
		MaxMetadataBytes: 16 << 20, // 16 MiB
	}
}

func (l Limits) withDefaults() Limits {
	d := defaultLimits()
	if l.MaxImageBytes == 0 {
		l.MaxImageBytes = d.MaxImageBytes
	}
	if l.MaxDimension == 0 {
		l.MaxDimension = d.MaxDimension
	}
	if l.MaxChannels == 0 {
		l.MaxChannels = d.MaxChannels
	}
	if l.MaxMetadataBytes == 0 {
		l.MaxMetadataBytes = d.MaxMetadataBytes
	}
	return l
}

// Config attribute names that override limits for a single open.
const (
	AttrMaxImageBytes    = "imageio:max_image_bytes"
	AttrMaxDimension     = "imageio:max_dimension"
	AttrMaxChannels      = "imageio:max_channels"
	AttrMaxMetadataBytes = "imageio:max_metadata_bytes"
)

// LimitsFromConfig returns base with any overrides found in cfg applied,
// filled with defaults.
func LimitsFromConfig(cfg *param.List, base Limits) Limits {
	if cfg != nil {
		if v := cfg.GetInt(AttrMaxImageBytes, 0); v > 0 {
			base.MaxImageBytes = uint64(v)
		}
		if v := cfg.GetInt(AttrMaxDimension, 0); v > 0 {
			base.MaxDimension = v
		}
		if v := cfg.GetInt(AttrMaxChannels, 0); v > 0 {
			base.MaxChannels = v
		}
		if v := cfg.GetInt(AttrMaxMetadataBytes, 0); v > 0 {
			base.MaxMetadataBytes = uint32(v)
		}
	}
	return base.withDefaults()
}

// Check reports ErrLimitExceeded if s is larger than l allows.
func (l Limits) Check(s *ImageSpec) error {
	l = l.withDefaults()
	for _, d := range []int{s.Width, s.Height, s.Depth} {
		if d > l.MaxDimension {
			return fmt.Errorf("%w: dimension %d > %d", ErrLimitExceeded, d, l.MaxDimension)
		}
	}
	if s.NChannels > l.MaxChannels {
		return fmt.Errorf("%w: %d channels > %d", ErrLimitExceeded, s.NChannels, l.MaxChannels)
	}
	if n := s.ImageBytes(); n > l.MaxImageBytes {
		return fmt.Errorf("%w: image of %d bytes > %d", ErrLimitExceeded, n, l.MaxImageBytes)
	}
	return nil
}
