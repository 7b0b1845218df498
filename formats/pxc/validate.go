package pxc

import (
	"fmt"
	"strings"
	"unicode/utf8"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/typedesc"
)

func validateSpec(s *imageio.ImageSpec, limits imageio.Limits) error {
	if s == nil {
		return fmt.Errorf("%w: spec is nil", imageio.ErrInvalidSpec)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Deep {
		return fmt.Errorf("%w: deep data is not supported", imageio.ErrUnsupportedCapability)
	}
	if err := limits.Check(s); err != nil {
		return err
	}
	if n := payloadSize(s); n > limits.MaxImageBytes {
		return fmt.Errorf("%w: %d pixel bytes", imageio.ErrLimitExceeded, n)
	}
	seen := make(map[string]struct{}, len(s.ChannelNames))
	for i, name := range s.ChannelNames {
		if err := validateChannelName(name); err != nil {
			return fmt.Errorf("%w: channel %d: %v", imageio.ErrInvalidSpec, i, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate channel name %q", imageio.ErrInvalidSpec, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func validateChannelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is empty")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name is not valid UTF-8")
	}
	if strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("name contains control characters")
	}
	return nil
}

// tileGrid returns the number of tiles along each axis.
func tileGrid(s *imageio.ImageSpec) (nx, ny, nz int) {
	th, td := max(s.TileHeight, 1), max(s.TileDepth, 1)
	nx = (s.Width + s.TileWidth - 1) / s.TileWidth
	ny = (s.Height + th - 1) / th
	nz = (max(s.Depth, 1) + td - 1) / td
	return nx, ny, nz
}

// payloadSize is the number of uncompressed pixel bytes stored for s. Edge
// tiles are stored whole.
func payloadSize(s *imageio.ImageSpec) uint64 {
	if !s.Tiled() {
		return s.ImageBytes()
	}
	nx, ny, nz := tileGrid(s)
	return uint64(nx) * uint64(ny) * uint64(nz) * uint64(s.TileBytes(typedesc.TypeUnknown))
}
