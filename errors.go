package imageio

import (
	"errors"
	"strings"
)

var (
	ErrState                 = errors.New("imageio: operation not valid in the current state")
	ErrNotImplemented        = errors.New("imageio: not implemented")
	ErrUnsupportedCapability = errors.New("imageio: unsupported capability")
	ErrUnknownFormat         = errors.New("imageio: unknown format")
	ErrInvalidSpec           = errors.New("imageio: invalid image spec")
	ErrLimitExceeded         = errors.New("imageio: limit exceeded")
	ErrInvalidFile           = errors.New("imageio: invalid file")
	ErrPluginVersion         = errors.New("imageio: plugin version mismatch")
	ErrRange                 = errors.New("imageio: coordinates out of range")
	ErrBufferSize            = errors.New("imageio: buffer too small")
)

// errorChannel accumulates the messages of failed calls until they are
// retrieved.
type errorChannel struct {
	msgs []string
}

func (c *errorChannel) record(err error) error {
	if err != nil {
		c.msgs = append(c.msgs, err.Error())
	}
	return err
}

func (c *errorChannel) take(clear bool) string {
	s := strings.Join(c.msgs, "\n")
	if clear {
		c.msgs = nil
	}
	return s
}
