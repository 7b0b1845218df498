package pxc

import "errors"

var (
	ErrInvalidMagic       = errors.New("pxc: invalid magic")
	ErrUnsupportedVersion = errors.New("pxc: unsupported version")
	ErrInvalidHeader      = errors.New("pxc: invalid fixed header")
	ErrInvalidSection     = errors.New("pxc: invalid section header")
	ErrInvalidPayload     = errors.New("pxc: invalid payload")
	ErrChecksum           = errors.New("pxc: pixel checksum mismatch")
)
