package frame

import "errors"

var (
	ErrUnsupportedVariant = errors.New("frame: illumination buffer variant does not expose the required channels")
	ErrUnknownVariant     = errors.New("frame: unknown illumination buffer variant")
	ErrSizeMismatch       = errors.New("frame: buffer dimensions do not match")
)
