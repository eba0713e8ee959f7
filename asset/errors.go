package asset

import "errors"

var (
	ErrUnsupportedScheme = errors.New("asset: unsupported resource scheme")
	ErrFetch             = errors.New("asset: could not fetch resource")
	ErrUnsupportedImage  = errors.New("asset: unsupported image")
)
