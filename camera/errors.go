package camera

import "errors"

var (
	ErrFrameCountMismatch = errors.New("camera: amtOfFrames does not match the number of matrices")
	ErrInvalidMatrix      = errors.New("camera: matrices must contain exactly 16 elements")
	ErrMissingView        = errors.New("camera: frame does not define a view matrix")
)
