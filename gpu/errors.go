package gpu

import "errors"

// Configuration errors; returned while building pipelines.
var (
	ErrUnknownKernel   = errors.New("gpu: unknown kernel")
	ErrMissingBinding  = errors.New("gpu: missing binding")
	ErrBindingMismatch = errors.New("gpu: binding does not match kernel signature")
	ErrAliasedBinding  = errors.New("gpu: resource bound more than once with write access")
	ErrInvalidSize     = errors.New("gpu: invalid resource dimensions")
)

// Fatal pipeline wiring errors; returned by Submit before any command runs.
var (
	ErrUnsupportedTransition = errors.New("gpu: unsupported image layout transition")
	ErrInvalidLayout         = errors.New("gpu: image used in an invalid layout")
	ErrMissingBarrier        = errors.New("gpu: missing barrier between dependent commands")
	ErrFormatMismatch        = errors.New("gpu: format or extent mismatch")
	ErrReleased              = errors.New("gpu: resource has been released")
)
