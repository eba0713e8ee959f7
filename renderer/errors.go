package renderer

import "errors"

var (
	ErrNoTracer       = errors.New("renderer: no tracer attached")
	ErrInvalidOptions = errors.New("renderer: invalid options")
	ErrStageDisabled  = errors.New("renderer: pipeline stage references a disabled pass")
	ErrClosed         = errors.New("renderer: session closed")
)
