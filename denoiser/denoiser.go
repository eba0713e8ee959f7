package denoiser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
)

var (
	ErrUnsupportedDenoiser = errors.New("denoiser: unsupported denoiser type")
	ErrMissingInput        = errors.New("denoiser: missing input buffer")
	ErrNotCompiled         = errors.New("denoiser: dispatch before compile")
)

// Type selects a denoiser implementation.
type Type uint8

const (
	None Type = iota
	BMFR
	BFR
	SVGF
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case BMFR:
		return "bmfr"
	case BFR:
		return "bfr"
	case SVGF:
		return "svgf"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Parse a denoiser name. Names that are recognized but not implemented
// (svgf) are rejected with ErrUnsupportedDenoiser.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return None, nil
	case "bmfr":
		return BMFR, nil
	case "bfr":
		return BFR, nil
	case "svgf":
		return SVGF, fmt.Errorf("%w %q: not implemented", ErrUnsupportedDenoiser, name)
	}
	return None, fmt.Errorf("%w %q", ErrUnsupportedDenoiser, name)
}

// Inputs are the session-owned buffers a denoiser reads. Denoisers keep
// references for building pipelines but never release them.
type Inputs struct {
	GBuffer *frame.GBuffer

	// Accumulated demodulated illumination (illumination + illuminationSquared).
	Illumination *frame.IlluminationBuffer

	Accumulation *frame.AccumulationBuffer
}

// Check that all inputs are present, share dimensions and expose the
// channels every denoiser needs.
func (in Inputs) Validate() error {
	if in.GBuffer == nil {
		return fmt.Errorf("%w: g-buffer", ErrMissingInput)
	}
	if in.Accumulation == nil {
		return fmt.Errorf("%w: accumulation buffer", ErrMissingInput)
	}
	if err := frame.RequireChannels(in.Illumination, frame.ChannelIllumination, frame.ChannelIlluminationSquared); err != nil {
		return err
	}

	w, h := in.GBuffer.Width, in.GBuffer.Height
	if err := frame.RequireSize("illumination buffer", in.Illumination.Width, in.Illumination.Height, w, h); err != nil {
		return err
	}
	return frame.RequireSize("accumulation buffer", in.Accumulation.Width, in.Accumulation.Height, w, h)
}

// A Denoiser reconstructs a clean demodulated illumination estimate.
type Denoiser interface {
	// Denoiser name for logs and stats.
	Name() string

	// Allocate working buffers and build pipelines against the inputs.
	// Configuration errors are reported here, before any work is submitted.
	Compile(p gpu.Provider, in Inputs) error

	// Record the denoiser passes for a frame. The recorded commands end
	// with a barrier on the output.
	Dispatch(cmds *gpu.CommandList, frameIndex uint32) error

	// The denoised illumination (DemodulatedFloat).
	Output() *frame.IlluminationBuffer

	// Release working buffers.
	Release()
}
