package renderer

import (
	"fmt"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/denoiser/accumulator"
	"github.com/achilleasa/polaris-denoise/denoiser/bfr"
	"github.com/achilleasa/polaris-denoise/denoiser/bmfr"
	"github.com/achilleasa/polaris-denoise/denoiser/convert"
	"github.com/achilleasa/polaris-denoise/denoiser/taa"
	"github.com/achilleasa/polaris-denoise/frame"
)

type Options struct {
	// Frame dims.
	FrameW uint32
	FrameH uint32

	// Layout of the noisy illumination produced by the tracer. Must be
	// one of the variants that carry illumination and illuminationSquared.
	NoisyVariant frame.Variant

	// Vertical field of view (degrees) of the projection used for camera
	// matrices that do not carry one.
	DefaultFOV float32

	// Clear history whenever the camera matrices change between frames
	// instead of reprojecting.
	ResetOnCameraMove bool

	Accumulator accumulator.Config

	// Denoiser selection and per-denoiser settings.
	Denoiser denoiser.Type
	BMFR     bmfr.Config
	BFR      bfr.Config

	// Enable temporal anti-aliasing. When disabled the denoised
	// illumination is remodulated by albedo without temporal blending.
	TAA       bool
	TAAConfig taa.Config

	// Output transform and format (final or final-float).
	Output        convert.Config
	OutputVariant frame.Variant
}

// Get the default session options.
func DefaultOptions() Options {
	return Options{
		FrameW:       512,
		FrameH:       512,
		NoisyVariant: frame.FinalDemodulated,
		DefaultFOV:   60,
		Accumulator:  accumulator.DefaultConfig(),
		Denoiser:     denoiser.BMFR,
		BMFR:         bmfr.DefaultConfig(),
		BFR:          bfr.DefaultConfig(),
		TAA:          true,
		TAAConfig:    taa.DefaultConfig(),
		Output: convert.Config{
			Tonemap: true,
			SRGB:    true,
		},
		OutputVariant: frame.Final,
	}
}

// Validate the options. Errors from the individual passes are returned
// unwrapped so callers can match them.
func (o Options) Validate() error {
	if o.FrameW == 0 || o.FrameH == 0 {
		return fmt.Errorf("%w: frame dimensions must be positive; got %dx%d", ErrInvalidOptions, o.FrameW, o.FrameH)
	}
	if o.DefaultFOV <= 0 || o.DefaultFOV >= 180 {
		return fmt.Errorf("%w: default fov must be in (0, 180); got %f", ErrInvalidOptions, o.DefaultFOV)
	}
	if !o.NoisyVariant.Has(frame.ChannelIllumination) || !o.NoisyVariant.Has(frame.ChannelIlluminationSquared) {
		return fmt.Errorf("%w: noisy illumination cannot use variant %s", frame.ErrUnsupportedVariant, o.NoisyVariant)
	}
	if o.OutputVariant != frame.Final && o.OutputVariant != frame.FinalFloat {
		return fmt.Errorf("%w: output must use the final or final-float variant; got %s", ErrInvalidOptions, o.OutputVariant)
	}
	if err := o.Accumulator.Validate(); err != nil {
		return err
	}

	switch o.Denoiser {
	case denoiser.None:
	case denoiser.BMFR:
		if err := o.BMFR.Validate(); err != nil {
			return err
		}
	case denoiser.BFR:
		if err := o.BFR.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w %q", denoiser.ErrUnsupportedDenoiser, o.Denoiser)
	}

	if o.TAA {
		return o.TAAConfig.Validate()
	}
	return nil
}

// Build the denoiser selected by the options.
func (o Options) newDenoiser() (denoiser.Denoiser, error) {
	switch o.Denoiser {
	case denoiser.None:
		return denoiser.NewPassthrough(), nil
	case denoiser.BMFR:
		return bmfr.New(o.BMFR), nil
	case denoiser.BFR:
		return bfr.New(o.BFR), nil
	}
	return nil, fmt.Errorf("%w %q", denoiser.ErrUnsupportedDenoiser, o.Denoiser)
}
