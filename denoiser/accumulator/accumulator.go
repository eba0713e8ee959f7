package accumulator

import (
	"errors"
	"fmt"

	"github.com/achilleasa/polaris-denoise/camera"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
)

var (
	ErrInvalidConfig = errors.New("accumulator: invalid configuration")
	ErrNotCompiled   = errors.New("accumulator: dispatch before compile")
	ErrNoProjection  = errors.New("accumulator: camera matrices without a projection")
)

// Config controls history blending and rejection.
type Config struct {
	// Cap for the per-pixel sample count. Once reached the running mean
	// turns into an exponential moving average with weight 1/MaxSamples.
	MaxSamples int

	// Maximum relative difference between the expected and the stored
	// previous depth for history to be accepted.
	DepthTolerance float32

	// Minimum cosine between the current and previous normal.
	NormalTolerance float32
}

// Get the default accumulator configuration.
func DefaultConfig() Config {
	return Config{
		MaxSamples:      32,
		DepthTolerance:  0.1,
		NormalTolerance: 0.9,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.MaxSamples < 1 {
		return fmt.Errorf("%w: max samples must be >= 1; got %d", ErrInvalidConfig, c.MaxSamples)
	}
	if c.DepthTolerance <= 0 {
		return fmt.Errorf("%w: depth tolerance must be positive; got %f", ErrInvalidConfig, c.DepthTolerance)
	}
	if c.NormalTolerance < -1 || c.NormalTolerance > 1 {
		return fmt.Errorf("%w: normal tolerance must be in [-1, 1]; got %f", ErrInvalidConfig, c.NormalTolerance)
	}
	return nil
}

// Accumulator blends the current noisy frame with reprojected history.
type Accumulator struct {
	logger   log.Logger
	cfg      Config
	provider gpu.Provider

	width  int
	height int

	output   *frame.IlluminationBuffer
	spp      *gpu.Image
	motion   *gpu.Image
	pipeline *gpu.Pipeline
}

// Create a new accumulator.
func New(cfg Config) *Accumulator {
	return &Accumulator{
		logger: log.New("accumulator"),
		cfg:    cfg,
	}
}

// Allocate the accumulated illumination buffer and build the pipeline. The
// noisy buffer must expose illumination and illuminationSquared and its
// format must match the history images of the accumulation buffer.
func (a *Accumulator) Compile(p gpu.Provider, gb *frame.GBuffer, noisy *frame.IlluminationBuffer, ab *frame.AccumulationBuffer) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if err := frame.RequireChannels(noisy, frame.ChannelIllumination, frame.ChannelIlluminationSquared); err != nil {
		return err
	}
	if err := frame.RequireSize("illumination buffer", noisy.Width, noisy.Height, gb.Width, gb.Height); err != nil {
		return err
	}
	if err := frame.RequireSize("accumulation buffer", ab.Width, ab.Height, gb.Width, gb.Height); err != nil {
		return err
	}
	if f := noisy.MustImage(frame.ChannelIllumination).Format(); f != ab.PrevIllu.Format() {
		return fmt.Errorf("%w: noisy illumination is %s; history is %s", gpu.ErrFormatMismatch, f, ab.PrevIllu.Format())
	}

	a.Release()

	output, err := frame.NewIlluminationBuffer(p, noisy.Variant(), "accumulated-", gb.Width, gb.Height)
	if err != nil {
		return err
	}

	pipeline, err := p.CreateComputeDispatch(kernelName, gpu.Bindings{
		"depth":                          gb.Depth,
		"normal":                         gb.Normal,
		"illumination":                   noisy.MustImage(frame.ChannelIllumination),
		"illuminationSquared":            noisy.MustImage(frame.ChannelIlluminationSquared),
		"prevDepth":                      ab.PrevDepth,
		"prevNormal":                     ab.PrevNormal,
		"prevIllu":                       ab.PrevIllu,
		"prevIlluSquared":                ab.PrevIlluSquared,
		"prevSpp":                        ab.PrevSpp,
		"accumulatedIllumination":        output.MustImage(frame.ChannelIllumination),
		"accumulatedIlluminationSquared": output.MustImage(frame.ChannelIlluminationSquared),
		"spp":                            ab.Spp,
		"motion":                         ab.Motion,
	})
	if err != nil {
		output.Release(p)
		return err
	}

	a.provider = p
	a.width, a.height = gb.Width, gb.Height
	a.output, a.pipeline = output, pipeline
	a.spp, a.motion = ab.Spp, ab.Motion

	a.logger.Infof("compiled for %dx%d (%s, max samples %d)", a.width, a.height, noisy.Variant(), a.cfg.MaxSamples)
	return nil
}

// Record the accumulation pass. Without history (first frame or after a
// reset) every pixel starts from its current noisy value.
func (a *Accumulator) Dispatch(cmds *gpu.CommandList, cur, prev camera.Matrices, hasHistory bool) error {
	if a.pipeline == nil {
		return ErrNotCompiled
	}
	if !cur.HasProj || (hasHistory && !prev.HasProj) {
		return ErrNoProjection
	}

	push := params{
		width:           a.width,
		height:          a.height,
		maxSamples:      a.cfg.MaxSamples,
		depthTolerance:  a.cfg.DepthTolerance,
		normalTolerance: a.cfg.NormalTolerance,
		hasHistory:      hasHistory,
		cur:             cur,
		prev:            prev,
	}.encode()

	cmds.Dispatch(a.pipeline, push, a.width, a.height)
	cmds.Barrier(
		a.output.MustImage(frame.ChannelIllumination),
		a.output.MustImage(frame.ChannelIlluminationSquared),
		a.spp,
		a.motion,
	)
	return nil
}

// The accumulated illumination buffer.
func (a *Accumulator) Output() *frame.IlluminationBuffer {
	return a.output
}

// Release the accumulated illumination buffer.
func (a *Accumulator) Release() {
	if a.output != nil {
		a.output.Release(a.provider)
		a.output = nil
	}
	a.pipeline = nil
}
