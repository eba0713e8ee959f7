package bmfr

import (
	"errors"
	"fmt"
	"math"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
)

var (
	ErrInvalidConfig = errors.New("bmfr: invalid configuration")
)

// Config controls the block regression.
type Config struct {
	// Edge length of the square regression blocks.
	BlockSize int

	// Diagonal bias added to the normal equations, scaled by the number
	// of pixels in the block.
	Lambda float32

	// Shift the block grid every frame.
	BlockOffsets bool
}

// Get the default BMFR configuration.
func DefaultConfig() Config {
	return Config{
		BlockSize: 32,
		Lambda:    1e-6,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.BlockSize < 1 {
		return fmt.Errorf("%w: block size must be >= 1; got %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.Lambda < 0 || math.IsNaN(float64(c.Lambda)) || math.IsInf(float64(c.Lambda), 0) {
		return fmt.Errorf("%w: lambda must be a non-negative number; got %f", ErrInvalidConfig, c.Lambda)
	}
	return nil
}

// Denoiser implements block-wise multi-order feature regression.
type Denoiser struct {
	logger   log.Logger
	cfg      Config
	provider gpu.Provider
	layout   Layout

	features *gpu.Buffer
	weights  *gpu.Buffer
	output   *frame.IlluminationBuffer

	preprocess  *gpu.Pipeline
	fit         *gpu.Pipeline
	postprocess *gpu.Pipeline
}

// Create a new BMFR denoiser.
func New(cfg Config) *Denoiser {
	return &Denoiser{
		logger: log.New("bmfr"),
		cfg:    cfg,
	}
}

func (d *Denoiser) Name() string {
	return denoiser.BMFR.String()
}

// Get the padded layout the denoiser was compiled with.
func (d *Denoiser) Layout() Layout {
	return d.layout
}

// Get the working buffers. They are only valid after Compile.
func (d *Denoiser) Buffers() (features, weights *gpu.Buffer) {
	return d.features, d.weights
}

func (d *Denoiser) Compile(p gpu.Provider, in denoiser.Inputs) error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}

	layout, err := NewLayout(in.GBuffer.Width, in.GBuffer.Height, d.cfg.BlockSize, d.cfg.BlockOffsets)
	if err != nil {
		return err
	}

	d.Release()
	d.provider = p
	d.layout = layout

	if d.features, err = p.CreateBuffer("bmfr-features", layout.FeaturesLen(), gpu.UsageStorage); err != nil {
		return d.abort(err)
	}
	if d.weights, err = p.CreateBuffer("bmfr-weights", layout.WeightsLen(), gpu.UsageStorage); err != nil {
		return d.abort(err)
	}
	if d.output, err = frame.NewIlluminationBuffer(p, frame.DemodulatedFloat, "bmfr-", layout.Width, layout.Height); err != nil {
		return d.abort(err)
	}

	d.preprocess, err = p.CreateComputeDispatch(preprocessKernel, gpu.Bindings{
		"depth":        in.GBuffer.Depth,
		"normal":       in.GBuffer.Normal,
		"illumination": in.Illumination.MustImage(frame.ChannelIllumination),
		"features":     d.features,
	})
	if err != nil {
		return d.abort(err)
	}
	d.fit, err = p.CreateComputeDispatch(fitKernel, gpu.Bindings{
		"features": d.features,
		"weights":  d.weights,
	})
	if err != nil {
		return d.abort(err)
	}
	d.postprocess, err = p.CreateComputeDispatch(postprocessKernel, gpu.Bindings{
		"features":          d.features,
		"weights":           d.weights,
		"finalIllumination": d.output.MustImage(frame.ChannelIllumination),
	})
	if err != nil {
		return d.abort(err)
	}

	d.logger.Infof(
		"compiled for %dx%d: %dx%d blocks of %d px, padded to %dx%d (offsets: %t)",
		layout.Width, layout.Height, layout.BlocksX, layout.BlocksY, layout.BlockSize,
		layout.PaddedWidth, layout.PaddedHeight, layout.Offsets,
	)
	return nil
}

// Record the three BMFR stages separated by barriers.
func (d *Denoiser) Dispatch(cmds *gpu.CommandList, frameIndex uint32) error {
	if d.postprocess == nil {
		return denoiser.ErrNotCompiled
	}

	ox, oy := d.layout.Offset(frameIndex)
	push := d.layout.encode(ox, oy, d.cfg.Lambda)
	d.logger.Debugf("frame %d: block offset (%d, %d)", frameIndex, ox, oy)

	cmds.Dispatch(d.preprocess, push, d.layout.PaddedWidth, d.layout.PaddedHeight)
	cmds.Barrier(d.features)
	cmds.Dispatch(d.fit, push, d.layout.BlocksX, d.layout.BlocksY)
	cmds.Barrier(d.features, d.weights)
	cmds.Dispatch(d.postprocess, push, d.layout.Width, d.layout.Height)
	cmds.Barrier(d.output.MustImage(frame.ChannelIllumination))
	return nil
}

func (d *Denoiser) Output() *frame.IlluminationBuffer {
	return d.output
}

func (d *Denoiser) Release() {
	if d.provider == nil {
		return
	}
	if d.output != nil {
		d.output.Release(d.provider)
		d.output = nil
	}
	if d.features != nil {
		d.provider.Release(d.features)
		d.features = nil
	}
	if d.weights != nil {
		d.provider.Release(d.weights)
		d.weights = nil
	}
	d.preprocess, d.fit, d.postprocess = nil, nil, nil
}

// Release partially allocated state after a failed compile.
func (d *Denoiser) abort(err error) error {
	d.Release()
	return err
}
