package bfr

import (
	"errors"
	"fmt"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
)

// Number of block filters feeding the blender.
const NumFilters = 3

var (
	ErrInvalidConfig = errors.New("bfr: invalid configuration")
)

// Config controls the filter ensemble.
type Config struct {
	// Block sizes in ascending order.
	BlockSizes [NumFilters]int

	SigmaDepth  float32
	SigmaNormal float32

	// Blend acceptance factor.
	K float32
}

// Get the default BFR configuration.
func DefaultConfig() Config {
	return Config{
		BlockSizes:  [NumFilters]int{8, 16, 32},
		SigmaDepth:  0.1,
		SigmaNormal: 16,
		K:           4,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	for idx := 1; idx < NumFilters; idx++ {
		if c.BlockSizes[idx] <= c.BlockSizes[idx-1] {
			return fmt.Errorf("%w: block sizes must be ascending; got %v", ErrInvalidConfig, c.BlockSizes)
		}
	}
	for _, size := range c.BlockSizes {
		if err := c.filterConfig(size).Validate(); err != nil {
			return err
		}
	}
	if c.K <= 0 {
		return fmt.Errorf("%w: blend factor must be positive; got %f", ErrInvalidConfig, c.K)
	}
	return nil
}

func (c Config) filterConfig(blockSize int) FilterConfig {
	return FilterConfig{
		BlockSize:   blockSize,
		SigmaDepth:  c.SigmaDepth,
		SigmaNormal: c.SigmaNormal,
	}
}

// Denoiser runs the block filters at every configured size and blends
// their outputs.
type Denoiser struct {
	logger  log.Logger
	cfg     Config
	filters [NumFilters]*Filter
	blender *Blender
}

// Create a new BFR denoiser.
func New(cfg Config) *Denoiser {
	d := &Denoiser{
		logger:  log.New("bfr"),
		cfg:     cfg,
		blender: NewBlender(cfg.K),
	}
	for idx, size := range cfg.BlockSizes {
		d.filters[idx] = NewFilter(cfg.filterConfig(size))
	}
	return d
}

func (d *Denoiser) Name() string {
	return denoiser.BFR.String()
}

func (d *Denoiser) Compile(p gpu.Provider, in denoiser.Inputs) error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	var filtered [NumFilters]*gpu.Image
	for idx, f := range d.filters {
		if err := f.Compile(p, in); err != nil {
			d.Release()
			return err
		}
		filtered[idx] = f.Output()
	}
	if err := d.blender.Compile(p, in, filtered); err != nil {
		d.Release()
		return err
	}

	d.logger.Infof("compiled for %dx%d (block sizes %v)", in.GBuffer.Width, in.GBuffer.Height, d.cfg.BlockSizes)
	return nil
}

func (d *Denoiser) Dispatch(cmds *gpu.CommandList, frameIndex uint32) error {
	for _, f := range d.filters {
		if err := f.Dispatch(cmds); err != nil {
			return err
		}
	}
	return d.blender.Dispatch(cmds)
}

// Get the filter for a block size index.
func (d *Denoiser) Filter(idx int) *Filter {
	return d.filters[idx]
}

func (d *Denoiser) Output() *frame.IlluminationBuffer {
	return d.blender.Output()
}

func (d *Denoiser) Release() {
	for _, f := range d.filters {
		f.Release()
	}
	d.blender.Release()
}
