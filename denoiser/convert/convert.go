package convert

import (
	"errors"
	"fmt"
	"math"

	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/types"
)

const convertKernel = "convertFormat"

var (
	ErrNotCompiled = errors.New("convert: dispatch before compile")
)

const (
	pushExposure = iota
	pushTonemap
	pushSRGB
	pushLen
)

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: convertKernel,
		Bindings: []gpu.Binding{
			{Name: "source", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "target", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: convertHost,
	})
}

// Encode a linear value with the sRGB transfer function.
func encodeSRGB(v float32) float32 {
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return float32(1.055*math.Pow(float64(v), 1/2.4) - 0.055)
}

func convertHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	if len(push) != pushLen {
		return nil, fmt.Errorf("convert: expected %d push constants; got %d", pushLen, len(push))
	}
	scale := float32(math.Exp2(float64(push[pushExposure])))
	tonemap, srgb := push[pushTonemap] > 0.5, push[pushSRGB] > 0.5
	src, dst := res.Image("source"), res.Image("target")

	return func(x, y int) {
		c := src.Vec4(x, y)
		rgb := types.Vec3{c[0], c[1], c[2]}.Mul(scale)
		for i, v := range rgb {
			if !(v > 0) {
				v = 0
			}
			if tonemap {
				v = v / (1 + v)
			}
			if srgb {
				v = encodeSRGB(v)
			}
			rgb[i] = v
		}
		dst.SetVec4(x, y, rgb.Vec4(c[3]))
	}, nil
}

// Config controls the output transform.
type Config struct {
	// Exposure adjustment in stops.
	Exposure float32

	// Apply Reinhard tonemapping.
	Tonemap bool

	// Encode the result with the sRGB transfer function.
	SRGB bool
}

// Converter writes a linear colour image into a target image of any
// 4-channel format, applying exposure, tonemapping and gamma encoding.
// Storage precision of the target (8-bit, half) is enforced by the provider.
type Converter struct {
	cfg      Config
	width    int
	height   int
	target   *gpu.Image
	pipeline *gpu.Pipeline
}

func New(cfg Config) *Converter {
	return &Converter{cfg: cfg}
}

// Build the conversion pipeline. Source and target must have the same size.
func (c *Converter) Compile(p gpu.Provider, source, target *gpu.Image) error {
	if err := frame.RequireSize("conversion target", target.Width(), target.Height(), source.Width(), source.Height()); err != nil {
		return err
	}
	pipeline, err := p.CreateComputeDispatch(convertKernel, gpu.Bindings{
		"source": source,
		"target": target,
	})
	if err != nil {
		return err
	}

	c.target, c.pipeline = target, pipeline
	c.width, c.height = source.Width(), source.Height()
	return nil
}

// Change the output transform. Takes effect on the next Dispatch.
func (c *Converter) SetConfig(cfg Config) {
	c.cfg = cfg
}

func (c *Converter) Dispatch(cmds *gpu.CommandList) error {
	if c.pipeline == nil {
		return ErrNotCompiled
	}

	push := make([]float32, pushLen)
	push[pushExposure] = c.cfg.Exposure
	if c.cfg.Tonemap {
		push[pushTonemap] = 1
	}
	if c.cfg.SRGB {
		push[pushSRGB] = 1
	}
	cmds.Dispatch(c.pipeline, push, c.width, c.height)
	cmds.Barrier(c.target)
	return nil
}

// Release the pipeline. The target image is owned by the caller.
func (c *Converter) Release() {
	c.pipeline = nil
	c.target = nil
}
