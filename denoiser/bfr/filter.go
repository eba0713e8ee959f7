package bfr

import (
	"fmt"
	"math"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/types"
)

const filterKernel = "bfrFilter"

const (
	pushFilterWidth = iota
	pushFilterHeight
	pushFilterBlockSize
	pushFilterStride
	pushFilterSigmaDepth
	pushFilterSigmaNormal
	pushFilterLen
)

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: filterKernel,
		Bindings: []gpu.Binding{
			{Name: "depth", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: "normal", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 2},
			{Name: "material", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "illumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "filtered", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: filterHost,
	})
}

// Get the tap stride for a block size.
func tapStride(blockSize int) int {
	if s := blockSize / 8; s > 1 {
		return s
	}
	return 1
}

// Geometric similarity between the centre pixel and a tap.
func tapWeight(d, td float32, n, tn types.Vec3, mat, tmat float32, sigmaDepth, sigmaNormal float32) float32 {
	if mat != tmat {
		return 0
	}
	if d <= 0 || td <= 0 {
		// Misses only blend with misses.
		if d <= 0 && td <= 0 {
			return 1
		}
		return 0
	}

	wd := math.Exp(-math.Abs(float64(td-d)) / float64(sigmaDepth*d))
	cos := n.Dot(tn)
	if cos <= 0 {
		return 0
	}
	wn := math.Pow(float64(cos), float64(sigmaNormal))
	return float32(wd * wn)
}

func filterHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	if len(push) != pushFilterLen {
		return nil, fmt.Errorf("bfr: expected %d push constants; got %d", pushFilterLen, len(push))
	}
	w, h := int(push[pushFilterWidth]), int(push[pushFilterHeight])
	blockSize, stride := int(push[pushFilterBlockSize]), int(push[pushFilterStride])
	sigmaDepth, sigmaNormal := push[pushFilterSigmaDepth], push[pushFilterSigmaNormal]

	depth, normal, material := res.Image("depth"), res.Image("normal"), res.Image("material")
	illu, out := res.Image("illumination"), res.Image("filtered")

	decode := func(x, y int) types.Vec3 {
		nt := normal.Vec4(x, y)
		return frame.DecodeNormal(nt[0], nt[1])
	}

	return func(x, y int) {
		d, n, mat := depth.Float(x, y), decode(x, y), material.Float(x, y)
		bx, by := (x/blockSize)*blockSize, (y/blockSize)*blockSize

		// Align taps with the centre pixel so it is always sampled.
		x0, y0 := bx+(x-bx)%stride, by+(y-by)%stride

		var sumW, sumL, sumL2 float32
		var sum types.Vec3
		for ty := y0; ty < by+blockSize && ty < h; ty += stride {
			for tx := x0; tx < bx+blockSize && tx < w; tx += stride {
				weight := float32(1)
				if tx != x || ty != y {
					weight = tapWeight(d, depth.Float(tx, ty), n, decode(tx, ty), mat, material.Float(tx, ty), sigmaDepth, sigmaNormal)
					if weight <= 0 {
						continue
					}
				}

				c := illu.Vec3(tx, ty)
				l := c.Luminance()
				sum = sum.Add(c.Mul(weight))
				sumL += l * weight
				sumL2 += l * l * weight
				sumW += weight
			}
		}

		norm := 1 / sumW
		meanL := sumL * norm
		variance := sumL2*norm - meanL*meanL
		if variance < 0 {
			variance = 0
		}
		out.SetVec4(x, y, sum.Mul(norm).Vec4(variance))
	}, nil
}

// FilterConfig controls a single block filter.
type FilterConfig struct {
	BlockSize int

	// Relative depth difference at which tap weights fall to 1/e.
	SigmaDepth float32

	// Exponent applied to the cosine between normals.
	SigmaNormal float32
}

// Validate the configuration.
func (c FilterConfig) Validate() error {
	if c.BlockSize < 1 {
		return fmt.Errorf("%w: block size must be >= 1; got %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.SigmaDepth <= 0 || c.SigmaNormal < 0 {
		return fmt.Errorf("%w: invalid sigma (depth %f, normal %f)", ErrInvalidConfig, c.SigmaDepth, c.SigmaNormal)
	}
	return nil
}

// Filter computes a geometry-aware weighted average over the block that
// contains each pixel. The alpha channel of the output holds the weighted
// luminance variance.
type Filter struct {
	cfg      FilterConfig
	provider gpu.Provider
	width    int
	height   int
	output   *gpu.Image
	pipeline *gpu.Pipeline
}

// Create a block filter.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

func (f *Filter) Compile(p gpu.Provider, in denoiser.Inputs) error {
	if err := f.cfg.Validate(); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	f.Release()

	w, h := in.GBuffer.Width, in.GBuffer.Height
	output, err := p.CreateImage(fmt.Sprintf("bfr%d", f.cfg.BlockSize), w, h, gpu.FormatRGBA32F, gpu.UsageDefault)
	if err != nil {
		return err
	}
	if err = gpu.InitImages(p, output); err != nil {
		p.Release(output)
		return err
	}

	pipeline, err := p.CreateComputeDispatch(filterKernel, gpu.Bindings{
		"depth":        in.GBuffer.Depth,
		"normal":       in.GBuffer.Normal,
		"material":     in.GBuffer.Material,
		"illumination": in.Illumination.MustImage(frame.ChannelIllumination),
		"filtered":     output,
	})
	if err != nil {
		p.Release(output)
		return err
	}

	f.provider, f.output, f.pipeline = p, output, pipeline
	f.width, f.height = w, h
	return nil
}

// Record the filter pass followed by a barrier on its output.
func (f *Filter) Dispatch(cmds *gpu.CommandList) error {
	if f.pipeline == nil {
		return denoiser.ErrNotCompiled
	}

	push := make([]float32, pushFilterLen)
	push[pushFilterWidth] = float32(f.width)
	push[pushFilterHeight] = float32(f.height)
	push[pushFilterBlockSize] = float32(f.cfg.BlockSize)
	push[pushFilterStride] = float32(tapStride(f.cfg.BlockSize))
	push[pushFilterSigmaDepth] = f.cfg.SigmaDepth
	push[pushFilterSigmaNormal] = f.cfg.SigmaNormal

	cmds.Dispatch(f.pipeline, push, f.width, f.height)
	cmds.Barrier(f.output)
	return nil
}

// The filtered image (RGBA32F).
func (f *Filter) Output() *gpu.Image {
	return f.output
}

func (f *Filter) Release() {
	if f.output != nil {
		f.provider.Release(f.output)
		f.output = nil
	}
	f.pipeline = nil
}
