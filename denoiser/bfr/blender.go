package bfr

import (
	"fmt"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
)

const blendKernel = "bfrBlend"

// Mean variances at or below this are treated as zero.
const zeroVariance = 1e-12

// Binding names of the filtered inputs, ordered by ascending block size.
var blendInputs = [NumFilters]string{"smallBlock", "mediumBlock", "largeBlock"}

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: blendKernel,
		Bindings: []gpu.Binding{
			{Name: "illumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "illuminationSquared", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "spp", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: blendInputs[0], Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: blendInputs[1], Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: blendInputs[2], Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "finalIllumination", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: blendHost,
	})
}

func blendHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	if len(push) != 1 {
		return nil, fmt.Errorf("bfr: expected 1 push constant; got %d", len(push))
	}
	k := push[0]

	illu, illuSq, spp := res.Image("illumination"), res.Image("illuminationSquared"), res.Image("spp")
	var filtered [NumFilters]*gpu.HostImage
	for idx, name := range blendInputs {
		filtered[idx] = res.Image(name)
	}
	out := res.Image("finalIllumination")

	return func(x, y int) {
		mean, sq := illu.Vec3(x, y), illuSq.Vec3(x, y)
		n := spp.Float(x, y)
		if n < 1 {
			n = 1
		}

		var varMean float32
		for c := 0; c < 3; c++ {
			if v := sq[c] - float32(mean[c]*mean[c]); v > 0 {
				varMean += v
			}
		}
		varMean /= 3 * n

		if varMean <= zeroVariance {
			out.SetVec4(x, y, filtered[0].Vec3(x, y).Vec4(1))
			return
		}

		// Pick the largest block whose estimate stays within the expected
		// error of the mean and whose luminance spread (filter alpha) can
		// be explained by noise alone.
		result := mean
		meanL := mean.Luminance()
		bound := k * varMean
		for idx := NumFilters - 1; idx >= 0; idx-- {
			candidate := filtered[idx].Vec4(x, y)
			diff := candidate.Vec3().Luminance() - meanL
			if diff*diff <= bound && candidate[3] <= bound {
				result = candidate.Vec3()
				break
			}
		}
		out.SetVec4(x, y, result.Vec4(1))
	}, nil
}

// Blender selects, per pixel, between the outputs of the block filters and
// the accumulated mean. Blocks whose luminance variance exceeds the
// expected noise of the mean hold detail and are skipped.
type Blender struct {
	k        float32
	provider gpu.Provider
	width    int
	height   int
	output   *frame.IlluminationBuffer
	pipeline *gpu.Pipeline
}

// Create a blender. A block estimate is accepted when its squared
// luminance difference to the mean is at most k times the mean variance.
func NewBlender(k float32) *Blender {
	return &Blender{k: k}
}

// Build the blend pipeline. Filtered images must be ordered by ascending
// block size.
func (b *Blender) Compile(p gpu.Provider, in denoiser.Inputs, filtered [NumFilters]*gpu.Image) error {
	if b.k <= 0 {
		return fmt.Errorf("%w: blend factor must be positive; got %f", ErrInvalidConfig, b.k)
	}
	if err := in.Validate(); err != nil {
		return err
	}
	b.Release()

	w, h := in.GBuffer.Width, in.GBuffer.Height
	output, err := frame.NewIlluminationBuffer(p, frame.DemodulatedFloat, "bfr-", w, h)
	if err != nil {
		return err
	}

	bindings := gpu.Bindings{
		"illumination":        in.Illumination.MustImage(frame.ChannelIllumination),
		"illuminationSquared": in.Illumination.MustImage(frame.ChannelIlluminationSquared),
		"spp":                 in.Accumulation.Spp,
		"finalIllumination":   output.MustImage(frame.ChannelIllumination),
	}
	for idx, img := range filtered {
		if img == nil {
			output.Release(p)
			return fmt.Errorf("%w: %s filter output", denoiser.ErrMissingInput, blendInputs[idx])
		}
		bindings[blendInputs[idx]] = img
	}

	pipeline, err := p.CreateComputeDispatch(blendKernel, bindings)
	if err != nil {
		output.Release(p)
		return err
	}

	b.provider, b.output, b.pipeline = p, output, pipeline
	b.width, b.height = w, h
	return nil
}

// Record the blend pass followed by a barrier on its output.
func (b *Blender) Dispatch(cmds *gpu.CommandList) error {
	if b.pipeline == nil {
		return denoiser.ErrNotCompiled
	}
	cmds.Dispatch(b.pipeline, []float32{b.k}, b.width, b.height)
	cmds.Barrier(b.output.MustImage(frame.ChannelIllumination))
	return nil
}

func (b *Blender) Output() *frame.IlluminationBuffer {
	return b.output
}

func (b *Blender) Release() {
	if b.output != nil {
		b.output.Release(b.provider)
		b.output = nil
	}
	b.pipeline = nil
}
