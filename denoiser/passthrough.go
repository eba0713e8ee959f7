package denoiser

import (
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
)

const copyIlluminationKernel = "copyIllumination"

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: copyIlluminationKernel,
		Bindings: []gpu.Binding{
			{Name: "illumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "finalIllumination", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: func(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
			src, dst := res.Image("illumination"), res.Image("finalIllumination")
			return func(x, y int) {
				dst.SetVec4(x, y, src.Vec3(x, y).Vec4(1))
			}, nil
		},
	})
}

// Passthrough forwards the accumulated illumination without filtering.
type Passthrough struct {
	provider gpu.Provider
	width    int
	height   int
	output   *frame.IlluminationBuffer
	pipeline *gpu.Pipeline
}

// Create a denoiser that performs no filtering.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (d *Passthrough) Name() string {
	return None.String()
}

func (d *Passthrough) Compile(p gpu.Provider, in Inputs) error {
	if err := in.Validate(); err != nil {
		return err
	}
	d.Release()

	output, err := frame.NewIlluminationBuffer(p, frame.DemodulatedFloat, "final-", in.GBuffer.Width, in.GBuffer.Height)
	if err != nil {
		return err
	}

	pipeline, err := p.CreateComputeDispatch(copyIlluminationKernel, gpu.Bindings{
		"illumination":      in.Illumination.MustImage(frame.ChannelIllumination),
		"finalIllumination": output.MustImage(frame.ChannelIllumination),
	})
	if err != nil {
		output.Release(p)
		return err
	}

	d.provider, d.output, d.pipeline = p, output, pipeline
	d.width, d.height = in.GBuffer.Width, in.GBuffer.Height
	return nil
}

func (d *Passthrough) Dispatch(cmds *gpu.CommandList, frameIndex uint32) error {
	if d.pipeline == nil {
		return ErrNotCompiled
	}
	out := d.output.MustImage(frame.ChannelIllumination)
	cmds.Dispatch(d.pipeline, nil, d.width, d.height)
	cmds.Barrier(out)
	return nil
}

func (d *Passthrough) Output() *frame.IlluminationBuffer {
	return d.output
}

func (d *Passthrough) Release() {
	if d.output != nil {
		d.output.Release(d.provider)
		d.output = nil
	}
	d.pipeline = nil
}
