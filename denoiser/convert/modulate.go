package convert

import (
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
)

const modulateKernel = "modulate"

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: modulateKernel,
		Bindings: []gpu.Binding{
			{Name: "finalIllumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "albedo", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "outputImage", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: func(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
			illu, albedo, out := res.Image("finalIllumination"), res.Image("albedo"), res.Image("outputImage")
			return func(x, y int) {
				out.SetVec4(x, y, illu.Vec3(x, y).MulVec(albedo.Vec3(x, y)).Vec4(1))
			}, nil
		},
	})
}

// Modulator multiplies demodulated illumination by the surface albedo. It
// replaces the TAA pass when temporal anti-aliasing is disabled.
type Modulator struct {
	provider gpu.Provider
	width    int
	height   int
	output   *frame.IlluminationBuffer
	pipeline *gpu.Pipeline
}

func NewModulator() *Modulator {
	return &Modulator{}
}

func (m *Modulator) Compile(p gpu.Provider, gb *frame.GBuffer, illu *frame.IlluminationBuffer) error {
	if err := frame.RequireChannels(illu, frame.ChannelIllumination); err != nil {
		return err
	}
	if err := frame.RequireSize("illumination buffer", illu.Width, illu.Height, gb.Width, gb.Height); err != nil {
		return err
	}
	m.Release()

	output, err := frame.NewIlluminationBuffer(p, frame.FinalFloat, "modulated-", gb.Width, gb.Height)
	if err != nil {
		return err
	}
	pipeline, err := p.CreateComputeDispatch(modulateKernel, gpu.Bindings{
		"finalIllumination": illu.MustImage(frame.ChannelIllumination),
		"albedo":            gb.Albedo,
		"outputImage":       output.MustImage(frame.ChannelOutput),
	})
	if err != nil {
		output.Release(p)
		return err
	}

	m.provider, m.output, m.pipeline = p, output, pipeline
	m.width, m.height = gb.Width, gb.Height
	return nil
}

func (m *Modulator) Dispatch(cmds *gpu.CommandList) error {
	if m.pipeline == nil {
		return ErrNotCompiled
	}
	out := m.output.MustImage(frame.ChannelOutput)
	cmds.Dispatch(m.pipeline, nil, m.width, m.height)
	cmds.Barrier(out)
	return nil
}

// The modulated colour (FinalFloat).
func (m *Modulator) Output() *frame.IlluminationBuffer {
	return m.output
}

func (m *Modulator) Release() {
	if m.output != nil {
		m.output.Release(m.provider)
		m.output = nil
	}
	m.pipeline = nil
}
