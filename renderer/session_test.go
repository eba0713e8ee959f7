package renderer

import (
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/denoiser/accumulator"
	"github.com/achilleasa/polaris-denoise/denoiser/convert"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/gpu/host"
	"github.com/achilleasa/polaris-denoise/tracer"
	"github.com/achilleasa/polaris-denoise/tracer/synthetic"
	"github.com/achilleasa/polaris-denoise/types"
	"github.com/go-gl/mathgl/mgl32"
)

// Options for a small session producing linear float output.
func testOptions(w, h uint32) Options {
	opts := DefaultOptions()
	opts.FrameW, opts.FrameH = w, h
	opts.Output = convert.Config{}
	opts.OutputVariant = frame.FinalFloat
	return opts
}

func newSession(t *testing.T, p gpu.Provider, opts Options, cfg synthetic.Config) *Session {
	tr, err := synthetic.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSession(p, tr, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func readImage(t *testing.T, p gpu.Provider, img *gpu.Image) []float32 {
	data := make([]float32, img.Len())
	if err := p.ReadImage(img, data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestConvergenceOnStaticPlane(t *testing.T) {
	const (
		numFrames = 64
		window    = 8
		size      = 4
		truth     = 0.5
		noise     = 0.01 * truth
		tolerance = 0.01 * truth
	)

	specs := []denoiser.Type{denoiser.BMFR, denoiser.BFR, denoiser.None}

	for specIndex, denoiserType := range specs {
		opts := testOptions(size, size)
		opts.Denoiser = denoiserType
		opts.Accumulator.MaxSamples = numFrames
		opts.BMFR.BlockOffsets = false

		cfg := synthetic.DefaultConfig()
		cfg.Noise = noise
		s := newSession(t, host.New(2), opts, cfg)

		var history [][]float32
		for frameIndex := 0; frameIndex < numFrames; frameIndex++ {
			if err := s.RenderFrame(); err != nil {
				t.Fatalf("[spec %d] frame %d: %v", specIndex, frameIndex, err)
			}
			if frameIndex >= numFrames-window {
				out, err := s.ReadOutput()
				if err != nil {
					t.Fatal(err)
				}
				history = append(history, out)
			}
		}
		s.Close()

		var imageSum float64
		var imageCount int
		for idx := 0; idx < size*size*4; idx++ {
			if idx%4 == 3 {
				continue
			}

			var sum, sumSq float64
			for _, out := range history {
				v := float64(out[idx])
				sum += v
				sumSq += v * v
			}
			mean := sum / window
			std := math.Sqrt(math.Max(0, sumSq/window-mean*mean))

			if std >= tolerance {
				t.Fatalf("[spec %d] expected temporal std of value %d to be below %f; got %f", specIndex, idx, tolerance, std)
			}
			if math.Abs(mean-truth) >= tolerance {
				t.Fatalf("[spec %d] expected mean of value %d to be within %f of %f; got %f", specIndex, idx, tolerance, truth, mean)
			}
			imageSum += mean
			imageCount++
		}

		if imageMean := imageSum / float64(imageCount); math.Abs(imageMean-truth) >= tolerance {
			t.Fatalf("[spec %d] expected image mean to be within %f of %f; got %f", specIndex, tolerance, truth, imageMean)
		}
	}
}

func TestModulatedOutputWithoutTAA(t *testing.T) {
	opts := testOptions(4, 4)
	opts.Denoiser = denoiser.None
	opts.TAA = false

	cfg := synthetic.DefaultConfig()
	cfg.Noise = 0

	s := newSession(t, host.New(1), opts, cfg)
	defer s.Close()

	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if got := s.Stats().Dispatches; got != 4 {
		t.Fatalf("expected 4 dispatches (accumulate, denoise, modulate, convert); got %d", got)
	}
	if s.Stats().HasHistory {
		t.Fatal("expected first frame to have no history")
	}

	out, err := s.ReadOutput()
	if err != nil {
		t.Fatal(err)
	}
	for idx, v := range out {
		exp := float32(0.5)
		if idx%4 == 3 {
			exp = 1
		}
		if math.Abs(float64(v-exp)) > 1e-6 {
			t.Fatalf("[value %d] expected %f; got %f", idx, exp, v)
		}
	}

	accumulated := readImage(t, s.Provider(), s.Accumulated().MustImage(frame.ChannelIllumination))
	denoised := readImage(t, s.Provider(), s.Denoised().MustImage(frame.ChannelIllumination))
	for idx := range denoised {
		if idx%4 != 3 && denoised[idx] != accumulated[idx] {
			t.Fatalf("[value %d] expected passthrough to keep accumulated value %f; got %f", idx, accumulated[idx], denoised[idx])
		}
	}

	// Exposure changes apply to the next frame.
	s.SetOutputConfig(convert.Config{Exposure: 1})
	if got := s.Options().Output.Exposure; got != 1 {
		t.Fatalf("expected options to report exposure 1; got %f", got)
	}
	if err = s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if out, err = s.ReadOutput(); err != nil {
		t.Fatal(err)
	}
	for idx := 0; idx < len(out); idx += 4 {
		if math.Abs(float64(out[idx]-1)) > 1e-6 {
			t.Fatalf("[pixel %d] expected exposed value 1; got %f", idx/4, out[idx])
		}
	}
}

// Fails every submission while fail is set.
type failingProvider struct {
	gpu.Provider
	fail bool
}

func (p *failingProvider) Submit(cmds *gpu.CommandList) error {
	if p.fail {
		return errors.New("submit failed")
	}
	return p.Provider.Submit(cmds)
}

func TestFailedSubmitKeepsCameraHistory(t *testing.T) {
	p := &failingProvider{Provider: host.New(1)}

	cfg := synthetic.DefaultConfig()
	cfg.Pan = mgl32.Vec3{0.1, 0, 0}
	s := newSession(t, p, testOptions(4, 4), cfg)
	defer s.Close()

	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Cameras().At(0)

	p.fail = true
	if err := s.RenderFrame(); err == nil {
		t.Fatal("expected the failed submission to be reported")
	}
	if got := s.Cameras().Len(); got != 1 {
		t.Fatalf("expected the failed frame to stay out of the camera history; got %d cameras", got)
	}

	p.fail = false
	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if got := s.Cameras().Len(); got != 2 {
		t.Fatalf("expected 2 cameras; got %d", got)
	}
	prev, ok := s.Cameras().Prev(1)
	if !ok || !prev.Equal(first) {
		t.Fatal("expected the next frame to reproject against the last rendered frame")
	}
	if s.FrameIndex() != 2 {
		t.Fatalf("expected frame index 2; got %d", s.FrameIndex())
	}
}

func TestQuantizedOutput(t *testing.T) {
	opts := testOptions(2, 2)
	opts.OutputVariant = frame.Final
	opts.Output = convert.Config{Exposure: 1}

	cfg := synthetic.DefaultConfig()
	cfg.Noise = 0
	cfg.Radiance = types.Vec3{0.2, 0.2, 0.2}

	s := newSession(t, host.New(1), opts, cfg)
	defer s.Close()

	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	out, err := s.ReadOutput()
	if err != nil {
		t.Fatal(err)
	}

	exp := float32(math.Round(0.4*255)) / 255
	for idx := 0; idx < len(out); idx += 4 {
		if math.Abs(float64(out[idx]-exp)) > 1e-6 {
			t.Fatalf("[pixel %d] expected exposed and quantized value %f; got %f", idx/4, exp, out[idx])
		}
	}
}

func TestResetHistory(t *testing.T) {
	s := newSession(t, host.New(1), testOptions(4, 4), synthetic.DefaultConfig())
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.RenderFrame(); err != nil {
			t.Fatal(err)
		}
	}
	if !s.HasHistory() || s.Cameras().Len() != 3 {
		t.Fatalf("expected history for 3 frames; got %t and %d cameras", s.HasHistory(), s.Cameras().Len())
	}

	if err := s.ResetHistory(); err != nil {
		t.Fatal(err)
	}
	if s.HasHistory() || s.Cameras().Len() != 0 {
		t.Fatal("expected reset to discard history")
	}

	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if s.Stats().HasHistory {
		t.Fatal("expected the frame after a reset to render without history")
	}
	if s.FrameIndex() != 4 {
		t.Fatalf("expected frame index to keep counting; got %d", s.FrameIndex())
	}

	spp := s.Accumulation().Spp
	data := readImage(t, s.Provider(), spp)
	stride := spp.Format().Channels()
	for idx := 0; idx < len(data); idx += stride {
		if data[idx] != 1 {
			t.Fatalf("[pixel %d] expected sample count 1 after reset; got %f", idx/stride, data[idx])
		}
	}
}

func TestSkipFrame(t *testing.T) {
	s := newSession(t, host.New(1), testOptions(4, 4), synthetic.DefaultConfig())
	defer s.Close()

	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if err := s.SkipFrame(); err != nil {
		t.Fatal(err)
	}
	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	stats := s.Stats()
	if stats.FrameIndex != 2 {
		t.Fatalf("expected the skipped frame to consume index 1; rendered frame %d", stats.FrameIndex)
	}
	if stats.HasHistory {
		t.Fatal("expected history to be discarded after a skipped frame")
	}
	if s.FrameIndex() != 3 {
		t.Fatalf("expected next frame index to be 3; got %d", s.FrameIndex())
	}
}

func TestResetOnCameraMove(t *testing.T) {
	specs := []struct {
		reset      bool
		expHistory bool
	}{
		{false, true},
		{true, false},
	}

	cfg := synthetic.DefaultConfig()
	cfg.Pan = mgl32.Vec3{0.05, 0, 0}

	for specIndex, spec := range specs {
		opts := testOptions(4, 4)
		opts.ResetOnCameraMove = spec.reset
		s := newSession(t, host.New(1), opts, cfg)

		for frameIndex := 0; frameIndex < 3; frameIndex++ {
			if err := s.RenderFrame(); err != nil {
				t.Fatalf("[spec %d] frame %d: %v", specIndex, frameIndex, err)
			}
			if frameIndex == 0 {
				continue
			}
			if got := s.Stats().HasHistory; got != spec.expHistory {
				t.Fatalf("[spec %d] frame %d: expected history flag %t; got %t", specIndex, frameIndex, spec.expHistory, got)
			}
		}
		s.Close()
	}
}

func TestResize(t *testing.T) {
	s := newSession(t, host.New(1), testOptions(4, 4), synthetic.DefaultConfig())
	defer s.Close()

	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if err := s.Resize(8, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if s.Stats().HasHistory {
		t.Fatal("expected resize to discard history")
	}

	out, err := s.ReadOutput()
	if err != nil {
		t.Fatal(err)
	}
	if exp := 8 * 2 * 4; len(out) != exp {
		t.Fatalf("expected %d output values; got %d", exp, len(out))
	}

	if err = s.Resize(0, 2); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions; got %v", err)
	}
}

func TestCaptureStage(t *testing.T) {
	p := host.New(1)
	opts := testOptions(4, 4)

	capture, err := p.CreateImage("capture", 4, 4, gpu.FormatRGBA32F, gpu.UsageDefault)
	if err != nil {
		t.Fatal(err)
	}
	if err = gpu.InitImages(p, capture); err != nil {
		t.Fatal(err)
	}

	pipeline := DefaultPipeline(opts)
	pipeline.PostProcess = append(pipeline.PostProcess, CaptureChannel(
		func(s *Session) *frame.IlluminationBuffer { return s.Accumulated() },
		frame.ChannelIllumination,
		capture,
	))

	tr, err := synthetic.New(synthetic.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSession(p, tr, pipeline, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err = s.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	exp := readImage(t, p, s.Accumulated().MustImage(frame.ChannelIllumination))
	got := readImage(t, p, capture)
	for idx := range exp {
		if exp[idx] != got[idx] {
			t.Fatalf("[value %d] expected captured value %f; got %f", idx, exp[idx], got[idx])
		}
	}
}

func TestRenderErrors(t *testing.T) {
	p := host.New(1)

	cfg := synthetic.DefaultConfig()
	cfg.Frames = 1
	s := newSession(t, p, testOptions(4, 4), cfg)
	if err := s.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if err := s.RenderFrame(); !errors.Is(err, tracer.ErrNoMoreFrames) {
		t.Fatalf("expected ErrNoMoreFrames; got %v", err)
	}
	s.Close()
	if err := s.RenderFrame(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed; got %v", err)
	}

	opts := testOptions(4, 4)
	opts.TAA = false
	pipeline := DefaultPipeline(opts)
	pipeline.PostProcess = []Stage{TemporalAntiAliasing()}
	tr, err := synthetic.New(synthetic.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	s, err = NewSession(p, tr, pipeline, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err = s.RenderFrame(); !errors.Is(err, ErrStageDisabled) {
		t.Fatalf("expected ErrStageDisabled; got %v", err)
	}
}

func TestNewSessionErrors(t *testing.T) {
	specs := []struct {
		mutate func(*Options)
		expErr error
	}{
		{func(o *Options) { o.FrameW = 0 }, ErrInvalidOptions},
		{func(o *Options) { o.DefaultFOV = 0 }, ErrInvalidOptions},
		{func(o *Options) { o.OutputVariant = frame.Demodulated }, ErrInvalidOptions},
		{func(o *Options) { o.NoisyVariant = frame.FinalFloat }, frame.ErrUnsupportedVariant},
		{func(o *Options) { o.Denoiser = denoiser.SVGF }, denoiser.ErrUnsupportedDenoiser},
		{func(o *Options) { o.Accumulator.MaxSamples = 0 }, accumulator.ErrInvalidConfig},
	}

	p := host.New(1)
	for specIndex, spec := range specs {
		opts := testOptions(4, 4)
		spec.mutate(&opts)

		tr, err := synthetic.New(synthetic.DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		if _, err = NewSession(p, tr, nil, opts); !errors.Is(err, spec.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if _, err := NewSession(p, nil, nil, testOptions(4, 4)); !errors.Is(err, ErrNoTracer) {
		t.Fatalf("expected ErrNoTracer; got %v", err)
	}
}

func TestHalfPrecisionNoisyInput(t *testing.T) {
	opts := testOptions(4, 4)
	opts.NoisyVariant = frame.Demodulated

	s := newSession(t, host.New(1), opts, synthetic.DefaultConfig())
	defer s.Close()

	for i := 0; i < 4; i++ {
		if err := s.RenderFrame(); err != nil {
			t.Fatal(err)
		}
	}
	if f := s.Accumulation().PrevIllu.Format(); f != gpu.FormatRGBA16F {
		t.Fatalf("expected half precision history; got %s", f)
	}
}
