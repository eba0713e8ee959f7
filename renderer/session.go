package renderer

import (
	"fmt"
	"time"

	"github.com/achilleasa/polaris-denoise/camera"
	"github.com/achilleasa/polaris-denoise/denoiser"
	"github.com/achilleasa/polaris-denoise/denoiser/accumulator"
	"github.com/achilleasa/polaris-denoise/denoiser/convert"
	"github.com/achilleasa/polaris-denoise/denoiser/taa"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
	"github.com/achilleasa/polaris-denoise/tracer"
	"github.com/go-gl/mathgl/mgl32"
)

// Session owns the frame buffers and passes of a denoising pipeline and
// drives them one frame at a time.
type Session struct {
	logger   log.Logger
	opts     Options
	provider gpu.Provider
	tracer   tracer.Tracer
	pipeline *Pipeline

	// Frame buffers.
	gbuffer *frame.GBuffer
	noisy   *frame.IlluminationBuffer
	accum   *frame.AccumulationBuffer
	output  *frame.IlluminationBuffer

	// Passes. Exactly one of taa and modulator is set.
	accumulator *accumulator.Accumulator
	denoiser    denoiser.Denoiser
	taa         *taa.Taa
	modulator   *convert.Modulator
	converter   *convert.Converter

	// Camera state.
	cameras     *camera.History
	defaultProj mgl32.Mat4
	curCamera   camera.Matrices
	prevCamera  camera.Matrices

	frameIndex uint32
	hasHistory bool
	closed     bool
	stats      FrameStats
}

// Create a new session that renders frames produced by tr on the given
// provider. If pipeline is nil the default pipeline for opts is used. The
// session takes ownership of the tracer; the provider remains owned by the
// caller.
func NewSession(p gpu.Provider, tr tracer.Tracer, pipeline *Pipeline, opts Options) (*Session, error) {
	if tr == nil {
		return nil, ErrNoTracer
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if pipeline == nil {
		pipeline = DefaultPipeline(opts)
	}

	s := &Session{
		logger:   log.New("renderer"),
		opts:     opts,
		provider: p,
		tracer:   tr,
		pipeline: pipeline,
		cameras:  camera.NewHistory(),
	}
	if err := s.allocate(); err != nil {
		s.release()
		return nil, err
	}

	s.logger.Noticef(
		"session ready: %dx%d on %s (tracer %s, denoiser %s, taa %t)",
		opts.FrameW, opts.FrameH, p.Name(), tr.Id(), s.denoiser.Name(), opts.TAA,
	)
	return s, nil
}

// Allocate frame buffers and compile all passes for the current options.
func (s *Session) allocate() error {
	var err error
	w, h := int(s.opts.FrameW), int(s.opts.FrameH)
	p := s.provider

	s.defaultProj = mgl32.Perspective(mgl32.DegToRad(s.opts.DefaultFOV), float32(w)/float32(h), 0.1, 1000)

	if s.gbuffer, err = frame.NewGBuffer(p, w, h); err != nil {
		return err
	}
	if s.noisy, err = frame.NewIlluminationBuffer(p, s.opts.NoisyVariant, "noisy-", w, h); err != nil {
		return err
	}
	illuFormat := s.noisy.MustImage(frame.ChannelIllumination).Format()
	if s.accum, err = frame.NewAccumulationBuffer(p, w, h, illuFormat); err != nil {
		return err
	}
	if s.output, err = frame.NewIlluminationBuffer(p, s.opts.OutputVariant, "out-", w, h); err != nil {
		return err
	}

	s.accumulator = accumulator.New(s.opts.Accumulator)
	if err = s.accumulator.Compile(p, s.gbuffer, s.noisy, s.accum); err != nil {
		return err
	}

	if s.denoiser, err = s.opts.newDenoiser(); err != nil {
		return err
	}
	err = s.denoiser.Compile(p, denoiser.Inputs{
		GBuffer:      s.gbuffer,
		Illumination: s.accumulator.Output(),
		Accumulation: s.accum,
	})
	if err != nil {
		return err
	}

	var colour *frame.IlluminationBuffer
	if s.opts.TAA {
		s.taa = taa.New(s.opts.TAAConfig)
		if err = s.taa.Compile(p, s.gbuffer, s.denoiser.Output(), s.accum); err != nil {
			return err
		}
		colour = s.taa.Output()
	} else {
		s.modulator = convert.NewModulator()
		if err = s.modulator.Compile(p, s.gbuffer, s.denoiser.Output()); err != nil {
			return err
		}
		colour = s.modulator.Output()
	}

	s.converter = convert.New(s.opts.Output)
	return s.converter.Compile(p, colour.MustImage(frame.ChannelOutput), s.output.MustImage(frame.ChannelOutput))
}

// Release all passes and frame buffers. Safe to call on a partially
// allocated session.
func (s *Session) release() {
	if s.converter != nil {
		s.converter.Release()
		s.converter = nil
	}
	if s.modulator != nil {
		s.modulator.Release()
		s.modulator = nil
	}
	if s.taa != nil {
		s.taa.Release()
		s.taa = nil
	}
	if s.denoiser != nil {
		s.denoiser.Release()
		s.denoiser = nil
	}
	if s.accumulator != nil {
		s.accumulator.Release()
		s.accumulator = nil
	}
	if s.output != nil {
		s.output.Release(s.provider)
		s.output = nil
	}
	if s.accum != nil {
		s.accum.Release(s.provider)
		s.accum = nil
	}
	if s.noisy != nil {
		s.noisy.Release(s.provider)
		s.noisy = nil
	}
	if s.gbuffer != nil {
		s.gbuffer.Release(s.provider)
		s.gbuffer = nil
	}
}

// Render the next frame: trace it, record every pipeline stage into a
// single command list and execute it.
func (s *Session) RenderFrame() error {
	if s.closed {
		return ErrClosed
	}

	start := time.Now()
	mats, err := s.tracer.Trace(s.provider, s.frameIndex, tracer.Target{GBuffer: s.gbuffer, Illumination: s.noisy})
	if err != nil {
		return fmt.Errorf("renderer: frame %d: %w", s.frameIndex, err)
	}
	traceTime := time.Since(start)

	s.curCamera = mats.WithDefaultProjection(s.defaultProj)
	if s.hasHistory {
		s.prevCamera, _ = s.cameras.Prev(s.cameras.Len())
	}

	cmds := gpu.NewCommandList()
	if s.hasHistory && s.opts.ResetOnCameraMove && !s.curCamera.Equal(s.prevCamera) {
		if s.pipeline.Reset != nil {
			if err = s.pipeline.Reset(s, cmds); err != nil {
				return err
			}
		}
		s.hasHistory = false
		s.logger.Debugf("frame %d: camera moved; history cleared", s.frameIndex)
	}

	for _, stage := range s.pipeline.frameStages() {
		if err = stage(s, cmds); err != nil {
			return fmt.Errorf("renderer: frame %d: %w", s.frameIndex, err)
		}
	}

	denoiseStart := time.Now()
	if err = s.provider.Submit(cmds); err != nil {
		return fmt.Errorf("renderer: frame %d: %w", s.frameIndex, err)
	}
	if err = s.provider.WaitIdle(); err != nil {
		return fmt.Errorf("renderer: frame %d: %w", s.frameIndex, err)
	}
	s.cameras.Append(s.curCamera)

	s.stats = FrameStats{
		FrameIndex:  s.frameIndex,
		Denoiser:    s.denoiser.Name(),
		HasHistory:  s.hasHistory,
		Dispatches:  cmds.DispatchCount(),
		TraceTime:   traceTime,
		DenoiseTime: time.Since(denoiseStart),
		RenderTime:  time.Since(start),
	}
	if profiler, ok := s.provider.(gpu.Profiler); ok {
		s.stats.Kernels = profiler.KernelTimings()
		profiler.ResetTimings()
	}

	s.logger.Debugf("frame %d rendered in %s (%d dispatches)", s.frameIndex, s.stats.RenderTime, s.stats.Dispatches)
	s.hasHistory = true
	s.frameIndex++
	return nil
}

// Discard the accumulated history. The next frame starts from scratch.
func (s *Session) ResetHistory() error {
	if s.closed {
		return ErrClosed
	}
	if s.pipeline.Reset != nil {
		cmds := gpu.NewCommandList()
		if err := s.pipeline.Reset(s, cmds); err != nil {
			return err
		}
		if err := s.provider.Submit(cmds); err != nil {
			return err
		}
		if err := s.provider.WaitIdle(); err != nil {
			return err
		}
	}
	s.cameras.Reset()
	s.hasHistory = false
	return nil
}

// Skip the current frame without rendering it. History is discarded since
// the next frame no longer follows the last rendered one.
func (s *Session) SkipFrame() error {
	if err := s.ResetHistory(); err != nil {
		return err
	}
	s.logger.Infof("skipped frame %d", s.frameIndex)
	s.frameIndex++
	return nil
}

// Reallocate all buffers for a new frame size. History is discarded.
func (s *Session) Resize(width, height uint32) error {
	if s.closed {
		return ErrClosed
	}
	opts := s.opts
	opts.FrameW, opts.FrameH = width, height
	if err := opts.Validate(); err != nil {
		return err
	}

	s.release()
	s.opts = opts
	if err := s.allocate(); err != nil {
		s.release()
		s.closed = true
		return err
	}
	s.cameras.Reset()
	s.hasHistory = false
	s.logger.Infof("resized to %dx%d", width, height)
	return nil
}

// Update the output transform. Takes effect on the next frame.
func (s *Session) SetOutputConfig(cfg convert.Config) {
	s.opts.Output = cfg
	s.converter.SetConfig(cfg)
}

// Read back the final output image.
func (s *Session) ReadOutput() ([]float32, error) {
	if s.closed {
		return nil, ErrClosed
	}
	img := s.output.MustImage(frame.ChannelOutput)
	data := make([]float32, img.Len())
	if err := s.provider.ReadImage(img, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Shutdown the session and its tracer.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.release()
	s.tracer.Close()
	s.closed = true
}

// Get statistics for the last rendered frame.
func (s *Session) Stats() FrameStats {
	return s.stats
}

func (s *Session) Options() Options                        { return s.opts }
func (s *Session) Provider() gpu.Provider                  { return s.provider }
func (s *Session) FrameIndex() uint32                      { return s.frameIndex }
func (s *Session) HasHistory() bool                        { return s.hasHistory }
func (s *Session) Cameras() *camera.History                { return s.cameras }
func (s *Session) GBuffer() *frame.GBuffer                 { return s.gbuffer }
func (s *Session) Noisy() *frame.IlluminationBuffer        { return s.noisy }
func (s *Session) Accumulation() *frame.AccumulationBuffer { return s.accum }
func (s *Session) Accumulated() *frame.IlluminationBuffer  { return s.accumulator.Output() }
func (s *Session) Denoised() *frame.IlluminationBuffer     { return s.denoiser.Output() }
func (s *Session) Output() *frame.IlluminationBuffer       { return s.output }

var _ Renderer = (*Session)(nil)
