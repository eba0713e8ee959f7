package renderer

import (
	"time"

	"github.com/achilleasa/polaris-denoise/gpu"
)

type FrameStats struct {
	// Index of the rendered frame.
	FrameIndex uint32

	// Name of the active denoiser.
	Denoiser string

	// True if the frame was blended with reprojected history.
	HasHistory bool

	// Number of kernel dispatches recorded for the frame.
	Dispatches int

	// Time spent by the tracer producing the frame inputs.
	TraceTime time.Duration

	// Time spent executing the denoising pipeline.
	DenoiseTime time.Duration

	// Total render time for entire frame.
	RenderTime time.Duration

	// Per-kernel timings; only populated by providers that implement
	// gpu.Profiler.
	Kernels []gpu.KernelTiming
}
