package gpu

import "time"

// Provider is the capability surface the denoising pipeline needs from a
// compute backend.
type Provider interface {
	// Provider name for logs and stats.
	Name() string

	// Allocate a 2D image. New images are in the undefined layout and must be
	// transitioned to the general layout before use.
	CreateImage(name string, width, height int, format Format, usage Usage) (*Image, error)

	// Allocate a linear buffer holding size float32 values.
	CreateBuffer(name string, size int, usage Usage) (*Buffer, error)

	// Build a pipeline for a registered kernel, resolving its bindings by name.
	CreateComputeDispatch(kernel string, bindings Bindings) (*Pipeline, error)

	// Validate and execute a command list. Execution may be asynchronous;
	// call WaitIdle before reading results back.
	Submit(cmds *CommandList) error

	// Block until all submitted work completes.
	WaitIdle() error

	// Host transfers. The image must be in the general layout and the
	// slice length must equal Image.Len() / Buffer.Size().
	ReadImage(img *Image, dst []float32) error
	WriteImage(img *Image, src []float32) error
	ReadBuffer(buf *Buffer, dst []float32) error
	WriteBuffer(buf *Buffer, src []float32) error

	// Release resources. Released handles must not be used again.
	Release(resources ...Resource)

	// Release all resources and shut down the provider.
	Close()
}

// Execution statistics for one kernel.
type KernelTiming struct {
	Kernel      string
	Dispatches  int
	Invocations int
	Time        time.Duration
}

// Profiler is implemented by providers that can report per-kernel timings.
type Profiler interface {
	// Get timings collected since the last reset, sorted by kernel name.
	KernelTimings() []KernelTiming

	// Clear collected timings.
	ResetTimings()
}

// Record the transitions that move images from the undefined into the
// general layout and submit them.
func InitImages(p Provider, images ...*Image) error {
	cmds := NewCommandList()
	for _, img := range images {
		cmds.Transition(img, LayoutUndefined, LayoutGeneral)
	}
	return p.Submit(cmds)
}
