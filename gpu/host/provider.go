package host

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
	"golang.org/x/sync/errgroup"
)

type image struct {
	handle *gpu.Image
	data   *gpu.HostImage
}

// Provider executes kernels on the host. Each dispatch grid is split into
// row bands which are processed concurrently; commands themselves run in
// submission order.
type Provider struct {
	logger  log.Logger
	workers int

	mu      sync.Mutex
	nextID  uint32
	images  map[uint32]*image
	buffers map[uint32][]float32
	layouts *gpu.LayoutTable
	timings map[string]*gpu.KernelTiming
}

// Create a host provider using the given number of workers. A non-positive
// value selects one worker per CPU.
func New(workers int) *Provider {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Provider{
		logger:  log.New("host"),
		workers: workers,
		images:  make(map[uint32]*image),
		buffers: make(map[uint32][]float32),
		layouts: gpu.NewLayoutTable(),
		timings: make(map[string]*gpu.KernelTiming),
	}
	p.logger.Infof("created host provider with %d workers", workers)
	return p
}

func (p *Provider) Name() string {
	return fmt.Sprintf("host (%d workers)", p.workers)
}

func (p *Provider) CreateImage(name string, width, height int, format gpu.Format, usage gpu.Usage) (*gpu.Image, error) {
	if width <= 0 || height <= 0 || format.Channels() == 0 {
		return nil, fmt.Errorf("%w: image %q (%dx%d %s)", gpu.ErrInvalidSize, name, width, height, format)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	handle := gpu.NewImageHandle(p.nextID, name, width, height, format, usage)
	p.images[handle.ID()] = &image{
		handle: handle,
		data:   gpu.NewHostImage(width, height, format.Channels()),
	}
	p.layouts.Track(handle)

	p.logger.Debugf("allocated image %q (%dx%d %s)", name, width, height, format)
	return handle, nil
}

func (p *Provider) CreateBuffer(name string, size int, usage gpu.Usage) (*gpu.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: buffer %q (size %d)", gpu.ErrInvalidSize, name, size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	handle := gpu.NewBufferHandle(p.nextID, name, size, usage)
	p.buffers[handle.ID()] = make([]float32, size)

	p.logger.Debugf("allocated buffer %q (%d floats)", name, size)
	return handle, nil
}

func (p *Provider) CreateComputeDispatch(kernel string, bindings gpu.Bindings) (*gpu.Pipeline, error) {
	spec, err := gpu.LookupKernel(kernel)
	if err != nil {
		return nil, err
	}
	if spec.Host == nil {
		return nil, fmt.Errorf("%w: kernel %q has no host implementation", gpu.ErrUnknownKernel, kernel)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	return gpu.NewPipeline(id, spec, bindings)
}

// Submit validates the command list and then runs it to completion.
func (p *Provider) Submit(cmds *gpu.CommandList) error {
	if err := gpu.Validate(cmds); err != nil {
		return err
	}
	if err := p.layouts.Apply(cmds); err != nil {
		return err
	}

	for idx, cmd := range cmds.Commands() {
		var err error
		switch cmd.Kind {
		case gpu.CmdDispatch:
			err = p.dispatch(cmd)
		case gpu.CmdCopyImage:
			err = p.copyImage(cmd.Src, cmd.Dst)
		case gpu.CmdFill:
			err = p.fill(cmd.Dst, cmd.Value)
		}
		if err != nil {
			return fmt.Errorf("host: command %d (%s): %w", idx, cmd, err)
		}
	}
	return nil
}

// Commands run synchronously inside Submit so there is nothing to wait for.
func (p *Provider) WaitIdle() error {
	return nil
}

func (p *Provider) ReadImage(img *gpu.Image, dst []float32) error {
	data, err := p.hostImage(img)
	if err != nil {
		return err
	}
	if err = p.layouts.Require(img, gpu.LayoutGeneral); err != nil {
		return err
	}
	if len(dst) != len(data.Pix) {
		return fmt.Errorf("%w: reading %d values from image %q of length %d", gpu.ErrFormatMismatch, len(dst), img.Name(), len(data.Pix))
	}
	copy(dst, data.Pix)
	return nil
}

func (p *Provider) WriteImage(img *gpu.Image, src []float32) error {
	data, err := p.hostImage(img)
	if err != nil {
		return err
	}
	if err = p.layouts.Require(img, gpu.LayoutGeneral); err != nil {
		return err
	}
	if len(src) != len(data.Pix) {
		return fmt.Errorf("%w: writing %d values to image %q of length %d", gpu.ErrFormatMismatch, len(src), img.Name(), len(data.Pix))
	}
	copy(data.Pix, src)
	quantize(img.Format(), data.Pix)
	return nil
}

func (p *Provider) ReadBuffer(buf *gpu.Buffer, dst []float32) error {
	data, err := p.hostBuffer(buf)
	if err != nil {
		return err
	}
	if len(dst) != len(data) {
		return fmt.Errorf("%w: reading %d values from buffer %q of size %d", gpu.ErrFormatMismatch, len(dst), buf.Name(), len(data))
	}
	copy(dst, data)
	return nil
}

func (p *Provider) WriteBuffer(buf *gpu.Buffer, src []float32) error {
	data, err := p.hostBuffer(buf)
	if err != nil {
		return err
	}
	if len(src) != len(data) {
		return fmt.Errorf("%w: writing %d values to buffer %q of size %d", gpu.ErrFormatMismatch, len(src), buf.Name(), len(data))
	}
	copy(data, src)
	return nil
}

func (p *Provider) Release(resources ...gpu.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, res := range resources {
		if res == nil {
			continue
		}
		delete(p.images, res.ID())
		delete(p.buffers, res.ID())
		p.layouts.Forget(res.ID())
	}
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.images {
		p.layouts.Forget(id)
	}
	p.images = make(map[uint32]*image)
	p.buffers = make(map[uint32][]float32)
}

// Implements gpu.Profiler.
func (p *Provider) KernelTimings() []gpu.KernelTiming {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]gpu.KernelTiming, 0, len(p.timings))
	for _, t := range p.timings {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kernel < out[j].Kernel })
	return out
}

// Implements gpu.Profiler.
func (p *Provider) ResetTimings() {
	p.mu.Lock()
	p.timings = make(map[string]*gpu.KernelTiming)
	p.mu.Unlock()
}

func (p *Provider) hostImage(img *gpu.Image) (*gpu.HostImage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.images[img.ID()]
	if !exists {
		return nil, fmt.Errorf("%w: image %q", gpu.ErrReleased, img.Name())
	}
	return entry.data, nil
}

func (p *Provider) hostBuffer(buf *gpu.Buffer) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, exists := p.buffers[buf.ID()]
	if !exists {
		return nil, fmt.Errorf("%w: buffer %q", gpu.ErrReleased, buf.Name())
	}
	return data, nil
}

func (p *Provider) copyImage(src, dst *gpu.Image) error {
	srcData, err := p.hostImage(src)
	if err != nil {
		return err
	}
	dstData, err := p.hostImage(dst)
	if err != nil {
		return err
	}
	copy(dstData.Pix, srcData.Pix)
	return nil
}

func (p *Provider) fill(dst *gpu.Image, value []float32) error {
	data, err := p.hostImage(dst)
	if err != nil {
		return err
	}
	data.Fill(value)
	quantize(dst.Format(), data.Pix)
	return nil
}

func (p *Provider) dispatch(cmd gpu.Command) error {
	kernel := cmd.Pipeline.Kernel()
	res, err := p.resolve(cmd.Pipeline)
	if err != nil {
		return err
	}

	start := time.Now()
	body, err := kernel.Host(res, cmd.Push)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, b := range splitRows(cmd.Height, p.workers) {
		b := b
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel %q panicked in rows [%d, %d): %v", kernel.Name, b.Y0, b.Y1, r)
				}
			}()
			for y := b.Y0; y < b.Y1; y++ {
				for x := 0; x < cmd.Width; x++ {
					body(x, y)
				}
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	for idx, b := range kernel.Bindings {
		if b.Kind != gpu.ImageBinding || b.Access&gpu.Write == 0 {
			continue
		}
		if format := cmd.Pipeline.Resources()[idx].(*gpu.Image).Format(); format.Quantized() {
			quantize(format, res.images[b.Name].Pix)
		}
	}

	p.recordTiming(kernel.Name, cmd.Width*cmd.Height, time.Since(start))
	return nil
}

func (p *Provider) recordTiming(kernel string, invocations int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, exists := p.timings[kernel]
	if !exists {
		t = &gpu.KernelTiming{Kernel: kernel}
		p.timings[kernel] = t
	}
	t.Dispatches++
	t.Invocations += invocations
	t.Time += elapsed
}

// Map the pipeline bindings to host storage.
func (p *Provider) resolve(pipeline *gpu.Pipeline) (*hostResources, error) {
	kernel := pipeline.Kernel()
	res := &hostResources{
		images:  make(map[string]*gpu.HostImage),
		buffers: make(map[string][]float32),
	}

	for idx, b := range kernel.Bindings {
		bound := pipeline.Resources()[idx]
		switch b.Kind {
		case gpu.ImageBinding:
			data, err := p.hostImage(bound.(*gpu.Image))
			if err != nil {
				return nil, err
			}
			res.images[b.Name] = data
		case gpu.BufferBinding:
			data, err := p.hostBuffer(bound.(*gpu.Buffer))
			if err != nil {
				return nil, err
			}
			res.buffers[b.Name] = data
		}
	}
	return res, nil
}

type hostResources struct {
	images  map[string]*gpu.HostImage
	buffers map[string][]float32
}

func (r *hostResources) Image(name string) *gpu.HostImage {
	return r.images[name]
}

func (r *hostResources) Buffer(name string) []float32 {
	return r.buffers[name]
}
