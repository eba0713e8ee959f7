//go:build opencl

package opencl

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/log"
	"github.com/jgillich/go-opencl/cl"
)

//go:embed kernels/denoise.cl
var programSource string

const (
	quantizeUnorm8Kernel = "quantizeUnorm8"
	quantizeHalfKernel   = "quantizeHalf"

	floatSize = 4
)

type memObject struct {
	mem  *cl.MemObject
	size int

	// Set for images only.
	image *gpu.Image

	// Scratch space for rounding RGBA16F images through half precision.
	scratch *cl.MemObject
}

type kernel struct {
	kernel *cl.Kernel

	// Push constant storage; the queue is in-order so a single buffer per
	// kernel can be rewritten between dispatches.
	push    *cl.MemObject
	pushCap int
}

// Provider executes kernels on an opencl device. All commands are enqueued
// on a single in-order queue, so barriers need no device-side work.
type Provider struct {
	logger log.Logger
	cfg    Config
	device *Device

	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program

	mu      sync.Mutex
	nextID  uint32
	objects map[uint32]*memObject
	kernels map[string]*kernel
	layouts *gpu.LayoutTable
	timings map[string]*gpu.KernelTiming
}

// Select a device matching cfg, build the denoising program for it and
// create a provider.
func New(cfg Config) (*Provider, error) {
	devices, err := SelectDevices(cfg.DeviceType, cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w (type %s, name %q)", ErrNoDevice, cfg.DeviceType, cfg.DeviceName)
	}
	return NewWithDevice(devices[0], cfg)
}

// Create a provider for a specific device.
func NewWithDevice(device *Device, cfg Config) (*Provider, error) {
	if device == nil || device.ref == nil {
		return nil, ErrNoDevice
	}

	p := &Provider{
		logger:  log.New("opencl"),
		cfg:     cfg,
		device:  device,
		objects: make(map[uint32]*memObject),
		kernels: make(map[string]*kernel),
		layouts: gpu.NewLayoutTable(),
		timings: make(map[string]*gpu.KernelTiming),
	}

	var err error
	if p.context, err = cl.CreateContext([]*cl.Device{device.ref}); err != nil {
		return nil, fmt.Errorf("opencl device (%s): could not create context: %w", device.Name, err)
	}
	if p.queue, err = p.context.CreateCommandQueue(device.ref, 0); err != nil {
		p.Close()
		return nil, fmt.Errorf("opencl device (%s): could not create command queue: %w", device.Name, err)
	}
	if p.program, err = p.context.CreateProgramWithSource([]string{programSource}); err != nil {
		p.Close()
		return nil, fmt.Errorf("opencl device (%s): could not create program: %w", device.Name, err)
	}
	if err = p.program.BuildProgram([]*cl.Device{device.ref}, ""); err != nil {
		p.Close()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("%w on %s:\n%s", ErrBuild, device.Name, string(buildErr))
		}
		return nil, fmt.Errorf("%w on %s: %v", ErrBuild, device.Name, err)
	}

	// Create kernels for every registered host kernel up front; pipelines
	// for kernels missing from the program fail in CreateComputeDispatch.
	for _, name := range gpu.Kernels() {
		if _, err = p.kernel(name); err != nil {
			p.logger.Warningf("kernel %q has no opencl implementation", name)
		}
	}

	p.logger.Noticef("using opencl device %s (%s, %d GFlops)", device.Name, device.Type, device.Speed)
	return p, nil
}

func (p *Provider) Name() string {
	return fmt.Sprintf("opencl (%s)", p.device.Name)
}

// The device used by the provider.
func (p *Provider) Device() *Device {
	return p.device
}

func (p *Provider) CreateImage(name string, width, height int, format gpu.Format, usage gpu.Usage) (*gpu.Image, error) {
	if width <= 0 || height <= 0 || format.Channels() == 0 {
		return nil, fmt.Errorf("%w: image %q (%dx%d %s)", gpu.ErrInvalidSize, name, width, height, format)
	}

	size := width * height * format.Channels()
	mem, err := p.allocate(name, size)
	if err != nil {
		return nil, err
	}
	obj := &memObject{mem: mem, size: size}
	if format == gpu.FormatRGBA16F {
		// Half values take two bytes; round up to whole floats.
		if obj.scratch, err = p.allocate(name+"-scratch", (size+1)/2); err != nil {
			mem.Release()
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	obj.image = gpu.NewImageHandle(p.nextID, name, width, height, format, usage)
	p.objects[p.nextID] = obj
	p.layouts.Track(obj.image)

	p.logger.Debugf("allocated image %q (%dx%d %s)", name, width, height, format)
	return obj.image, nil
}

func (p *Provider) CreateBuffer(name string, size int, usage gpu.Usage) (*gpu.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: buffer %q (size %d)", gpu.ErrInvalidSize, name, size)
	}

	mem, err := p.allocate(name, size)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	handle := gpu.NewBufferHandle(p.nextID, name, size, usage)
	p.objects[handle.ID()] = &memObject{mem: mem, size: size}

	p.logger.Debugf("allocated buffer %q (%d floats)", name, size)
	return handle, nil
}

// Allocate a zeroed device buffer holding size floats.
func (p *Provider) allocate(name string, size int) (*cl.MemObject, error) {
	mem, err := p.context.CreateEmptyBuffer(cl.MemReadWrite, size*floatSize)
	if err != nil {
		return nil, fmt.Errorf("opencl: could not allocate %q (%d floats): %w", name, size, err)
	}
	if _, err = p.queue.EnqueueWriteBufferFloat32(mem, true, 0, make([]float32, size), nil); err != nil {
		mem.Release()
		return nil, fmt.Errorf("opencl: could not clear %q: %w", name, err)
	}
	return mem, nil
}

func (p *Provider) CreateComputeDispatch(name string, bindings gpu.Bindings) (*gpu.Pipeline, error) {
	spec, err := gpu.LookupKernel(name)
	if err != nil {
		return nil, err
	}
	if _, err = p.kernel(name); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	return gpu.NewPipeline(id, spec, bindings)
}

// Get a kernel from the program, creating it on first use.
func (p *Provider) kernel(name string) (*kernel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if k, exists := p.kernels[name]; exists {
		return k, nil
	}
	clKernel, err := p.program.CreateKernel(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: not found in opencl program: %v", gpu.ErrUnknownKernel, name, err)
	}
	k := &kernel{kernel: clKernel}
	p.kernels[name] = k
	return k, nil
}

// Submit validates the command list and enqueues it. Use WaitIdle to wait
// for completion.
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
			return fmt.Errorf("opencl: command %d (%s): %w", idx, cmd, err)
		}
	}
	return p.queue.Flush()
}

func (p *Provider) WaitIdle() error {
	return p.queue.Finish()
}

func (p *Provider) ReadImage(img *gpu.Image, dst []float32) error {
	obj, err := p.lookup(img)
	if err != nil {
		return err
	}
	if err = p.layouts.Require(img, gpu.LayoutGeneral); err != nil {
		return err
	}
	if len(dst) != obj.size {
		return fmt.Errorf("%w: reading %d values from image %q of length %d", gpu.ErrFormatMismatch, len(dst), img.Name(), obj.size)
	}
	_, err = p.queue.EnqueueReadBufferFloat32(obj.mem, true, 0, dst, nil)
	return err
}

func (p *Provider) WriteImage(img *gpu.Image, src []float32) error {
	obj, err := p.lookup(img)
	if err != nil {
		return err
	}
	if err = p.layouts.Require(img, gpu.LayoutGeneral); err != nil {
		return err
	}
	if len(src) != obj.size {
		return fmt.Errorf("%w: writing %d values to image %q of length %d", gpu.ErrFormatMismatch, len(src), img.Name(), obj.size)
	}
	if _, err = p.queue.EnqueueWriteBufferFloat32(obj.mem, true, 0, src, nil); err != nil {
		return err
	}
	return p.quantize(obj)
}

func (p *Provider) ReadBuffer(buf *gpu.Buffer, dst []float32) error {
	obj, err := p.lookup(buf)
	if err != nil {
		return err
	}
	if len(dst) != obj.size {
		return fmt.Errorf("%w: reading %d values from buffer %q of size %d", gpu.ErrFormatMismatch, len(dst), buf.Name(), obj.size)
	}
	_, err = p.queue.EnqueueReadBufferFloat32(obj.mem, true, 0, dst, nil)
	return err
}

func (p *Provider) WriteBuffer(buf *gpu.Buffer, src []float32) error {
	obj, err := p.lookup(buf)
	if err != nil {
		return err
	}
	if len(src) != obj.size {
		return fmt.Errorf("%w: writing %d values to buffer %q of size %d", gpu.ErrFormatMismatch, len(src), buf.Name(), obj.size)
	}
	_, err = p.queue.EnqueueWriteBufferFloat32(obj.mem, true, 0, src, nil)
	return err
}

// Release device memory. Commands already enqueued keep their buffers
// alive until they complete.
func (p *Provider) Release(resources ...gpu.Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, res := range resources {
		if res == nil {
			continue
		}
		if obj, exists := p.objects[res.ID()]; exists {
			obj.release()
			delete(p.objects, res.ID())
		}
		p.layouts.Forget(res.ID())
	}
}

func (p *Provider) Close() {
	if p.queue != nil {
		p.queue.Finish()
	}

	p.mu.Lock()
	for id, obj := range p.objects {
		obj.release()
		p.layouts.Forget(id)
	}
	p.objects = make(map[uint32]*memObject)
	for name, k := range p.kernels {
		k.release()
		delete(p.kernels, name)
	}
	p.mu.Unlock()

	if p.program != nil {
		p.program.Release()
		p.program = nil
	}
	if p.queue != nil {
		p.queue.Release()
		p.queue = nil
	}
	if p.context != nil {
		p.context.Release()
		p.context = nil
	}
}

// Implements gpu.Profiler. Timings only cover device execution when the
// provider was created with Config.Profile set; otherwise they measure
// enqueue time.
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

func (p *Provider) lookup(res gpu.Resource) (*memObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, exists := p.objects[res.ID()]
	if !exists {
		return nil, fmt.Errorf("%w: %q", gpu.ErrReleased, res.Name())
	}
	return obj, nil
}

func (p *Provider) copyImage(src, dst *gpu.Image) error {
	srcObj, err := p.lookup(src)
	if err != nil {
		return err
	}
	dstObj, err := p.lookup(dst)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueCopyBuffer(srcObj.mem, dstObj.mem, 0, 0, srcObj.size*floatSize, nil)
	return err
}

func (p *Provider) fill(dst *gpu.Image, value []float32) error {
	obj, err := p.lookup(dst)
	if err != nil {
		return err
	}

	data := gpu.NewHostImage(dst.Width(), dst.Height(), dst.Format().Channels())
	data.Fill(value)
	if _, err = p.queue.EnqueueWriteBufferFloat32(obj.mem, true, 0, data.Pix, nil); err != nil {
		return err
	}
	return p.quantize(obj)
}

func (p *Provider) dispatch(cmd gpu.Command) error {
	spec := cmd.Pipeline.Kernel()
	k, err := p.kernel(spec.Name)
	if err != nil {
		return err
	}

	push := cmd.Push
	if len(push) == 0 {
		push = []float32{0}
	}
	if err = k.upload(p, push); err != nil {
		return err
	}

	var imgW, imgH int32
	args := make([]interface{}, 0, len(spec.Bindings)+5)
	written := make([]*memObject, 0, 1)
	for idx, b := range spec.Bindings {
		res := cmd.Pipeline.Resources()[idx]
		obj, err := p.lookup(res)
		if err != nil {
			return err
		}
		args = append(args, obj.mem)

		if obj.image == nil {
			continue
		}
		if imgW == 0 {
			imgW, imgH = int32(obj.image.Width()), int32(obj.image.Height())
		}
		if b.Access&gpu.Write != 0 && obj.image.Format().Quantized() {
			written = append(written, obj)
		}
	}
	if imgW == 0 {
		imgW, imgH = int32(cmd.Width), int32(cmd.Height)
	}
	args = append(args, k.push, int32(cmd.Width), int32(cmd.Height), imgW, imgH)

	start := time.Now()
	if err = k.kernel.SetArgs(args...); err != nil {
		return fmt.Errorf("kernel %q: could not set arguments: %w", spec.Name, err)
	}
	if _, err = p.queue.EnqueueNDRangeKernel(k.kernel, nil, []int{cmd.Width, cmd.Height}, nil, nil); err != nil {
		return fmt.Errorf("kernel %q: %w", spec.Name, err)
	}
	for _, obj := range written {
		if err = p.quantize(obj); err != nil {
			return err
		}
	}
	if p.cfg.Profile {
		if err = p.queue.Finish(); err != nil {
			return err
		}
	}

	p.recordTiming(spec.Name, cmd.Width*cmd.Height, time.Since(start))
	return nil
}

// Enqueue the rounding of an image to the precision of its format.
func (p *Provider) quantize(obj *memObject) error {
	if obj.image == nil {
		return nil
	}

	var (
		k   *kernel
		err error
	)
	switch obj.image.Format() {
	case gpu.FormatRGBA8:
		if k, err = p.kernel(quantizeUnorm8Kernel); err == nil {
			err = k.kernel.SetArgs(obj.mem, int32(obj.size))
		}
	case gpu.FormatRGBA16F:
		if k, err = p.kernel(quantizeHalfKernel); err == nil {
			err = k.kernel.SetArgs(obj.mem, obj.scratch, int32(obj.size))
		}
	default:
		return nil
	}
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueNDRangeKernel(k.kernel, nil, []int{obj.size}, nil, nil)
	return err
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

// Write the push constant block, growing the storage when needed.
func (k *kernel) upload(p *Provider, push []float32) error {
	if len(push) > k.pushCap {
		if k.push != nil {
			k.push.Release()
		}
		mem, err := p.context.CreateEmptyBuffer(cl.MemReadOnly, len(push)*floatSize)
		if err != nil {
			return fmt.Errorf("opencl: could not allocate push constants: %w", err)
		}
		k.push, k.pushCap = mem, len(push)
	}
	_, err := p.queue.EnqueueWriteBufferFloat32(k.push, true, 0, push, nil)
	return err
}

func (k *kernel) release() {
	if k.push != nil {
		k.push.Release()
	}
	k.kernel.Release()
}

func (obj *memObject) release() {
	if obj.scratch != nil {
		obj.scratch.Release()
	}
	obj.mem.Release()
}
