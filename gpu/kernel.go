package gpu

import (
	"fmt"
	"sort"
	"sync"
)

// The kind of resource a kernel binding expects.
type BindingKind uint8

const (
	ImageBinding BindingKind = iota
	BufferBinding
)

// Access mode of a kernel binding.
type Access uint8

const (
	Read Access = 1 << iota
	Write
	ReadWrite = Read | Write
)

// A named kernel input or output.
type Binding struct {
	Name   string
	Kind   BindingKind
	Access Access

	// Expected channel count for image bindings; 0 accepts any format.
	Channels int
}

// An alias for functions that run a kernel on the host. The function
// resolves its bindings once and returns the per-invocation body which is
// called for every (x, y) in the dispatch grid. Invocations may run
// concurrently and must only write to locations owned by their grid cell.
type HostKernel func(res HostResources, push []float32) (Invocation, error)

// The body of a host kernel for a single grid cell.
type Invocation func(x, y int)

// Resolved kernel resources as seen by host kernels.
type HostResources interface {
	Image(name string) *HostImage
	Buffer(name string) []float32
}

// KernelSpec describes a compute kernel: its name (which doubles as the
// entry point of device programs), the ordered list of bindings and an
// optional host implementation.
type KernelSpec struct {
	Name     string
	Bindings []Binding
	Host     HostKernel
}

var kernelRegistry = struct {
	sync.RWMutex
	kernels map[string]*KernelSpec
}{
	kernels: make(map[string]*KernelSpec),
}

// Register a kernel. Registering the same name twice panics.
func RegisterKernel(spec KernelSpec) {
	kernelRegistry.Lock()
	defer kernelRegistry.Unlock()

	if _, exists := kernelRegistry.kernels[spec.Name]; exists {
		panic(fmt.Sprintf("gpu: kernel %q already registered", spec.Name))
	}
	kernelRegistry.kernels[spec.Name] = &spec
}

// Lookup a registered kernel.
func LookupKernel(name string) (*KernelSpec, error) {
	kernelRegistry.RLock()
	defer kernelRegistry.RUnlock()

	spec, exists := kernelRegistry.kernels[name]
	if !exists {
		return nil, fmt.Errorf("%w %q", ErrUnknownKernel, name)
	}
	return spec, nil
}

// Get the sorted list of registered kernel names.
func Kernels() []string {
	kernelRegistry.RLock()
	defer kernelRegistry.RUnlock()

	names := make([]string, 0, len(kernelRegistry.kernels))
	for name := range kernelRegistry.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Named resources passed to CreateComputeDispatch.
type Bindings map[string]Resource

// A compute pipeline: a kernel together with its resolved bindings.
type Pipeline struct {
	id        uint32
	kernel    *KernelSpec
	resources []Resource
}

// Resolve bindings against a kernel signature. Providers call this from
// CreateComputeDispatch so all backends agree on the validation rules.
func NewPipeline(id uint32, kernel *KernelSpec, bindings Bindings) (*Pipeline, error) {
	resources := make([]Resource, len(kernel.Bindings))
	writers := make(map[uint32]int)
	uses := make(map[uint32]int)

	for idx, b := range kernel.Bindings {
		res, exists := bindings[b.Name]
		if !exists || res == nil {
			return nil, fmt.Errorf("%w %q for kernel %q", ErrMissingBinding, b.Name, kernel.Name)
		}

		switch b.Kind {
		case ImageBinding:
			img, isImage := res.(*Image)
			if !isImage {
				return nil, fmt.Errorf("%w: kernel %q expects %q to be an image", ErrBindingMismatch, kernel.Name, b.Name)
			}
			if b.Channels != 0 && img.Format().Channels() != b.Channels {
				return nil, fmt.Errorf("%w: kernel %q expects %q to have %d channels; image %q is %s", ErrBindingMismatch, kernel.Name, b.Name, b.Channels, img.Name(), img.Format())
			}
		case BufferBinding:
			if _, isBuffer := res.(*Buffer); !isBuffer {
				return nil, fmt.Errorf("%w: kernel %q expects %q to be a buffer", ErrBindingMismatch, kernel.Name, b.Name)
			}
		}

		uses[res.ID()]++
		if b.Access&Write != 0 {
			writers[res.ID()]++
		}
		resources[idx] = res
	}

	for id, count := range writers {
		if count > 0 && uses[id] > 1 {
			return nil, fmt.Errorf("%w: kernel %q", ErrAliasedBinding, kernel.Name)
		}
	}

	if len(bindings) != len(kernel.Bindings) {
		for name := range bindings {
			if !kernel.hasBinding(name) {
				return nil, fmt.Errorf("%w: kernel %q has no binding named %q", ErrBindingMismatch, kernel.Name, name)
			}
		}
	}

	return &Pipeline{id: id, kernel: kernel, resources: resources}, nil
}

func (k *KernelSpec) hasBinding(name string) bool {
	for _, b := range k.Bindings {
		if b.Name == name {
			return true
		}
	}
	return false
}

func (p *Pipeline) ID() uint32           { return p.id }
func (p *Pipeline) Kernel() *KernelSpec  { return p.kernel }
func (p *Pipeline) Resources() []Resource { return p.resources }

// Get the resources bound with at least the given access bits.
func (p *Pipeline) resourcesWith(access Access) []Resource {
	var out []Resource
	for idx, b := range p.kernel.Bindings {
		if b.Access&access != 0 {
			out = append(out, p.resources[idx])
		}
	}
	return out
}

// Resources the pipeline writes to.
func (p *Pipeline) Writes() []Resource {
	return p.resourcesWith(Write)
}
