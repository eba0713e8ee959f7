package host

import (
	"errors"
	"testing"

	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/types"
)

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: "test_scale",
		Bindings: []gpu.Binding{
			{Name: "src", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "dst", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: func(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
			src, dst := res.Image("src"), res.Image("dst")
			scale := push[0]
			return func(x, y int) {
				dst.SetVec4(x, y, src.Vec4(x, y).Vec3().Mul(scale).Vec4(1))
			}, nil
		},
	})
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: "test_sum_rows",
		Bindings: []gpu.Binding{
			{Name: "src", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: "sums", Kind: gpu.BufferBinding, Access: gpu.Write},
		},
		Host: func(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
			src, sums := res.Image("src"), res.Buffer("sums")
			return func(x, y int) {
				var sum float32
				for sx := 0; sx < src.Width; sx++ {
					sum += src.Float(sx, y)
				}
				sums[y] = sum
			}, nil
		},
	})
}

func createImages(t *testing.T, p *Provider, w, h int, format gpu.Format, names ...string) []*gpu.Image {
	images := make([]*gpu.Image, len(names))
	for idx, name := range names {
		img, err := p.CreateImage(name, w, h, format, gpu.UsageDefault)
		if err != nil {
			t.Fatal(err)
		}
		images[idx] = img
	}
	if err := gpu.InitImages(p, images...); err != nil {
		t.Fatal(err)
	}
	return images
}

func TestDispatch(t *testing.T) {
	p := New(3)
	defer p.Close()

	images := createImages(t, p, 5, 7, gpu.FormatRGBA32F, "src", "dst")
	src := make([]float32, images[0].Len())
	for idx := range src {
		src[idx] = float32(idx)
	}
	if err := p.WriteImage(images[0], src); err != nil {
		t.Fatal(err)
	}

	pipeline, err := p.CreateComputeDispatch("test_scale", gpu.Bindings{"src": images[0], "dst": images[1]})
	if err != nil {
		t.Fatal(err)
	}

	cmds := gpu.NewCommandList()
	cmds.Dispatch(pipeline, []float32{2}, 5, 7)
	if err = p.Submit(cmds); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, images[1].Len())
	if err = p.ReadImage(images[1], out); err != nil {
		t.Fatal(err)
	}

	for idx := 0; idx < len(out); idx += 4 {
		for c := 0; c < 3; c++ {
			if exp := src[idx+c] * 2; out[idx+c] != exp {
				t.Fatalf("expected texel value %f at %d; got %f", exp, idx+c, out[idx+c])
			}
		}
		if out[idx+3] != 1 {
			t.Fatalf("expected alpha 1 at %d; got %f", idx+3, out[idx+3])
		}
	}

	timings := p.KernelTimings()
	if len(timings) != 1 || timings[0].Kernel != "test_scale" || timings[0].Invocations != 35 {
		t.Fatalf("unexpected kernel timings %+v", timings)
	}
}

func TestBufferWrites(t *testing.T) {
	p := New(2)
	defer p.Close()

	images := createImages(t, p, 3, 4, gpu.FormatR32F, "src")
	if err := p.WriteImage(images[0], []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}); err != nil {
		t.Fatal(err)
	}
	sums, err := p.CreateBuffer("sums", 4, gpu.UsageStorage)
	if err != nil {
		t.Fatal(err)
	}

	pipeline, err := p.CreateComputeDispatch("test_sum_rows", gpu.Bindings{"src": images[0], "sums": sums})
	if err != nil {
		t.Fatal(err)
	}
	cmds := gpu.NewCommandList()
	cmds.Dispatch(pipeline, nil, 1, 4)
	if err = p.Submit(cmds); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 4)
	if err = p.ReadBuffer(sums, out); err != nil {
		t.Fatal(err)
	}
	exp := []float32{6, 15, 24, 33}
	for idx := range exp {
		if out[idx] != exp[idx] {
			t.Fatalf("expected row %d sum to be %f; got %f", idx, exp[idx], out[idx])
		}
	}
}

func TestMissingBarrier(t *testing.T) {
	p := New(1)
	defer p.Close()

	images := createImages(t, p, 2, 2, gpu.FormatRGBA32F, "a", "b", "c")
	first, err := p.CreateComputeDispatch("test_scale", gpu.Bindings{"src": images[0], "dst": images[1]})
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.CreateComputeDispatch("test_scale", gpu.Bindings{"src": images[1], "dst": images[2]})
	if err != nil {
		t.Fatal(err)
	}

	cmds := gpu.NewCommandList()
	cmds.Dispatch(first, []float32{1}, 2, 2)
	cmds.Dispatch(second, []float32{1}, 2, 2)
	if err = p.Submit(cmds); !errors.Is(err, gpu.ErrMissingBarrier) {
		t.Fatalf("expected ErrMissingBarrier; got %v", err)
	}

	cmds.Reset()
	cmds.Dispatch(first, []float32{1}, 2, 2)
	cmds.CopyImage(images[1], images[2])
	if err = p.Submit(cmds); !errors.Is(err, gpu.ErrMissingBarrier) {
		t.Fatalf("expected ErrMissingBarrier for copy; got %v", err)
	}

	// A barrier on an unrelated resource does not help.
	cmds.Reset()
	cmds.Dispatch(first, []float32{1}, 2, 2)
	cmds.Barrier(images[0])
	cmds.Dispatch(second, []float32{1}, 2, 2)
	if err = p.Submit(cmds); !errors.Is(err, gpu.ErrMissingBarrier) {
		t.Fatalf("expected ErrMissingBarrier; got %v", err)
	}

	cmds.Reset()
	cmds.Dispatch(first, []float32{1}, 2, 2)
	cmds.Barrier(images[1])
	cmds.Dispatch(second, []float32{1}, 2, 2)
	if err = p.Submit(cmds); err != nil {
		t.Fatalf("expected submission with barrier to succeed; got %v", err)
	}
}

func TestLayoutErrors(t *testing.T) {
	p := New(1)
	defer p.Close()

	img, err := p.CreateImage("raw", 2, 2, gpu.FormatRGBA32F, gpu.UsageDefault)
	if err != nil {
		t.Fatal(err)
	}
	other := createImages(t, p, 2, 2, gpu.FormatRGBA32F, "other")[0]

	if err = p.WriteImage(img, make([]float32, img.Len())); !errors.Is(err, gpu.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for host write; got %v", err)
	}

	cmds := gpu.NewCommandList()
	cmds.CopyImage(other, img)
	if err = p.Submit(cmds); !errors.Is(err, gpu.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for copy; got %v", err)
	}

	cmds.Reset()
	cmds.Transition(other, gpu.LayoutGeneral, gpu.LayoutUndefined)
	if err = p.Submit(cmds); !errors.Is(err, gpu.ErrUnsupportedTransition) {
		t.Fatalf("expected ErrUnsupportedTransition; got %v", err)
	}

	// Transition the image twice.
	cmds.Reset()
	cmds.Transition(img, gpu.LayoutUndefined, gpu.LayoutGeneral)
	cmds.Transition(img, gpu.LayoutUndefined, gpu.LayoutGeneral)
	if err = p.Submit(cmds); !errors.Is(err, gpu.ErrUnsupportedTransition) {
		t.Fatalf("expected ErrUnsupportedTransition; got %v", err)
	}

	// A failed submission leaves layouts untouched.
	if err = p.WriteImage(img, make([]float32, img.Len())); !errors.Is(err, gpu.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout after failed submission; got %v", err)
	}
}

func TestPipelineBindingErrors(t *testing.T) {
	p := New(1)
	defer p.Close()

	rgba := createImages(t, p, 2, 2, gpu.FormatRGBA32F, "a", "b")
	depth := createImages(t, p, 2, 2, gpu.FormatR32F, "depth")[0]

	type spec struct {
		bindings gpu.Bindings
		expErr   error
	}
	specs := []spec{
		{gpu.Bindings{"src": rgba[0]}, gpu.ErrMissingBinding},
		{gpu.Bindings{"src": depth, "dst": rgba[1]}, gpu.ErrBindingMismatch},
		{gpu.Bindings{"src": rgba[0], "dst": rgba[0]}, gpu.ErrAliasedBinding},
		{gpu.Bindings{"src": rgba[0], "dst": rgba[1], "extra": depth}, gpu.ErrBindingMismatch},
	}

	for index, s := range specs {
		if _, err := p.CreateComputeDispatch("test_scale", s.bindings); !errors.Is(err, s.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
	}

	if _, err := p.CreateComputeDispatch("no_such_kernel", nil); !errors.Is(err, gpu.ErrUnknownKernel) {
		t.Fatalf("expected ErrUnknownKernel; got %v", err)
	}
}

func TestKernelRegistry(t *testing.T) {
	names := gpu.Kernels()
	for idx := 1; idx < len(names); idx++ {
		if names[idx-1] >= names[idx] {
			t.Fatalf("expected sorted kernel names; got %v", names)
		}
	}

	found := 0
	for _, name := range names {
		if name == "test_scale" || name == "test_sum_rows" {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected the test kernels to be registered; got %v", names)
	}
}

func TestFormatQuantization(t *testing.T) {
	p := New(1)
	defer p.Close()

	images := createImages(t, p, 1, 1, gpu.FormatRGBA8, "unorm")
	images = append(images, createImages(t, p, 1, 1, gpu.FormatRGBA16F, "half")...)

	for _, img := range images {
		if err := p.WriteImage(img, []float32{0.1234567, 1.5, -0.25, 0.5}); err != nil {
			t.Fatal(err)
		}
	}

	out := make([]float32, 4)
	if err := p.ReadImage(images[0], out); err != nil {
		t.Fatal(err)
	}
	exp := types.Vec4{31.0 / 255.0, 1, 0, 128.0 / 255.0}
	for c := 0; c < 4; c++ {
		if out[c] != exp[c] {
			t.Fatalf("[unorm8] expected channel %d to be %f; got %f", c, exp[c], out[c])
		}
	}

	if err := p.ReadImage(images[1], out); err != nil {
		t.Fatal(err)
	}
	if out[0] == 0.1234567 || out[0] < 0.1233 || out[0] > 0.1236 {
		t.Fatalf("[half] expected rounded value near 0.12346; got %f", out[0])
	}
	if out[1] != 1.5 || out[2] != -0.25 || out[3] != 0.5 {
		t.Fatalf("[half] expected exactly representable values to survive; got %v", out)
	}
}

func TestReleasedResources(t *testing.T) {
	p := New(1)
	defer p.Close()

	img := createImages(t, p, 2, 2, gpu.FormatR32F, "depth")[0]
	p.Release(img)

	if err := p.ReadImage(img, make([]float32, img.Len())); !errors.Is(err, gpu.ErrReleased) {
		t.Fatalf("expected ErrReleased; got %v", err)
	}
}
