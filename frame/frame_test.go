package frame

import (
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/gpu/host"
	"github.com/achilleasa/polaris-denoise/types"
)

func TestNormalCodec(t *testing.T) {
	specs := []types.Vec3{
		{0, 0, 1},
		{0, 0, -1},
		{1, 0, 0},
		{0, -1, 0},
		{0.3, -0.4, 0.866},
	}

	for index, n := range specs {
		n = n.Normalize()
		got := DecodeNormal(EncodeNormal(n))
		if got.Sub(n).Len() > 1e-5 {
			t.Fatalf("[spec %d] expected decoded normal %v; got %v", index, n, got)
		}
	}
}

func TestVariantLayouts(t *testing.T) {
	type spec struct {
		variant  Variant
		channels []Channel
	}
	specs := []spec{
		{Final, []Channel{ChannelOutput}},
		{FinalFloat, []Channel{ChannelOutput}},
		{FinalDirIndir, []Channel{ChannelOutput, ChannelDirectIllumination, ChannelIndirectIllumination}},
		{FinalDemodulated, []Channel{ChannelOutput, ChannelIllumination, ChannelIlluminationSquared}},
		{Demodulated, []Channel{ChannelIllumination, ChannelIlluminationSquared}},
		{DemodulatedFloat, []Channel{ChannelIllumination}},
	}

	p := host.New(1)
	defer p.Close()

	for index, s := range specs {
		ib, err := NewIlluminationBuffer(p, s.variant, "test-", 4, 2)
		if err != nil {
			t.Fatalf("[spec %d] %v", index, err)
		}

		if len(ib.Images()) != len(s.channels) {
			t.Fatalf("[spec %d] expected %d images; got %d", index, len(s.channels), len(ib.Images()))
		}
		for cIdx, ch := range s.channels {
			img, ok := ib.Image(ch)
			if !ok {
				t.Fatalf("[spec %d] expected channel %q", index, ch)
			}
			if img != ib.Images()[cIdx] {
				t.Fatalf("[spec %d] expected channel %q at position %d", index, ch, cIdx)
			}
		}

		parsed, err := ParseVariant(s.variant.String())
		if err != nil || parsed != s.variant {
			t.Fatalf("[spec %d] expected variant name %q to round-trip; got %v, %v", index, s.variant, parsed, err)
		}
	}
}

func TestRequireChannels(t *testing.T) {
	p := host.New(1)
	defer p.Close()

	type spec struct {
		variant Variant
		valid   bool
	}
	specs := []spec{
		{Final, false},
		{FinalFloat, false},
		{FinalDirIndir, false},
		{FinalDemodulated, true},
		{Demodulated, true},
		{DemodulatedFloat, false},
	}

	for index, s := range specs {
		ib, err := NewIlluminationBuffer(p, s.variant, "", 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		err = RequireChannels(ib, ChannelIllumination, ChannelIlluminationSquared)
		if s.valid && err != nil {
			t.Fatalf("[spec %d] expected variant %s to be accepted; got %v", index, s.variant, err)
		}
		if !s.valid && !errors.Is(err, ErrUnsupportedVariant) {
			t.Fatalf("[spec %d] expected ErrUnsupportedVariant for %s; got %v", index, s.variant, err)
		}
		ib.Release(p)
	}
}

func fillPattern(t *testing.T, p gpu.Provider, img *gpu.Image, seed float32) []float32 {
	data := make([]float32, img.Len())
	for idx := range data {
		data[idx] = seed + float32(idx)*0.37
	}
	if err := p.WriteImage(img, data); err != nil {
		t.Fatal(err)
	}
	return data
}

func readImage(t *testing.T, p gpu.Provider, img *gpu.Image) []float32 {
	data := make([]float32, img.Len())
	if err := p.ReadImage(img, data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestCopyToBackImagesCommitsCurrentState(t *testing.T) {
	p := host.New(2)
	defer p.Close()

	gb, err := NewGBuffer(p, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	ib, err := NewIlluminationBuffer(p, FinalDemodulated, "", 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	ab, err := NewAccumulationBuffer(p, 3, 2, gpu.FormatRGBA32F)
	if err != nil {
		t.Fatal(err)
	}

	depth := fillPattern(t, p, gb.Depth, 1)
	normal := fillPattern(t, p, gb.Normal, 2)
	spp := fillPattern(t, p, ab.Spp, 3)
	illu := fillPattern(t, p, ib.MustImage(ChannelIllumination), 4)
	illuSq := fillPattern(t, p, ib.MustImage(ChannelIlluminationSquared), 5)

	cmds := gpu.NewCommandList()
	if err = ab.CopyToBackImages(cmds, gb, ib); err != nil {
		t.Fatal(err)
	}
	if err = p.Submit(cmds); err != nil {
		t.Fatal(err)
	}

	type spec struct {
		name string
		img  *gpu.Image
		exp  []float32
	}
	specs := []spec{
		{"prevDepth", ab.PrevDepth, depth},
		{"prevNormal", ab.PrevNormal, normal},
		{"prevSpp", ab.PrevSpp, spp},
		{"prevIllu", ab.PrevIllu, illu},
		{"prevIlluSquared", ab.PrevIlluSquared, illuSq},
	}
	for _, s := range specs {
		got := readImage(t, p, s.img)
		for idx := range s.exp {
			if math.Float32bits(got[idx]) != math.Float32bits(s.exp[idx]) {
				t.Fatalf("[%s] expected value %d to be bit-exact %f; got %f", s.name, idx, s.exp[idx], got[idx])
			}
		}
	}
}

func TestCopyToBackImagesRejectsVariants(t *testing.T) {
	p := host.New(1)
	defer p.Close()

	gb, err := NewGBuffer(p, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	ab, err := NewAccumulationBuffer(p, 2, 2, gpu.FormatRGBA32F)
	if err != nil {
		t.Fatal(err)
	}

	for _, variant := range []Variant{Final, FinalFloat, FinalDirIndir, DemodulatedFloat} {
		ib, err := NewIlluminationBuffer(p, variant, "", 2, 2)
		if err != nil {
			t.Fatal(err)
		}
		cmds := gpu.NewCommandList()
		if err = ab.CopyToBackImages(cmds, gb, ib); !errors.Is(err, ErrUnsupportedVariant) {
			t.Fatalf("[%s] expected ErrUnsupportedVariant; got %v", variant, err)
		}
		if cmds.Len() != 0 {
			t.Fatalf("[%s] expected no commands to be recorded; got %d", variant, cmds.Len())
		}
	}

	// Demodulated buffers store half floats which do not match float history.
	ib, err := NewIlluminationBuffer(p, Demodulated, "", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err = ab.CopyToBackImages(gpu.NewCommandList(), gb, ib); !errors.Is(err, gpu.ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch; got %v", err)
	}
}

func TestAccumulationBufferReset(t *testing.T) {
	p := host.New(1)
	defer p.Close()

	ab, err := NewAccumulationBuffer(p, 2, 2, gpu.FormatRGBA16F)
	if err != nil {
		t.Fatal(err)
	}
	fillPattern(t, p, ab.PrevSpp, 7)
	fillPattern(t, p, ab.PrevIllu, 1)

	cmds := gpu.NewCommandList()
	ab.Reset(cmds)
	if err = p.Submit(cmds); err != nil {
		t.Fatal(err)
	}

	for _, img := range []*gpu.Image{ab.PrevSpp, ab.PrevIllu} {
		for idx, v := range readImage(t, p, img) {
			if v != 0 {
				t.Fatalf("[%s] expected value %d to be cleared; got %f", img.Name(), idx, v)
			}
		}
	}
}
