package accumulator

import (
	"fmt"
	"math"

	"github.com/achilleasa/polaris-denoise/camera"
	"github.com/achilleasa/polaris-denoise/frame"
	"github.com/achilleasa/polaris-denoise/gpu"
	"github.com/achilleasa/polaris-denoise/types"
)

const kernelName = "accumulate"

// Layout of the push constant block.
const (
	pushWidth = iota
	pushHeight
	pushMaxSamples
	pushDepthTolerance
	pushNormalTolerance
	pushHasHistory
	pushInvView
	pushInvProj  = pushInvView + 16
	pushPrevView = pushInvProj + 16
	pushPrevProj = pushPrevView + 16
	pushLen      = pushPrevProj + 16
)

const (
	// Minimum accepted bilinear weight for history to be used.
	minHistoryWeight = 1e-3

	// Reprojected positions closer than this to a texel centre snap to it.
	snapEpsilon = 1e-3
)

type params struct {
	width           int
	height          int
	maxSamples      int
	depthTolerance  float32
	normalTolerance float32
	hasHistory      bool
	cur             camera.Matrices
	prev            camera.Matrices
}

func (p params) encode() []float32 {
	push := make([]float32, pushInvView, pushLen)
	push[pushWidth] = float32(p.width)
	push[pushHeight] = float32(p.height)
	push[pushMaxSamples] = float32(p.maxSamples)
	push[pushDepthTolerance] = p.depthTolerance
	push[pushNormalTolerance] = p.normalTolerance
	if p.hasHistory {
		push[pushHasHistory] = 1
	}
	push = camera.AppendMat4(push, p.cur.InvView)
	push = camera.AppendMat4(push, p.cur.InvProj)
	push = camera.AppendMat4(push, p.prev.View)
	push = camera.AppendMat4(push, p.prev.Proj)
	return push
}

func init() {
	gpu.RegisterKernel(gpu.KernelSpec{
		Name: kernelName,
		Bindings: []gpu.Binding{
			{Name: "depth", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: "normal", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 2},
			{Name: "illumination", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "illuminationSquared", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "prevDepth", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: "prevNormal", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 2},
			{Name: "prevIllu", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "prevIlluSquared", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 4},
			{Name: "prevSpp", Kind: gpu.ImageBinding, Access: gpu.Read, Channels: 1},
			{Name: "accumulatedIllumination", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
			{Name: "accumulatedIlluminationSquared", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
			{Name: "spp", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 1},
			{Name: "motion", Kind: gpu.ImageBinding, Access: gpu.Write, Channels: 4},
		},
		Host: accumulateHost,
	})
}

// Accumulated history gathered from the previous frame.
type history struct {
	illu   types.Vec3
	illuSq types.Vec3
	spp    float32
	weight float32
}

func accumulateHost(res gpu.HostResources, push []float32) (gpu.Invocation, error) {
	if len(push) != pushLen {
		return nil, fmt.Errorf("accumulator: expected %d push constants; got %d", pushLen, len(push))
	}

	w, h := int(push[pushWidth]), int(push[pushHeight])
	maxSamples := push[pushMaxSamples]
	depthTol := push[pushDepthTolerance]
	normalTol := push[pushNormalTolerance]
	hasHistory := push[pushHasHistory] > 0.5
	invView := camera.Mat4From(push[pushInvView:])
	invProj := camera.Mat4From(push[pushInvProj:])
	prevView := camera.Mat4From(push[pushPrevView:])
	prevProj := camera.Mat4From(push[pushPrevProj:])

	depth, normal := res.Image("depth"), res.Image("normal")
	illu, illuSq := res.Image("illumination"), res.Image("illuminationSquared")
	prevDepth, prevNormal := res.Image("prevDepth"), res.Image("prevNormal")
	prevIllu, prevIlluSq := res.Image("prevIllu"), res.Image("prevIlluSquared")
	prevSpp := res.Image("prevSpp")
	outIllu, outIlluSq := res.Image("accumulatedIllumination"), res.Image("accumulatedIlluminationSquared")
	outSpp, outMotion := res.Image("spp"), res.Image("motion")

	// Gather history around the continuous position (px, py), rejecting
	// taps whose geometry does not match the current pixel.
	gather := func(px, py, expDepth, d float32, n types.Vec3) history {
		fx, fy := snap(px-0.5), snap(py-0.5)
		x0, y0 := int(math.Floor(float64(fx))), int(math.Floor(float64(fy)))
		tx, ty := fx-float32(x0), fy-float32(y0)

		taps := [4]struct {
			x, y int
			w    float32
		}{
			{x0, y0, (1 - tx) * (1 - ty)},
			{x0 + 1, y0, tx * (1 - ty)},
			{x0, y0 + 1, (1 - tx) * ty},
			{x0 + 1, y0 + 1, tx * ty},
		}

		var out history
		for _, tap := range taps {
			if tap.w <= 0 || !prevDepth.Inside(tap.x, tap.y) {
				continue
			}

			pd := prevDepth.Float(tap.x, tap.y)
			if d > 0 {
				if pd <= 0 || float32(math.Abs(float64(pd-expDepth))) > depthTol*expDepth {
					continue
				}
				pn := prevNormal.Vec4(tap.x, tap.y)
				if frame.DecodeNormal(pn[0], pn[1]).Dot(n) < normalTol {
					continue
				}
			} else if pd > 0 {
				continue
			}

			out.illu = out.illu.Add(prevIllu.Vec3(tap.x, tap.y).Mul(tap.w))
			out.illuSq = out.illuSq.Add(prevIlluSq.Vec3(tap.x, tap.y).Mul(tap.w))
			out.spp += prevSpp.Float(tap.x, tap.y) * tap.w
			out.weight += tap.w
		}

		if out.weight > 0 {
			norm := 1 / out.weight
			out.illu = out.illu.Mul(norm)
			out.illuSq = out.illuSq.Mul(norm)
			out.spp *= norm
		}
		return out
	}

	return func(x, y int) {
		cur, curSq := illu.Vec3(x, y), illuSq.Vec3(x, y)
		d := depth.Float(x, y)
		nt := normal.Vec4(x, y)
		n := frame.DecodeNormal(nt[0], nt[1])
		px, py := float32(x)+0.5, float32(y)+0.5

		var hist history
		var motion types.Vec4
		if hasHistory {
			var prevX, prevY, expDepth float32
			var visible bool
			if d > 0 {
				world := camera.Unproject(invView, invProj, px, py, w, h, d)
				prevX, prevY, expDepth, visible = camera.Project(prevView, prevProj, world, w, h)
			} else {
				dir := camera.UnprojectDirection(invView, invProj, px, py, w, h)
				prevX, prevY, visible = camera.ProjectDirection(prevView, prevProj, dir, w, h)
			}

			if visible && prevX >= 0 && prevY >= 0 && prevX <= float32(w) && prevY <= float32(h) {
				motion = types.Vec4{px - prevX, py - prevY, 0, 0}
				hist = gather(prevX, prevY, expDepth, d, n)
			}
		}

		mean, meanSq := cur, curSq
		var spp float32 = 1
		if histSpp := float32(math.Round(float64(hist.spp))); hist.weight > minHistoryWeight && histSpp >= 1 {
			spp = histSpp + 1
			if spp > maxSamples {
				spp = maxSamples
			}
			alpha := 1 / spp
			mean = hist.illu.Lerp(cur, alpha)
			meanSq = hist.illuSq.Lerp(curSq, alpha)
			motion[2] = 1
		}

		outIllu.SetVec4(x, y, mean.Vec4(1))
		outIlluSq.SetVec4(x, y, meanSq.Vec4(1))
		outSpp.SetFloat(x, y, spp)
		outMotion.SetVec4(x, y, motion)
	}, nil
}

// Snap a texel-space coordinate to the nearest integer when within snapEpsilon.
func snap(v float32) float32 {
	r := float32(math.Round(float64(v)))
	if float32(math.Abs(float64(v-r))) < snapEpsilon {
		return r
	}
	return v
}
