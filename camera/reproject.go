package camera

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Pixel coordinates used below are continuous: pixel (x, y) covers
// [x, x+1) x [y, y+1) with its centre at (x+0.5, y+0.5). The y axis points
// down while NDC y points up.

// Convert continuous pixel coordinates to normalized device coordinates.
func PixelToNDC(px, py float32, w, h int) (float32, float32) {
	return px/float32(w)*2 - 1, 1 - py/float32(h)*2
}

// Convert normalized device coordinates to continuous pixel coordinates.
func NDCToPixel(nx, ny float32, w, h int) (float32, float32) {
	return (nx + 1) * 0.5 * float32(w), (1 - ny) * 0.5 * float32(h)
}

// Get the view-space segment between the near and far plane through a pixel.
func viewSegment(invProj mgl32.Mat4, px, py float32, w, h int) (mgl32.Vec3, mgl32.Vec3) {
	nx, ny := PixelToNDC(px, py, w, h)
	near := invProj.Mul4x1(mgl32.Vec4{nx, ny, -1, 1})
	far := invProj.Mul4x1(mgl32.Vec4{nx, ny, 1, 1})
	return near.Vec3().Mul(1 / near[3]), far.Vec3().Mul(1 / far[3])
}

// Reconstruct the world-space position of a pixel given its linear view depth.
func Unproject(invView, invProj mgl32.Mat4, px, py float32, w, h int, depth float32) mgl32.Vec3 {
	near, far := viewSegment(invProj, px, py, w, h)
	var t float32
	if dz := far[2] - near[2]; dz != 0 {
		t = (-depth - near[2]) / dz
	}
	viewPos := near.Add(far.Sub(near).Mul(t))
	return invView.Mul4x1(viewPos.Vec4(1)).Vec3()
}

// Reconstruct the world-space direction of the primary ray through a pixel.
func UnprojectDirection(invView, invProj mgl32.Mat4, px, py float32, w, h int) mgl32.Vec3 {
	near, far := viewSegment(invProj, px, py, w, h)
	return invView.Mul4x1(far.Sub(near).Normalize().Vec4(0)).Vec3()
}

// Project a world-space position and return its continuous pixel coordinates
// and linear view depth. The returned flag is false for points behind the camera.
func Project(view, proj mgl32.Mat4, world mgl32.Vec3, w, h int) (px, py, depth float32, ok bool) {
	viewPos := view.Mul4x1(world.Vec4(1))
	depth = -viewPos[2]
	if depth <= 0 {
		return 0, 0, depth, false
	}

	clip := proj.Mul4x1(viewPos)
	if clip[3] == 0 {
		return 0, 0, depth, false
	}
	px, py = NDCToPixel(clip[0]/clip[3], clip[1]/clip[3], w, h)
	return px, py, depth, true
}

// Project a world-space direction (a point at infinity).
func ProjectDirection(view, proj mgl32.Mat4, dir mgl32.Vec3, w, h int) (px, py float32, ok bool) {
	viewDir := view.Mul4x1(dir.Vec4(0))
	if viewDir[2] >= 0 {
		return 0, 0, false
	}

	clip := proj.Mul4x1(viewDir)
	if clip[3] == 0 {
		return 0, 0, false
	}
	px, py = NDCToPixel(clip[0]/clip[3], clip[1]/clip[3], w, h)
	return px, py, true
}
