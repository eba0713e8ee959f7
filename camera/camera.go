package camera

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// The camera type controls the viewpoint used by live tracers.
type Camera struct {
	Position mgl32.Vec3
	LookAt   mgl32.Vec3
	Up       mgl32.Vec3
	Pitch    float32
	Yaw      float32

	ViewMat mgl32.Mat4
	ProjMat mgl32.Mat4

	// Vertical field of view in degrees.
	FOV float32

	// Clip planes.
	Near float32
	Far  float32
}

func NewCamera(fov float32) *Camera {
	return &Camera{
		ViewMat:  mgl32.Ident4(),
		ProjMat:  mgl32.Ident4(),
		Position: mgl32.Vec3{0, 0, 0},
		LookAt:   mgl32.Vec3{0, 0, -1},
		Up:       mgl32.Vec3{0, 1, 0},
		FOV:      fov,
		Near:     0.1,
		Far:      1000,
	}
}

func (c *Camera) String() string {
	return fmt.Sprintf(
		"pos (%3.3f, %3.3f, %3.3f) lookAt (%3.3f, %3.3f, %3.3f) fov %3.1f",
		c.Position[0], c.Position[1], c.Position[2],
		c.LookAt[0], c.LookAt[1], c.LookAt[2],
		c.FOV,
	)
}

// Setup camera projection matrix.
func (c *Camera) SetupProjection(aspect float32) {
	c.ProjMat = mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, c.Near, c.Far)
	c.Update()
}

// Update camera. Pending pitch and yaw rotations are applied to the
// view direction and then cleared.
func (c *Camera) Update() {
	dir := c.LookAt.Sub(c.Position).Normalize()
	pitchAxis := dir.Cross(c.Up).Normalize()
	pitchQuat := mgl32.QuatRotate(c.Pitch, pitchAxis)
	yawQuat := mgl32.QuatRotate(c.Yaw, c.Up)

	orientQuat := pitchQuat.Mul(yawQuat).Normalize()

	dir = orientQuat.Rotate(dir)
	c.LookAt = c.Position.Add(dir)
	c.Pitch, c.Yaw = 0, 0

	c.ViewMat = mgl32.LookAtV(c.Position, c.LookAt, c.Up)
}

// Move the camera (and its look-at target) by the given offset.
func (c *Camera) Translate(offset mgl32.Vec3) {
	c.Position = c.Position.Add(offset)
	c.LookAt = c.LookAt.Add(offset)
	c.Update()
}

// Get the matrices describing the current camera state.
func (c *Camera) Matrices() Matrices {
	return NewMatrices(c.ViewMat, c.ProjMat)
}
