package camera

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Projection types recorded in camera files.
const (
	TypePerspective  = "perspective"
	TypeOrthographic = "orthographic"
)

// Matrices holds the transforms of a single frame. The projection pair is
// optional; frames without one are resolved against a session default via
// WithDefaultProjection.
type Matrices struct {
	Type    string
	View    mgl32.Mat4
	InvView mgl32.Mat4
	Proj    mgl32.Mat4
	InvProj mgl32.Mat4
	HasProj bool
}

// Create a matrix set from a view and a projection matrix.
func NewMatrices(view, proj mgl32.Mat4) Matrices {
	return Matrices{
		Type:    TypePerspective,
		View:    view,
		InvView: view.Inv(),
		Proj:    proj,
		InvProj: proj.Inv(),
		HasProj: true,
	}
}

// Create a matrix set that only carries the view transform.
func NewViewMatrices(view mgl32.Mat4) Matrices {
	return Matrices{
		Type:    TypePerspective,
		View:    view,
		InvView: view.Inv(),
	}
}

// Return a copy that uses proj when the set does not define its own projection.
func (m Matrices) WithDefaultProjection(proj mgl32.Mat4) Matrices {
	if m.HasProj {
		return m
	}
	m.Proj = proj
	m.InvProj = proj.Inv()
	m.HasProj = true
	return m
}

// Returns true if both sets describe the same camera.
func (m Matrices) Equal(other Matrices) bool {
	return m.View == other.View && m.Proj == other.Proj && m.HasProj == other.HasProj
}

// Append the column-major representation of mat to dst.
func AppendMat4(dst []float32, mat mgl32.Mat4) []float32 {
	return append(dst, mat[:]...)
}

// Read a column-major matrix starting at src[0].
func Mat4From(src []float32) mgl32.Mat4 {
	var mat mgl32.Mat4
	copy(mat[:], src[:16])
	return mat
}
