package camera

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestHistoryReadWrite(t *testing.T) {
	cam := NewCamera(60)
	cam.SetupProjection(1)

	h := NewHistory()
	h.Append(cam.Matrices())
	cam.Translate(mgl32.Vec3{0, 0, -1})
	h.Append(NewViewMatrices(cam.ViewMat))

	var buf bytes.Buffer
	if err := WriteHistory(&buf, h); err != nil {
		t.Fatal(err)
	}

	got, err := ReadHistory(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if got.Len() != 2 {
		t.Fatalf("expected 2 frames; got %d", got.Len())
	}

	for idx := 0; idx < 2; idx++ {
		exp, _ := h.At(idx)
		m, _ := got.At(idx)
		if !m.Equal(exp) {
			t.Fatalf("[frame %d] expected matrices %v; got %v", idx, exp, m)
		}
	}

	if m, _ := got.At(1); m.HasProj {
		t.Fatal("expected frame 1 to have no projection")
	}
}

func TestReadHistoryErrors(t *testing.T) {
	ident := "[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1]"

	type spec struct {
		doc    string
		expErr error
	}
	specs := []spec{
		{`{"amtOfFrames": 2, "matrices": [{"type":"perspective","view":` + ident + `,"invView":` + ident + `}]}`, ErrFrameCountMismatch},
		{`{"amtOfFrames": 1, "matrices": [{"type":"perspective","view":[1,2,3],"invView":` + ident + `}]}`, ErrInvalidMatrix},
		{`{"amtOfFrames": 1, "matrices": [{"type":"perspective","invView":` + ident + `}]}`, ErrMissingView},
	}

	for index, s := range specs {
		_, err := ReadHistory(strings.NewReader(s.doc))
		if !errors.Is(err, s.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
	}
}

func TestReadHistoryDerivesInverses(t *testing.T) {
	proj := mgl32.Perspective(1, 1, 0.1, 100)
	doc := `{"amtOfFrames": 1, "matrices": [{"type":"","view":[1,0,0,0,0,1,0,0,0,0,1,0,0,0,-2,1],"proj":` + floatList(proj) + `}]}`

	h, err := ReadHistory(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}

	m, _ := h.At(0)
	if m.Type != TypePerspective {
		t.Fatalf("expected default type %q; got %q", TypePerspective, m.Type)
	}
	if !m.HasProj {
		t.Fatal("expected projection to be set")
	}
	if !m.InvView.ApproxEqualThreshold(m.View.Inv(), 1e-6) {
		t.Fatal("expected inverse view to be derived")
	}
	if !m.InvProj.ApproxEqualThreshold(proj.Inv(), 1e-5) {
		t.Fatal("expected inverse projection to be derived")
	}
}

func floatList(m mgl32.Mat4) string {
	data, err := json.Marshal(m[:])
	if err != nil {
		panic(err)
	}
	return string(data)
}
