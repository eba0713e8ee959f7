package camera

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"
)

// On-disk representation of a camera sequence. Matrices are stored in
// column-major order.
type fileFormat struct {
	AmtOfFrames int          `json:"amtOfFrames"`
	Matrices    []fileMatrix `json:"matrices"`
}

type fileMatrix struct {
	Type    string    `json:"type"`
	View    []float32 `json:"view"`
	InvView []float32 `json:"invView"`
	Proj    []float32 `json:"proj,omitempty"`
	InvProj []float32 `json:"invProj,omitempty"`
}

// Read a camera sequence.
func ReadHistory(r io.Reader) (*History, error) {
	var doc fileFormat
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("camera: could not decode camera file: %w", err)
	}

	if doc.AmtOfFrames != len(doc.Matrices) {
		return nil, fmt.Errorf("%w (amtOfFrames %d, matrices %d)", ErrFrameCountMismatch, doc.AmtOfFrames, len(doc.Matrices))
	}

	frames := make([]Matrices, len(doc.Matrices))
	for idx, fm := range doc.Matrices {
		m, err := fm.decode()
		if err != nil {
			return nil, fmt.Errorf("camera: frame %d: %w", idx, err)
		}
		frames[idx] = m
	}

	return NewHistoryFrom(frames), nil
}

// Write a camera sequence.
func WriteHistory(w io.Writer, h *History) error {
	doc := fileFormat{
		AmtOfFrames: h.Len(),
		Matrices:    make([]fileMatrix, h.Len()),
	}

	for idx, m := range h.Frames() {
		fm := fileMatrix{
			Type:    m.Type,
			View:    AppendMat4(nil, m.View),
			InvView: AppendMat4(nil, m.InvView),
		}
		if m.HasProj {
			fm.Proj = AppendMat4(nil, m.Proj)
			fm.InvProj = AppendMat4(nil, m.InvProj)
		}
		doc.Matrices[idx] = fm
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}

func (fm fileMatrix) decode() (Matrices, error) {
	var m Matrices

	m.Type = fm.Type
	if m.Type == "" {
		m.Type = TypePerspective
	}

	if len(fm.View) == 0 {
		return m, ErrMissingView
	}
	view, err := decodeMat4(fm.View)
	if err != nil {
		return m, err
	}
	m.View = view

	if len(fm.InvView) == 0 {
		m.InvView = view.Inv()
	} else if m.InvView, err = decodeMat4(fm.InvView); err != nil {
		return m, err
	}

	switch {
	case len(fm.Proj) != 0:
		if m.Proj, err = decodeMat4(fm.Proj); err != nil {
			return m, err
		}
		if len(fm.InvProj) == 0 {
			m.InvProj = m.Proj.Inv()
		} else if m.InvProj, err = decodeMat4(fm.InvProj); err != nil {
			return m, err
		}
		m.HasProj = true
	case len(fm.InvProj) != 0:
		if m.InvProj, err = decodeMat4(fm.InvProj); err != nil {
			return m, err
		}
		m.Proj = m.InvProj.Inv()
		m.HasProj = true
	}

	return m, nil
}

func decodeMat4(v []float32) (mgl32.Mat4, error) {
	if len(v) != 16 {
		return mgl32.Mat4{}, fmt.Errorf("%w (got %d)", ErrInvalidMatrix, len(v))
	}
	return Mat4From(v), nil
}
