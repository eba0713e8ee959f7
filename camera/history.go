package camera

// History stores the camera matrices used for each rendered frame, indexed
// by frame number.
type History struct {
	frames []Matrices
}

// Create an empty history.
func NewHistory() *History {
	return &History{}
}

// Create a history pre-populated with the given frames.
func NewHistoryFrom(frames []Matrices) *History {
	h := &History{frames: make([]Matrices, len(frames))}
	copy(h.frames, frames)
	return h
}

// Number of recorded frames.
func (h *History) Len() int {
	return len(h.frames)
}

// Record the matrices for the next frame and return its index.
func (h *History) Append(m Matrices) int {
	h.frames = append(h.frames, m)
	return len(h.frames) - 1
}

// Get the matrices for a frame.
func (h *History) At(frame int) (Matrices, bool) {
	if frame < 0 || frame >= len(h.frames) {
		return Matrices{}, false
	}
	return h.frames[frame], true
}

// Get the matrices of the frame preceding the given one.
func (h *History) Prev(frame int) (Matrices, bool) {
	return h.At(frame - 1)
}

// Drop all recorded frames.
func (h *History) Reset() {
	h.frames = h.frames[:0]
}

// Frames returns the recorded matrices.
func (h *History) Frames() []Matrices {
	return h.frames
}
