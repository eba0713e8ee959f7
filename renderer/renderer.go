package renderer

type Renderer interface {
	// Render the next frame.
	RenderFrame() error

	// Shutdown renderer and the attached tracer.
	Close()

	// Get statistics for the last rendered frame.
	Stats() FrameStats
}
