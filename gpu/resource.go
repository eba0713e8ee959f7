package gpu

// Resource is implemented by handles that can be bound to kernels.
type Resource interface {
	ID() uint32
	Name() string
}

// Handle to a provider-owned 2D image.
type Image struct {
	id     uint32
	name   string
	width  int
	height int
	format Format
	usage  Usage
}

// Create an image handle. Only providers should call this.
func NewImageHandle(id uint32, name string, width, height int, format Format, usage Usage) *Image {
	return &Image{id: id, name: name, width: width, height: height, format: format, usage: usage}
}

func (img *Image) ID() uint32     { return img.id }
func (img *Image) Name() string   { return img.name }
func (img *Image) Width() int     { return img.width }
func (img *Image) Height() int    { return img.height }
func (img *Image) Format() Format { return img.format }
func (img *Image) Usage() Usage   { return img.usage }

// Number of float32 values needed to store the image.
func (img *Image) Len() int {
	return img.width * img.height * img.format.Channels()
}

// Handle to a provider-owned linear buffer of float32 values.
type Buffer struct {
	id    uint32
	name  string
	size  int
	usage Usage
}

// Create a buffer handle. Only providers should call this.
func NewBufferHandle(id uint32, name string, size int, usage Usage) *Buffer {
	return &Buffer{id: id, name: name, size: size, usage: usage}
}

func (b *Buffer) ID() uint32   { return b.id }
func (b *Buffer) Name() string { return b.name }
func (b *Buffer) Usage() Usage { return b.usage }

// Size in float32 elements.
func (b *Buffer) Size() int { return b.size }
