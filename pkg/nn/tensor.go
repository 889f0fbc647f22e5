package nn

// Tensor is a dense float32 image tensor in CHW layout, rows contiguous.
// In C we would hand around a pointer and strides; here the indexing helpers
// keep the layout arithmetic in one place.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32 // len = Channels * Height * Width
}

func NewTensor(channels, height, width int) Tensor {
	return Tensor{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

func (t Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.Height+y)*t.Width+x]
}

func (t Tensor) Set(c, y, x int, v float32) {
	t.Data[(c*t.Height+y)*t.Width+x] = v
}

// Row returns the pixels of row y in channel c.
func (t Tensor) Row(c, y int) []float32 {
	start := (c*t.Height + y) * t.Width
	return t.Data[start : start+t.Width]
}

// BatchTensor is a dense float32 tensor over a whole batch, NCHW layout.
type BatchTensor struct {
	N        int
	Channels int
	Height   int
	Width    int
	Data     []float32 // len = N * Channels * Height * Width
}

func NewBatchTensor(n, channels, height, width int) BatchTensor {
	return BatchTensor{
		N:        n,
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, n*channels*height*width),
	}
}

// ImageSize returns the number of floats one image occupies.
func (b BatchTensor) ImageSize() int {
	return b.Channels * b.Height * b.Width
}

// Image returns the slice holding image n.
func (b BatchTensor) Image(n int) []float32 {
	size := b.ImageSize()
	return b.Data[n*size : (n+1)*size]
}

func (b BatchTensor) At(n, c, y, x int) float32 {
	return b.Data[((n*b.Channels+c)*b.Height+y)*b.Width+x]
}

// PixelMask marks which positions of a padded batch hold real pixels.
type PixelMask struct {
	N      int
	Height int
	Width  int
	Data   []bool // len = N * Height * Width
}

func NewPixelMask(n, height, width int) *PixelMask {
	return &PixelMask{
		N:      n,
		Height: height,
		Width:  width,
		Data:   make([]bool, n*height*width),
	}
}

func (m *PixelMask) At(n, y, x int) bool {
	return m.Data[(n*m.Height+y)*m.Width+x]
}

func (m *PixelMask) Set(n, y, x int, v bool) {
	m.Data[(n*m.Height+y)*m.Width+x] = v
}
