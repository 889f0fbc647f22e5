package nn

import (
	"github.com/chewxy/math32"
)

// Rect is a pixel-space bounding box, top-left origin.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b)
	return float32(intersection.Area()) / float32(r.Area()+b.Area()-intersection.Area())
}

// BoxNorm is a bounding box in normalized center format: cx, cy, w, h as
// fractions of the image dimensions, so the box is independent of image
// scale. This is the format detection models train on.
type BoxNorm struct {
	CX float32 `json:"cx"`
	CY float32 `json:"cy"`
	W  float32 `json:"w"`
	H  float32 `json:"h"`
}

// MakeBoxNorm converts a pixel-space (x, y, w, h) box on an
// imgWidth x imgHeight image into normalized center format, clamped to [0,1].
func MakeBoxNorm(x, y, w, h float32, imgWidth, imgHeight int) BoxNorm {
	iw := float32(imgWidth)
	ih := float32(imgHeight)
	return BoxNorm{
		CX: clamp01((x + w/2) / iw),
		CY: clamp01((y + h/2) / ih),
		W:  clamp01(w / iw),
		H:  clamp01(h / ih),
	}
}

// ToRect converts back to pixel space on an imgWidth x imgHeight image.
func (b BoxNorm) ToRect(imgWidth, imgHeight int) Rect {
	iw := float32(imgWidth)
	ih := float32(imgHeight)
	x1 := (b.CX - b.W/2) * iw
	y1 := (b.CY - b.H/2) * ih
	return Rect{
		X:      int(math32.Round(x1)),
		Y:      int(math32.Round(y1)),
		Width:  int(math32.Round(b.W * iw)),
		Height: int(math32.Round(b.H * ih)),
	}
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
