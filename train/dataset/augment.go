package dataset

import (
	"github.com/bmharper/cimg/v2"

	"github.com/cyclopcam/finetune/pkg/coco"
)

// mirrorImage returns a horizontally flipped copy of img.
// img must already be RGB.
func mirrorImage(img *cimg.Image) *cimg.Image {
	nchan := img.NChan()
	flipped := cimg.NewImage(img.Width, img.Height, cimg.PixelFormatRGB)
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := flipped.Pixels[y*flipped.Stride:]
		for x := 0; x < img.Width; x++ {
			s := x * nchan
			d := (img.Width - 1 - x) * nchan
			for c := 0; c < nchan; c++ {
				dst[d+c] = src[s+c]
			}
		}
	}
	return flipped
}

// mirrorAnnotations flips boxes to stay on their objects in a mirrored image:
// x' = imageWidth - x - boxWidth. Annotations hold BBox by value, so the
// originals in the index are untouched.
func mirrorAnnotations(anns []coco.Annotation, imageWidth int) []coco.Annotation {
	flipped := make([]coco.Annotation, len(anns))
	for i, ann := range anns {
		ann.BBox[0] = float32(imageWidth) - ann.BBox[0] - ann.BBox[2]
		flipped[i] = ann
	}
	return flipped
}
