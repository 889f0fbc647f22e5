package dataset

import (
	"github.com/bmharper/cimg/v2"
	"github.com/chewxy/math32"

	"github.com/cyclopcam/finetune/pkg/coco"
	"github.com/cyclopcam/finetune/pkg/nn"
)

// Standard detection-model input sizing: scale so the short side lands on
// ShortSide, unless that would push the long side past LongSide.
const (
	DefaultShortSide = 800
	DefaultLongSide  = 1333
)

// Channel statistics of ImageNet, which pretrained detection backbones expect
// their input normalized with.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// EncoderOptions configures ImageEncoder. Zero values use the defaults.
type EncoderOptions struct {
	ShortSide int
	LongSide  int
}

// ImageEncoder is the standard nn.Encoder: aspect-preserving resize, scale to
// [0,1], ImageNet mean/std normalization, and annotations converted to
// normalized center-format boxes.
type ImageEncoder struct {
	shortSide int
	longSide  int
}

func NewImageEncoder(opts EncoderOptions) *ImageEncoder {
	if opts.ShortSide <= 0 {
		opts.ShortSide = DefaultShortSide
	}
	if opts.LongSide <= 0 {
		opts.LongSide = DefaultLongSide
	}
	return &ImageEncoder{
		shortSide: opts.ShortSide,
		longSide:  opts.LongSide,
	}
}

// targetSize computes the encoded dimensions for a width x height image.
// Aspect ratio is preserved, so boxes normalized against the original image
// remain valid on the resized one.
func (e *ImageEncoder) targetSize(width, height int) (int, int) {
	short := min(width, height)
	long := max(width, height)
	scale := float32(e.shortSide) / float32(short)
	if float32(long)*scale > float32(e.longSide) {
		scale = float32(e.longSide) / float32(long)
	}
	w := int(math32.Round(float32(width) * scale))
	h := int(math32.Round(float32(height) * scale))
	return max(w, 1), max(h, 1)
}

func (e *ImageEncoder) Encode(img *cimg.Image, anns []coco.Annotation) (nn.Tensor, nn.Labels, error) {
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	// Boxes are normalized against the image the annotations were drawn on,
	// before any resize.
	origWidth := img.Width
	origHeight := img.Height

	newW, newH := e.targetSize(img.Width, img.Height)
	if newW != img.Width || newH != img.Height {
		// Box filter for downsampling, triangle (bilinear) for upsampling
		params := cimg.ResizeParams{CheapSRGBFilter: true, Filter: cimg.ResizeFilterBox}
		if newW > img.Width {
			params.Filter = cimg.ResizeFilterTriangle
		}
		img = cimg.ResizeNew(img, newW, newH, &params)
	}

	tensor := nn.NewTensor(3, newH, newW)
	for c := 0; c < 3; c++ {
		invStd := 1 / imagenetStd[c]
		mean := imagenetMean[c]
		for y := 0; y < newH; y++ {
			src := img.Pixels[y*img.Stride:]
			dst := tensor.Row(c, y)
			for x := 0; x < newW; x++ {
				dst[x] = (float32(src[x*3+c])/255 - mean) * invStd
			}
		}
	}

	labels := nn.Labels{}
	for _, ann := range anns {
		// Degenerate boxes do occur in real datasets, and upset the loss
		if ann.BBox[2] <= 0 || ann.BBox[3] <= 0 {
			continue
		}
		labels.Classes = append(labels.Classes, ann.CategoryID)
		labels.Boxes = append(labels.Boxes, nn.MakeBoxNorm(ann.BBox[0], ann.BBox[1], ann.BBox[2], ann.BBox[3], origWidth, origHeight))
	}
	return tensor, labels, nil
}
