// Package viz renders annotation and detection overlays, for eyeballing
// datasets and model output.
package viz

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"

	"github.com/cyclopcam/finetune/pkg/coco"
	"github.com/cyclopcam/finetune/pkg/nn"
)

// Box colors cycle per class, so the same class gets the same color across images
var classColors = [][3]float64{
	{1, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
	{1, 1, 0},
	{0, 1, 1},
	{1, 0, 1},
	{1, 0.5, 0},
	{0.5, 0, 1},
}

type overlayBox struct {
	x, y, w, h float64
	caption    string
	class      int
}

// RenderAnnotations draws the ground truth boxes of one image and writes a PNG.
// names maps category IDs to human readable labels, and may be nil.
func RenderAnnotations(img *cimg.Image, anns []coco.Annotation, names map[int]string, outPath string) error {
	boxes := make([]overlayBox, 0, len(anns))
	for _, ann := range anns {
		boxes = append(boxes, overlayBox{
			x:       float64(ann.BBox[0]),
			y:       float64(ann.BBox[1]),
			w:       float64(ann.BBox[2]),
			h:       float64(ann.BBox[3]),
			caption: className(names, ann.CategoryID),
			class:   ann.CategoryID,
		})
	}
	return render(img, boxes, outPath)
}

// RenderDetections draws model detections of one image and writes a PNG.
func RenderDetections(img *cimg.Image, objects []nn.ObjectDetection, names map[int]string, outPath string) error {
	boxes := make([]overlayBox, 0, len(objects))
	for _, obj := range objects {
		boxes = append(boxes, overlayBox{
			x:       float64(obj.Box.X),
			y:       float64(obj.Box.Y),
			w:       float64(obj.Box.Width),
			h:       float64(obj.Box.Height),
			caption: fmt.Sprintf("%v %.2f", className(names, obj.Class), obj.Confidence),
			class:   obj.Class,
		})
	}
	return render(img, boxes, outPath)
}

func className(names map[int]string, class int) string {
	if name, ok := names[class]; ok {
		return name
	}
	return fmt.Sprintf("class %v", class)
}

func render(img *cimg.Image, boxes []overlayBox, outPath string) error {
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	dc := gg.NewContextForImage(toRGBA(img))
	dc.SetLineWidth(2)
	for _, b := range boxes {
		c := classColors[b.class%len(classColors)]
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(b.x, b.y, b.w, b.h)
		dc.Stroke()
		// Caption above the box, or inside it when the box touches the top edge
		captionY := b.y - 3
		if captionY < 10 {
			captionY = b.y + 13
		}
		dc.DrawString(b.caption, b.x+2, captionY)
	}
	return dc.SavePNG(outPath)
}

// toRGBA expands tightly packed RGB into the RGBA layout that gg draws on.
func toRGBA(img *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride : y*img.Stride+img.Width*3]
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < img.Width; x++ {
			row[x*4] = src[x*3]
			row[x*4+1] = src[x*3+1]
			row[x*4+2] = src[x*3+2]
			row[x*4+3] = 255
		}
	}
	return dst
}
