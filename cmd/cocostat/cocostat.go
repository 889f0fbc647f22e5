package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"

	"github.com/cyclopcam/finetune/pkg/coco"
	"github.com/cyclopcam/finetune/pkg/nn"
	"github.com/cyclopcam/finetune/pkg/stats"
	"github.com/cyclopcam/finetune/train/viz"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("cocostat", "Summarize a COCO annotation file, and optionally render overlays")
	annFile := parser.String("a", "annotations", &argparse.Options{Help: "Annotation file (COCO JSON)", Required: true})
	imageRoot := parser.String("i", "images", &argparse.Options{Help: "Directory containing the images (enables the file audit and rendering)", Required: false, Default: ""})
	render := parser.Int("r", "render", &argparse.Options{Help: "Render overlays for the first N annotated images", Required: false, Default: 0})
	outDir := parser.String("o", "out", &argparse.Options{Help: "Directory for rendered overlays", Required: false, Default: "overlays"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	store, err := coco.Load(*annFile)
	check(err)
	index := coco.NewIndex(store)
	names := store.CategoryNames()

	logger.Infof("%v: %v images, %v annotations, %v categories", *annFile, len(store.Images), len(store.Annotations), len(store.Categories))

	classes := make([]int, 0, len(store.Annotations))
	areas := make([]float32, 0, len(store.Annotations))
	degenerate := 0
	for _, ann := range store.Annotations {
		classes = append(classes, ann.CategoryID)
		areas = append(areas, ann.BBox[2]*ann.BBox[3])
		if ann.BBox[2] <= 0 || ann.BBox[3] <= 0 {
			degenerate++
		}
	}
	unannotated := 0
	duplicatePairs := 0
	for _, img := range store.Images {
		anns := index[img.ID]
		if len(anns) == 0 {
			unannotated++
		}
		duplicatePairs += countDuplicatePairs(anns)
	}

	if len(store.Images) > 0 && len(store.Annotations) > 0 {
		meanArea, varArea := stats.MeanVar(areas)
		mode, count := stats.Mode(classes)
		logger.Infof("Boxes per image: %.2f (%v images have none)", float64(len(store.Annotations))/float64(len(store.Images)), unannotated)
		logger.Infof("Box area: mean %.1f, stddev %.1f", meanArea, math.Sqrt(varArea))
		logger.Infof("Most frequent class: %v (%v boxes)", className(names, mode), count)
	}
	if degenerate > 0 {
		logger.Warnf("%v annotations have a degenerate (zero width or height) box", degenerate)
	}
	if duplicatePairs > 0 {
		logger.Warnf("%v pairs of same-class boxes overlap with IOU > 0.9 (probably duplicate annotations)", duplicatePairs)
	}

	// Histogram, most frequent class first
	counts := map[int]int{}
	for _, class := range classes {
		counts[class]++
	}
	hist := make([]int, 0, len(counts))
	for class := range counts {
		hist = append(hist, class)
	}
	sort.Slice(hist, func(a, b int) bool { return counts[hist[a]] > counts[hist[b]] })
	for _, class := range hist {
		logger.Infof("  %6d  %v", counts[class], className(names, class))
	}

	if *imageRoot != "" {
		auditFiles(logger, store, *imageRoot)
	}
	if *render > 0 {
		if *imageRoot == "" {
			logger.Errorf("Rendering requires --images")
			os.Exit(1)
		}
		check(os.MkdirAll(*outDir, 0777))
		renderOverlays(logger, store, index, names, *imageRoot, *outDir, *render)
	}
}

// countDuplicatePairs counts pairs of same-class annotations on one image
// whose boxes overlap almost completely. Duplicated boxes are a common
// labeling mistake, and they teach the model to emit double detections.
func countDuplicatePairs(anns []coco.Annotation) int {
	pairs := 0
	for i := 0; i < len(anns); i++ {
		for j := i + 1; j < len(anns); j++ {
			if anns[i].CategoryID != anns[j].CategoryID {
				continue
			}
			if boxRect(anns[i]).IOU(boxRect(anns[j])) > 0.9 {
				pairs++
			}
		}
	}
	return pairs
}

func boxRect(ann coco.Annotation) nn.Rect {
	return nn.Rect{
		X:      int(ann.BBox[0]),
		Y:      int(ann.BBox[1]),
		Width:  int(ann.BBox[2]),
		Height: int(ann.BBox[3]),
	}
}

// auditFiles checks that every image record has a file on disk.
func auditFiles(logger logs.Log, store *coco.Store, root string) {
	missing := 0
	for _, img := range store.Images {
		if _, err := os.Stat(filepath.Join(root, img.FileName)); err != nil {
			if missing < 10 {
				logger.Warnf("Missing image file: %v", img.FileName)
			}
			missing++
		}
	}
	if missing > 0 {
		logger.Warnf("%v of %v image files are missing", missing, len(store.Images))
	} else {
		logger.Infof("All %v image files are present", len(store.Images))
	}
}

// renderOverlays draws ground truth boxes over the first n annotated images.
// Decoded dimensions are checked against the store, since a mismatch silently
// corrupts training boxes.
func renderOverlays(logger logs.Log, store *coco.Store, index coco.Index, names map[int]string, root, outDir string, n int) {
	rendered := 0
	for _, rec := range store.Images {
		if rendered >= n {
			break
		}
		anns := index[rec.ID]
		if len(anns) == 0 {
			continue
		}
		img, err := cimg.ReadFile(filepath.Join(root, rec.FileName))
		if err != nil {
			logger.Warnf("Skipping %v: %v", rec.FileName, err)
			continue
		}
		if img.Width != rec.Width || img.Height != rec.Height {
			logger.Warnf("%v is %vx%v on disk, but the store says %vx%v", rec.FileName, img.Width, img.Height, rec.Width, rec.Height)
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%v.png", rec.ID))
		if err := viz.RenderAnnotations(img, anns, names, outPath); err != nil {
			logger.Errorf("Failed to render %v: %v", rec.FileName, err)
			continue
		}
		rendered++
	}
	logger.Infof("Rendered %v overlays into %v", rendered, outDir)
}

func className(names map[int]string, class int) string {
	if name, ok := names[class]; ok {
		return name
	}
	return fmt.Sprintf("class %v", class)
}
