// Package coco reads COCO-format annotation files and indexes their
// annotations by image, for feeding to the training pipeline.
package coco

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMalformed is returned when an annotation file is structurally broken,
// such as a missing top-level key, or a record without a required field.
var ErrMalformed = errors.New("malformed annotation store")

// Image is one image record from the annotation store.
type Image struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Annotation is one object instance: a box on an image, with a category.
// BBox is [x, y, width, height] in pixels, top-left origin.
type Annotation struct {
	ID         int64      `json:"id"`
	ImageID    int64      `json:"image_id"`
	CategoryID int        `json:"category_id"`
	BBox       [4]float32 `json:"bbox"`
	Area       float32    `json:"area"`
	IsCrowd    int        `json:"iscrowd"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Store is a parsed annotation file. Immutable after Load, so any number of
// readers may share it.
type Store struct {
	Images      []Image
	Annotations []Annotation
	Categories  []Category
}

// Raw records are decoded with pointer fields so that we can tell a missing
// key apart from a zero value.
type storeJSON struct {
	Images      *[]imageJSON      `json:"images"`
	Annotations *[]annotationJSON `json:"annotations"`
	Categories  []Category        `json:"categories"`
}

type imageJSON struct {
	ID       *int64  `json:"id"`
	FileName *string `json:"file_name"`
	Width    *int    `json:"width"`
	Height   *int    `json:"height"`
}

type annotationJSON struct {
	ID         int64      `json:"id"`
	ImageID    *int64     `json:"image_id"`
	CategoryID *int       `json:"category_id"`
	BBox       *[]float32 `json:"bbox"`
	Area       float32    `json:"area"`
	IsCrowd    int        `json:"iscrowd"`
}

// Load reads and parses a COCO annotation file.
// A missing file surfaces the underlying os error, so callers can test it
// with errors.Is(err, fs.ErrNotExist).
func Load(filename string) (*Store, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	store, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return store, nil
}

// Parse decodes an annotation file that is already in memory.
func Parse(raw []byte) (*Store, error) {
	file := storeJSON{}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if file.Images == nil {
		return nil, fmt.Errorf("%w: missing 'images'", ErrMalformed)
	}
	if file.Annotations == nil {
		return nil, fmt.Errorf("%w: missing 'annotations'", ErrMalformed)
	}
	store := &Store{
		Images:      make([]Image, 0, len(*file.Images)),
		Annotations: make([]Annotation, 0, len(*file.Annotations)),
		Categories:  file.Categories,
	}
	for i, img := range *file.Images {
		switch {
		case img.ID == nil:
			return nil, fmt.Errorf("%w: images[%v] missing 'id'", ErrMalformed, i)
		case img.FileName == nil || *img.FileName == "":
			return nil, fmt.Errorf("%w: images[%v] missing 'file_name'", ErrMalformed, i)
		case img.Width == nil || img.Height == nil:
			return nil, fmt.Errorf("%w: images[%v] missing 'width' or 'height'", ErrMalformed, i)
		case *img.Width <= 0 || *img.Height <= 0:
			return nil, fmt.Errorf("%w: images[%v] has invalid size %vx%v", ErrMalformed, i, *img.Width, *img.Height)
		}
		store.Images = append(store.Images, Image{
			ID:       *img.ID,
			FileName: *img.FileName,
			Width:    *img.Width,
			Height:   *img.Height,
		})
	}
	for i, ann := range *file.Annotations {
		switch {
		case ann.ImageID == nil:
			return nil, fmt.Errorf("%w: annotations[%v] missing 'image_id'", ErrMalformed, i)
		case ann.CategoryID == nil:
			return nil, fmt.Errorf("%w: annotations[%v] missing 'category_id'", ErrMalformed, i)
		case ann.BBox == nil:
			return nil, fmt.Errorf("%w: annotations[%v] missing 'bbox'", ErrMalformed, i)
		case len(*ann.BBox) != 4:
			return nil, fmt.Errorf("%w: annotations[%v] bbox has %v elements, expected 4", ErrMalformed, i, len(*ann.BBox))
		}
		a := Annotation{
			ID:         ann.ID,
			ImageID:    *ann.ImageID,
			CategoryID: *ann.CategoryID,
			Area:       ann.Area,
			IsCrowd:    ann.IsCrowd,
		}
		copy(a.BBox[:], *ann.BBox)
		store.Annotations = append(store.Annotations, a)
	}
	return store, nil
}

// CategoryNames returns category id -> name. Stores without a categories
// section are assumed to use the standard 80 class table with zero-based ids,
// which is what the YOLO family emits.
func (s *Store) CategoryNames() map[int]string {
	if len(s.Categories) == 0 {
		names := make(map[int]string, len(Classes))
		for i, name := range Classes {
			names[i] = name
		}
		return names
	}
	names := make(map[int]string, len(s.Categories))
	for _, c := range s.Categories {
		names[c.ID] = c.Name
	}
	return names
}
