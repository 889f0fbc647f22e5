// Package dataset turns a COCO annotation store plus a directory of image
// files into model-ready Examples, and collates Examples into padded Batches.
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"

	"github.com/cyclopcam/finetune/pkg/coco"
	"github.com/cyclopcam/finetune/pkg/nn"
)

const DefaultFlipProbability = 0.5

// Options configures how a Dataset produces Examples.
type Options struct {
	// Augment applies a random horizontal mirror to images and their boxes.
	// Turn it on for training sets. Leave it off for validation, where
	// repeated reads of the same index must be identical.
	Augment bool

	// FlipProbability is the chance of mirroring when Augment is on.
	// Zero value will use the default.
	FlipProbability float32

	// StrictPaths stats the image file before handing it to the decoder, so
	// a broken dataset fails with a clear not-found error on the first touch
	// of the record.
	StrictPaths bool

	// Seed makes augmentation reproducible. Zero seeds from the clock.
	Seed int64
}

// Dataset is a random-access view over a COCO store: element i is the encoded
// form of the store's i'th image record. The store and index are immutable
// after construction, so any number of goroutines may call Get concurrently.
type Dataset struct {
	log     logs.Log
	store   *coco.Store
	index   coco.Index
	root    string
	encoder nn.Encoder
	opts    Options

	// rand.Rand is not goroutine safe, and loader workers share us
	rngLock sync.Mutex
	rng     *rand.Rand
}

// NewDataset builds the annotation index and verifies that the image root
// exists. A missing root fails here, not on the first Get.
func NewDataset(log logs.Log, store *coco.Store, imageRoot string, encoder nn.Encoder, opts Options) (*Dataset, error) {
	st, err := os.Stat(imageRoot)
	if err != nil {
		return nil, fmt.Errorf("image root %v: %w", imageRoot, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("image root %v is not a directory", imageRoot)
	}
	if opts.FlipProbability == 0 {
		opts.FlipProbability = DefaultFlipProbability
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	index := coco.NewIndex(store)
	// The index gains a key for every image id that annotations mention, so any
	// excess over the image count is orphaned annotations
	if stray := len(index) - len(store.Images); stray > 0 {
		log.Warnf("Annotations reference %v image ids that are not in the store. Those annotations will never be used.", stray)
	}
	return &Dataset{
		log:     log,
		store:   store,
		index:   index,
		root:    imageRoot,
		encoder: encoder,
		opts:    opts,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

func (d *Dataset) Len() int {
	return len(d.store.Images)
}

// Get loads, optionally mirrors, and encodes image i.
// Calls are independent: with augmentation off, the same index always yields
// the same Example. Panics if i is out of range.
func (d *Dataset) Get(i int) (*nn.Example, error) {
	rec := d.store.Images[i]
	filename := filepath.Join(d.root, rec.FileName)
	if d.opts.StrictPaths {
		if _, err := os.Stat(filename); err != nil {
			return nil, fmt.Errorf("image %v: %w", rec.ID, err)
		}
	}
	img, err := cimg.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("image %v (%v): %w", rec.ID, rec.FileName, err)
	}
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	anns := d.index[rec.ID]
	if d.opts.Augment && d.drawFlip() {
		img = mirrorImage(img)
		anns = mirrorAnnotations(anns, img.Width)
	}
	pixels, labels, err := d.encoder.Encode(img, anns)
	if err != nil {
		return nil, fmt.Errorf("encode image %v: %w", rec.ID, err)
	}
	labels.ImageID = rec.ID
	return &nn.Example{
		Pixels:     pixels,
		Labels:     labels,
		OrigWidth:  img.Width,
		OrigHeight: img.Height,
	}, nil
}

// Image returns the i'th image record, for callers that need the raw
// metadata alongside Get.
func (d *Dataset) Image(i int) coco.Image {
	return d.store.Images[i]
}

func (d *Dataset) drawFlip() bool {
	d.rngLock.Lock()
	defer d.rngLock.Unlock()
	return d.rng.Float32() < d.opts.FlipProbability
}
