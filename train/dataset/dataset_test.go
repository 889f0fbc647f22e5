package dataset

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/cyclopcam/finetune/pkg/coco"
	"github.com/cyclopcam/finetune/pkg/nn"
)

// Writes a JPEG whose left half is black and right half is white, so that
// mirror tests have something asymmetric to look at.
func writeTestJPEG(t *testing.T, filename string, width, height int) {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := byte(0)
			if x >= width/2 {
				v = 255
			}
			p := y*img.Stride + x*3
			img.Pixels[p] = v
			img.Pixels[p+1] = v
			img.Pixels[p+2] = v
		}
	}
	img.WriteJPEG(filename, cimg.MakeCompressParams(cimg.Sampling444, 95, 0), 0644)
	require.FileExists(t, filename)
}

func TestDatasetGet(t *testing.T) {
	root := t.TempDir()
	writeTestJPEG(t, filepath.Join(root, "a.jpg"), 200, 100)
	store := &coco.Store{
		Images: []coco.Image{{ID: 1, FileName: "a.jpg", Width: 200, Height: 100}},
	}
	enc := NewImageEncoder(EncoderOptions{ShortSide: 100, LongSide: 1000})
	ds, err := NewDataset(logs.NewTestingLog(t), store, root, enc, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())

	ex, err := ds.Get(0)
	require.NoError(t, err)
	require.Equal(t, 100, ex.OrigHeight)
	require.Equal(t, 200, ex.OrigWidth)
	require.Equal(t, 3, ex.Pixels.Channels)
	require.Equal(t, 100, ex.Pixels.Height)
	require.Equal(t, 200, ex.Pixels.Width)
	require.Equal(t, 0, ex.Labels.Len())
	require.Equal(t, int64(1), ex.Labels.ImageID)

	// A lone example pads to its own size, so the mask is all true
	batch, err := Collate([]*nn.Example{ex}, true)
	require.NoError(t, err)
	require.Equal(t, 100, batch.Pixels.Height)
	require.Equal(t, 200, batch.Pixels.Width)
	for _, v := range batch.Mask.Data {
		require.True(t, v)
	}
	require.Equal(t, [][2]int{{100, 200}}, batch.OrigSizes)
}

func TestDatasetDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTestJPEG(t, filepath.Join(root, "a.jpg"), 64, 48)
	store := &coco.Store{
		Images: []coco.Image{{ID: 1, FileName: "a.jpg", Width: 64, Height: 48}},
		Annotations: []coco.Annotation{
			{ID: 1, ImageID: 1, CategoryID: 2, BBox: [4]float32{4, 4, 16, 16}},
		},
	}
	enc := NewImageEncoder(EncoderOptions{ShortSide: 48, LongSide: 1000})
	ds, err := NewDataset(logs.NewTestingLog(t), store, root, enc, Options{})
	require.NoError(t, err)

	// Without augmentation, repeated reads of the same index are identical
	a, err := ds.Get(0)
	require.NoError(t, err)
	b, err := ds.Get(0)
	require.NoError(t, err)
	require.Equal(t, a.Pixels.Data, b.Pixels.Data)
	require.Equal(t, a.Labels, b.Labels)
}

func TestDatasetAugment(t *testing.T) {
	root := t.TempDir()
	writeTestJPEG(t, filepath.Join(root, "a.jpg"), 40, 20)
	store := &coco.Store{
		Images: []coco.Image{{ID: 1, FileName: "a.jpg", Width: 40, Height: 20}},
		Annotations: []coco.Annotation{
			{ID: 1, ImageID: 1, CategoryID: 2, BBox: [4]float32{0, 0, 10, 10}},
		},
	}
	enc := NewImageEncoder(EncoderOptions{ShortSide: 20, LongSide: 1000})
	plainDS, err := NewDataset(logs.NewTestingLog(t), store, root, enc, Options{})
	require.NoError(t, err)
	augDS, err := NewDataset(logs.NewTestingLog(t), store, root, enc, Options{Augment: true, FlipProbability: 1, Seed: 1})
	require.NoError(t, err)

	plain, err := plainDS.Get(0)
	require.NoError(t, err)
	aug, err := augDS.Get(0)
	require.NoError(t, err)

	// Pixels are mirrored around the vertical axis
	width := plain.Pixels.Width
	for c := 0; c < 3; c++ {
		for y := 0; y < plain.Pixels.Height; y++ {
			for x := 0; x < width; x++ {
				require.Equal(t, plain.Pixels.At(c, y, x), aug.Pixels.At(c, y, width-1-x))
			}
		}
	}

	// The box follows its object: cx mirrors, everything else stays
	require.InDelta(t, 1-plain.Labels.Boxes[0].CX, aug.Labels.Boxes[0].CX, 1e-6)
	require.Equal(t, plain.Labels.Boxes[0].CY, aug.Labels.Boxes[0].CY)
	require.Equal(t, plain.Labels.Boxes[0].W, aug.Labels.Boxes[0].W)
	require.Equal(t, plain.Labels.Boxes[0].H, aug.Labels.Boxes[0].H)
	require.Equal(t, plain.Labels.Classes, aug.Labels.Classes)
}

func TestDatasetMissingImage(t *testing.T) {
	root := t.TempDir()
	store := &coco.Store{
		Images: []coco.Image{{ID: 1, FileName: "ghost.jpg", Width: 10, Height: 10}},
	}
	enc := NewImageEncoder(EncoderOptions{})

	strict, err := NewDataset(logs.NewTestingLog(t), store, root, enc, Options{StrictPaths: true})
	require.NoError(t, err)
	_, err = strict.Get(0)
	require.ErrorIs(t, err, fs.ErrNotExist)

	loose, err := NewDataset(logs.NewTestingLog(t), store, root, enc, Options{})
	require.NoError(t, err)
	_, err = loose.Get(0)
	require.Error(t, err)
}

func TestDatasetMissingRoot(t *testing.T) {
	enc := NewImageEncoder(EncoderOptions{})
	_, err := NewDataset(logs.NewTestingLog(t), &coco.Store{}, filepath.Join(t.TempDir(), "nope"), enc, Options{})
	require.ErrorIs(t, err, fs.ErrNotExist)
}
