package dataset

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/finetune/pkg/nn"
)

// ErrEmptyBatch is returned when zero Examples are handed to Collate.
var ErrEmptyBatch = errors.New("empty batch")

// Collate merges Examples into one padded Batch. The batch tensor is sized to
// this batch's own maximum height and width; each example's pixels sit at the
// top-left, and the remainder stays zero. With withMask, the batch carries a
// validity mask that is true exactly over each example's own pixels. Labels
// are passed through ragged, and original sizes are stacked (height, width)
// per example.
func Collate(examples []*nn.Example, withMask bool) (*nn.Batch, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyBatch
	}
	channels := examples[0].Pixels.Channels
	hmax := 0
	wmax := 0
	for _, ex := range examples {
		if ex.Pixels.Channels != channels {
			return nil, fmt.Errorf("mixed channel counts in batch: %v and %v", channels, ex.Pixels.Channels)
		}
		hmax = max(hmax, ex.Pixels.Height)
		wmax = max(wmax, ex.Pixels.Width)
	}

	batch := &nn.Batch{
		Pixels:    nn.NewBatchTensor(len(examples), channels, hmax, wmax),
		Labels:    make([]nn.Labels, 0, len(examples)),
		OrigSizes: make([][2]int, 0, len(examples)),
	}
	if withMask {
		batch.Mask = nn.NewPixelMask(len(examples), hmax, wmax)
	}
	for i, ex := range examples {
		img := batch.Pixels.Image(i)
		for c := 0; c < channels; c++ {
			for y := 0; y < ex.Pixels.Height; y++ {
				copy(img[(c*hmax+y)*wmax:], ex.Pixels.Row(c, y))
			}
		}
		if withMask {
			for y := 0; y < ex.Pixels.Height; y++ {
				start := (i*hmax + y) * wmax
				for x := 0; x < ex.Pixels.Width; x++ {
					batch.Mask.Data[start+x] = true
				}
			}
		}
		batch.Labels = append(batch.Labels, ex.Labels)
		batch.OrigSizes = append(batch.OrigSizes, [2]int{ex.OrigHeight, ex.OrigWidth})
	}
	return batch, nil
}
