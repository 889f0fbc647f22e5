package dataset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyclopcam/finetune/pkg/nn"
)

func makeExample(channels, height, width int, fill float32, labels nn.Labels) *nn.Example {
	t := nn.NewTensor(channels, height, width)
	for i := range t.Data {
		t.Data[i] = fill
	}
	return &nn.Example{
		Pixels:     t,
		Labels:     labels,
		OrigWidth:  width * 10,
		OrigHeight: height * 10,
	}
}

func TestCollate(t *testing.T) {
	a := makeExample(1, 2, 3, 1, nn.Labels{ImageID: 5, Classes: []int{1, 2}, Boxes: make([]nn.BoxNorm, 2)})
	b := makeExample(1, 4, 2, 2, nn.Labels{ImageID: 6})

	batch, err := Collate([]*nn.Example{a, b}, true)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	require.Equal(t, 4, batch.Pixels.Height)
	require.Equal(t, 3, batch.Pixels.Width)

	// Each example sits top-left, zero fill elsewhere, mask matching
	for y := 0; y < 4; y++ {
		for x := 0; x < 3; x++ {
			inA := y < 2 && x < 3
			inB := y < 4 && x < 2
			wantA := float32(0)
			if inA {
				wantA = 1
			}
			wantB := float32(0)
			if inB {
				wantB = 2
			}
			require.Equal(t, wantA, batch.Pixels.At(0, 0, y, x), "a pixel (%v,%v)", y, x)
			require.Equal(t, wantB, batch.Pixels.At(1, 0, y, x), "b pixel (%v,%v)", y, x)
			require.Equal(t, inA, batch.Mask.At(0, y, x), "a mask (%v,%v)", y, x)
			require.Equal(t, inB, batch.Mask.At(1, y, x), "b mask (%v,%v)", y, x)
		}
	}

	// Labels stay ragged and aligned; orig sizes are stacked (height, width)
	require.Len(t, batch.Labels, 2)
	require.Equal(t, 2, batch.Labels[0].Len())
	require.Equal(t, 0, batch.Labels[1].Len())
	require.Equal(t, int64(5), batch.Labels[0].ImageID)
	require.Equal(t, [][2]int{{20, 30}, {40, 20}}, batch.OrigSizes)
}

func TestCollateNoMask(t *testing.T) {
	batch, err := Collate([]*nn.Example{makeExample(3, 2, 2, 1, nn.Labels{})}, false)
	require.NoError(t, err)
	require.Nil(t, batch.Mask)
}

func TestCollateEmpty(t *testing.T) {
	_, err := Collate(nil, true)
	require.ErrorIs(t, err, ErrEmptyBatch)
	_, err = Collate([]*nn.Example{}, false)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestCollateMixedChannels(t *testing.T) {
	a := makeExample(3, 2, 2, 1, nn.Labels{})
	b := makeExample(1, 2, 2, 1, nn.Labels{})
	_, err := Collate([]*nn.Example{a, b}, true)
	require.Error(t, err)
}
