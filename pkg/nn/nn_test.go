package nn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTensorIndexing(t *testing.T) {
	tn := NewTensor(3, 4, 5)
	require.Len(t, tn.Data, 60)
	tn.Set(2, 3, 4, 7)
	require.Equal(t, float32(7), tn.At(2, 3, 4))
	require.Equal(t, float32(7), tn.Data[59])
	require.Equal(t, float32(7), tn.Row(2, 3)[4])
}

func TestBatchTensorIndexing(t *testing.T) {
	b := NewBatchTensor(2, 3, 4, 5)
	require.Len(t, b.Data, 120)
	require.Equal(t, 60, b.ImageSize())
	b.Image(1)[59] = 9
	require.Equal(t, float32(9), b.At(1, 2, 3, 4))
}

func TestPixelMaskIndexing(t *testing.T) {
	m := NewPixelMask(2, 3, 4)
	m.Set(1, 2, 3, true)
	require.True(t, m.At(1, 2, 3))
	require.False(t, m.At(0, 2, 3))
	require.True(t, m.Data[23])
}

type fakeLoss struct {
	value     float32
	backwards int
	err       error
}

func (f *fakeLoss) Value() float32 { return f.value }
func (f *fakeLoss) Backward() error {
	f.backwards++
	return f.err
}

type plainLoss struct{ value float32 }

func (p plainLoss) Value() float32 { return p.value }

func TestLocalBackend(t *testing.T) {
	be := LocalBackend{}

	loss := &fakeLoss{value: 1.5}
	require.NoError(t, be.Backward(loss))
	require.Equal(t, 1, loss.backwards)

	loss.err = errors.New("exploded")
	require.Error(t, be.Backward(loss))

	// A loss with no Backward cannot be used with the local backend
	require.Error(t, be.Backward(plainLoss{value: 1}))

	require.NoError(t, be.WaitForEveryone())
}
