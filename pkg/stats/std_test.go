package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeanVar(t *testing.T) {
	samples := []float32{1, 2, 3, 4}
	mean, variance := MeanVar(samples)
	require.InDelta(t, 2.5, mean, 1e-9)
	require.InDelta(t, 1.25, variance, 1e-9)
	require.InDelta(t, 2.5, Mean(samples), 1e-9)
	require.InDelta(t, 1.25, Variance(samples), 1e-9)

	require.InDelta(t, 3.0, Mean([]int{3}), 1e-9)
	require.InDelta(t, 0.0, Variance([]int{3}), 1e-9)
}

func TestMode(t *testing.T) {
	mode, count := Mode([]int{5, 1, 5, 2, 5, 1})
	require.Equal(t, 5, mode)
	require.Equal(t, 3, count)
}
