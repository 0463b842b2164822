package warp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
	"github.com/mireg-ml/mireg/internal/warp"
)

func TestWarpIdentity(t *testing.T) {
	backend := cpu.New()

	vol, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 1, 2, 3}, backend)
	require.NoError(t, err)
	field := tensor.Zeros[float32](tensor.Shape{1, 2, 2, 3}, backend)

	out := warp.Warp(vol, field, tensor.InterpLinear)
	assert.Equal(t, vol.Data(), out.Data())
	assert.NotSame(t, vol.Raw(), out.Raw())
}

func TestWarpShift(t *testing.T) {
	backend := cpu.New()

	vol, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 1, 4}, backend)
	require.NoError(t, err)
	// One whole voxel to the right in source space; the last sample
	// clamps to the border.
	data := []float32{0, 0, 0, 0, 1, 1, 1, 1}
	field, err := tensor.FromSlice(data, tensor.Shape{1, 2, 1, 4}, backend)
	require.NoError(t, err)

	out := warp.Warp(vol, field, tensor.InterpLinear)
	assert.Equal(t, []float32{2, 3, 4, 4}, out.Data())
}

func TestWarpPyramid(t *testing.T) {
	backend := cpu.New()

	vols := []*tensor.Tensor[float32, *cpu.CPUBackend]{
		tensor.Ones[float32](tensor.Shape{1, 1, 4, 4}, backend),
		tensor.Ones[float32](tensor.Shape{1, 1, 2, 2}, backend),
	}
	fields := []*tensor.Tensor[float32, *cpu.CPUBackend]{
		tensor.Zeros[float32](tensor.Shape{1, 2, 4, 4}, backend),
		tensor.Zeros[float32](tensor.Shape{1, 2, 2, 2}, backend),
	}

	out, err := warp.WarpPyramid(vols, fields, tensor.InterpLinear)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, vols[0].Shape(), out[0].Shape())
	assert.Equal(t, vols[1].Shape(), out[1].Shape())

	_, err = warp.WarpPyramid(vols, fields[:1], tensor.InterpLinear)
	assert.Error(t, err)
}
