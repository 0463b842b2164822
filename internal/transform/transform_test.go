package transform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
	"github.com/mireg-ml/mireg/internal/transform"
)

func TestDenseFieldPassthrough(t *testing.T) {
	backend := cpu.New()
	model := transform.NewDenseField[*cpu.CPUBackend]()

	field := tensor.Ones[float32](tensor.Shape{2, 3, 4, 5, 6}, backend)
	out := model.Apply(field)
	assert.Same(t, field, out)
}

func TestDenseFieldChannelMismatchPanics(t *testing.T) {
	backend := cpu.New()
	model := transform.NewDenseField[*cpu.CPUBackend]()

	// 2-D volume with 3 displacement channels.
	field := tensor.Ones[float32](tensor.Shape{1, 3, 4, 5}, backend)
	assert.Panics(t, func() { model.Apply(field) })
}

func TestNewBSplineFFDValidation(t *testing.T) {
	_, err := transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8}, []int{2})
	assert.Error(t, err, "rank 1")

	_, err = transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8, 8, 8, 8}, []int{2, 2, 2, 2})
	assert.Error(t, err, "rank 4")

	_, err = transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8, 8}, []int{2})
	assert.Error(t, err, "spacing rank mismatch")

	_, err = transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8, 0}, []int{2, 2})
	assert.Error(t, err, "empty image axis")

	_, err = transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8, 8}, []int{2, 0})
	assert.Error(t, err, "zero spacing")
}

func TestBSplineFFDControlPointSize(t *testing.T) {
	model, err := transform.NewBSplineFFD[*cpu.CPUBackend]([]int{32, 32, 24}, []int{4, 4, 8})
	require.NoError(t, err)

	// (size-1)/spacing + 5 per axis.
	assert.Equal(t, []int{12, 12, 7}, model.ControlPointSize())
}

func TestBSplineFFDApplyShape(t *testing.T) {
	backend := cpu.New()
	model, err := transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8, 10}, []int{2, 2})
	require.NoError(t, err)

	cptSize := model.ControlPointSize()
	cpts := tensor.Zeros[float32](tensor.Shape{2, 2, cptSize[0], cptSize[1]}, backend)
	field := model.Apply(cpts)
	assert.Equal(t, tensor.Shape{2, 2, 8, 10}, field.Shape())
}

func TestBSplineFFDApplyBadShapesPanic(t *testing.T) {
	backend := cpu.New()
	model, err := transform.NewBSplineFFD[*cpu.CPUBackend]([]int{8, 10}, []int{2, 2})
	require.NoError(t, err)

	cptSize := model.ControlPointSize()

	wrongRank := tensor.Zeros[float32](tensor.Shape{1, 2, cptSize[0]}, backend)
	assert.Panics(t, func() { model.Apply(wrongRank) })

	wrongChannels := tensor.Zeros[float32](tensor.Shape{1, 3, cptSize[0], cptSize[1]}, backend)
	assert.Panics(t, func() { model.Apply(wrongChannels) })

	wrongGrid := tensor.Zeros[float32](tensor.Shape{1, 2, cptSize[0] + 1, cptSize[1]}, backend)
	assert.Panics(t, func() { model.Apply(wrongGrid) })
}

func TestBSplineFFDZeroControlPoints(t *testing.T) {
	backend := cpu.New()
	model, err := transform.NewBSplineFFD[*cpu.CPUBackend]([]int{6, 6}, []int{2, 2})
	require.NoError(t, err)

	cptSize := model.ControlPointSize()
	cpts := tensor.Zeros[float32](tensor.Shape{1, 2, cptSize[0], cptSize[1]}, backend)
	field := model.Apply(cpts)
	for _, v := range field.Data() {
		assert.Zero(t, v)
	}
}

func TestBSplineFFDConstantControlPoints(t *testing.T) {
	backend := cpu.New()
	model, err := transform.NewBSplineFFD[*cpu.CPUBackend]([]int{6, 9}, []int{2, 3})
	require.NoError(t, err)

	cptSize := model.ControlPointSize()
	cpts := tensor.Full[float32](tensor.Shape{1, 2, cptSize[0], cptSize[1]}, 1.25, backend)
	field := model.Apply(cpts)
	for i, v := range field.Data() {
		assert.InDelta(t, 1.25, float64(v), 1e-5, "voxel %d", i)
	}
}
