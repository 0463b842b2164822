package loss_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/loss"
	"github.com/mireg-ml/mireg/internal/metric"
	"github.com/mireg-ml/mireg/internal/regularize"
	"github.com/mireg-ml/mireg/internal/tensor"
)

func patternVolume(t *testing.T, backend *cpu.CPUBackend, size int) *tensor.Tensor[float32, *cpu.CPUBackend] {
	t.Helper()
	data := make([]float32, size*size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if (i+j)%2 == 0 {
				data[i*size+j] = 1
			}
		}
	}
	vol, err := tensor.FromSlice(data, tensor.Shape{1, 1, size, size}, backend)
	require.NoError(t, err)
	return vol
}

func TestNewAggregatorValidation(t *testing.T) {
	backend := cpu.New()
	lncc, err := metric.NewLNCCLoss([]int{3}, backend)
	require.NoError(t, err)
	reg := regularize.New(1, 0, backend)

	_, err = loss.NewAggregator[*cpu.CPUBackend](nil, nil, []float64{1}, nil, backend)
	assert.Error(t, err, "missing metric")

	_, err = loss.NewAggregator[*cpu.CPUBackend](lncc, nil, nil, nil, backend)
	assert.Error(t, err, "no levels")

	_, err = loss.NewAggregator[*cpu.CPUBackend](lncc, reg, []float64{1, 1}, []float64{1}, backend)
	assert.Error(t, err, "weight length mismatch")

	_, err = loss.NewAggregator[*cpu.CPUBackend](lncc, nil, []float64{1}, []float64{1}, backend)
	assert.Error(t, err, "weights without regularizer")

	_, err = loss.NewAggregator[*cpu.CPUBackend](lncc, reg, []float64{1}, nil, backend)
	assert.Error(t, err, "regularizer without weights")

	agg, err := loss.NewAggregator[*cpu.CPUBackend](lncc, reg, []float64{1, 0.5}, []float64{0.1, 0.1}, backend)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Levels())
}

func TestAggregatorBreakdown(t *testing.T) {
	backend := cpu.New()
	lncc, err := metric.NewLNCCLoss([]int{3}, backend)
	require.NoError(t, err)
	reg := regularize.New(1, 0, backend)

	agg, err := loss.NewAggregator[*cpu.CPUBackend](lncc, reg, []float64{1, 0.5}, []float64{0.1, 0.2}, backend)
	require.NoError(t, err)

	targets := []*tensor.Tensor[float32, *cpu.CPUBackend]{
		patternVolume(t, backend, 8),
		patternVolume(t, backend, 4),
	}
	fields := []*tensor.Tensor[float32, *cpu.CPUBackend]{
		tensor.Zeros[float32](tensor.Shape{1, 2, 8, 8}, backend),
		tensor.Zeros[float32](tensor.Shape{1, 2, 4, 4}, backend),
	}

	total, breakdown, err := agg.Loss(targets, targets, fields)
	require.NoError(t, err)

	for _, key := range []string{"sim/0", "sim/1", "reg/0", "reg/1", "loss"} {
		assert.Contains(t, breakdown, key)
	}

	// Zero fields carry no smoothness penalty; identical volumes score
	// near perfect correlation at both levels.
	assert.Zero(t, breakdown["reg/0"])
	assert.Zero(t, breakdown["reg/1"])
	assert.InDelta(t, -1.0, float64(breakdown["sim/0"]), 1e-2)
	assert.InDelta(t, -0.5, float64(breakdown["sim/1"]), 1e-2)

	sum := breakdown["sim/0"] + breakdown["sim/1"] + breakdown["reg/0"] + breakdown["reg/1"]
	assert.InDelta(t, float64(sum), float64(breakdown["loss"]), 1e-6)
	assert.InDelta(t, float64(total.Item()), float64(breakdown["loss"]), 1e-7)
}

func TestAggregatorWithoutRegularizer(t *testing.T) {
	backend := cpu.New()
	lncc, err := metric.NewLNCCLoss([]int{3}, backend)
	require.NoError(t, err)

	agg, err := loss.NewAggregator[*cpu.CPUBackend](lncc, nil, []float64{1}, nil, backend)
	require.NoError(t, err)

	vol := patternVolume(t, backend, 8)
	total, breakdown, err := agg.Loss(
		[]*tensor.Tensor[float32, *cpu.CPUBackend]{vol},
		[]*tensor.Tensor[float32, *cpu.CPUBackend]{vol},
		nil,
	)
	require.NoError(t, err)
	assert.NotContains(t, breakdown, "reg/0")
	assert.InDelta(t, float64(breakdown["sim/0"]), float64(total.Item()), 1e-7)
}

func TestAggregatorLevelMismatch(t *testing.T) {
	backend := cpu.New()
	lncc, err := metric.NewLNCCLoss([]int{3}, backend)
	require.NoError(t, err)
	reg := regularize.New(1, 0, backend)

	agg, err := loss.NewAggregator[*cpu.CPUBackend](lncc, reg, []float64{1, 1}, []float64{1, 1}, backend)
	require.NoError(t, err)

	vol := patternVolume(t, backend, 8)
	one := []*tensor.Tensor[float32, *cpu.CPUBackend]{vol}
	two := []*tensor.Tensor[float32, *cpu.CPUBackend]{vol, patternVolume(t, backend, 4)}

	_, _, err = agg.Loss(one, two, two)
	assert.Error(t, err, "target levels")

	fields := []*tensor.Tensor[float32, *cpu.CPUBackend]{tensor.Zeros[float32](tensor.Shape{1, 2, 8, 8}, backend)}
	_, _, err = agg.Loss(two, two, fields)
	assert.Error(t, err, "field levels")
}
