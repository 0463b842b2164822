package cpu_test

import (
	"math"
	"testing"

	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
)

const huberTestEps = 0.01

func TestHuberSpatialConstantField(t *testing.T) {
	backend := cpu.New()

	data := make([]float32, 2*2*3*3)
	for i := range data {
		data[i] = 1.5
	}
	flow := rawFromFloat32(t, data, tensor.Shape{2, 2, 3, 3})

	out := backend.HuberSpatial(flow, huberTestEps)
	if got := out.AsFloat32()[0]; got != 0 {
		t.Errorf("constant field penalty = %v, want 0", got)
	}
}

func TestHuberSpatialKnownValue(t *testing.T) {
	backend := cpu.New()

	// Single-channel field, magnitudes [0 1; 0 1]. The 1x1 common
	// region at (0,0) sees squared diffs 0 (down) and 1 (right), so the
	// penalty is sqrt(0.01+1) - sqrt(0.01).
	flow := rawFromFloat32(t, []float32{0, 1, 0, 1}, tensor.Shape{1, 1, 2, 2})

	out := backend.HuberSpatial(flow, huberTestEps)
	want := math.Sqrt(1.01) - 0.1
	if got := float64(out.AsFloat32()[0]); math.Abs(got-want) > 1e-6 {
		t.Errorf("penalty = %v, want %v", got, want)
	}
}

func TestHuberTemporalKnownValue(t *testing.T) {
	backend := cpu.New()

	// Magnitude steps 0 -> 1 at every voxel across the two samples:
	// total squared difference 4.
	flow := rawFromFloat32(t, []float32{0, 0, 0, 0, 1, 1, 1, 1}, tensor.Shape{2, 1, 2, 2})

	out := backend.HuberTemporal(flow, huberTestEps)
	want := math.Sqrt(4.01) - 0.1
	if got := float64(out.AsFloat32()[0]); math.Abs(got-want) > 1e-6 {
		t.Errorf("penalty = %v, want %v", got, want)
	}
}

func TestHuberTemporalSingleSample(t *testing.T) {
	backend := cpu.New()

	flow := rawFromFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	out := backend.HuberTemporal(flow, huberTestEps)
	if got := out.AsFloat32()[0]; got != 0 {
		t.Errorf("single-sample penalty = %v, want 0", got)
	}

	grad := rawFromFloat32(t, []float32{1}, tensor.Shape{1})
	bwd := backend.HuberTemporalBackward(flow, grad, huberTestEps)
	for i, v := range bwd.AsFloat32() {
		if v != 0 {
			t.Errorf("gradient element %d = %v, want 0", i, v)
		}
	}
}

func TestHuberSpatialGradient(t *testing.T) {
	backend := cpu.New()

	shape := tensor.Shape{1, 2, 3, 4}
	data := make([]float64, shape.NumElements())
	seed := uint64(11)
	for i := range data {
		seed = seed*6364136223846793005 + 1442695040888963407
		data[i] = float64(seed>>40)/float64(1<<24) + 0.1
	}
	flow := rawFromFloat64(t, data, shape)
	one := rawFromFloat64(t, []float64{1}, tensor.Shape{1})

	grad := backend.HuberSpatialBackward(flow, one, huberTestEps).AsFloat64()

	const h = 1e-6
	for _, i := range []int{0, 5, 13, 23} {
		perturbed := make([]float64, len(data))
		copy(perturbed, data)
		perturbed[i] = data[i] + h
		plus := backend.HuberSpatial(rawFromFloat64(t, perturbed, shape), huberTestEps).AsFloat64()[0]
		perturbed[i] = data[i] - h
		minus := backend.HuberSpatial(rawFromFloat64(t, perturbed, shape), huberTestEps).AsFloat64()[0]

		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-grad[i]) > 1e-5 {
			t.Errorf("element %d: analytic %v, numeric %v", i, grad[i], numeric)
		}
	}
}
