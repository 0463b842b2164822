package autodiff_test

import (
	"math"
	"testing"

	"github.com/mireg-ml/mireg/internal/autodiff"
	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
)

type adBackend = *autodiff.Backend[*cpu.CPUBackend]

func pseudoRandom(seed uint64, n int, lo, hi float64) []float64 {
	data := make([]float64, n)
	for i := range data {
		seed = seed*6364136223846793005 + 1442695040888963407
		data[i] = lo + (hi-lo)*float64(seed>>40)/float64(1<<24)
	}
	return data
}

// checkGradient compares the taped gradient of a scalar loss against
// central finite differences over every element of the parameter.
func checkGradient(
	t *testing.T,
	data []float64,
	shape tensor.Shape,
	loss func(b adBackend, x *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend],
	tol float64,
) {
	t.Helper()

	backend := autodiff.New(cpu.New())
	x, err := tensor.FromSlice(data, shape, backend)
	if err != nil {
		t.Fatal(err)
	}

	backend.Tape().StartRecording()
	out := loss(backend, x)
	backend.Tape().StopRecording()
	if out.Shape().NumElements() != 1 {
		t.Fatalf("loss must be scalar, got shape %v", out.Shape())
	}

	grads := autodiff.Backward(out, backend)
	grad := grads[x.Raw()]
	if grad == nil {
		t.Fatal("no gradient for parameter")
	}
	analytic := grad.AsFloat64()

	const h = 1e-6
	eval := func(values []float64) float64 {
		b := autodiff.New(cpu.New())
		xt, err := tensor.FromSlice(values, shape, b)
		if err != nil {
			t.Fatal(err)
		}
		return loss(b, xt).Item()
	}

	for i := range data {
		perturbed := make([]float64, len(data))
		copy(perturbed, data)
		perturbed[i] = data[i] + h
		plus := eval(perturbed)
		perturbed[i] = data[i] - h
		minus := eval(perturbed)

		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-analytic[i]) > tol {
			t.Errorf("element %d: analytic %v, numeric %v", i, analytic[i], numeric)
		}
	}
}

func weightTensor(b adBackend, shape tensor.Shape) *tensor.Tensor[float64, adBackend] {
	raw, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
	if err != nil {
		panic(err)
	}
	copy(raw.AsFloat64(), pseudoRandom(99, shape.NumElements(), 0.5, 1.5))
	return tensor.New[float64](raw, b)
}

func TestGridSampleVolumeGradient(t *testing.T) {
	volShape := tensor.Shape{1, 1, 3, 4}
	fieldData := pseudoRandom(3, 2*3*4, -0.4, 0.4)

	checkGradient(t, pseudoRandom(1, volShape.NumElements(), 0, 1), volShape,
		func(b adBackend, vol *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			fieldRaw, err := tensor.NewRaw(tensor.Shape{1, 2, 3, 4}, tensor.Float64, tensor.CPU)
			if err != nil {
				t.Fatal(err)
			}
			copy(fieldRaw.AsFloat64(), fieldData)
			warped := tensor.New[float64](b.GridSample(vol.Raw(), fieldRaw, tensor.InterpLinear), b)
			return warped.Mul(weightTensor(b, warped.Shape())).Sum()
		}, 1e-5)
}

func TestGridSampleFieldGradient(t *testing.T) {
	fieldShape := tensor.Shape{1, 2, 3, 4}
	volData := pseudoRandom(5, 3*4, 0, 1)

	// Fractional offsets keep every sample off the integer lattice,
	// where linear interpolation is not differentiable.
	checkGradient(t, pseudoRandom(7, fieldShape.NumElements(), 0.1, 0.45), fieldShape,
		func(b adBackend, field *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			volRaw, err := tensor.NewRaw(tensor.Shape{1, 1, 3, 4}, tensor.Float64, tensor.CPU)
			if err != nil {
				t.Fatal(err)
			}
			copy(volRaw.AsFloat64(), volData)
			warped := tensor.New[float64](b.GridSample(volRaw, field.Raw(), tensor.InterpLinear), b)
			return warped.Mul(weightTensor(b, warped.Shape())).Sum()
		}, 1e-5)
}

func TestAvgPoolHalfGradient(t *testing.T) {
	// Odd sizes exercise the truncated voxels, which get zero gradient.
	shape := tensor.Shape{1, 2, 4, 5}
	checkGradient(t, pseudoRandom(13, shape.NumElements(), -1, 1), shape,
		func(b adBackend, x *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			out := tensor.New[float64](b.AvgPoolHalf(x.Raw()), b)
			return out.Mul(weightTensor(b, out.Shape())).Sum()
		}, 1e-5)
}

func TestBoxFilterGradient(t *testing.T) {
	shape := tensor.Shape{1, 1, 4, 5}
	checkGradient(t, pseudoRandom(11, shape.NumElements(), -1, 1), shape,
		func(b adBackend, x *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			out := x.BoxFilter([]int{3, 3})
			return out.Mul(weightTensor(b, out.Shape())).Sum()
		}, 1e-5)
}

func TestBSplineUpsampleGradient(t *testing.T) {
	spacing := []int{2, 2}
	outSize := []int{4, 5}
	cptShape := tensor.Shape{1, 2, (4-1)/2 + 5, (5-1)/2 + 5}
	kernel := make([]float64, 9)
	for k := range kernel {
		v := math.Abs(float64(k-4) / 2)
		switch {
		case v < 1:
			kernel[k] = 2.0/3.0 - v*v + v*v*v/2
		case v < 2:
			d := 2 - v
			kernel[k] = d * d * d / 6
		}
	}

	checkGradient(t, pseudoRandom(13, cptShape.NumElements(), -1, 1), cptShape,
		func(b adBackend, cpts *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			field := tensor.New[float64](b.BSplineUpsample(cpts.Raw(), [][]float64{kernel, kernel}, spacing, outSize), b)
			return field.Mul(weightTensor(b, field.Shape())).Sum()
		}, 1e-5)
}

func TestHuberSpatialGradientTaped(t *testing.T) {
	shape := tensor.Shape{2, 2, 3, 3}
	checkGradient(t, pseudoRandom(17, shape.NumElements(), 0.1, 1), shape,
		func(b adBackend, flow *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			return tensor.New[float64](b.HuberSpatial(flow.Raw(), 0.01), b)
		}, 1e-5)
}

func TestHuberTemporalGradientTaped(t *testing.T) {
	shape := tensor.Shape{3, 2, 2, 2}
	checkGradient(t, pseudoRandom(19, shape.NumElements(), 0.1, 1), shape,
		func(b adBackend, flow *tensor.Tensor[float64, adBackend]) *tensor.Tensor[float64, adBackend] {
			return tensor.New[float64](b.HuberTemporal(flow.Raw(), 0.01), b)
		}, 1e-5)
}
