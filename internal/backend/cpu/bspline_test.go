package cpu_test

import (
	"math"
	"testing"

	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
)

func cubicKernel(s int) []float64 {
	kernel := make([]float64, 4*s+1)
	for k := range kernel {
		t := math.Abs(float64(k-2*s) / float64(s))
		switch {
		case t < 1:
			kernel[k] = 2.0/3.0 - t*t + t*t*t/2
		case t < 2:
			d := 2 - t
			kernel[k] = d * d * d / 6
		}
	}
	return kernel
}

func controlSize(imgSize, spacing int) int {
	return (imgSize-1)/spacing + 5
}

func TestBSplineUpsampleZero(t *testing.T) {
	backend := cpu.New()

	spacing := []int{2, 2}
	outSize := []int{6, 8}
	cptShape := tensor.Shape{1, 2, controlSize(6, 2), controlSize(8, 2)}
	cpts := rawFromFloat32(t, make([]float32, cptShape.NumElements()), cptShape)
	kernels := [][]float64{cubicKernel(2), cubicKernel(2)}

	out := backend.BSplineUpsample(cpts, kernels, spacing, outSize)
	if got := out.Shape(); !got.Equal(tensor.Shape{1, 2, 6, 8}) {
		t.Fatalf("output shape = %v, want [1 2 6 8]", got)
	}
	for i, v := range out.AsFloat32() {
		if v != 0 {
			t.Fatalf("element %d = %v, want 0", i, v)
		}
	}
}

// A constant control grid must interpolate to the same constant: the
// sampled cubic B-spline weights sum to one at every voxel.
func TestBSplineUpsampleConstant(t *testing.T) {
	backend := cpu.New()

	spacing := []int{3, 2}
	outSize := []int{7, 9}
	cptShape := tensor.Shape{1, 2, controlSize(7, 3), controlSize(9, 2)}
	data := make([]float64, cptShape.NumElements())
	for i := range data {
		data[i] = 2.5
	}
	cpts := rawFromFloat64(t, data, cptShape)
	kernels := [][]float64{cubicKernel(3), cubicKernel(2)}

	out := backend.BSplineUpsample(cpts, kernels, spacing, outSize)
	for i, v := range out.AsFloat64() {
		if math.Abs(v-2.5) > 1e-9 {
			t.Fatalf("element %d = %v, want 2.5", i, v)
		}
	}
}

func TestBSplineUpsampleAdjoint(t *testing.T) {
	backend := cpu.New()

	spacing := []int{2, 3}
	outSize := []int{5, 8}
	cptShape := tensor.Shape{1, 2, controlSize(5, 2), controlSize(8, 3)}
	outShape := tensor.Shape{1, 2, 5, 8}
	kernels := [][]float64{cubicKernel(2), cubicKernel(3)}

	cptData := make([]float64, cptShape.NumElements())
	gradData := make([]float64, outShape.NumElements())
	seed := uint64(7)
	next := func() float64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return float64(seed>>40)/float64(1<<24) - 0.5
	}
	for i := range cptData {
		cptData[i] = next()
	}
	for i := range gradData {
		gradData[i] = next()
	}
	cpts := rawFromFloat64(t, cptData, cptShape)
	grad := rawFromFloat64(t, gradData, outShape)

	fwd := backend.BSplineUpsample(cpts, kernels, spacing, outSize).AsFloat64()
	bwd := backend.BSplineUpsampleBackward(grad, kernels, spacing, []int{cptShape[2], cptShape[3]}).AsFloat64()

	var lhs, rhs float64
	for i := range fwd {
		lhs += fwd[i] * gradData[i]
	}
	for i := range bwd {
		rhs += bwd[i] * cptData[i]
	}
	if math.Abs(lhs-rhs) > 1e-9 {
		t.Errorf("<Ax,g>=%v but <x,A'g>=%v", lhs, rhs)
	}
}
