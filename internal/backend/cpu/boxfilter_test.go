package cpu_test

import (
	"math"
	"testing"

	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
)

func TestBoxFilterLine(t *testing.T) {
	backend := cpu.New()

	x := rawFromFloat32(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 1, 4})
	out := backend.BoxFilter(x, []int{1, 3})

	// Window 3, zero padding 1: border sums count fewer voxels.
	assertFloat32Slice(t, out.AsFloat32(), []float32{3, 6, 9, 7}, 1e-6)
}

func TestBoxFilter2D(t *testing.T) {
	backend := cpu.New()

	x := rawFromFloat32(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	out := backend.BoxFilter(x, []int{3, 3})

	// Center window covers all nine voxels.
	if got := out.AsFloat32()[4]; math.Abs(float64(got-45)) > 1e-6 {
		t.Errorf("center sum = %v, want 45", got)
	}
	// Corner window covers the 2x2 block.
	if got := out.AsFloat32()[0]; math.Abs(float64(got-12)) > 1e-6 {
		t.Errorf("corner sum = %v, want 12", got)
	}
}

// The backward pass must be the exact adjoint of the forward pass:
// <BoxFilter(x), g> == <x, BoxFilterBackward(g)> for all x, g.
func TestBoxFilterAdjoint(t *testing.T) {
	backend := cpu.New()

	shape := tensor.Shape{1, 1, 5, 6}
	x, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	g, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	// Deterministic pseudo-random fill.
	seed := uint64(1)
	next := func() float64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return float64(seed>>40)/float64(1<<24) - 0.5
	}
	for i := range x.AsFloat64() {
		x.AsFloat64()[i] = next()
	}
	for i := range g.AsFloat64() {
		g.AsFloat64()[i] = next()
	}

	for _, window := range [][]int{{3, 3}, {1, 5}, {2, 4}} {
		fwd := backend.BoxFilter(x, window).AsFloat64()
		bwd := backend.BoxFilterBackward(g, window).AsFloat64()

		var lhs, rhs float64
		for i := range fwd {
			lhs += fwd[i] * g.AsFloat64()[i]
			rhs += x.AsFloat64()[i] * bwd[i]
		}
		if math.Abs(lhs-rhs) > 1e-9 {
			t.Errorf("window %v: <Ax,g>=%v but <x,A'g>=%v", window, lhs, rhs)
		}
	}
}

func TestAvgPoolHalfAdjoint(t *testing.T) {
	backend := cpu.New()

	// Odd input sizes: truncated voxels must receive zero gradient.
	inShape := tensor.Shape{1, 1, 5, 7}
	outShape := tensor.Shape{1, 1, 2, 3}
	x, err := tensor.NewRaw(inShape, tensor.Float64, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	g, err := tensor.NewRaw(outShape, tensor.Float64, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	seed := uint64(3)
	next := func() float64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return float64(seed>>40)/float64(1<<24) - 0.5
	}
	for i := range x.AsFloat64() {
		x.AsFloat64()[i] = next()
	}
	for i := range g.AsFloat64() {
		g.AsFloat64()[i] = next()
	}

	fwd := backend.AvgPoolHalf(x).AsFloat64()
	bwd := backend.AvgPoolHalfBackward(g, []int{5, 7}).AsFloat64()

	var lhs, rhs float64
	for i := range fwd {
		lhs += fwd[i] * g.AsFloat64()[i]
	}
	for i := range bwd {
		rhs += x.AsFloat64()[i] * bwd[i]
	}
	if math.Abs(lhs-rhs) > 1e-9 {
		t.Errorf("<Ax,g>=%v but <x,A'g>=%v", lhs, rhs)
	}

	// The dropped last row and column carry no gradient.
	grad := backend.AvgPoolHalfBackward(g, []int{5, 7})
	data := grad.AsFloat64()
	for j := 0; j < 7; j++ {
		if v := data[4*7+j]; v != 0 {
			t.Errorf("truncated row gradient at col %d = %v, want 0", j, v)
		}
	}
	for i := 0; i < 5; i++ {
		if v := data[i*7+6]; v != 0 {
			t.Errorf("truncated col gradient at row %d = %v, want 0", i, v)
		}
	}
}
