package autodiff_test

import (
	"math"
	"testing"

	"github.com/mireg-ml/mireg/internal/autodiff"
	"github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/internal/tensor"
)

func TestTapeSquareGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())

	x, err := tensor.FromSlice([]float64{1, 2, 3}, tensor.Shape{3}, backend)
	if err != nil {
		t.Fatal(err)
	}

	backend.Tape().StartRecording()
	y := x.Mul(x)
	backend.Tape().StopRecording()

	grads := autodiff.Backward(y, backend)

	grad := grads[x.Raw()]
	if grad == nil {
		t.Fatal("no gradient recorded for input")
	}
	// d(x^2)/dx = 2x, seeded with ones.
	want := []float64{2, 4, 6}
	for i, v := range grad.AsFloat64() {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Errorf("grad[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestTapeChainedGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())

	x, err := tensor.FromSlice([]float64{0.5, 1.5}, tensor.Shape{2}, backend)
	if err != nil {
		t.Fatal(err)
	}

	backend.Tape().StartRecording()
	// y = mean(exp(2x)); dy/dx = exp(2x) / n * 2
	y := x.MulScalar(2).Exp().Mean()
	backend.Tape().StopRecording()

	grads := autodiff.Backward(y, backend)

	grad := grads[x.Raw()].AsFloat64()
	for i, xv := range []float64{0.5, 1.5} {
		want := math.Exp(2*xv) / 2 * 2
		if math.Abs(grad[i]-want) > 1e-10 {
			t.Errorf("grad[%d] = %v, want %v", i, grad[i], want)
		}
	}
}

func TestTapeNotRecording(t *testing.T) {
	backend := autodiff.New(cpu.New())

	x, err := tensor.FromSlice([]float64{1, 2}, tensor.Shape{2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	_ = x.Mul(x)

	if got := backend.Tape().NumOps(); got != 0 {
		t.Errorf("NumOps = %d before StartRecording, want 0", got)
	}
}

func TestTapeClear(t *testing.T) {
	backend := autodiff.New(cpu.New())

	x, err := tensor.FromSlice([]float64{1, 2}, tensor.Shape{2}, backend)
	if err != nil {
		t.Fatal(err)
	}

	backend.Tape().StartRecording()
	_ = x.Mul(x)
	backend.Tape().StopRecording()

	if got := backend.Tape().NumOps(); got != 1 {
		t.Fatalf("NumOps = %d, want 1", got)
	}
	backend.Tape().Clear()
	if got := backend.Tape().NumOps(); got != 0 {
		t.Errorf("NumOps = %d after Clear, want 0", got)
	}
}

func TestBackwardPanicsWithoutOps(t *testing.T) {
	backend := autodiff.New(cpu.New())
	x := tensor.Ones[float64](tensor.Shape{2}, backend)

	defer func() {
		if recover() == nil {
			t.Error("expected panic when no operations were recorded")
		}
	}()
	autodiff.Backward(x, backend)
}
