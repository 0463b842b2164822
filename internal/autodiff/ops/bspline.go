package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// BSplineUpsampleOp represents the expansion of a coarse control-point
// lattice into a dense displacement field via separable cubic B-spline
// interpolation.
//
// Backward pass: the expansion is linear in the control points, so the
// gradient is the transposed gather, accumulating each dense-grid
// gradient into the control points whose support covers it.
type BSplineUpsampleOp struct {
	inputs  []*tensor.RawTensor // [cpts]
	output  *tensor.RawTensor   // dense field
	kernels [][]float64
	spacing []int
}

// NewBSplineUpsampleOp creates a new BSplineUpsampleOp.
func NewBSplineUpsampleOp(cpts, output *tensor.RawTensor, kernels [][]float64, spacing []int) *BSplineUpsampleOp {
	return &BSplineUpsampleOp{
		inputs:  []*tensor.RawTensor{cpts},
		output:  output,
		kernels: kernels,
		spacing: spacing,
	}
}

// Backward accumulates the dense gradient back onto the control points.
func (op *BSplineUpsampleOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	cptSize := []int(op.inputs[0].Shape().Spatial())
	grad := backend.BSplineUpsampleBackward(outputGrad, op.kernels, op.spacing, cptSize)
	return []*tensor.RawTensor{grad}
}

// Inputs returns the input tensors [cpts].
func (op *BSplineUpsampleOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the dense field output tensor.
func (op *BSplineUpsampleOp) Output() *tensor.RawTensor {
	return op.output
}
