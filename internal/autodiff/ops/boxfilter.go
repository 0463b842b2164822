package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// BoxFilterOp represents a separable sliding-window sum over the
// spatial dimensions with zero padding.
//
// Backward pass: the adjoint of a windowed sum is another windowed sum
// with mirrored padding, provided by the backend as BoxFilterBackward.
type BoxFilterOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor   // box-filtered x
	window []int
}

// NewBoxFilterOp creates a new BoxFilterOp.
func NewBoxFilterOp(x, output *tensor.RawTensor, window []int) *BoxFilterOp {
	return &BoxFilterOp{
		inputs: []*tensor.RawTensor{x},
		output: output,
		window: window,
	}
}

// Backward applies the adjoint windowed sum to the gradient.
func (op *BoxFilterOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.BoxFilterBackward(outputGrad, op.window)}
}

// Inputs returns the input tensors [x].
func (op *BoxFilterOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the filtered output tensor.
func (op *BoxFilterOp) Output() *tensor.RawTensor {
	return op.output
}
