package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// ExpOp represents the element-wise exponential: output = exp(x).
//
// Backward pass: d(exp(x))/dx = exp(x) = output, so grad_x = outputGrad * output.
type ExpOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor   // exp(x)
}

// NewExpOp creates a new ExpOp.
func NewExpOp(x, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{
		inputs: []*tensor.RawTensor{x},
		output: output,
	}
}

// Backward computes the input gradient by reusing the forward output.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// Inputs returns the input tensors [x].
func (op *ExpOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor exp(x).
func (op *ExpOp) Output() *tensor.RawTensor {
	return op.output
}
