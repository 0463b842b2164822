package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// MaskSelectOp represents a boolean gather: output = x[mask], flattened
// to shape (1, 1, K). The mask itself is not differentiated.
//
// Backward pass: scatter the gradient back to the selected positions,
// leaving masked-out positions at zero.
type MaskSelectOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor   // x[mask]
	mask   *tensor.RawTensor
}

// NewMaskSelectOp creates a new MaskSelectOp.
func NewMaskSelectOp(x, mask, output *tensor.RawTensor) *MaskSelectOp {
	return &MaskSelectOp{
		inputs: []*tensor.RawTensor{x},
		output: output,
		mask:   mask,
	}
}

// Backward scatters the gradient back through the mask.
func (op *MaskSelectOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MaskScatter(outputGrad, op.mask)}
}

// Inputs returns the input tensors [x].
func (op *MaskSelectOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the selected output tensor.
func (op *MaskSelectOp) Output() *tensor.RawTensor {
	return op.output
}
