package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// GridSampleOp represents a differentiable warp: the volume is sampled
// with linear interpolation at positions displaced by the field.
// Only the linear mode is recorded; nearest-neighbor sampling is
// piecewise constant and carries no useful gradient.
//
// Backward pass: the backend computes both gradients in one fused
// call. The volume gradient scatters interpolation weights back to the
// corner voxels; the field gradient is the directional derivative of
// the interpolant, zero where border clamping saturates.
type GridSampleOp struct {
	inputs []*tensor.RawTensor // [vol, field]
	output *tensor.RawTensor   // warped volume
}

// NewGridSampleOp creates a new GridSampleOp.
func NewGridSampleOp(vol, field, output *tensor.RawTensor) *GridSampleOp {
	return &GridSampleOp{
		inputs: []*tensor.RawTensor{vol, field},
		output: output,
	}
}

// Backward computes gradients for both the volume and the field.
func (op *GridSampleOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	vol, field := op.inputs[0], op.inputs[1]
	volGrad, fieldGrad := backend.GridSampleBackward(vol, field, outputGrad)
	return []*tensor.RawTensor{volGrad, fieldGrad}
}

// Inputs returns the input tensors [vol, field].
func (op *GridSampleOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the warped output tensor.
func (op *GridSampleOp) Output() *tensor.RawTensor {
	return op.output
}
