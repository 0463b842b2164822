package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// AvgPoolHalfOp represents a 2x average-pool downsample of every
// spatial axis, used when pyramid levels are derived from a tensor that
// itself carries gradient (a displacement field).
//
// Backward pass: each pooled-cell gradient spreads uniformly over its
// 2^rank source voxels; voxels dropped by odd-size truncation get zero.
type AvgPoolHalfOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor   // pooled x
}

// NewAvgPoolHalfOp creates a new AvgPoolHalfOp.
func NewAvgPoolHalfOp(x, output *tensor.RawTensor) *AvgPoolHalfOp {
	return &AvgPoolHalfOp{
		inputs: []*tensor.RawTensor{x},
		output: output,
	}
}

// Backward spreads the pooled gradient back to the input grid.
func (op *AvgPoolHalfOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inSpatial := []int(op.inputs[0].Shape().Spatial())
	return []*tensor.RawTensor{backend.AvgPoolHalfBackward(outputGrad, inSpatial)}
}

// Inputs returns the input tensors [x].
func (op *AvgPoolHalfOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the pooled output tensor.
func (op *AvgPoolHalfOp) Output() *tensor.RawTensor {
	return op.output
}
