package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// HuberSpatialOp represents the fused pseudo-Huber spatial smoothness
// penalty of a displacement field.
//
// Backward pass: the backend recomputes the flow magnitude and its
// first differences analytically instead of replaying the forward
// graph, which keeps the tape to a single entry per penalty.
type HuberSpatialOp struct {
	inputs []*tensor.RawTensor // [flow]
	output *tensor.RawTensor   // scalar penalty
	eps    float64
}

// NewHuberSpatialOp creates a new HuberSpatialOp.
func NewHuberSpatialOp(flow, output *tensor.RawTensor, eps float64) *HuberSpatialOp {
	return &HuberSpatialOp{
		inputs: []*tensor.RawTensor{flow},
		output: output,
		eps:    eps,
	}
}

// Backward computes the flow gradient with the fused backend kernel.
func (op *HuberSpatialOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.HuberSpatialBackward(op.inputs[0], outputGrad, op.eps)}
}

// Inputs returns the input tensors [flow].
func (op *HuberSpatialOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the scalar penalty tensor.
func (op *HuberSpatialOp) Output() *tensor.RawTensor {
	return op.output
}

// HuberTemporalOp represents the fused pseudo-Huber penalty on the
// temporal first difference of the flow magnitude.
type HuberTemporalOp struct {
	inputs []*tensor.RawTensor // [flow]
	output *tensor.RawTensor   // scalar penalty
	eps    float64
}

// NewHuberTemporalOp creates a new HuberTemporalOp.
func NewHuberTemporalOp(flow, output *tensor.RawTensor, eps float64) *HuberTemporalOp {
	return &HuberTemporalOp{
		inputs: []*tensor.RawTensor{flow},
		output: output,
		eps:    eps,
	}
}

// Backward computes the flow gradient with the fused backend kernel.
func (op *HuberTemporalOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.HuberTemporalBackward(op.inputs[0], outputGrad, op.eps)}
}

// Inputs returns the input tensors [flow].
func (op *HuberTemporalOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the scalar penalty tensor.
func (op *HuberTemporalOp) Output() *tensor.RawTensor {
	return op.output
}
