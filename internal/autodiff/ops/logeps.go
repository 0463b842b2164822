package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// LogEpsOp represents a stabilized logarithm: output = log(x + eps).
//
// The epsilon keeps the log finite at zero probability mass, which is
// where histogram bins with no samples would otherwise produce -Inf.
//
// Backward pass: d(log(x+eps))/dx = 1/(x+eps), so
// grad_x = outputGrad / (x + eps).
type LogEpsOp struct {
	inputs []*tensor.RawTensor // [x]
	output *tensor.RawTensor   // log(x + eps)
	eps    float64
}

// NewLogEpsOp creates a new LogEpsOp.
func NewLogEpsOp(x, output *tensor.RawTensor, eps float64) *LogEpsOp {
	return &LogEpsOp{
		inputs: []*tensor.RawTensor{x},
		output: output,
		eps:    eps,
	}
}

// Backward computes the input gradient.
func (op *LogEpsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	grad := backend.Div(outputGrad, backend.AddScalar(x, op.eps))
	return []*tensor.RawTensor{grad}
}

// Inputs returns the input tensors [x].
func (op *LogEpsOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor log(x + eps).
func (op *LogEpsOp) Output() *tensor.RawTensor {
	return op.output
}
