// Package ops defines the differentiable operations recorded on the
// gradient tape during a registration forward pass.
//
// Each operation implements the Operation interface:
//   - Forward pass: computed by the backend, recorded by the decorator
//   - Backward pass: computes input gradients given the output gradient
//
// Elementwise and reduction ops derive their gradients from the chain
// rule through backend primitives; the fused registration kernels
// (GridSample, BoxFilter, BSplineUpsample, the Huber penalties) call
// their dedicated backward methods on the backend.
package ops

import "github.com/mireg-ml/mireg/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor.
	// A nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
