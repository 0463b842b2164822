// Package autodiff implements automatic differentiation using the decorator pattern.
//
// Backend wraps any tensor.Backend implementation and adds gradient
// tracking through a GradientTape.
//
// Architecture:
//   - Decorator pattern: Backend[B] wraps any tensor.Backend implementation
//   - GradientTape: Records operations during forward pass
//   - Operation interface: Each op implements its backward pass
//   - Reverse-mode AD: Computes gradients with the chain rule
//
// Non-differentiable operations (threshold masks, nearest-neighbor
// sampling) pass through without a tape record, so gradient flow stops
// at them by construction.
package autodiff

import (
	"github.com/mireg-ml/mireg/internal/autodiff/ops"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// Backend wraps a tensor.Backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records operations in
// a GradientTape.
type Backend[B tensor.Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

// New creates a new autodiff Backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return &Backend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control: starting and
// stopping recording, clearing between iterations, inspection.
func (b *Backend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *Backend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *Backend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *Backend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *Backend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	// Prevent inplace reuse that would corrupt the recorded graph:
	// a temporarily raised refcount makes IsUnique() report false, so
	// the inner backend allocates a fresh result.
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Add(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddOp(x, y, result))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *Backend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Sub(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubOp(x, y, result))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *Backend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Mul(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulOp(x, y, result))
	}
	return result
}

// Div performs element-wise division and records the operation.
func (b *Backend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.Div(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivOp(x, y, result))
	}
	return result
}

// AddScalar adds a scalar to every element and records the operation.
func (b *Backend[B]) AddScalar(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.AddScalar(x, s)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddScalarOp(x, result))
	}
	return result
}

// MulScalar multiplies every element by a scalar and records the operation.
func (b *Backend[B]) MulScalar(x *tensor.RawTensor, s float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.MulScalar(x, s)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulScalarOp(x, result, s))
	}
	return result
}

// Exp computes the element-wise exponential and records the operation.
func (b *Backend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Exp(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewExpOp(x, result))
	}
	return result
}

// LogEps computes log(x + eps) and records the operation.
func (b *Backend[B]) LogEps(x *tensor.RawTensor, eps float64) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.LogEps(x, eps)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewLogEpsOp(x, result, eps))
	}
	return result
}

// Sqrt computes the element-wise square root and records the operation.
func (b *Backend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Sqrt(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSqrtOp(x, result))
	}
	return result
}

// BatchMatMul performs batched matrix multiplication and records the operation.
func (b *Backend[B]) BatchMatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()
	defer y.ForceNonUnique()()

	result := b.inner.BatchMatMul(x, y)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewBatchMatMulOp(x, y, result))
	}
	return result
}

// Reshape reshapes a tensor and records the operation. The record is
// required: the inner backend copies, and gradients must flow back to
// the original tensor, not the copy.
func (b *Backend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	defer t.ForceNonUnique()()

	result := b.inner.Reshape(t, newShape)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(t, result))
	}
	return result
}

// Transpose permutes dimensions and records the operation, resolving
// the default axes so the tape stores an explicit permutation.
func (b *Backend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	defer t.ForceNonUnique()()

	ndim := len(t.Shape())
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	result := b.inner.Transpose(t, axes...)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTransposeOp(t, result, axes))
	}
	return result
}

// Sum reduces all elements to a scalar and records the operation.
func (b *Backend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Sum(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumOp(x, result))
	}
	return result
}

// SumDim reduces along one dimension and records the operation with
// the dimension normalized to a non-negative index.
func (b *Backend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.SumDim(x, dim, keepDim)

	if b.tape.IsRecording() {
		if dim < 0 {
			dim += len(x.Shape())
		}
		b.tape.Record(ops.NewSumDimOp(x, result, dim, keepDim))
	}
	return result
}

// Mean reduces all elements to their mean and records the operation.
func (b *Backend[B]) Mean(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.Mean(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMeanOp(x, result))
	}
	return result
}

// Greater produces a boolean threshold mask. Not recorded: the mask is
// piecewise constant and carries no gradient.
func (b *Backend[B]) Greater(x *tensor.RawTensor, threshold float64) *tensor.RawTensor {
	return b.inner.Greater(x, threshold)
}

// MaskSelect gathers elements where mask is true and records the
// operation. Gradients scatter back to the selected positions; the
// mask itself is not differentiated.
func (b *Backend[B]) MaskSelect(x, mask *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.MaskSelect(x, mask)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMaskSelectOp(x, mask, result))
	}
	return result
}

// MaskScatter is the adjoint of MaskSelect, used only inside backward
// passes. Not recorded.
func (b *Backend[B]) MaskScatter(grad, mask *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.MaskScatter(grad, mask)
}

// BoxFilter applies a sliding-window sum and records the operation.
func (b *Backend[B]) BoxFilter(x *tensor.RawTensor, window []int) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.BoxFilter(x, window)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewBoxFilterOp(x, result, window))
	}
	return result
}

// BoxFilterBackward is the adjoint of BoxFilter, used only inside
// backward passes. Not recorded.
func (b *Backend[B]) BoxFilterBackward(outputGrad *tensor.RawTensor, window []int) *tensor.RawTensor {
	return b.inner.BoxFilterBackward(outputGrad, window)
}

// AvgPoolHalf halves the spatial resolution by 2x averaging and
// records the operation: displacement-field pyramids derive coarse
// levels from the full-resolution field, so gradient must flow back
// through the pooling.
func (b *Backend[B]) AvgPoolHalf(x *tensor.RawTensor) *tensor.RawTensor {
	defer x.ForceNonUnique()()

	result := b.inner.AvgPoolHalf(x)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAvgPoolHalfOp(x, result))
	}
	return result
}

// AvgPoolHalfBackward is the adjoint of AvgPoolHalf, used only inside
// backward passes. Not recorded.
func (b *Backend[B]) AvgPoolHalfBackward(outputGrad *tensor.RawTensor, inSpatial []int) *tensor.RawTensor {
	return b.inner.AvgPoolHalfBackward(outputGrad, inSpatial)
}

// GridSample warps a volume by a displacement field. Linear sampling is
// recorded for differentiation; nearest-neighbor sampling passes
// through without a record.
func (b *Backend[B]) GridSample(vol, field *tensor.RawTensor, mode tensor.InterpMode) *tensor.RawTensor {
	defer vol.ForceNonUnique()()
	defer field.ForceNonUnique()()

	result := b.inner.GridSample(vol, field, mode)

	if b.tape.IsRecording() && mode == tensor.InterpLinear {
		b.tape.Record(ops.NewGridSampleOp(vol, field, result))
	}
	return result
}

// GridSampleBackward is the fused adjoint of linear GridSample, used
// only inside backward passes. Not recorded.
func (b *Backend[B]) GridSampleBackward(vol, field, outputGrad *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor) {
	return b.inner.GridSampleBackward(vol, field, outputGrad)
}

// BSplineUpsample expands control points to a dense displacement field
// and records the operation.
func (b *Backend[B]) BSplineUpsample(cpts *tensor.RawTensor, kernels [][]float64, spacing, outSize []int) *tensor.RawTensor {
	defer cpts.ForceNonUnique()()

	result := b.inner.BSplineUpsample(cpts, kernels, spacing, outSize)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewBSplineUpsampleOp(cpts, result, kernels, spacing))
	}
	return result
}

// BSplineUpsampleBackward is the adjoint of BSplineUpsample, used only
// inside backward passes. Not recorded.
func (b *Backend[B]) BSplineUpsampleBackward(outputGrad *tensor.RawTensor, kernels [][]float64, spacing, cptSize []int) *tensor.RawTensor {
	return b.inner.BSplineUpsampleBackward(outputGrad, kernels, spacing, cptSize)
}

// HuberSpatial computes the fused spatial smoothness penalty and
// records the operation.
func (b *Backend[B]) HuberSpatial(flow *tensor.RawTensor, eps float64) *tensor.RawTensor {
	defer flow.ForceNonUnique()()

	result := b.inner.HuberSpatial(flow, eps)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewHuberSpatialOp(flow, result, eps))
	}
	return result
}

// HuberSpatialBackward is the fused adjoint of HuberSpatial, used only
// inside backward passes. Not recorded.
func (b *Backend[B]) HuberSpatialBackward(flow, outputGrad *tensor.RawTensor, eps float64) *tensor.RawTensor {
	return b.inner.HuberSpatialBackward(flow, outputGrad, eps)
}

// HuberTemporal computes the fused temporal penalty and records the
// operation.
func (b *Backend[B]) HuberTemporal(flow *tensor.RawTensor, eps float64) *tensor.RawTensor {
	defer flow.ForceNonUnique()()

	result := b.inner.HuberTemporal(flow, eps)

	if b.tape.IsRecording() {
		b.tape.Record(ops.NewHuberTemporalOp(flow, result, eps))
	}
	return result
}

// HuberTemporalBackward is the fused adjoint of HuberTemporal, used
// only inside backward passes. Not recorded.
func (b *Backend[B]) HuberTemporalBackward(flow, outputGrad *tensor.RawTensor, eps float64) *tensor.RawTensor {
	return b.inner.HuberTemporalBackward(flow, outputGrad, eps)
}
