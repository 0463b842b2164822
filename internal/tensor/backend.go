package tensor

import "fmt"

// InterpMode selects the sampling rule used by GridSample.
type InterpMode int

// Supported interpolation modes.
const (
	// InterpLinear is bilinear (2-D) / trilinear (3-D) interpolation.
	// Differentiable with respect to both the volume and the field.
	InterpLinear InterpMode = iota
	// InterpNearest looks up the nearest sample. Used for categorical
	// data such as segmentation masks; not differentiable.
	InterpNearest
)

// String returns the configuration-surface name of the mode.
func (m InterpMode) String() string {
	switch m {
	case InterpLinear:
		return "linear"
	case InterpNearest:
		return "nearest"
	default:
		return "unknown"
	}
}

// ParseInterpMode converts a configuration string to an InterpMode.
// Unknown modes are a configuration error, never a silent fallback.
func ParseInterpMode(s string) (InterpMode, error) {
	switch s {
	case "linear":
		return InterpLinear, nil
	case "nearest":
		return InterpNearest, nil
	default:
		return 0, fmt.Errorf("unknown interpolation mode %q (want \"linear\" or \"nearest\")", s)
	}
}

// Backend defines the closed op vocabulary the registration engine is
// built from. Every loss and transformation model composes these
// operations, so a backend that implements them (and, when wrapped by
// the autodiff decorator, their backward counterparts) supports the
// whole engine.
//
// Implementations:
//   - CPU: pure Go kernels (internal/backend/cpu)
//   - Autodiff decorator: wraps any Backend and records a gradient tape
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Element-wise operations with a scalar.
	AddScalar(x *RawTensor, s float64) *RawTensor
	MulScalar(x *RawTensor, s float64) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	// LogEps computes log(x + eps); the epsilon guard keeps degenerate
	// probability mass finite instead of propagating -Inf.
	LogEps(x *RawTensor, eps float64) *RawTensor
	Sqrt(x *RawTensor) *RawTensor

	// BatchMatMul multiplies batched matrices: [B, M, K] @ [B, K, N] -> [B, M, N].
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Reductions. Sum and Mean reduce to shape {1}.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Mean(x *RawTensor) *RawTensor

	// Greater produces a Bool mask of x > threshold.
	Greater(x *RawTensor, threshold float64) *RawTensor
	// MaskSelect gathers the elements of x where mask is true into a
	// flat (1, 1, K) tensor. MaskScatter is its adjoint: it spreads a
	// (1, 1, K) gradient back to the masked positions of a zero tensor
	// shaped like the mask's source.
	MaskSelect(x, mask *RawTensor) *RawTensor
	MaskScatter(grad, mask *RawTensor) *RawTensor

	// BoxFilter computes windowed local sums over the spatial axes of a
	// (batch, channel, *spatial) tensor with stride 1 and "same"
	// padding floor(window/2); samples outside the volume contribute
	// zero. BoxFilterBackward is its adjoint.
	BoxFilter(x *RawTensor, window []int) *RawTensor
	BoxFilterBackward(outputGrad *RawTensor, window []int) *RawTensor

	// AvgPoolHalf downsamples every spatial axis by a factor of two
	// using 2^rank-cell averages (pyramid construction).
	// AvgPoolHalfBackward is its adjoint for the given input spatial
	// size; voxels dropped by odd-size truncation receive zero.
	AvgPoolHalf(x *RawTensor) *RawTensor
	AvgPoolHalfBackward(outputGrad *RawTensor, inSpatial []int) *RawTensor

	// GridSample warps vol by the displacement field:
	// out[x] = vol[x + field[x]]. Out-of-bounds sample coordinates are
	// clamped to the nearest border voxel, never zero-filled.
	// GridSampleBackward returns the linear-mode gradients with respect
	// to the volume and the field.
	GridSample(vol, field *RawTensor, mode InterpMode) *RawTensor
	GridSampleBackward(vol, field, outputGrad *RawTensor) (volGrad, fieldGrad *RawTensor)

	// BSplineUpsample interpolates a control-point displacement grid to
	// a dense field by separable cubic B-spline convolution. kernels
	// holds the per-axis sampled 1-D kernels (length 4*spacing+1).
	// The map is linear in cpts; BSplineUpsampleBackward is its adjoint.
	BSplineUpsample(cpts *RawTensor, kernels [][]float64, spacing, outSize []int) *RawTensor
	BSplineUpsampleBackward(outputGrad *RawTensor, kernels [][]float64, spacing, cptSize []int) *RawTensor

	// Fused pseudo-Huber smoothness losses over a displacement field
	// (batch, dim, *spatial); both reduce to shape {1}.
	HuberSpatial(flow *RawTensor, eps float64) *RawTensor
	HuberSpatialBackward(flow, outputGrad *RawTensor, eps float64) *RawTensor
	HuberTemporal(flow *RawTensor, eps float64) *RawTensor
	HuberTemporalBackward(flow, outputGrad *RawTensor, eps float64) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
