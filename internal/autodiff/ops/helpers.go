package ops

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	// Clone when shapes already match, to avoid aliasing with shared
	// gradients that later ops may mutate inplace.
	if grad.Shape().Equal(targetShape) {
		return grad.Clone()
	}

	result := grad

	// Broadcasting aligns shapes from the right: sum away the leading
	// dimensions the target does not have.
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}

	// Then sum the dimensions where the target is 1.
	for i := 0; i < len(targetShape); i++ {
		if targetShape[i] == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// broadcastTo expands a tensor to the target shape, repeating data
// along size-1 and missing leading dimensions.
func broadcastTo(t *tensor.RawTensor, targetShape tensor.Shape) *tensor.RawTensor {
	if t.Shape().Equal(targetShape) {
		return t.Clone()
	}

	result, err := tensor.NewRaw(targetShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("broadcastTo: %v", err))
	}

	switch t.DType() {
	case tensor.Float32:
		broadcastCopy(t.AsFloat32(), result.AsFloat32(), t.Shape(), targetShape)
	case tensor.Float64:
		broadcastCopy(t.AsFloat64(), result.AsFloat64(), t.Shape(), targetShape)
	default:
		panic(fmt.Sprintf("broadcastTo: unsupported dtype %s", t.DType()))
	}
	return result
}

func broadcastCopy[T float32 | float64](src, dst []T, srcShape, dstShape tensor.Shape) {
	srcStrides := srcShape.ComputeStrides()
	dstStrides := dstShape.ComputeStrides()
	offset := len(dstShape) - len(srcShape)

	for i := range dst {
		srcIdx := 0
		rem := i
		for d := 0; d < len(dstShape); d++ {
			coord := rem / dstStrides[d]
			rem %= dstStrides[d]

			srcDim := d - offset
			if srcDim >= 0 {
				if srcShape[srcDim] == 1 {
					coord = 0
				}
				srcIdx += coord * srcStrides[srcDim]
			}
		}
		dst[i] = src[srcIdx]
	}
}

// fillConstant creates a tensor of the given shape filled with value.
func fillConstant(shape tensor.Shape, dtype tensor.DataType, device tensor.Device, value float64) *tensor.RawTensor {
	t, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		panic(fmt.Sprintf("fillConstant: %v", err))
	}
	switch dtype {
	case tensor.Float32:
		data := t.AsFloat32()
		v := float32(value)
		for i := range data {
			data[i] = v
		}
	case tensor.Float64:
		data := t.AsFloat64()
		for i := range data {
			data[i] = value
		}
	default:
		panic(fmt.Sprintf("fillConstant: unsupported dtype %s", dtype))
	}
	return t
}

// scalarValue extracts the single element of a scalar tensor.
func scalarValue(t *tensor.RawTensor) float64 {
	switch t.DType() {
	case tensor.Float32:
		return float64(t.AsFloat32()[0])
	case tensor.Float64:
		return t.AsFloat64()[0]
	default:
		panic(fmt.Sprintf("scalarValue: unsupported dtype %s", t.DType()))
	}
}

// negateGradient returns -grad.
func negateGradient(grad *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	return backend.MulScalar(grad, -1)
}
