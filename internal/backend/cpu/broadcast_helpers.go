package cpu

import (
	"github.com/mireg-ml/mireg/internal/parallel"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// binaryVectorized applies f over same-shape operands, chunked across
// workers for large tensors.
func binaryVectorized[T float32 | float64](dst, a, b []T, f func(x, y T) T, cfg parallel.Config) {
	if len(dst) < 1<<14 {
		for i := range dst {
			dst[i] = f(a[i], b[i])
		}
		return
	}
	const chunk = 4096
	n := (len(dst) + chunk - 1) / chunk
	parallel.For(n, func(k int) {
		start := k * chunk
		end := min(start+chunk, len(dst))
		for i := start; i < end; i++ {
			dst[i] = f(a[i], b[i])
		}
	}, cfg)
}

// binaryBroadcast applies f with NumPy-style broadcasting: operand
// dimensions of size 1 (or missing leading dimensions) repeat along the
// output dimension.
func binaryBroadcast[T float32 | float64](
	dst, a, b []T,
	outShape, aShape, bShape tensor.Shape,
	f func(x, y T) T,
) {
	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)

	for i := range dst {
		aIdx, bIdx := 0, 0
		rem := i
		for d := 0; d < len(outShape); d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			aIdx += coord * aStrides[d]
			bIdx += coord * bStrides[d]
		}
		dst[i] = f(a[aIdx], b[bIdx])
	}
}

// broadcastStrides computes per-output-dimension strides for an operand,
// with 0 for broadcast (size-1 or missing) dimensions.
func broadcastStrides(shape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	opStrides := shape.ComputeStrides()
	offset := len(outShape) - len(shape)
	for d := range outShape {
		od := d - offset
		if od < 0 || shape[od] == 1 {
			strides[d] = 0
		} else {
			strides[d] = opStrides[od]
		}
	}
	return strides
}
