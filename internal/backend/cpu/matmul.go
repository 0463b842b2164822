package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mireg-ml/mireg/internal/parallel"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// BatchMatMul performs batched matrix multiplication:
// [B, M, K] @ [B, K, N] -> [B, M, N].
//
// The joint-histogram construction of the mutual-information metric is
// the main consumer: target weights (B, bins, voxels) multiplied by
// transposed source weights (B, voxels, bins).
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 3 || len(bShape) != 3 {
		panic(fmt.Sprintf("batchmatmul: want 3D operands [B,M,K] and [B,K,N], got %v and %v", aShape, bShape))
	}
	if aShape[0] != bShape[0] {
		panic(fmt.Sprintf("batchmatmul: batch mismatch %d vs %d", aShape[0], bShape[0]))
	}
	if aShape[2] != bShape[1] {
		panic(fmt.Sprintf("batchmatmul: inner dimension mismatch %v @ %v", aShape, bShape))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("batchmatmul: dtype mismatch %s vs %s", a.DType(), b.DType()))
	}

	batch, m, k, n := aShape[0], aShape[1], aShape[2], bShape[2]

	result, err := tensor.NewRaw(tensor.Shape{batch, m, n}, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("batchmatmul: %v", err))
	}

	switch a.DType() {
	case tensor.Float32:
		aData, bData, cData := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
		parallel.For(batch, func(bi int) {
			matmulF32(cData[bi*m*n:(bi+1)*m*n], aData[bi*m*k:(bi+1)*m*k], bData[bi*k*n:(bi+1)*k*n], m, k, n)
		}, cpu.par)
	case tensor.Float64:
		aData, bData, cData := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
		parallel.For(batch, func(bi int) {
			am := mat.NewDense(m, k, aData[bi*m*k:(bi+1)*m*k])
			bm := mat.NewDense(k, n, bData[bi*k*n:(bi+1)*k*n])
			cm := mat.NewDense(m, n, cData[bi*m*n:(bi+1)*m*n])
			cm.Mul(am, bm)
		}, cpu.par)
	default:
		panic(fmt.Sprintf("batchmatmul: unsupported dtype %s", a.DType()))
	}

	return result
}

// matmulF32 computes c = a @ b with an ikj loop order (row-major cache
// friendly).
func matmulF32(c, a, b []float32, m, k, n int) {
	for i := 0; i < m; i++ {
		ci := c[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			av := a[i*k+kk]
			if av == 0 {
				continue
			}
			bk := b[kk*n : (kk+1)*n]
			for j := range ci {
				ci[j] += av * bk[j]
			}
		}
	}
}

// Reshape returns a tensor with the same elements in a new shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, newShape.NumElements()))
	}

	result, err := tensor.NewRaw(newShape, t.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	copy(result.Data(), t.Data()[:t.ByteSize()])
	return result
}

// Transpose permutes the tensor's axes. With no arguments all axes are
// reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: want %d axes, got %d", ndim, len(axes)))
	}
	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for %dD tensor", axes, ndim))
		}
		seen[ax] = true
	}

	outShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		outShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(outShape, t.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()

	switch t.DType() {
	case tensor.Float32:
		transposeCopy(result.AsFloat32(), t.AsFloat32(), outShape, outStrides, inStrides, axes)
	case tensor.Float64:
		transposeCopy(result.AsFloat64(), t.AsFloat64(), outShape, outStrides, inStrides, axes)
	default:
		panic(fmt.Sprintf("transpose: unsupported dtype %s", t.DType()))
	}

	return result
}

func transposeCopy[T float32 | float64](dst, src []T, outShape tensor.Shape, outStrides, inStrides []int, axes []int) {
	for i := range dst {
		srcIdx := 0
		rem := i
		for d := 0; d < len(outShape); d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		dst[i] = src[srcIdx]
	}
}
