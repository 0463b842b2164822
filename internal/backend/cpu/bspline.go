package cpu

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/parallel"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// BSplineUpsample interpolates a control-point displacement grid
// (batch, dim, *ctrl) to a dense field (batch, dim, *outSize) by
// separable convolution with per-axis sampled cubic B-spline kernels.
//
// Control point i of an axis with spacing s sits at voxel (i-2)*s (two
// whole spacing units of padding before the volume); kernels[axis] has
// length 4*s+1 and holds the cubic B-spline sampled at 1/s resolution.
// The mapping is purely linear in the control values, so it is
// differentiable everywhere; BSplineUpsampleBackward is its adjoint.
func (cpu *CPUBackend) BSplineUpsample(cpts *tensor.RawTensor, kernels [][]float64, spacing, outSize []int) *tensor.RawTensor {
	shape := cpts.Shape()
	rank := shape.SpatialRank()
	if len(kernels) != rank || len(spacing) != rank || len(outSize) != rank {
		panic(fmt.Sprintf("bspline: got %d kernels, %d spacings, %d output sizes for rank %d",
			len(kernels), len(spacing), len(outSize), rank))
	}
	for a := 0; a < rank; a++ {
		if len(kernels[a]) != 4*spacing[a]+1 {
			panic(fmt.Sprintf("bspline: axis %d kernel has %d taps, want %d", a, len(kernels[a]), 4*spacing[a]+1))
		}
	}

	cur := cpts
	for axis := 0; axis < rank; axis++ {
		cur = cpu.bsplineAxis(cur, 2+axis, kernels[axis], spacing[axis], outSize[axis], false)
	}
	return cur
}

// BSplineUpsampleBackward routes a dense-field gradient
// (batch, dim, *outSize) back to the control grid (batch, dim, *cptSize).
func (cpu *CPUBackend) BSplineUpsampleBackward(outputGrad *tensor.RawTensor, kernels [][]float64, spacing, cptSize []int) *tensor.RawTensor {
	shape := outputGrad.Shape()
	rank := shape.SpatialRank()
	if len(kernels) != rank || len(spacing) != rank || len(cptSize) != rank {
		panic(fmt.Sprintf("bspline: got %d kernels, %d spacings, %d control sizes for rank %d",
			len(kernels), len(spacing), len(cptSize), rank))
	}

	cur := outputGrad
	for axis := 0; axis < rank; axis++ {
		cur = cpu.bsplineAxis(cur, 2+axis, kernels[axis], spacing[axis], cptSize[axis], true)
	}
	return cur
}

// bsplineAxis resamples one axis. Forward maps control index i to the
// dense taps x in [i*s-4s, i*s]; adjoint reverses the pairing. outLen is
// the axis length after the pass.
func (cpu *CPUBackend) bsplineAxis(x *tensor.RawTensor, dim int, kernel []float64, s, outLen int, adjoint bool) *tensor.RawTensor {
	shape := x.Shape()
	outShape := shape.Clone()
	outShape[dim] = outLen

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("bspline: %v", err))
	}

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	n := shape[dim]
	inner := 1
	for d := dim + 1; d < len(shape); d++ {
		inner *= shape[d]
	}

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		parallel.For(outer, func(o int) {
			bsplineLine(dst[o*outLen*inner:(o+1)*outLen*inner], src[o*n*inner:(o+1)*n*inner],
				kernel, s, n, outLen, inner, adjoint)
		}, cpu.par)
	case tensor.Float64:
		src, dst := x.AsFloat64(), result.AsFloat64()
		parallel.For(outer, func(o int) {
			bsplineLine(dst[o*outLen*inner:(o+1)*outLen*inner], src[o*n*inner:(o+1)*n*inner],
				kernel, s, n, outLen, inner, adjoint)
		}, cpu.par)
	default:
		panic(fmt.Sprintf("bspline: unsupported dtype %s", x.DType()))
	}

	return result
}

// bsplineLine computes, for voxel x and control index i,
// weight = kernel[x - i*s + 4s] whenever that tap index is in range.
// Forward: dst indexed by voxel, src by control point. Adjoint: the
// roles swap.
func bsplineLine[T float32 | float64](dst, src []T, kernel []float64, s, n, outLen, inner int, adjoint bool) {
	support := len(kernel) - 1 // 4*s

	if !adjoint {
		for x := 0; x < outLen; x++ {
			iLo := max((x+s-1)/s, 0)
			iHi := min(x/s+4, n-1)
			out := dst[x*inner : (x+1)*inner]
			for i := iLo; i <= iHi; i++ {
				w := T(kernel[x-i*s+support])
				if w == 0 {
					continue
				}
				row := src[i*inner : (i+1)*inner]
				for j := range out {
					out[j] += w * row[j]
				}
			}
		}
		return
	}

	for i := 0; i < outLen; i++ {
		xLo := max(i*s-support, 0)
		xHi := min(i*s, n-1)
		out := dst[i*inner : (i+1)*inner]
		for x := xLo; x <= xHi; x++ {
			w := T(kernel[x-i*s+support])
			if w == 0 {
				continue
			}
			row := src[x*inner : (x+1)*inner]
			for j := range out {
				out[j] += w * row[j]
			}
		}
	}
}
