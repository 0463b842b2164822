package cpu

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/parallel"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// BoxFilter computes windowed local sums over the spatial axes of a
// (batch, channel, *spatial) tensor: a separable convolution with a
// unit-valued kernel, stride 1 and "same" padding floor(window/2).
// Samples outside the volume contribute zero, so local sums near the
// border count fewer voxels.
func (cpu *CPUBackend) BoxFilter(x *tensor.RawTensor, window []int) *tensor.RawTensor {
	pads := make([]int, len(window))
	for i, w := range window {
		if w <= 0 {
			panic(fmt.Sprintf("boxfilter: window size must be positive, got %v", window))
		}
		pads[i] = w / 2
	}
	return cpu.slidingSum(x, window, pads)
}

// BoxFilterBackward is the adjoint of BoxFilter: it routes each output
// gradient back to every voxel its window covered. For the usual odd
// windows this is the same box filter; for even windows the padding
// mirrors to window-1-pad.
func (cpu *CPUBackend) BoxFilterBackward(outputGrad *tensor.RawTensor, window []int) *tensor.RawTensor {
	pads := make([]int, len(window))
	for i, w := range window {
		if w <= 0 {
			panic(fmt.Sprintf("boxfilter: window size must be positive, got %v", window))
		}
		pads[i] = w - 1 - w/2
	}
	return cpu.slidingSum(outputGrad, window, pads)
}

// slidingSum applies a 1-D sliding sum of the given width and padding
// along each spatial axis in turn.
func (cpu *CPUBackend) slidingSum(x *tensor.RawTensor, window, pads []int) *tensor.RawTensor {
	shape := x.Shape()
	rank := shape.SpatialRank()
	if len(window) != rank {
		panic(fmt.Sprintf("boxfilter: window %v does not match spatial rank %d", window, rank))
	}

	cur := x
	for axis := 0; axis < rank; axis++ {
		if window[axis] == 1 && pads[axis] == 0 {
			continue
		}
		cur = cpu.slidingSumAxis(cur, 2+axis, window[axis], pads[axis])
	}
	if cur == x {
		cur = x.Clone()
	}
	return cur
}

// slidingSumAxis computes out[u] = sum_{o in [0,w)} in[u+o-pad] along
// one axis, decomposing the tensor into (outer, axisLen, inner) blocks.
func (cpu *CPUBackend) slidingSumAxis(x *tensor.RawTensor, dim, w, pad int) *tensor.RawTensor {
	shape := x.Shape()
	result, err := tensor.NewRaw(shape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("boxfilter: %v", err))
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
			slidingSumLine(dst[o*n*inner:(o+1)*n*inner], src[o*n*inner:(o+1)*n*inner], n, inner, w, pad)
		}, cpu.par)
	case tensor.Float64:
		src, dst := x.AsFloat64(), result.AsFloat64()
		parallel.For(outer, func(o int) {
			slidingSumLine(dst[o*n*inner:(o+1)*n*inner], src[o*n*inner:(o+1)*n*inner], n, inner, w, pad)
		}, cpu.par)
	default:
		panic(fmt.Sprintf("boxfilter: unsupported dtype %s", x.DType()))
	}

	return result
}

func slidingSumLine[T float32 | float64](dst, src []T, n, inner, w, pad int) {
	for u := 0; u < n; u++ {
		lo := max(u-pad, 0)
		hi := min(u-pad+w, n)
		out := dst[u*inner : (u+1)*inner]
		for k := lo; k < hi; k++ {
			row := src[k*inner : (k+1)*inner]
			for i := range out {
				out[i] += row[i]
			}
		}
	}
}

// AvgPoolHalf downsamples every spatial axis by a factor of two using
// 2^rank-cell averages. Odd trailing samples are dropped. Used for
// image pyramid construction.
func (cpu *CPUBackend) AvgPoolHalf(x *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	rank := shape.SpatialRank()

	outShape := shape.Clone()
	for d := 2; d < len(shape); d++ {
		outShape[d] = shape[d] / 2
		if outShape[d] == 0 {
			panic(fmt.Sprintf("avgpool: spatial dimension %d of shape %v too small to halve", d, shape))
		}
	}

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("avgpool: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		avgPoolHalf(result.AsFloat32(), x.AsFloat32(), shape, outShape, rank, cpu.par)
	case tensor.Float64:
		avgPoolHalf(result.AsFloat64(), x.AsFloat64(), shape, outShape, rank, cpu.par)
	default:
		panic(fmt.Sprintf("avgpool: unsupported dtype %s", x.DType()))
	}

	return result
}

// AvgPoolHalfBackward distributes a pooled gradient back to the input
// grid: each pooled cell contributed with weight 1/2^rank, and voxels
// dropped by odd-size truncation receive zero.
func (cpu *CPUBackend) AvgPoolHalfBackward(outputGrad *tensor.RawTensor, inSpatial []int) *tensor.RawTensor {
	outShape := outputGrad.Shape()
	rank := outShape.SpatialRank()
	if len(inSpatial) != rank {
		panic(fmt.Sprintf("avgpool: %d input sizes for rank %d", len(inSpatial), rank))
	}

	inShape := outShape.Clone()
	for d := 0; d < rank; d++ {
		if inSpatial[d]/2 != outShape[2+d] {
			panic(fmt.Sprintf("avgpool: input size %v does not halve to %v", inSpatial, outShape.Spatial()))
		}
		inShape[2+d] = inSpatial[d]
	}

	result, err := tensor.NewRaw(inShape, outputGrad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("avgpool: %v", err))
	}

	switch outputGrad.DType() {
	case tensor.Float32:
		avgPoolHalfBackward(result.AsFloat32(), outputGrad.AsFloat32(), inShape, outShape, rank, cpu.par)
	case tensor.Float64:
		avgPoolHalfBackward(result.AsFloat64(), outputGrad.AsFloat64(), inShape, outShape, rank, cpu.par)
	default:
		panic(fmt.Sprintf("avgpool: unsupported dtype %s", outputGrad.DType()))
	}

	return result
}

func avgPoolHalfBackward[T float32 | float64](dst, grad []T, inShape, outShape tensor.Shape, rank int, cfg parallel.Config) {
	batch, channels := inShape[0], inShape[1]
	inStrides := inShape.ComputeStrides()
	outStrides := outShape.ComputeStrides()

	parallel.ForBatch(batch, channels, func(b, c int) {
		inBase := b*inStrides[0] + c*inStrides[1]
		outBase := b*outStrides[0] + c*outStrides[1]

		switch rank {
		case 2:
			for y := 0; y < outShape[2]; y++ {
				for x := 0; x < outShape[3]; x++ {
					g := grad[outBase+y*outStrides[2]+x*outStrides[3]] / 4
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							dst[inBase+(2*y+dy)*inStrides[2]+(2*x+dx)*inStrides[3]] = g
						}
					}
				}
			}
		case 3:
			for z := 0; z < outShape[2]; z++ {
				for y := 0; y < outShape[3]; y++ {
					for x := 0; x < outShape[4]; x++ {
						g := grad[outBase+z*outStrides[2]+y*outStrides[3]+x*outStrides[4]] / 8
						for dz := 0; dz < 2; dz++ {
							for dy := 0; dy < 2; dy++ {
								for dx := 0; dx < 2; dx++ {
									dst[inBase+(2*z+dz)*inStrides[2]+(2*y+dy)*inStrides[3]+(2*x+dx)*inStrides[4]] = g
								}
							}
						}
					}
				}
			}
		}
	}, cfg)
}

func avgPoolHalf[T float32 | float64](dst, src []T, inShape, outShape tensor.Shape, rank int, cfg parallel.Config) {
	batch, channels := inShape[0], inShape[1]
	inStrides := inShape.ComputeStrides()
	outStrides := outShape.ComputeStrides()

	parallel.ForBatch(batch, channels, func(b, c int) {
		inBase := b*inStrides[0] + c*inStrides[1]
		outBase := b*outStrides[0] + c*outStrides[1]

		switch rank {
		case 2:
			for y := 0; y < outShape[2]; y++ {
				for x := 0; x < outShape[3]; x++ {
					var s T
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							s += src[inBase+(2*y+dy)*inStrides[2]+(2*x+dx)*inStrides[3]]
						}
					}
					dst[outBase+y*outStrides[2]+x*outStrides[3]] = s / 4
				}
			}
		case 3:
			for z := 0; z < outShape[2]; z++ {
				for y := 0; y < outShape[3]; y++ {
					for x := 0; x < outShape[4]; x++ {
						var s T
						for dz := 0; dz < 2; dz++ {
							for dy := 0; dy < 2; dy++ {
								for dx := 0; dx < 2; dx++ {
									s += src[inBase+(2*z+dz)*inStrides[2]+(2*y+dy)*inStrides[3]+(2*x+dx)*inStrides[4]]
								}
							}
						}
						dst[outBase+z*outStrides[2]+y*outStrides[3]+x*outStrides[4]] = s / 8
					}
				}
			}
		}
	}, cfg)
}
