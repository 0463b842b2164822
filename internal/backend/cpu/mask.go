package cpu

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// Greater produces a Bool mask of x > threshold, same shape as x.
// Used by the region-of-interest branch of the similarity metrics.
func (cpu *CPUBackend) Greater(x *tensor.RawTensor, threshold float64) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), tensor.Bool, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("greater: %v", err))
	}
	dst := result.AsBool()

	switch x.DType() {
	case tensor.Float32:
		t := float32(threshold)
		for i, v := range x.AsFloat32() {
			dst[i] = v > t
		}
	case tensor.Float64:
		for i, v := range x.AsFloat64() {
			dst[i] = v > threshold
		}
	default:
		panic(fmt.Sprintf("greater: unsupported dtype %s", x.DType()))
	}

	return result
}

// MaskSelect gathers the elements of x where mask is true into a flat
// (1, 1, K) tensor, preserving the original element order. The shapes
// of x and mask must match.
func (cpu *CPUBackend) MaskSelect(x, mask *tensor.RawTensor) *tensor.RawTensor {
	if !x.Shape().Equal(mask.Shape()) {
		panic(fmt.Sprintf("maskselect: shape mismatch %v vs %v", x.Shape(), mask.Shape()))
	}
	if mask.DType() != tensor.Bool {
		panic(fmt.Sprintf("maskselect: mask dtype is %s, not bool", mask.DType()))
	}

	m := mask.AsBool()
	count := 0
	for _, keep := range m {
		if keep {
			count++
		}
	}
	if count == 0 {
		panic("maskselect: empty mask (region of interest selected no voxels)")
	}

	result, err := tensor.NewRaw(tensor.Shape{1, 1, count}, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("maskselect: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		k := 0
		for i, keep := range m {
			if keep {
				dst[k] = src[i]
				k++
			}
		}
	case tensor.Float64:
		src, dst := x.AsFloat64(), result.AsFloat64()
		k := 0
		for i, keep := range m {
			if keep {
				dst[k] = src[i]
				k++
			}
		}
	default:
		panic(fmt.Sprintf("maskselect: unsupported dtype %s", x.DType()))
	}

	return result
}

// MaskScatter spreads a flat gradient back to the masked positions of a
// zero tensor shaped like the mask. Adjoint of MaskSelect.
func (cpu *CPUBackend) MaskScatter(grad, mask *tensor.RawTensor) *tensor.RawTensor {
	if mask.DType() != tensor.Bool {
		panic(fmt.Sprintf("maskscatter: mask dtype is %s, not bool", mask.DType()))
	}

	m := mask.AsBool()
	count := 0
	for _, keep := range m {
		if keep {
			count++
		}
	}
	if grad.NumElements() != count {
		panic(fmt.Sprintf("maskscatter: gradient has %d elements, mask selects %d", grad.NumElements(), count))
	}

	result, err := tensor.NewRaw(mask.Shape(), grad.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("maskscatter: %v", err))
	}

	switch grad.DType() {
	case tensor.Float32:
		src, dst := grad.AsFloat32(), result.AsFloat32()
		k := 0
		for i, keep := range m {
			if keep {
				dst[i] = src[k]
				k++
			}
		}
	case tensor.Float64:
		src, dst := grad.AsFloat64(), result.AsFloat64()
		k := 0
		for i, keep := range m {
			if keep {
				dst[i] = src[k]
				k++
			}
		}
	default:
		panic(fmt.Sprintf("maskscatter: unsupported dtype %s", grad.DType()))
	}

	return result
}
