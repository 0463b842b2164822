package cpu

import (
	"fmt"
	"math"

	"github.com/mireg-ml/mireg/internal/parallel"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// GridSample warps a volume by a displacement field:
//
//	out[n, c, p] = vol[n, c, p + field[n, :, p]]
//
// vol is (batch, channel, *spatial), field is (batch, dim, *spatial)
// with matching spatial shape; values are additive per-axis voxel
// offsets, not normalized coordinates. Out-of-bounds sample coordinates
// are clamped to the nearest border voxel rather than zero-filled, so
// the sampled value (and its gradient) stays well-defined near the edges.
func (cpu *CPUBackend) GridSample(vol, field *tensor.RawTensor, mode tensor.InterpMode) *tensor.RawTensor {
	checkWarpShapes("gridsample", vol, field)
	if mode != tensor.InterpLinear && mode != tensor.InterpNearest {
		panic(fmt.Sprintf("gridsample: unknown interpolation mode %d", mode))
	}

	result, err := tensor.NewRaw(vol.Shape(), vol.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("gridsample: %v", err))
	}

	switch vol.DType() {
	case tensor.Float32:
		gridSampleForward(result.AsFloat32(), vol.AsFloat32(), field.AsFloat32(), vol.Shape(), mode, cpu.par)
	case tensor.Float64:
		gridSampleForward(result.AsFloat64(), vol.AsFloat64(), field.AsFloat64(), vol.Shape(), mode, cpu.par)
	default:
		panic(fmt.Sprintf("gridsample: unsupported dtype %s", vol.DType()))
	}

	return result
}

// GridSampleBackward computes the linear-mode gradients of GridSample
// with respect to the volume and the displacement field. At clamped
// coordinates the field gradient is zero (the clamp saturates).
func (cpu *CPUBackend) GridSampleBackward(vol, field, outputGrad *tensor.RawTensor) (volGrad, fieldGrad *tensor.RawTensor) {
	checkWarpShapes("gridsample", vol, field)
	if !outputGrad.Shape().Equal(vol.Shape()) {
		panic(fmt.Sprintf("gridsample: output gradient shape %v does not match volume %v", outputGrad.Shape(), vol.Shape()))
	}

	vg, err := tensor.NewRaw(vol.Shape(), vol.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("gridsample: %v", err))
	}
	fg, err := tensor.NewRaw(field.Shape(), field.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("gridsample: %v", err))
	}

	switch vol.DType() {
	case tensor.Float32:
		gridSampleBackward(vg.AsFloat32(), fg.AsFloat32(), vol.AsFloat32(), field.AsFloat32(), outputGrad.AsFloat32(), vol.Shape(), cpu.par)
	case tensor.Float64:
		gridSampleBackward(vg.AsFloat64(), fg.AsFloat64(), vol.AsFloat64(), field.AsFloat64(), outputGrad.AsFloat64(), vol.Shape(), cpu.par)
	default:
		panic(fmt.Sprintf("gridsample: unsupported dtype %s", vol.DType()))
	}

	return vg, fg
}

func checkWarpShapes(op string, vol, field *tensor.RawTensor) {
	vShape, fShape := vol.Shape(), field.Shape()
	rank := vShape.SpatialRank()
	if len(fShape) != len(vShape) {
		panic(fmt.Sprintf("%s: volume %v and field %v rank mismatch", op, vShape, fShape))
	}
	if fShape[0] != vShape[0] {
		panic(fmt.Sprintf("%s: batch mismatch volume %v vs field %v", op, vShape, fShape))
	}
	if fShape[1] != rank {
		panic(fmt.Sprintf("%s: field %v must carry %d displacement channels", op, fShape, rank))
	}
	if !fShape.Spatial().Equal(vShape.Spatial()) {
		panic(fmt.Sprintf("%s: spatial mismatch volume %v vs field %v", op, vShape, fShape))
	}
	if vol.DType() != field.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", op, vol.DType(), field.DType()))
	}
	if vol.Device() != field.Device() {
		panic(fmt.Sprintf("%s: operands on different devices", op))
	}
}

// clampCoord clamps q to [0, n-1]. The boolean reports whether the
// coordinate is strictly interior, i.e. whether a perturbation of the
// field can move the sample (false means zero field gradient).
func clampCoord[T float32 | float64](q T, n int) (T, bool) {
	if q <= 0 {
		return 0, false
	}
	limit := T(n - 1)
	if q >= limit {
		return limit, false
	}
	return q, true
}

func gridSampleForward[T float32 | float64](dst, vol, field []T, shape tensor.Shape, mode tensor.InterpMode, cfg parallel.Config) {
	batch, channels := shape[0], shape[1]
	spatial := shape.Spatial()
	rank := len(spatial)
	voxels := spatial.NumElements()
	spStrides := spatial.ComputeStrides()

	parallel.ForBatch(batch, channels, func(b, c int) {
		volBase := (b*channels + c) * voxels
		fieldBase := b * rank * voxels

		for p := 0; p < voxels; p++ {
			var q [3]T
			rem := p
			for d := 0; d < rank; d++ {
				coord := rem / spStrides[d]
				rem %= spStrides[d]
				q[d] = T(coord) + field[fieldBase+d*voxels+p]
				q[d], _ = clampCoord(q[d], spatial[d])
			}

			if mode == tensor.InterpNearest {
				idx := 0
				for d := 0; d < rank; d++ {
					i := int(math.Round(float64(q[d])))
					if i < 0 {
						i = 0
					} else if i >= spatial[d] {
						i = spatial[d] - 1
					}
					idx += i * spStrides[d]
				}
				dst[volBase+p] = vol[volBase+idx]
				continue
			}

			dst[volBase+p] = lerpSample(vol[volBase:volBase+voxels], q, spatial, spStrides, rank)
		}
	}, cfg)
}

// lerpSample evaluates bilinear/trilinear interpolation at q.
func lerpSample[T float32 | float64](vol []T, q [3]T, spatial tensor.Shape, strides []int, rank int) T {
	var lo [3]int
	var frac [3]T
	for d := 0; d < rank; d++ {
		f := math.Floor(float64(q[d]))
		lo[d] = int(f)
		frac[d] = q[d] - T(f)
	}

	var out T
	for corner := 0; corner < 1<<rank; corner++ {
		w := T(1)
		idx := 0
		for d := 0; d < rank; d++ {
			i := lo[d]
			if corner&(1<<d) != 0 {
				i++
				w *= frac[d]
			} else {
				w *= 1 - frac[d]
			}
			if i >= spatial[d] {
				i = spatial[d] - 1
			}
			idx += i * strides[d]
		}
		out += w * vol[idx]
	}
	return out
}

func gridSampleBackward[T float32 | float64](volGrad, fieldGrad, vol, field, outGrad []T, shape tensor.Shape, cfg parallel.Config) {
	batch, channels := shape[0], shape[1]
	spatial := shape.Spatial()
	rank := len(spatial)
	voxels := spatial.NumElements()
	spStrides := spatial.ComputeStrides()

	// Channels of one batch sample scatter into the same field plane,
	// so parallelism stays at the batch level.
	parallel.For(batch, func(b int) {
		fieldBase := b * rank * voxels

		for p := 0; p < voxels; p++ {
			var q [3]T
			var interior [3]bool
			rem := p
			for d := 0; d < rank; d++ {
				coord := rem / spStrides[d]
				rem %= spStrides[d]
				q[d] = T(coord) + field[fieldBase+d*voxels+p]
				q[d], interior[d] = clampCoord(q[d], spatial[d])
			}

			var lo [3]int
			var frac [3]T
			for d := 0; d < rank; d++ {
				f := math.Floor(float64(q[d]))
				lo[d] = int(f)
				frac[d] = q[d] - T(f)
			}

			for c := 0; c < channels; c++ {
				volBase := (b*channels + c) * voxels
				g := outGrad[volBase+p]
				if g == 0 {
					continue
				}

				for corner := 0; corner < 1<<rank; corner++ {
					w := T(1)
					idx := 0
					for d := 0; d < rank; d++ {
						i := lo[d]
						if corner&(1<<d) != 0 {
							i++
							w *= frac[d]
						} else {
							w *= 1 - frac[d]
						}
						if i >= spatial[d] {
							i = spatial[d] - 1
						}
						idx += i * spStrides[d]
					}
					volGrad[volBase+idx] += g * w

					// d(weight)/d(q[d]) = ±(product of the other axes'
					// weights); zero where the clamp saturates.
					v := vol[volBase+idx]
					for d := 0; d < rank; d++ {
						if !interior[d] {
							continue
						}
						dw := T(1)
						for e := 0; e < rank; e++ {
							if e == d {
								continue
							}
							if corner&(1<<e) != 0 {
								dw *= frac[e]
							} else {
								dw *= 1 - frac[e]
							}
						}
						if corner&(1<<d) == 0 {
							dw = -dw
						}
						fieldGrad[fieldBase+d*voxels+p] += g * dw * v
					}
				}
			}
		}
	}, cfg)
}
