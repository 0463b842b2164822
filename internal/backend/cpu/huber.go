package cpu

import (
	"fmt"
	"math"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// HuberSpatial computes the pseudo-Huber spatial smoothness of a
// displacement field (batch, dim, *spatial):
//
//	per sample: sqrt(eps + sum over voxels and axes of squared
//	first differences of the flow magnitude) - sqrt(eps)
//	loss: mean over the batch
//
// Differences along each axis are evaluated on the common region
// cropped by one voxel per axis, matching shapes across axes. The
// sqrt(eps) offset makes the loss exactly zero for a spatially constant
// field while keeping the gradient of the plain sqrt(eps + sum) form.
func (cpu *CPUBackend) HuberSpatial(flow *tensor.RawTensor, eps float64) *tensor.RawTensor {
	result := cpu.scalarResult("huberspatial", flow)

	switch flow.DType() {
	case tensor.Float32:
		result.AsFloat32()[0] = float32(huberSpatialForward(flow.AsFloat32(), flow.Shape(), eps))
	case tensor.Float64:
		result.AsFloat64()[0] = huberSpatialForward(flow.AsFloat64(), flow.Shape(), eps)
	default:
		panic(fmt.Sprintf("huberspatial: unsupported dtype %s", flow.DType()))
	}
	return result
}

// HuberSpatialBackward computes the gradient of HuberSpatial with
// respect to the flow, scaled by the scalar output gradient.
func (cpu *CPUBackend) HuberSpatialBackward(flow, outputGrad *tensor.RawTensor, eps float64) *tensor.RawTensor {
	grad, err := tensor.NewRaw(flow.Shape(), flow.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("huberspatial: %v", err))
	}

	switch flow.DType() {
	case tensor.Float32:
		huberSpatialBackward(grad.AsFloat32(), flow.AsFloat32(), flow.Shape(), eps, float64(outputGrad.AsFloat32()[0]))
	case tensor.Float64:
		huberSpatialBackward(grad.AsFloat64(), flow.AsFloat64(), flow.Shape(), eps, outputGrad.AsFloat64()[0])
	default:
		panic(fmt.Sprintf("huberspatial: unsupported dtype %s", flow.DType()))
	}
	return grad
}

// HuberTemporal computes the pseudo-Huber penalty of the first
// difference of the flow magnitude along the batch/temporal axis:
// sqrt(eps + total sum of squared differences) - sqrt(eps). Unlike the
// spatial term there is no batch mean; the temporal weight absorbs the
// scale. A single-sample batch yields exactly zero.
func (cpu *CPUBackend) HuberTemporal(flow *tensor.RawTensor, eps float64) *tensor.RawTensor {
	result := cpu.scalarResult("hubertemporal", flow)

	switch flow.DType() {
	case tensor.Float32:
		result.AsFloat32()[0] = float32(huberTemporalForward(flow.AsFloat32(), flow.Shape(), eps))
	case tensor.Float64:
		result.AsFloat64()[0] = huberTemporalForward(flow.AsFloat64(), flow.Shape(), eps)
	default:
		panic(fmt.Sprintf("hubertemporal: unsupported dtype %s", flow.DType()))
	}
	return result
}

// HuberTemporalBackward computes the gradient of HuberTemporal with
// respect to the flow, scaled by the scalar output gradient.
func (cpu *CPUBackend) HuberTemporalBackward(flow, outputGrad *tensor.RawTensor, eps float64) *tensor.RawTensor {
	grad, err := tensor.NewRaw(flow.Shape(), flow.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("hubertemporal: %v", err))
	}

	switch flow.DType() {
	case tensor.Float32:
		huberTemporalBackward(grad.AsFloat32(), flow.AsFloat32(), flow.Shape(), eps, float64(outputGrad.AsFloat32()[0]))
	case tensor.Float64:
		huberTemporalBackward(grad.AsFloat64(), flow.AsFloat64(), flow.Shape(), eps, outputGrad.AsFloat64()[0])
	default:
		panic(fmt.Sprintf("hubertemporal: unsupported dtype %s", flow.DType()))
	}
	return grad
}

func (cpu *CPUBackend) scalarResult(op string, like *tensor.RawTensor) *tensor.RawTensor {
	like.Shape().SpatialRank() // validates (batch, dim, *spatial) layout
	result, err := tensor.NewRaw(tensor.Shape{1}, like.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	return result
}

// flowMagnitude computes m[n, p] = |flow[n, :, p]| over the channel axis.
func flowMagnitude[T float32 | float64](flow []T, shape tensor.Shape) []T {
	batch, dim := shape[0], shape[1]
	voxels := shape.Spatial().NumElements()

	m := make([]T, batch*voxels)
	for n := 0; n < batch; n++ {
		base := n * dim * voxels
		out := m[n*voxels : (n+1)*voxels]
		for d := 0; d < dim; d++ {
			row := flow[base+d*voxels : base+(d+1)*voxels]
			for p := range out {
				out[p] += row[p] * row[p]
			}
		}
		for p := range out {
			out[p] = T(math.Sqrt(float64(out[p])))
		}
	}
	return m
}

// commonRegion iterates the spatial region cropped by one voxel per
// axis, invoking f with the flat voxel index and the per-axis forward
// neighbor offsets.
func commonRegion(spatial tensor.Shape, f func(p int, strides []int)) {
	strides := spatial.ComputeStrides()
	cropped := spatial.Clone()
	for d := range cropped {
		cropped[d]--
		if cropped[d] <= 0 {
			return // an axis of size 1 has no first difference
		}
	}
	croppedStrides := cropped.ComputeStrides()

	n := cropped.NumElements()
	for i := 0; i < n; i++ {
		p := 0
		rem := i
		for d := 0; d < len(cropped); d++ {
			coord := rem / croppedStrides[d]
			rem %= croppedStrides[d]
			p += coord * strides[d]
		}
		f(p, strides)
	}
}

func huberSpatialForward[T float32 | float64](flow []T, shape tensor.Shape, eps float64) float64 {
	batch := shape[0]
	spatial := shape.Spatial()
	voxels := spatial.NumElements()
	m := flowMagnitude(flow, shape)

	var total float64
	for n := 0; n < batch; n++ {
		mn := m[n*voxels : (n+1)*voxels]
		var sum float64
		commonRegion(spatial, func(p int, strides []int) {
			for d := range spatial {
				diff := float64(mn[p+strides[d]] - mn[p])
				sum += diff * diff
			}
		})
		total += math.Sqrt(eps+sum) - math.Sqrt(eps)
	}
	return total / float64(batch)
}

func huberSpatialBackward[T float32 | float64](grad, flow []T, shape tensor.Shape, eps float64, g float64) {
	batch, dim := shape[0], shape[1]
	spatial := shape.Spatial()
	voxels := spatial.NumElements()
	m := flowMagnitude(flow, shape)

	for n := 0; n < batch; n++ {
		mn := m[n*voxels : (n+1)*voxels]

		var sum float64
		commonRegion(spatial, func(p int, strides []int) {
			for d := range spatial {
				diff := float64(mn[p+strides[d]] - mn[p])
				sum += diff * diff
			}
		})

		// d loss / d sum for this sample
		scale := g / (2 * float64(batch) * math.Sqrt(eps+sum))

		// gradient w.r.t. the magnitude image
		gm := make([]float64, voxels)
		commonRegion(spatial, func(p int, strides []int) {
			for d := range spatial {
				diff := float64(mn[p+strides[d]] - mn[p])
				gm[p+strides[d]] += 2 * diff * scale
				gm[p] -= 2 * diff * scale
			}
		})

		// chain through m = |flow|: d m / d flow = flow / m (0 at m == 0)
		base := n * dim * voxels
		for p := 0; p < voxels; p++ {
			if gm[p] == 0 || mn[p] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				idx := base + d*voxels + p
				grad[idx] += T(gm[p] * float64(flow[idx]) / float64(mn[p]))
			}
		}
	}
}

func huberTemporalForward[T float32 | float64](flow []T, shape tensor.Shape, eps float64) float64 {
	batch := shape[0]
	voxels := shape.Spatial().NumElements()
	if batch < 2 {
		return 0
	}
	m := flowMagnitude(flow, shape)

	var sum float64
	for n := 0; n < batch-1; n++ {
		cur := m[n*voxels : (n+1)*voxels]
		next := m[(n+1)*voxels : (n+2)*voxels]
		for p := range cur {
			diff := float64(next[p] - cur[p])
			sum += diff * diff
		}
	}
	return math.Sqrt(eps+sum) - math.Sqrt(eps)
}

func huberTemporalBackward[T float32 | float64](grad, flow []T, shape tensor.Shape, eps float64, g float64) {
	batch, dim := shape[0], shape[1]
	voxels := shape.Spatial().NumElements()
	if batch < 2 {
		return
	}
	m := flowMagnitude(flow, shape)

	var sum float64
	for n := 0; n < batch-1; n++ {
		cur := m[n*voxels : (n+1)*voxels]
		next := m[(n+1)*voxels : (n+2)*voxels]
		for p := range cur {
			diff := float64(next[p] - cur[p])
			sum += diff * diff
		}
	}
	scale := g / (2 * math.Sqrt(eps+sum))

	gm := make([]float64, batch*voxels)
	for n := 0; n < batch-1; n++ {
		for p := 0; p < voxels; p++ {
			diff := float64(m[(n+1)*voxels+p] - m[n*voxels+p])
			gm[(n+1)*voxels+p] += 2 * diff * scale
			gm[n*voxels+p] -= 2 * diff * scale
		}
	}

	for n := 0; n < batch; n++ {
		base := n * dim * voxels
		for p := 0; p < voxels; p++ {
			gmp := gm[n*voxels+p]
			mp := m[n*voxels+p]
			if gmp == 0 || mp == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				idx := base + d*voxels + p
				grad[idx] += T(gmp * float64(flow[idx]) / float64(mp))
			}
		}
	}
}
