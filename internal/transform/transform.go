// Package transform converts raw model outputs into dense per-voxel
// displacement fields.
//
// Two models are provided: DenseField passes a full-resolution field
// through unchanged, and BSplineFFD expands a coarse control-point
// lattice into a dense field via separable cubic B-spline
// interpolation. Both are pure functions of their input after
// construction.
package transform

import (
	"fmt"
	"math"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// Model turns raw transformation parameters into a dense displacement
// field shaped (batch, dim, *spatial).
type Model[B tensor.Backend] interface {
	// Apply converts parameters to a dense displacement field. It
	// panics on parameter shapes that violate the model's contract.
	Apply(params *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]
}

// DenseField is the identity transformation model: the network already
// predicts a dense displacement field at voxel resolution.
type DenseField[B tensor.Backend] struct{}

// NewDenseField creates the identity transformation model.
func NewDenseField[B tensor.Backend]() *DenseField[B] {
	return &DenseField[B]{}
}

// Apply validates the field layout and returns it unchanged.
func (m *DenseField[B]) Apply(params *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := params.Shape()
	if rank := shape.SpatialRank(); shape[1] != rank {
		panic(fmt.Sprintf("densefield: field has %d channels for %d spatial dims", shape[1], rank))
	}
	return params
}

// BSplineFFD expands a coarse control-point lattice into a dense
// displacement field (free-form deformation).
//
// The per-axis interpolation kernels are the cubic B-spline sampled on
// the voxel grid at 1/spacing resolution, 4*spacing+1 taps, computed
// once at construction. The control grid extends two whole spacing
// units past each image border so every voxel has full kernel support,
// giving (size-1)/spacing + 5 control points per axis. The expansion
// is linear in the control values.
type BSplineFFD[B tensor.Backend] struct {
	imgSize []int
	spacing []int
	cptSize []int
	kernels [][]float64
}

// NewBSplineFFD creates a free-form deformation model for images of
// the given spatial size with the given control-point spacing in
// voxels. imgSize and spacing must have matching rank 2 or 3 and
// positive entries.
func NewBSplineFFD[B tensor.Backend](imgSize, spacing []int) (*BSplineFFD[B], error) {
	rank := len(imgSize)
	if rank != 2 && rank != 3 {
		return nil, fmt.Errorf("bspline ffd: spatial rank must be 2 or 3, got %d", rank)
	}
	if len(spacing) != rank {
		return nil, fmt.Errorf("bspline ffd: %d image dims but %d spacings", rank, len(spacing))
	}

	cptSize := make([]int, rank)
	kernels := make([][]float64, rank)
	for d := 0; d < rank; d++ {
		if imgSize[d] < 1 {
			return nil, fmt.Errorf("bspline ffd: image size %d on axis %d", imgSize[d], d)
		}
		if spacing[d] < 1 {
			return nil, fmt.Errorf("bspline ffd: control point spacing %d on axis %d", spacing[d], d)
		}
		cptSize[d] = (imgSize[d]-1)/spacing[d] + 5
		kernels[d] = sampleKernel(spacing[d])
	}

	return &BSplineFFD[B]{
		imgSize: append([]int(nil), imgSize...),
		spacing: append([]int(nil), spacing...),
		cptSize: cptSize,
		kernels: kernels,
	}, nil
}

// ControlPointSize returns the expected control lattice size per axis.
func (m *BSplineFFD[B]) ControlPointSize() []int {
	return append([]int(nil), m.cptSize...)
}

// Apply expands control points shaped (batch, dim, *cptSize) into a
// dense field shaped (batch, dim, *imgSize).
func (m *BSplineFFD[B]) Apply(params *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := params.Shape()
	rank := len(m.imgSize)
	if len(shape) != rank+2 || shape[1] != rank {
		panic(fmt.Sprintf("bspline ffd: control grid shape %v for %d-D transform", shape, rank))
	}
	for d := 0; d < rank; d++ {
		if shape[2+d] != m.cptSize[d] {
			panic(fmt.Sprintf("bspline ffd: control grid shape %v, want spatial size %v", shape, m.cptSize))
		}
	}

	backend := params.Backend()
	raw := backend.BSplineUpsample(params.Raw(), m.kernels, m.spacing, m.imgSize)
	return tensor.New[float32](raw, backend)
}

// sampleKernel evaluates the cubic B-spline basis at 1/spacing
// resolution over its support of four spacing units.
func sampleKernel(spacing int) []float64 {
	kernel := make([]float64, 4*spacing+1)
	for k := range kernel {
		kernel[k] = cubicBSpline(float64(k-2*spacing) / float64(spacing))
	}
	return kernel
}

// cubicBSpline is the cubic B-spline basis function with support [-2, 2].
// Its integer shifts form a partition of unity.
func cubicBSpline(t float64) float64 {
	a := math.Abs(t)
	switch {
	case a < 1:
		return 2.0/3.0 - a*a + a*a*a/2
	case a < 2:
		d := 2 - a
		return d * d * d / 6
	default:
		return 0
	}
}
