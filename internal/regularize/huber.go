// Package regularize penalizes non-smooth displacement fields.
package regularize

import (
	"github.com/mireg-ml/mireg/internal/tensor"
)

// huberEps is the pseudo-Huber smoothing constant: quadratic near zero,
// linear for large differences.
const huberEps = 0.01

// Huber combines two pseudo-Huber penalties on the flow magnitude:
// a spatial term over per-axis first differences (averaged over the
// batch) and a temporal term over the batch-axis first difference
// (summed globally, no batch mean). Both are exactly zero for a
// constant field. A weight of zero drops the corresponding term from
// the computation entirely.
type Huber[B tensor.Backend] struct {
	spatialWeight  float64
	temporalWeight float64
	backend        B
}

// New creates a Huber regularizer with the given term weights.
func New[B tensor.Backend](spatialWeight, temporalWeight float64, backend B) *Huber[B] {
	return &Huber[B]{
		spatialWeight:  spatialWeight,
		temporalWeight: temporalWeight,
		backend:        backend,
	}
}

// Loss returns spatialWeight*spatial + temporalWeight*temporal for a
// displacement field shaped (batch, dim, *spatial).
func (h *Huber[B]) Loss(flow *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	var total *tensor.Tensor[float32, B]

	if h.spatialWeight != 0 {
		spatial := tensor.New[float32](h.backend.HuberSpatial(flow.Raw(), huberEps), h.backend)
		total = spatial.MulScalar(h.spatialWeight)
	}
	if h.temporalWeight != 0 {
		temporal := tensor.New[float32](h.backend.HuberTemporal(flow.Raw(), huberEps), h.backend)
		temporal = temporal.MulScalar(h.temporalWeight)
		if total == nil {
			total = temporal
		} else {
			total = total.Add(temporal)
		}
	}
	if total == nil {
		total = tensor.Zeros[float32](tensor.Shape{1}, h.backend)
	}
	return total
}
