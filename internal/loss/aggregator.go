// Package loss accumulates the per-level registration objective.
package loss

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/metric"
	"github.com/mireg-ml/mireg/internal/regularize"
	"github.com/mireg-ml/mireg/internal/tensor"
)

// Aggregator combines one weighted similarity term per pyramid level
// with an optional weighted regularizer on the level's displacement
// field. It is pure computation: every call returns a fresh scalar
// loss tensor and value breakdown, with no retained state.
type Aggregator[B tensor.Backend] struct {
	metric      metric.Metric[B]
	regularizer *regularize.Huber[B] // nil disables regularization
	simWeights  []float64
	regWeights  []float64
	backend     B
}

// NewAggregator creates a loss aggregator for len(simWeights) pyramid
// levels. regWeights must be empty (no regularization) or match
// simWeights in length; a regularizer with weights requires a non-nil
// regularizer and vice versa.
func NewAggregator[B tensor.Backend](
	m metric.Metric[B],
	regularizer *regularize.Huber[B],
	simWeights, regWeights []float64,
	backend B,
) (*Aggregator[B], error) {
	if m == nil {
		return nil, fmt.Errorf("loss: similarity metric is required")
	}
	if len(simWeights) == 0 {
		return nil, fmt.Errorf("loss: at least one similarity weight is required")
	}
	if len(regWeights) > 0 && len(regWeights) != len(simWeights) {
		return nil, fmt.Errorf("loss: %d regularizer weights for %d levels", len(regWeights), len(simWeights))
	}
	if (len(regWeights) > 0) != (regularizer != nil) {
		return nil, fmt.Errorf("loss: regularizer and its weights must be configured together")
	}

	return &Aggregator[B]{
		metric:      m,
		regularizer: regularizer,
		simWeights:  append([]float64(nil), simWeights...),
		regWeights:  append([]float64(nil), regWeights...),
		backend:     backend,
	}, nil
}

// Levels returns the number of pyramid levels the aggregator expects.
func (a *Aggregator[B]) Levels() int {
	return len(a.simWeights)
}

// Loss evaluates the full objective over matched pyramid slices:
// targets[l] against warped[l] for similarity, fields[l] for the
// regularizer. fields may be nil when no regularizer is configured.
//
// The returned map breaks the scalar loss down by term: "sim/0",
// "sim/1", ..., "reg/0", ..., and "loss" for the weighted total.
func (a *Aggregator[B]) Loss(
	targets, warped, fields []*tensor.Tensor[float32, B],
) (*tensor.Tensor[float32, B], map[string]float32, error) {
	levels := a.Levels()
	if len(targets) != levels || len(warped) != levels {
		return nil, nil, fmt.Errorf("loss: got %d target / %d warped levels, want %d", len(targets), len(warped), levels)
	}
	if a.regularizer != nil && len(fields) != levels {
		return nil, nil, fmt.Errorf("loss: got %d field levels, want %d", len(fields), levels)
	}

	breakdown := make(map[string]float32, 2*levels+1)
	var total *tensor.Tensor[float32, B]

	for l := 0; l < levels; l++ {
		sim := a.metric.Loss(targets[l], warped[l]).MulScalar(a.simWeights[l])
		breakdown[fmt.Sprintf("sim/%d", l)] = sim.Item()
		total = accumulate(total, sim)
	}

	if a.regularizer != nil {
		for l := 0; l < levels; l++ {
			reg := a.regularizer.Loss(fields[l]).MulScalar(a.regWeights[l])
			breakdown[fmt.Sprintf("reg/%d", l)] = reg.Item()
			total = accumulate(total, reg)
		}
	}

	breakdown["loss"] = total.Item()
	return total, breakdown, nil
}

func accumulate[B tensor.Backend](total, term *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if total == nil {
		return term
	}
	return total.Add(term)
}
