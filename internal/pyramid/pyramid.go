// Package pyramid builds multi-resolution image pyramids for
// coarse-to-fine registration.
package pyramid

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// Build constructs a multi-resolution pyramid from a volume shaped
// (batch, channel, *spatial). Level 0 is the input itself; each
// subsequent level halves every spatial dimension with 2x average
// pooling. The pyramid is built fresh on every call so that the levels
// always reflect the current volume.
//
// Returns an error if levels < 1 or if any spatial dimension would be
// pooled down to zero before the last level.
func Build[B tensor.Backend](vol *tensor.Tensor[float32, B], levels int) ([]*tensor.Tensor[float32, B], error) {
	if levels < 1 {
		return nil, fmt.Errorf("pyramid: levels must be >= 1, got %d", levels)
	}

	spatial := vol.Shape().Spatial()
	for _, s := range spatial {
		if s>>(levels-1) < 1 {
			return nil, fmt.Errorf("pyramid: %d levels collapse spatial size %v", levels, spatial)
		}
	}

	backend := vol.Backend()
	out := make([]*tensor.Tensor[float32, B], levels)
	out[0] = vol
	for l := 1; l < levels; l++ {
		out[l] = tensor.New[float32](backend.AvgPoolHalf(out[l-1].Raw()), backend)
	}
	return out, nil
}
