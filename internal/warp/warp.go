// Package warp resamples volumes through dense displacement fields.
package warp

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// Warp resamples vol at positions displaced by field:
//
//	out[n, c, p] = vol[n, c, p + field[n, :, p]]
//
// vol is (batch, channel, *spatial) and field is (batch, dim, *spatial)
// with dim equal to the spatial rank. Sample coordinates outside the
// volume clamp to the border voxel. Linear interpolation is
// differentiable with respect to both the volume and the field;
// nearest-neighbor is not.
//
// Warp is a pure function: it allocates its output and never mutates
// its inputs.
func Warp[B tensor.Backend](vol, field *tensor.Tensor[float32, B], mode tensor.InterpMode) *tensor.Tensor[float32, B] {
	backend := vol.Backend()
	return tensor.New[float32](backend.GridSample(vol.Raw(), field.Raw(), mode), backend)
}

// WarpPyramid warps each pyramid level with its level-matched field.
// Level counts must agree.
func WarpPyramid[B tensor.Backend](vols, fields []*tensor.Tensor[float32, B], mode tensor.InterpMode) ([]*tensor.Tensor[float32, B], error) {
	if len(vols) != len(fields) {
		return nil, fmt.Errorf("warp: %d pyramid levels but %d fields", len(vols), len(fields))
	}
	out := make([]*tensor.Tensor[float32, B], len(vols))
	for l := range vols {
		out[l] = Warp(vols[l], fields[l], mode)
	}
	return out, nil
}
