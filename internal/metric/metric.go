// Package metric implements intensity-based similarity losses for
// registration: mutual information via Gaussian kernel density
// estimation, and local normalized cross-correlation. Both are
// expressed through recorded backend primitives, so gradients flow to
// the warped image and on to the displacement field.
//
// All losses follow the "lower is better" convention: they return the
// negated similarity, so a perfect match gives the minimum value.
package metric

import "github.com/mireg-ml/mireg/internal/tensor"

// Metric scores how well a warped source volume matches the target.
// target and source are (batch, channel, *spatial) with identical
// shapes; the result is a scalar loss tensor.
type Metric[B tensor.Backend] interface {
	Loss(target, source *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]
}
