package metric

import (
	"fmt"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// varEps keeps the LNCC denominator away from zero in flat-intensity
// regions.
const varEps = 1e-5

// LNCCLoss is the local normalized cross-correlation loss: windowed
// covariance squared over the product of windowed variances, negated
// and averaged over all voxels and samples.
//
// The window is given as a single size applied to every spatial axis
// or as one size per axis; a single size is expanded to the input's
// spatial rank at call time.
type LNCCLoss[B tensor.Backend] struct {
	window  []int
	backend B
}

// NewLNCCLoss creates an LNCC metric with the given window sizes.
// window must hold one entry, or one per spatial axis, all positive.
func NewLNCCLoss[B tensor.Backend](window []int, backend B) (*LNCCLoss[B], error) {
	if n := len(window); n != 1 && n != 2 && n != 3 {
		return nil, fmt.Errorf("lncc: window must have 1 entry or one per axis, got %d", n)
	}
	for _, w := range window {
		if w < 1 {
			return nil, fmt.Errorf("lncc: window sizes must be positive, got %v", window)
		}
	}
	return &LNCCLoss[B]{window: append([]int(nil), window...), backend: backend}, nil
}

// Loss returns the negated mean local normalized cross-correlation.
func (m *LNCCLoss[B]) Loss(target, source *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !target.Shape().Equal(source.Shape()) {
		panic(fmt.Sprintf("lncc: shape mismatch %v vs %v", target.Shape(), source.Shape()))
	}

	window := m.matchWindow(target.Shape().SpatialRank())
	nPoints := 1.0
	for _, w := range window {
		nPoints *= float64(w)
	}

	tar2 := target.Mul(target)
	src2 := source.Mul(source)
	tarSrc := target.Mul(source)

	tarSum := target.BoxFilter(window)
	srcSum := source.BoxFilter(window)
	tar2Sum := tar2.BoxFilter(window)
	src2Sum := src2.BoxFilter(window)
	tarSrcSum := tarSrc.BoxFilter(window)

	muTar := tarSum.MulScalar(1 / nPoints)
	muSrc := srcSum.MulScalar(1 / nPoints)

	// cov = Σts - μs·Σt - μt·Σs + μt·μs·n
	cov := tarSrcSum.Sub(muSrc.Mul(tarSum)).Sub(muTar.Mul(srcSum)).Add(muTar.Mul(muSrc).MulScalar(nPoints))
	// var = Σt² - 2·μt·Σt + μt²·n
	tarVar := tar2Sum.Sub(muTar.Mul(tarSum).MulScalar(2)).Add(muTar.Mul(muTar).MulScalar(nPoints))
	srcVar := src2Sum.Sub(muSrc.Mul(srcSum).MulScalar(2)).Add(muSrc.Mul(muSrc).MulScalar(nPoints))

	score := cov.Mul(cov).Div(tarVar.Mul(srcVar).AddScalar(varEps))
	return score.Mean().MulScalar(-1)
}

// matchWindow expands a scalar window to the spatial rank and checks a
// per-axis window against it.
func (m *LNCCLoss[B]) matchWindow(rank int) []int {
	if len(m.window) == 1 {
		window := make([]int, rank)
		for d := range window {
			window[d] = m.window[0]
		}
		return window
	}
	if len(m.window) != rank {
		panic(fmt.Sprintf("lncc: %d window sizes for %d spatial dims", len(m.window), rank))
	}
	return m.window
}
