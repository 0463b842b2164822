package metric

import (
	"fmt"
	"math"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// probEps keeps histogram normalization and entropies finite when
// probability mass vanishes.
const probEps = 1e-10

// roiFilterSize is the box-filter width used to dilate the region of
// interest before thresholding.
const roiFilterSize = 7

// MIConfig configures the mutual information metric.
type MIConfig struct {
	// VMin and VMax bound the intensity range covered by the histogram.
	VMin float64
	VMax float64
	// NumBins is the histogram resolution per image.
	NumBins int
	// ROI restricts the histogram to voxels where the smoothed image
	// average exceeds ROIThreshold.
	ROI          bool
	ROIThreshold float64
	// Normalised selects NMI = (Hx+Hy)/Hxy over plain MI = Hx+Hy-Hxy.
	Normalised bool
}

// DefaultMIConfig mirrors the conventional setup for intensity-
// normalized volumes: unit range, 64 bins, normalized MI.
func DefaultMIConfig() MIConfig {
	return MIConfig{
		VMin:         0.0,
		VMax:         1.0,
		NumBins:      64,
		ROI:          false,
		ROIThreshold: 1e-4,
		Normalised:   true,
	}
}

// MILoss is the (normalized) mutual information loss with a Gaussian
// Parzen window. Soft bin memberships replace hard histogram counts,
// which makes the joint distribution differentiable in both images.
//
// Bin centers and the kernel bandwidth are fixed at construction. The
// bandwidth is derived so the kernel's full width at half maximum
// equals one bin width; it is not separately tunable.
type MILoss[B tensor.Backend] struct {
	cfg     MIConfig
	sigma   float64
	bins    *tensor.RawTensor // (1, NumBins, 1) bin centers
	backend B
}

// Diagnostics exposes the distributions behind one MI evaluation.
type Diagnostics[B tensor.Backend] struct {
	Joint          *tensor.Tensor[float32, B] // (N, bins, bins)
	MarginalTarget *tensor.Tensor[float32, B] // (N, bins)
	MarginalSource *tensor.Tensor[float32, B] // (N, bins)
}

// NewMILoss creates a mutual information metric. The intensity range
// must be non-empty and NumBins at least 2.
func NewMILoss[B tensor.Backend](cfg MIConfig, backend B) (*MILoss[B], error) {
	if cfg.NumBins < 2 {
		return nil, fmt.Errorf("mi: need at least 2 bins, got %d", cfg.NumBins)
	}
	if cfg.VMax <= cfg.VMin {
		return nil, fmt.Errorf("mi: empty intensity range [%g, %g]", cfg.VMin, cfg.VMax)
	}
	if cfg.ROI && cfg.ROIThreshold < 0 {
		return nil, fmt.Errorf("mi: negative roi threshold %g", cfg.ROIThreshold)
	}

	// FWHM of the Gaussian window = one bin width.
	binWidth := (cfg.VMax - cfg.VMin) / float64(cfg.NumBins)
	sigma := binWidth / (2 * math.Sqrt(2*math.Log(2)))

	centers := tensor.Linspace[float32](float32(cfg.VMin), float32(cfg.VMax), cfg.NumBins, backend)
	bins, err := tensor.NewRaw(tensor.Shape{1, cfg.NumBins, 1}, tensor.Float32, backend.Device())
	if err != nil {
		return nil, fmt.Errorf("mi: %w", err)
	}
	copy(bins.AsFloat32(), centers.Data())

	return &MILoss[B]{cfg: cfg, sigma: sigma, bins: bins, backend: backend}, nil
}

// Loss returns the negated (normalized) mutual information between the
// two volumes.
func (m *MILoss[B]) Loss(target, source *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	loss, _ := m.evaluate(target, source, false)
	return loss
}

// LossWithDiagnostics additionally returns the joint and marginal
// distributions of the evaluation.
func (m *MILoss[B]) LossWithDiagnostics(target, source *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], Diagnostics[B]) {
	return m.evaluate(target, source, true)
}

func (m *MILoss[B]) evaluate(target, source *tensor.Tensor[float32, B], wantDiag bool) (*tensor.Tensor[float32, B], Diagnostics[B]) {
	if !target.Shape().Equal(source.Shape()) {
		panic(fmt.Sprintf("mi: shape mismatch %v vs %v", target.Shape(), source.Shape()))
	}

	x, y := m.flatten(target, source)

	// Joint distribution from soft bin memberships.
	winX := m.parzenWindow(x)
	winY := m.parzenWindow(y)
	hist := winX.BatchMatMul(winY.Transpose(0, 2, 1)) // (N, bins, bins)

	norm := hist.SumDim(2, true).SumDim(1, true).AddScalar(probEps)
	pJoint := hist.Div(norm)

	// Marginals: target bins in dim 1, source bins in dim 2.
	pX := pJoint.SumDim(2, false)
	pY := pJoint.SumDim(1, false)

	entX := pX.Mul(pX.LogEps(probEps)).SumDim(1, false).MulScalar(-1) // (N)
	entY := pY.Mul(pY.LogEps(probEps)).SumDim(1, false).MulScalar(-1)
	entJoint := pJoint.Mul(pJoint.LogEps(probEps)).SumDim(2, false).SumDim(1, false).MulScalar(-1)

	var loss *tensor.Tensor[float32, B]
	if m.cfg.Normalised {
		loss = entX.Add(entY).Div(entJoint).Mean().MulScalar(-1)
	} else {
		loss = entX.Add(entY).Sub(entJoint).Mean().MulScalar(-1)
	}

	var diag Diagnostics[B]
	if wantDiag {
		diag = Diagnostics[B]{Joint: pJoint, MarginalTarget: pX, MarginalSource: pY}
	}
	return loss, diag
}

// flatten reduces both volumes to (N, 1, K) sample rows, either by
// ROI masking or by flattening the channel and spatial axes.
func (m *MILoss[B]) flatten(target, source *tensor.Tensor[float32, B]) (x, y *tensor.Tensor[float32, B]) {
	shape := target.Shape()
	if !m.cfg.ROI {
		flat := tensor.Shape{shape[0], 1, shape.NumElements() / shape[0]}
		return target.Reshape(flat), source.Reshape(flat)
	}

	// Box-filter average of (target+source)/2 dilates the foreground
	// before thresholding, so the mask keeps a margin around it.
	rank := shape.SpatialRank()
	window := make([]int, rank)
	for d := range window {
		window[d] = roiFilterSize
	}
	scale := 1.0
	for range window {
		scale /= roiFilterSize
	}

	avg := target.Add(source).MulScalar(0.5)
	smooth := avg.BoxFilter(window).MulScalar(scale)
	mask := m.backend.Greater(smooth.Raw(), m.cfg.ROIThreshold)

	// An empty region leaves nothing to histogram. Fall back to the
	// unmasked statistics so the loss stays finite instead of failing
	// in the gather kernel.
	if !anyTrue(mask) {
		flat := tensor.Shape{shape[0], 1, shape.NumElements() / shape[0]}
		return target.Reshape(flat), source.Reshape(flat)
	}

	x = target.MaskSelect(mask) // (1, 1, K)
	y = source.MaskSelect(mask)

	// With equal per-sample voxel counts the flat selection splits back
	// into per-sample rows; otherwise the batch pools into a single
	// pseudo-sample.
	if count, uniform := uniformMaskCount(mask, shape[0]); uniform && shape[0] > 1 {
		perSample := tensor.Shape{shape[0], 1, count}
		x = x.Reshape(perSample)
		y = y.Reshape(perSample)
	}
	return x, y
}

// parzenWindow computes the Gaussian soft membership of every voxel in
// every bin: (N, 1, K) -> (N, bins, K).
func (m *MILoss[B]) parzenWindow(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	bins := tensor.New[float32](m.bins, m.backend)
	diff := x.Sub(bins)
	expArg := diff.Mul(diff).MulScalar(-1 / (2 * m.sigma * m.sigma))
	return expArg.Exp().MulScalar(m.sigma / math.Sqrt(2*math.Pi))
}

func anyTrue(mask *tensor.RawTensor) bool {
	for _, v := range mask.AsBool() {
		if v {
			return true
		}
	}
	return false
}

// uniformMaskCount reports the per-sample true count if it is the same
// for every sample in the batch.
func uniformMaskCount(mask *tensor.RawTensor, batch int) (int, bool) {
	data := mask.AsBool()
	perSample := len(data) / batch

	first := 0
	for n := 0; n < batch; n++ {
		count := 0
		for _, v := range data[n*perSample : (n+1)*perSample] {
			if v {
				count++
			}
		}
		if n == 0 {
			first = count
		} else if count != first {
			return 0, false
		}
	}
	return first, true
}
