package cpu

import (
	"math"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// Exp computes element-wise exponential: exp(x).
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("exp", x,
		func(v float32) float32 { return float32(math.Exp(float64(v))) },
		func(v float64) float64 { return math.Exp(v) })
}

// LogEps computes element-wise log(x + eps).
//
// The epsilon guard is the engine's policy for degenerate probability
// mass: empty bins produce large-but-finite values instead of -Inf, so
// entropy sums stay finite (callers and test tolerances rely on this).
func (cpu *CPUBackend) LogEps(x *tensor.RawTensor, eps float64) *tensor.RawTensor {
	return cpu.unaryOp("logeps", x,
		func(v float32) float32 { return float32(math.Log(float64(v) + eps)) },
		func(v float64) float64 { return math.Log(v + eps) })
}

// Sqrt computes element-wise square root: sqrt(x).
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sqrt", x,
		func(v float32) float32 { return float32(math.Sqrt(float64(v))) },
		func(v float64) float64 { return math.Sqrt(v) })
}
