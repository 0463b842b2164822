// Copyright 2026 The mireg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation for
// the mireg registration core.
//
// Wrap any backend to record the loss graph, then walk it backwards:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	warped := warp of source by field
//	lossT := metric loss of (target, warped)
//	grads := autodiff.Backward(lossT, backend)
//	fieldGrad := grads[field.Raw()]
package autodiff

import (
	internalautodiff "github.com/mireg-ml/mireg/internal/autodiff"
	"github.com/mireg-ml/mireg/tensor"
)

// Backend wraps a tensor.Backend and records operations on a gradient
// tape.
type Backend[B tensor.Backend] = internalautodiff.Backend[B]

// GradientTape records operations during the forward pass.
type GradientTape = internalautodiff.GradientTape

// BackwardCapable is implemented by backends that can run a backward
// pass.
type BackwardCapable = internalautodiff.BackwardCapable

// New creates an autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return internalautodiff.New(backend)
}

// Backward computes gradients of t with respect to every recorded
// input, seeding the output gradient with ones.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return internalautodiff.Backward(t, backend)
}
