// Copyright 2026 The mireg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure-Go CPU backend for the mireg
// registration core.
package cpu

import (
	internalcpu "github.com/mireg-ml/mireg/internal/backend/cpu"
	"github.com/mireg-ml/mireg/tensor"
)

// Backend is the CPU backend implementation.
//
// All kernels are pure Go with data-parallel batch loops; there is no
// visible task concurrency.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	vol := tensor.Zeros[float32](tensor.Shape{1, 1, 64, 64}, backend)
func New() *Backend {
	return internalcpu.New()
}
