// Copyright 2026 The mireg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for tensor operations in the
// mireg registration core.
//
// The package defines the core interfaces and types for type-safe
// tensor operations:
//   - Tensor[T, B]: High-level generic tensor with type safety
//   - RawTensor: Low-level tensor for advanced use cases
//   - Backend: Interface for device-specific compute implementations
//   - Shape, DataType, Device, InterpMode: Core type definitions
//
// Example:
//
//	backend := cpu.New()
//	vol := tensor.Zeros[float32](tensor.Shape{1, 1, 32, 32, 32}, backend)
//	field := tensor.Zeros[float32](tensor.Shape{1, 3, 32, 32, 32}, backend)
package tensor

import (
	"github.com/mireg-ml/mireg/internal/tensor"
)

// DType is a constraint for tensor data types.
// Supported types: float32, float64, bool.
type DType = tensor.DType

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Bool    DataType = tensor.Bool
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// CPU is the only in-core device; placement on anything else is a
// caller concern.
const CPU Device = tensor.CPU

// Shape represents the dimensions of a tensor.
// Example: Shape{1, 1, 64, 64} is a single-channel 2-D volume.
type Shape = tensor.Shape

// InterpMode selects the sampling rule used by the spatial resampler.
type InterpMode = tensor.InterpMode

// Interpolation modes.
const (
	InterpLinear  InterpMode = tensor.InterpLinear
	InterpNearest InterpMode = tensor.InterpNearest
)

// ParseInterpMode converts "linear" or "nearest" to an InterpMode.
var ParseInterpMode = tensor.ParseInterpMode

// Backend is the closed vocabulary of operations a compute device must
// implement.
type Backend = tensor.Backend

// RawTensor is the untyped, refcounted tensor implementation.
type RawTensor = tensor.RawTensor

// Tensor is a typed tensor bound to a backend.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// NewRaw allocates an untyped tensor with the given shape and dtype.
var NewRaw = tensor.NewRaw

// New wraps a RawTensor into a typed Tensor.
func New[T DType, B Backend](raw *RawTensor, backend B) *Tensor[T, B] {
	return tensor.New[T, B](raw, backend)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, backend B) *Tensor[T, B] {
	return tensor.Zeros[T, B](shape, backend)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, backend B) *Tensor[T, B] {
	return tensor.Ones[T, B](shape, backend)
}

// Full creates a tensor filled with the given value.
func Full[T DType, B Backend](shape Shape, value T, backend B) *Tensor[T, B] {
	return tensor.Full[T, B](shape, value, backend)
}

// FromSlice creates a tensor from a data slice with the given shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, backend B) (*Tensor[T, B], error) {
	return tensor.FromSlice[T, B](data, shape, backend)
}
