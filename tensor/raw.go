// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/fusednorm/internal/tensor"
)

// RawTensor is a strided view over a shared buffer.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType(), Device()
//   - Layout information via Strides(), IsContiguous(), SameView()
//   - Type-safe data access via AsFloat32() and AsFloat64()
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed, contiguous tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice creates a contiguous tensor holding a copy of data.
func FromSlice[T Float](data []T, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromSlice(data, shape, device)
}
