// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the tensor descriptors accepted by the layer
// normalization backends.
//
// # Overview
//
// A RawTensor is a strided view over a shared byte buffer:
//   - Shape and DataType describe the logical tensor
//   - Strides and an element offset select the view
//   - Device records where the data lives (CPU, WebGPU)
//
// Views of one buffer share storage, which is how callers express in-place
// normalization and detect aliasing between inputs and outputs.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/fusednorm/backend/cpu"
//	    "github.com/born-ml/fusednorm/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    defer backend.Close()
//
//	    x, _ := tensor.FromSlice([]float32{0, 1, 2, 3, 4, 5}, tensor.Shape{2, 3}, tensor.CPU)
//	    out, mean, std := backend.LayerNorm(x, nil, nil, -1, 1e-5)
//	}
//
// # Supported Data Types
//
// The kernels are instantiated for float32 and float64. Int32 and Int64
// exist as descriptors and are rejected by the backends.
//
// # Views
//
// View builds a strided window over an existing tensor without copying:
//
//	padded, _ := tensor.NewRaw(tensor.Shape{4, 8}, tensor.Float32, tensor.CPU)
//	rows, _ := padded.View(tensor.Shape{4, 6}, []int{8, 1}, 0)
//
// Normalizing over the last axis of a contiguous view takes the fused path;
// any other layout is handled by the generic reference implementation.
package tensor
