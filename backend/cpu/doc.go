// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend for layer normalization.
//
// # Overview
//
// This package implements a CPU backend with:
//   - Pure Go implementation (no CGO)
//   - Single-pass Welford statistics merged across lanes and lane-groups
//   - Float32 and Float64 support
//   - A generic reference path for any axis or strided layout
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
//	    dx, dscale, dshift := backend.LayerNormBackward(grad, x, nil, mean, std, -1)
//	}
//
// # Asynchronous Use
//
// LayerNorm and LayerNormBackward wait for their kernels. Norm returns the
// underlying dispatcher, which queues work on the backend's stream and
// supports AccumulateInto and Skip outputs; call Synchronize before reading
// its results.
//
// # Thread Safety
//
// The CPU backend is safe for concurrent use. Calls are executed in the
// order they are queued on the backend's stream.
package cpu
