// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides a trainable layer normalization module.
//
// # Overview
//
// This package contains:
//   - LayerNorm: saves the per-row statistics in Forward and consumes them in Backward
//   - Parameter: a tensor with a gradient buffer that accumulates until ZeroGrad
//   - Module: the interface for anything that owns parameters
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/fusednorm/backend/cpu"
//	    "github.com/born-ml/fusednorm/nn"
//	    "github.com/born-ml/fusednorm/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    defer backend.Close()
//
//	    ln, err := nn.NewLayerNorm(backend.Norm(), 768, 1e-5, tensor.Float32)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    out, err := ln.Forward(ctx, hidden)
//	    dx, err := ln.Backward(ctx, outGrad)
//
//	    // Parameter gradients have been summed into Scale.Grad() and Shift.Grad().
//	    nn.ZeroGrad(ln)
//	}
//
// # Gradients
//
// Backward overwrites the returned input gradient and adds into the parameter
// gradients, so several micro-batches can be accumulated before an update.
// Backward without a preceding Forward returns ErrNoForward.
package nn
