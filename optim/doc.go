// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimizers for the parameters of nn.LayerNorm.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//
// # Basic Usage
//
//	backend := cpu.New()
//	defer backend.Close()
//
//	ln, _ := nn.NewLayerNorm(backend.Norm(), 768, 1e-5, tensor.Float32)
//	optimizer := optim.NewAdam(ln.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	for step := range 10 {
//	    out, _ := ln.Forward(ctx, x)
//	    outGrad := lossGrad(out)
//
//	    optimizer.ZeroGrad()
//	    _, _ = ln.Backward(ctx, outGrad)
//	    _ = optimizer.Step()
//	}
//
// Step reads the gradients that Backward accumulated into each parameter.
// Moment and velocity state is kept in float64 for both float32 and float64
// parameters.
package optim
