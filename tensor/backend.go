// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

// Backend is implemented by every layer normalization backend.
//
// Implementations:
//   - backend/cpu: fused kernels on a host SIMT stream
//   - backend/webgpu: WGSL compute shaders via WebGPU (Windows)
//
// Methods panic on invalid arguments, like born's tensor backends. Callers
// that need error returns, AccumulateInto outputs or asynchronous execution
// use the layernorm package directly.
//
// Example:
//
//	var backend tensor.Backend = cpu.New()
//	out, mean, std := backend.LayerNorm(x, gamma, beta, -1, 1e-5)
//	dx, dgamma, dbeta := backend.LayerNormBackward(grad, x, gamma, mean, std, -1)
type Backend interface {
	// Name returns a human-readable backend name.
	Name() string

	// Device returns the device the backend computes on.
	Device() Device

	// LayerNorm normalizes x over axis, applying the optional scale and
	// shift, and returns the saved mean and std shaped like x without axis.
	LayerNorm(x, scale, shift *RawTensor, axis int, eps float64) (out, mean, std *RawTensor)

	// LayerNormBackward returns the gradients of x, scale and shift.
	LayerNormBackward(grad, x, scale, mean, std *RawTensor, axis int) (dx, dscale, dshift *RawTensor)
}
