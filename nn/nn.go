// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/fusednorm/internal/nn"
	"github.com/born-ml/fusednorm/layernorm"
	"github.com/born-ml/fusednorm/tensor"
)

// Module is implemented by components that own trainable parameters.
type Module = nn.Module

// Parameter represents a trainable parameter and its gradient buffer.
type Parameter = nn.Parameter

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewParameter(name, t)
}

// ZeroGrad clears the gradients of every parameter of m.
func ZeroGrad(m Module) {
	nn.ZeroGrad(m)
}

// ErrNoForward is returned by LayerNorm.Backward before any Forward.
var ErrNoForward = nn.ErrNoForward

// LayerNorm applies layer normalization with learnable scale and shift.
type LayerNorm = nn.LayerNorm

// NewLayerNorm creates a LayerNorm over the last axis with the given channel count.
//
// Example:
//
//	backend := cpu.New()
//	ln, err := nn.NewLayerNorm(backend.Norm(), 512, 1e-5, tensor.Float32)
func NewLayerNorm(norm *layernorm.Dispatcher, channels int, epsilon float64, dtype tensor.DataType) (*LayerNorm, error) {
	return nn.NewLayerNorm(norm, channels, epsilon, dtype)
}
