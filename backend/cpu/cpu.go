// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/fusednorm/internal/backend/cpu"
	"github.com/born-ml/fusednorm/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Config configures a Backend: stream workers, kernel geometry and logging.
type Config = internalcpu.Config

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// DefaultConfig returns the default backend configuration.
func DefaultConfig() Config {
	return internalcpu.DefaultConfig()
}

// New creates a new CPU backend. Call Close when done to stop its workers.
//
// Example:
//
//	backend := cpu.New()
//	defer backend.Close()
//	out, mean, std := backend.LayerNorm(x, nil, nil, -1, 1e-5)
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend, returning an error for invalid geometry.
func NewWithConfig(cfg Config) (*Backend, error) {
	return internalcpu.NewWithConfig(cfg)
}
