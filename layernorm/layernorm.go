// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layernorm exposes the fused layer normalization dispatcher.
//
// A Dispatcher validates a call, decides between the fused kernels and the
// generic Fallback, and queues the work on a Stream without waiting for it:
//
//	stream := layernorm.NewStream(layernorm.StreamConfig{})
//	defer stream.Close()
//
//	d, err := layernorm.NewDispatcher(stream, layernorm.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	err = d.Forward(ctx, layernorm.ForwardArgs{
//	    Data: x, Axis: -1, Epsilon: 1e-5,
//	    Out: out, Mean: mean, Std: std, OutReq: layernorm.Overwrite,
//	})
//	if err != nil {
//	    return err
//	}
//	err = stream.Synchronize(ctx)
//
// Every output carries a Req: Skip, Overwrite, OverwriteInPlace (forward
// output only) or AccumulateInto (backward outputs). Rejected calls return a
// *ConfigError wrapping one of the Err values below.
package layernorm

import (
	"github.com/born-ml/fusednorm/internal/layernorm"
	"github.com/born-ml/fusednorm/internal/simt"
)

// Dispatcher validates calls and queues the fused kernels.
type Dispatcher = layernorm.Dispatcher

// Config controls kernel geometry, the fallback and logging.
type Config = layernorm.Config

// ForwardArgs are the operands of a forward call.
type ForwardArgs = layernorm.ForwardArgs

// BackwardArgs are the operands of a backward call.
type BackwardArgs = layernorm.BackwardArgs

// Fallback computes calls whose layout the fused kernels do not handle.
type Fallback = layernorm.Fallback

// Reference is the generic implementation used as the default Fallback.
type Reference = layernorm.Reference

// ConfigError describes a rejected call.
type ConfigError = layernorm.ConfigError

// Req selects how an output is stored.
type Req = layernorm.Req

// Output requests.
const (
	Skip             Req = layernorm.Skip
	Overwrite        Req = layernorm.Overwrite
	OverwriteInPlace Req = layernorm.OverwriteInPlace
	AccumulateInto   Req = layernorm.AccumulateInto
)

// Stream executes queued launches in order on a pool of workers.
type Stream = simt.Stream

// StreamConfig configures a Stream.
type StreamConfig = simt.StreamConfig

// Errors returned by Dispatcher calls and Stream operations.
var (
	ErrNilTensor         = layernorm.ErrNilTensor
	ErrDTypeMismatch     = layernorm.ErrDTypeMismatch
	ErrShapeMismatch     = layernorm.ErrShapeMismatch
	ErrInvalidAxis       = layernorm.ErrInvalidAxis
	ErrInvalidEpsilon    = layernorm.ErrInvalidEpsilon
	ErrNotContiguous     = layernorm.ErrNotContiguous
	ErrUnsupportedReq    = layernorm.ErrUnsupportedReq
	ErrInPlaceGradient   = layernorm.ErrInPlaceGradient
	ErrAliasedOutput     = layernorm.ErrAliasedOutput
	ErrAliasedAccumulate = layernorm.ErrAliasedAccumulate

	ErrInvalidLaunch = simt.ErrInvalidLaunch
	ErrStreamFailed  = simt.ErrStreamFailed
	ErrStreamClosed  = simt.ErrStreamClosed
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return layernorm.DefaultConfig()
}

// NewStream starts a stream. Close it to stop its workers.
func NewStream(cfg StreamConfig) *Stream {
	return simt.NewStream(cfg)
}

// NewDispatcher returns a dispatcher that queues work on stream.
func NewDispatcher(stream *Stream, cfg Config) (*Dispatcher, error) {
	return layernorm.NewDispatcher(stream, cfg)
}
