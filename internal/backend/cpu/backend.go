// Package cpu implements the CPU backend: fused layer normalization executed
// on a host SIMT stream.
package cpu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/born-ml/fusednorm/internal/layernorm"
	"github.com/born-ml/fusednorm/internal/simt"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// Config configures a CPUBackend.
type Config struct {
	Workers int              // Stream worker goroutines (<= 0: GOMAXPROCS).
	Norm    layernorm.Config // Kernel geometry and fallback.
	Logger  *slog.Logger     // Shared by the stream and the dispatcher (nil: discard).
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() Config {
	return Config{
		Workers: simt.DefaultStreamConfig().Workers,
		Norm:    layernorm.DefaultConfig(),
	}
}

// CPUBackend runs layer normalization on the CPU.
//
// Every backend owns one stream; calls made through the tensor-level methods
// are synchronous, while Norm exposes the asynchronous dispatcher.
type CPUBackend struct {
	device tensor.Device
	stream *simt.Stream
	norm   *layernorm.Dispatcher
}

// New creates a CPU backend with the default configuration.
func New() *CPUBackend {
	b, err := NewWithConfig(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("cpu: %v", err))
	}
	return b
}

// NewWithConfig creates a CPU backend.
func NewWithConfig(cfg Config) (*CPUBackend, error) {
	if cfg.Logger != nil && cfg.Norm.Logger == nil {
		cfg.Norm.Logger = cfg.Logger
	}
	stream := simt.NewStream(simt.StreamConfig{Workers: cfg.Workers, Logger: cfg.Logger})
	norm, err := layernorm.NewDispatcher(stream, cfg.Norm)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &CPUBackend{
		device: tensor.CPU,
		stream: stream,
		norm:   norm,
	}, nil
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Norm returns the dispatcher, for callers that queue work asynchronously or
// need AccumulateInto outputs.
func (cpu *CPUBackend) Norm() *layernorm.Dispatcher {
	return cpu.norm
}

// Synchronize waits for all queued work.
func (cpu *CPUBackend) Synchronize(ctx context.Context) error {
	return cpu.stream.Synchronize(ctx)
}

// Close waits for queued work and releases the stream's workers.
// It is safe to call more than once.
func (cpu *CPUBackend) Close() error {
	return cpu.stream.Close()
}
