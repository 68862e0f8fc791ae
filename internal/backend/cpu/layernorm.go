package cpu

import (
	"context"
	"fmt"

	"github.com/born-ml/fusednorm/internal/layernorm"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// LayerNorm normalizes x over axis and applies the optional scale and shift.
//
// It returns the normalized tensor and the saved statistics mean and std,
// shaped like x without axis, which LayerNormBackward consumes. Panics on
// invalid arguments.
//
// Example:
//
//	out, mean, std := backend.LayerNorm(x, gamma, beta, -1, 1e-5)
func (cpu *CPUBackend) LayerNorm(x, scale, shift *tensor.RawTensor, axis int, eps float64) (out, mean, std *tensor.RawTensor) {
	if x == nil {
		panic("layernorm: nil input")
	}
	out = cpu.alloc(x.Shape(), x.DType())
	mean, std = cpu.allocStats(x, axis)

	cpu.run(func(ctx context.Context) error {
		return cpu.norm.Forward(ctx, layernorm.ForwardArgs{
			Data:    x,
			Scale:   scale,
			Shift:   shift,
			Axis:    axis,
			Epsilon: eps,
			Out:     out,
			Mean:    mean,
			Std:     std,
			OutReq:  layernorm.Overwrite,
		})
	})
	return out, mean, std
}

// LayerNormInPlace normalizes x over axis, overwriting x, and returns the saved
// statistics.
func (cpu *CPUBackend) LayerNormInPlace(x, scale, shift *tensor.RawTensor, axis int, eps float64) (mean, std *tensor.RawTensor) {
	if x == nil {
		panic("layernorm: nil input")
	}
	mean, std = cpu.allocStats(x, axis)

	cpu.run(func(ctx context.Context) error {
		return cpu.norm.Forward(ctx, layernorm.ForwardArgs{
			Data:    x,
			Scale:   scale,
			Shift:   shift,
			Axis:    axis,
			Epsilon: eps,
			Out:     x,
			Mean:    mean,
			Std:     std,
			OutReq:  layernorm.OverwriteInPlace,
		})
	})
	return mean, std
}

// LayerNormBackward returns the gradients of x, scale and shift given the
// gradient of the normalized output. scale may be nil if the forward call had
// none; its gradient is still returned.
func (cpu *CPUBackend) LayerNormBackward(grad, x, scale, mean, std *tensor.RawTensor, axis int) (dx, dscale, dshift *tensor.RawTensor) {
	if x == nil {
		panic("layernorm: nil input")
	}
	ax, err := x.Shape().NormalizeAxis(axis)
	if err != nil {
		panic(fmt.Sprintf("layernorm: %v", err))
	}
	channels := tensor.Shape{x.Shape()[ax]}
	dx = cpu.alloc(x.Shape(), x.DType())
	dscale = cpu.alloc(channels, x.DType())
	dshift = cpu.alloc(channels, x.DType())

	cpu.run(func(ctx context.Context) error {
		return cpu.norm.Backward(ctx, layernorm.BackwardArgs{
			OutGrad:      grad,
			Data:         x,
			Scale:        scale,
			Mean:         mean,
			Std:          std,
			Axis:         axis,
			DataGrad:     dx,
			ScaleGrad:    dscale,
			ShiftGrad:    dshift,
			DataGradReq:  layernorm.Overwrite,
			ScaleGradReq: layernorm.Overwrite,
			ShiftGradReq: layernorm.Overwrite,
		})
	})
	return dx, dscale, dshift
}

// run issues one call and waits for it, panicking on failure.
func (cpu *CPUBackend) run(call func(ctx context.Context) error) {
	ctx := context.Background()
	if err := call(ctx); err != nil {
		panic(fmt.Sprintf("layernorm: %v", err))
	}
	if err := cpu.stream.Synchronize(ctx); err != nil {
		panic(fmt.Sprintf("layernorm: %v", err))
	}
}

func (cpu *CPUBackend) alloc(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("layernorm: failed to create result tensor: %v", err))
	}
	return r
}

func (cpu *CPUBackend) allocStats(x *tensor.RawTensor, axis int) (mean, std *tensor.RawTensor) {
	ax, err := x.Shape().NormalizeAxis(axis)
	if err != nil {
		panic(fmt.Sprintf("layernorm: %v", err))
	}
	shape := x.Shape().Without(ax)
	return cpu.alloc(shape, x.DType()), cpu.alloc(shape, x.DType())
}
