package nn

import (
	"context"
	"fmt"

	"github.com/born-ml/fusednorm/internal/layernorm"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// LayerNorm applies Layer Normalization over one axis of its input.
//
// Formula: Y = scale * (X - mean(X)) / sqrt(var(X) + eps) + shift
//
// Where:
//   - scale is the learnable scale parameter [channels], initialized to ones
//   - shift is the learnable shift parameter [channels], initialized to zeros
//   - mean and variance are computed along Axis
//
// Forward saves the input and the per-row statistics; Backward consumes them
// and adds the parameter gradients into Scale.Grad() and Shift.Grad().
// Setting Scale or Shift to nil removes that parameter.
//
// Example:
//
//	ln, err := nn.NewLayerNorm(backend.Norm(), 768, 1e-5, tensor.Float32)
//	out, err := ln.Forward(ctx, hidden)    // [..., 768] -> [..., 768]
//	dx, err := ln.Backward(ctx, outGrad)   // accumulates into ln.Scale.Grad()
type LayerNorm struct {
	Scale   *Parameter
	Shift   *Parameter
	Axis    int
	Epsilon float64

	norm *layernorm.Dispatcher

	// Saved by Forward for Backward.
	input, mean, std *tensor.RawTensor
}

// NewLayerNorm creates a LayerNorm over the last axis of inputs with the given
// channel count.
func NewLayerNorm(norm *layernorm.Dispatcher, channels int, epsilon float64, dtype tensor.DataType) (*LayerNorm, error) {
	if norm == nil {
		return nil, fmt.Errorf("nn: nil dispatcher")
	}
	scale, err := full(tensor.Shape{channels}, dtype, tensor.CPU, 1)
	if err != nil {
		return nil, fmt.Errorf("nn: scale: %w", err)
	}
	shift, err := full(tensor.Shape{channels}, dtype, tensor.CPU, 0)
	if err != nil {
		return nil, fmt.Errorf("nn: shift: %w", err)
	}
	return &LayerNorm{
		Scale:   NewParameter("scale", scale),
		Shift:   NewParameter("shift", shift),
		Axis:    -1,
		Epsilon: epsilon,
		norm:    norm,
	}, nil
}

func (l *LayerNorm) params() (scale, shift *tensor.RawTensor) {
	if l.Scale != nil {
		scale = l.Scale.Tensor()
	}
	if l.Shift != nil {
		shift = l.Shift.Tensor()
	}
	return scale, shift
}

// Forward normalizes x and waits for the result.
func (l *LayerNorm) Forward(ctx context.Context, x *tensor.RawTensor) (*tensor.RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("nn: nil input")
	}
	axis, err := x.Shape().NormalizeAxis(l.Axis)
	if err != nil {
		return nil, err
	}
	out, err := tensor.NewRaw(x.Shape(), x.DType(), x.Device())
	if err != nil {
		return nil, err
	}
	statShape := x.Shape().Without(axis)
	mean, err := tensor.NewRaw(statShape, x.DType(), x.Device())
	if err != nil {
		return nil, err
	}
	std, err := tensor.NewRaw(statShape, x.DType(), x.Device())
	if err != nil {
		return nil, err
	}

	scale, shift := l.params()
	err = l.norm.Forward(ctx, layernorm.ForwardArgs{
		Data:    x,
		Scale:   scale,
		Shift:   shift,
		Axis:    l.Axis,
		Epsilon: l.Epsilon,
		Out:     out,
		Mean:    mean,
		Std:     std,
		OutReq:  layernorm.Overwrite,
	})
	if err != nil {
		return nil, err
	}
	if err := l.norm.Stream().Synchronize(ctx); err != nil {
		return nil, err
	}

	l.input, l.mean, l.std = x, mean, std
	return out, nil
}

// Backward returns the gradient of the last Forward input and adds the
// parameter gradients into the parameters' gradient buffers.
func (l *LayerNorm) Backward(ctx context.Context, grad *tensor.RawTensor) (*tensor.RawTensor, error) {
	if l.input == nil {
		return nil, ErrNoForward
	}
	dx, err := tensor.NewRaw(l.input.Shape(), l.input.DType(), l.input.Device())
	if err != nil {
		return nil, err
	}

	args := layernorm.BackwardArgs{
		OutGrad:     grad,
		Data:        l.input,
		Mean:        l.mean,
		Std:         l.std,
		Axis:        l.Axis,
		DataGrad:    dx,
		DataGradReq: layernorm.Overwrite,
	}
	args.Scale, _ = l.params()
	if l.Scale != nil {
		if args.ScaleGrad, err = l.Scale.gradBuffer(); err != nil {
			return nil, err
		}
		args.ScaleGradReq = layernorm.AccumulateInto
	}
	if l.Shift != nil {
		if args.ShiftGrad, err = l.Shift.gradBuffer(); err != nil {
			return nil, err
		}
		args.ShiftGradReq = layernorm.AccumulateInto
	}

	if err := l.norm.Backward(ctx, args); err != nil {
		return nil, err
	}
	if err := l.norm.Stream().Synchronize(ctx); err != nil {
		return nil, err
	}
	return dx, nil
}

// Parameters returns the learnable parameters (scale and shift) that are set.
func (l *LayerNorm) Parameters() []*Parameter {
	var ps []*Parameter
	if l.Scale != nil {
		ps = append(ps, l.Scale)
	}
	if l.Shift != nil {
		ps = append(ps, l.Shift)
	}
	return ps
}
