// Package nn implements trainable layer normalization on top of the fused
// dispatcher.
//
// This package provides:
//   - Module interface: components that own trainable parameters
//   - Parameter: a tensor with a gradient buffer that accumulates across
//     backward calls until ZeroGrad
//   - LayerNorm: a stateful layer that saves its statistics in Forward and
//     consumes them in Backward
package nn

import (
	"errors"
	"fmt"

	"github.com/born-ml/fusednorm/internal/tensor"
)

// ErrNoForward is returned by Backward when no Forward call has saved
// statistics to differentiate.
var ErrNoForward = errors.New("nn: backward called before forward")

// Module is the base interface for all neural network components.
type Module interface {
	// Parameters returns all trainable parameters of the module.
	Parameters() []*Parameter
}

// ZeroGrad clears the gradients of every parameter of m.
func ZeroGrad(m Module) {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// fill sets every element of a contiguous tensor to v.
func fill(r *tensor.RawTensor, v float64) error {
	switch r.DType() {
	case tensor.Float32:
		vals, err := tensor.Vector[float32](r)
		if err != nil {
			return err
		}
		for i := range vals {
			vals[i] = float32(v)
		}
	case tensor.Float64:
		vals, err := tensor.Vector[float64](r)
		if err != nil {
			return err
		}
		for i := range vals {
			vals[i] = v
		}
	default:
		return fmt.Errorf("nn: unsupported dtype %s", r.DType())
	}
	return nil
}

func full(shape tensor.Shape, dtype tensor.DataType, device tensor.Device, v float64) (*tensor.RawTensor, error) {
	r, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	if v != 0 {
		if err := fill(r, v); err != nil {
			return nil, err
		}
	}
	return r, nil
}
