package nn

import (
	"fmt"

	"github.com/born-ml/fusednorm/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// The gradient buffer is allocated on the first backward pass and then
// accumulated into by every later one, so several micro-batches can be
// summed before an optimizer step.
//
// Example:
//
//	scale := nn.NewParameter("scale", ones)
//	...
//	layer.Backward(ctx, grad) // adds into scale.Grad()
//	scale.ZeroGrad()
type Parameter struct {
	name   string            // Parameter name (e.g., "scale", "shift")
	tensor *tensor.RawTensor // The parameter tensor
	grad   *tensor.RawTensor // Gradient, nil until the first backward pass
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been computed yet (before backward pass).
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// ZeroGrad resets the accumulated gradient to zero, keeping its buffer.
// Panics if the gradient's dtype is not a float type.
func (p *Parameter) ZeroGrad() {
	if p.grad == nil {
		return
	}
	if err := fill(p.grad, 0); err != nil {
		panic(fmt.Sprintf("nn: ZeroGrad %s: %v", p.name, err))
	}
}

// gradBuffer returns the gradient buffer, allocating a zeroed one if needed.
func (p *Parameter) gradBuffer() (*tensor.RawTensor, error) {
	if p.grad == nil {
		g, err := tensor.NewRaw(p.tensor.Shape(), p.tensor.DType(), p.tensor.Device())
		if err != nil {
			return nil, err
		}
		p.grad = g
	}
	return p.grad, nil
}
