// Package optim implements optimization algorithms for the trainable
// parameters of layer normalization modules.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read the gradients that Backward accumulated into each
// Parameter, so the training loop is:
//
//	optimizer := optim.NewAdam(ln.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	for step := range steps {
//	    out, err := ln.Forward(ctx, x)
//	    ...
//	    _, err = ln.Backward(ctx, outGrad)
//	    ...
//	    if err := optimizer.Step(); err != nil {
//	        return err
//	    }
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"fmt"

	"github.com/born-ml/fusednorm/internal/nn"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// All optimizers must implement:
//   - Step: Apply gradient updates to parameters
//   - ZeroGrad: Clear gradients before next iteration
//   - GetLR: Get current learning rate (for monitoring/scheduling)
type Optimizer interface {
	// Step applies the accumulated gradients to all parameters in place.
	// Parameters without a gradient are skipped.
	Step() error

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float64
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float64 // Learning rate
}

// update applies fn to every element of param using its gradient, writing
// the result back in the parameter's own dtype. fn receives the element
// index, the current value and the gradient.
func update(param *nn.Parameter, fn func(i int, value, grad float64) float64) error {
	grad := param.Grad()
	if grad == nil {
		return nil
	}
	switch param.Tensor().DType() {
	case tensor.Float32:
		return apply[float32](param.Tensor(), grad, fn)
	case tensor.Float64:
		return apply[float64](param.Tensor(), grad, fn)
	default:
		return fmt.Errorf("optim: %s: unsupported dtype %s", param.Name(), param.Tensor().DType())
	}
}

func apply[T tensor.Float](value, grad *tensor.RawTensor, fn func(i int, value, grad float64) float64) error {
	vals, err := tensor.Vector[T](value)
	if err != nil {
		return err
	}
	grads, err := tensor.Vector[T](grad)
	if err != nil {
		return err
	}
	for i := range vals {
		vals[i] = T(fn(i, float64(vals[i]), float64(grads[i])))
	}
	return nil
}

func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
