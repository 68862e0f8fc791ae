package optim_test

import (
	"context"
	"math"
	"testing"

	"github.com/born-ml/fusednorm/internal/backend/cpu"
	"github.com/born-ml/fusednorm/internal/nn"
	"github.com/born-ml/fusednorm/internal/optim"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// Helper to check float equality with tolerance.
func floatEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// singleChannel returns a one-channel LayerNorm whose shift gradient equals
// the upstream gradient after each backward call, while its normalized
// output (and therefore its scale gradient) is zero.
func singleChannel(t *testing.T) (*nn.LayerNorm, func(g float64)) {
	t.Helper()
	backend := cpu.New()
	t.Cleanup(func() { _ = backend.Close() })

	ln, err := nn.NewLayerNorm(backend.Norm(), 1, 1e-5, tensor.Float64)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := tensor.FromSlice([]float64{3}, tensor.Shape{1, 1}, tensor.CPU)
	ctx := context.Background()
	if _, err := ln.Forward(ctx, x); err != nil {
		t.Fatal(err)
	}

	return ln, func(g float64) {
		grad, _ := tensor.FromSlice([]float64{g}, tensor.Shape{1, 1}, tensor.CPU)
		if _, err := ln.Backward(ctx, grad); err != nil {
			t.Fatal(err)
		}
	}
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	ln, backward := singleChannel(t)
	optimizer := optim.NewSGD(ln.Parameters(), optim.SGDConfig{LR: 0.1})

	backward(1)
	if err := optimizer.Step(); err != nil {
		t.Fatal(err)
	}

	// Expected: shift = 0 - 0.1 * 1 = -0.1, scale untouched by a zero gradient.
	if got := ln.Shift.Tensor().AsFloat64()[0]; !floatEqual(got, -0.1, 1e-12) {
		t.Errorf("SGD update: shift = %f, want -0.1", got)
	}
	if got := ln.Scale.Tensor().AsFloat64()[0]; got != 1 {
		t.Errorf("SGD update: scale = %f, want 1", got)
	}
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	ln, backward := singleChannel(t)
	optimizer := optim.NewSGD(ln.Parameters(), optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	for range 2 {
		optimizer.ZeroGrad()
		backward(1)
		if err := optimizer.Step(); err != nil {
			t.Fatal(err)
		}
	}

	// v1 = 1, shift = -0.1; v2 = 0.9 + 1 = 1.9, shift = -0.1 - 0.19.
	if got := ln.Shift.Tensor().AsFloat64()[0]; !floatEqual(got, -0.29, 1e-12) {
		t.Errorf("momentum update: shift = %f, want -0.29", got)
	}
}

// TestSGD_AccumulatedGradient tests that Step uses the sum of every backward
// call since the last ZeroGrad.
func TestSGD_AccumulatedGradient(t *testing.T) {
	ln, backward := singleChannel(t)
	optimizer := optim.NewSGD(ln.Parameters(), optim.SGDConfig{LR: 0.5})

	backward(1)
	backward(3)
	if err := optimizer.Step(); err != nil {
		t.Fatal(err)
	}
	if got := ln.Shift.Tensor().AsFloat64()[0]; !floatEqual(got, -2, 1e-12) {
		t.Errorf("shift = %f, want -2", got)
	}
}

// TestSGD_Defaults tests default learning rate and SetLR.
func TestSGD_Defaults(t *testing.T) {
	optimizer := optim.NewSGD(nil, optim.SGDConfig{})
	if optimizer.GetLR() != 0.01 {
		t.Errorf("default LR = %f, want 0.01", optimizer.GetLR())
	}
	optimizer.SetLR(0.5)
	if optimizer.GetLR() != 0.5 {
		t.Errorf("SetLR: got %f, want 0.5", optimizer.GetLR())
	}
	if err := optimizer.Step(); err != nil {
		t.Errorf("Step without parameters: %v", err)
	}
}

// TestAdam_FirstStep tests that the bias-corrected first step moves by LR.
func TestAdam_FirstStep(t *testing.T) {
	ln, backward := singleChannel(t)
	optimizer := optim.NewAdam(ln.Parameters(), optim.AdamConfig{})

	backward(4)
	if err := optimizer.Step(); err != nil {
		t.Fatal(err)
	}

	if optimizer.GetTimestep() != 1 {
		t.Errorf("timestep = %d, want 1", optimizer.GetTimestep())
	}
	// m_hat = g, v_hat = g^2, so the step is lr * g / |g|.
	if got := ln.Shift.Tensor().AsFloat64()[0]; !floatEqual(got, -0.001, 1e-9) {
		t.Errorf("Adam update: shift = %g, want -0.001", got)
	}
	if got := ln.Scale.Tensor().AsFloat64()[0]; got != 1 {
		t.Errorf("Adam update: scale = %f, want 1", got)
	}
}

// TestOptimizer_SkipsMissingGradients tests parameters that never ran backward.
func TestOptimizer_SkipsMissingGradients(t *testing.T) {
	ln, _ := singleChannel(t)
	for _, optimizer := range []optim.Optimizer{
		optim.NewSGD(ln.Parameters(), optim.SGDConfig{LR: 1}),
		optim.NewAdam(ln.Parameters(), optim.AdamConfig{LR: 1}),
	} {
		if err := optimizer.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if ln.Shift.Tensor().AsFloat64()[0] != 0 || ln.Scale.Tensor().AsFloat64()[0] != 1 {
		t.Error("parameters changed without gradients")
	}
}

// TestSGD_FitsAffineParameters trains scale and shift to map normalized rows
// onto a target under squared error.
func TestSGD_FitsAffineParameters(t *testing.T) {
	backend := cpu.New()
	defer backend.Close()

	ln, err := nn.NewLayerNorm(backend.Norm(), 2, 1e-5, tensor.Float32)
	if err != nil {
		t.Fatal(err)
	}
	optimizer := optim.NewSGD(ln.Parameters(), optim.SGDConfig{LR: 0.1})

	x, _ := tensor.FromSlice([]float32{0, 1, 2, 3}, tensor.Shape{2, 2}, tensor.CPU)
	target := []float32{-2, 3, -2, 3}
	grad, _ := tensor.NewRaw(tensor.Shape{2, 2}, tensor.Float32, tensor.CPU)

	ctx := context.Background()
	loss := func() float64 {
		out, err := ln.Forward(ctx, x)
		if err != nil {
			t.Fatal(err)
		}
		var l float64
		for i, y := range out.AsFloat32() {
			d := y - target[i]
			grad.AsFloat32()[i] = d
			l += 0.5 * float64(d*d)
		}
		return l
	}

	initial := loss()
	var final float64
	for range 100 {
		optimizer.ZeroGrad()
		if _, err := ln.Backward(ctx, grad); err != nil {
			t.Fatal(err)
		}
		if err := optimizer.Step(); err != nil {
			t.Fatal(err)
		}
		final = loss()
	}

	if final >= initial || final > 1e-6 {
		t.Errorf("loss %g -> %g, want convergence below 1e-6", initial, final)
	}
}
