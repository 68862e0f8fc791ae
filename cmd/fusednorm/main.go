// Package main provides the fusednorm CLI: it checks the fused layer norm
// kernels against the reference implementation, benchmarks them, and fits
// a LayerNorm's affine parameters to a known target.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/fusednorm/internal/backend/cpu"
	"github.com/born-ml/fusednorm/internal/layernorm"
	"github.com/born-ml/fusednorm/internal/nn"
	"github.com/born-ml/fusednorm/internal/optim"
	"github.com/born-ml/fusednorm/internal/tensor"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "fusednorm: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "fusednorm - fused layer normalization engine")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "  check      Compare the fused kernels with the reference on random data")
	fmt.Fprintln(w, "  bench      Time forward and backward passes")
	fmt.Fprintln(w, "  fit        Train scale and shift to reproduce a random affine target")
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "fusednorm %s\n", version)
		return nil
	case "check":
		return runCheck(args[1:], stdout, stderr)
	case "bench":
		return runBench(args[1:], stdout, stderr)
	case "fit":
		return runFit(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// options are the flags shared by check and bench.
type options struct {
	batch    int
	channels int
	dtype    string
	eps      float64
	workers  int
	seed     uint64
	verbose  bool
}

func (o *options) register(fs *flag.FlagSet) {
	fs.IntVar(&o.batch, "batch", 64, "rows to normalize")
	fs.IntVar(&o.channels, "channels", 1024, "channels per row")
	fs.StringVar(&o.dtype, "dtype", "float32", "element type: float32 or float64")
	fs.Float64Var(&o.eps, "eps", 1e-5, "epsilon added to the variance")
	fs.IntVar(&o.workers, "workers", 0, "stream workers (0: GOMAXPROCS)")
	fs.Uint64Var(&o.seed, "seed", 1, "random seed")
	fs.BoolVar(&o.verbose, "v", false, "log dispatch decisions")
}

func (o *options) dataType() (tensor.DataType, error) {
	switch o.dtype {
	case "float32":
		return tensor.Float32, nil
	case "float64":
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", o.dtype)
	}
}

func (o *options) backend(stderr io.Writer) (*cpu.CPUBackend, error) {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	cfg := cpu.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	return cpu.NewWithConfig(cfg)
}

// closeInto closes c and reports its error through err unless err is
// already set.
func closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close backend: %w", cerr)
	}
}

// problem is one random layer norm instance.
type problem struct {
	x, scale, shift, grad *tensor.RawTensor
}

func newProblem(o *options, dtype tensor.DataType) (problem, error) {
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	fill := func(offset float64, shape ...int) (*tensor.RawTensor, error) {
		vals := make([]float64, tensor.Shape(shape).NumElements())
		for i := range vals {
			vals[i] = rng.NormFloat64() + offset
		}
		if dtype == tensor.Float32 {
			f32 := make([]float32, len(vals))
			for i, v := range vals {
				f32[i] = float32(v)
			}
			return tensor.FromSlice(f32, tensor.Shape(shape), tensor.CPU)
		}
		return tensor.FromSlice(vals, tensor.Shape(shape), tensor.CPU)
	}

	var p problem
	var err error
	if p.x, err = fill(3, o.batch, o.channels); err != nil {
		return p, err
	}
	if p.scale, err = fill(1, o.channels); err != nil {
		return p, err
	}
	if p.shift, err = fill(0, o.channels); err != nil {
		return p, err
	}
	p.grad, err = fill(0, o.batch, o.channels)
	return p, err
}

func asFloat64(r *tensor.RawTensor) []float64 {
	if r.DType() == tensor.Float64 {
		return r.AsFloat64()[:r.NumElements()]
	}
	vals := make([]float64, r.NumElements())
	for i, v := range r.AsFloat32()[:r.NumElements()] {
		vals[i] = float64(v)
	}
	return vals
}

func runCheck(args []string, stdout, stderr io.Writer) (err error) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	o.register(fs)
	tol := fs.Float64("tol", 0, "maximum absolute difference (0: 1e-4 for float32, 1e-9 for float64)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dtype, err := o.dataType()
	if err != nil {
		return err
	}
	if *tol == 0 {
		*tol = 1e-9
		if dtype == tensor.Float32 {
			*tol = 1e-4
		}
	}

	backend, err := o.backend(stderr)
	if err != nil {
		return err
	}
	defer closeInto(backend, &err)

	p, err := newProblem(&o, dtype)
	if err != nil {
		return err
	}

	out, mean, std := backend.LayerNorm(p.x, p.scale, p.shift, -1, o.eps)
	dx, dscale, dshift := backend.LayerNormBackward(p.grad, p.x, p.scale, mean, std, -1)

	ref := layernorm.Reference{}
	fwd := layernorm.ForwardArgs{
		Data: p.x, Scale: p.scale, Shift: p.shift, Axis: -1, Epsilon: o.eps,
		Out: mustAlloc(p.x.Shape(), dtype), Mean: mustAlloc(mean.Shape(), dtype), Std: mustAlloc(std.Shape(), dtype),
		OutReq: layernorm.Overwrite,
	}
	bwd := layernorm.BackwardArgs{
		OutGrad: p.grad, Data: p.x, Scale: p.scale, Mean: mean, Std: std, Axis: -1,
		DataGrad: mustAlloc(p.x.Shape(), dtype), ScaleGrad: mustAlloc(dscale.Shape(), dtype), ShiftGrad: mustAlloc(dshift.Shape(), dtype),
		DataGradReq: layernorm.Overwrite, ScaleGradReq: layernorm.Overwrite, ShiftGradReq: layernorm.Overwrite,
	}
	ctx := context.Background()
	if err := ref.Forward(ctx, fwd); err != nil {
		return err
	}
	if err := ref.Backward(ctx, bwd); err != nil {
		return err
	}

	var failed []string
	for _, c := range []struct {
		name      string
		got, want *tensor.RawTensor
	}{
		{"out", out, fwd.Out}, {"mean", mean, fwd.Mean}, {"std", std, fwd.Std},
		{"dataGrad", dx, bwd.DataGrad}, {"scaleGrad", dscale, bwd.ScaleGrad}, {"shiftGrad", dshift, bwd.ShiftGrad},
	} {
		diff := floats.Distance(asFloat64(c.got), asFloat64(c.want), math.Inf(1))
		status := "ok"
		if diff > *tol || math.IsNaN(diff) {
			status = "FAIL"
			failed = append(failed, c.name)
		}
		fmt.Fprintf(stdout, "%-10s max|diff| = %.3e  %s\n", c.name, diff, status)
	}
	if len(failed) > 0 {
		return fmt.Errorf("check failed for %v (tolerance %g)", failed, *tol)
	}
	return nil
}

func mustAlloc(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		panic(err)
	}
	return r
}

func runBench(args []string, stdout, stderr io.Writer) (err error) {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	o.register(fs)
	iters := fs.Int("n", 100, "iterations per pass")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *iters <= 0 {
		return errors.New("-n must be positive")
	}
	dtype, err := o.dataType()
	if err != nil {
		return err
	}

	backend, err := o.backend(stderr)
	if err != nil {
		return err
	}
	defer closeInto(backend, &err)

	p, err := newProblem(&o, dtype)
	if err != nil {
		return err
	}
	_, mean, std := backend.LayerNorm(p.x, p.scale, p.shift, -1, o.eps)

	elems := float64(o.batch * o.channels)
	report := func(name string, pass func()) {
		start := time.Now()
		for range *iters {
			pass()
		}
		per := time.Since(start) / time.Duration(*iters)
		fmt.Fprintf(stdout, "%-9s %dx%d %s: %v/op, %.1f Melem/s\n",
			name, o.batch, o.channels, o.dtype, per, elems/per.Seconds()/1e6)
	}
	report("forward", func() { backend.LayerNorm(p.x, p.scale, p.shift, -1, o.eps) })
	report("backward", func() { backend.LayerNormBackward(p.grad, p.x, p.scale, mean, std, -1) })
	return nil
}

func runFit(args []string, stdout, stderr io.Writer) (err error) {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	o.register(fs)
	steps := fs.Int("steps", 200, "optimizer steps")
	lr := fs.Float64("lr", 0.05, "learning rate")
	method := fs.String("optim", "adam", "optimizer: sgd or adam")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps <= 0 {
		return errors.New("-steps must be positive")
	}
	dtype, err := o.dataType()
	if err != nil {
		return err
	}

	backend, err := o.backend(stderr)
	if err != nil {
		return err
	}
	defer closeInto(backend, &err)

	// The target is the layer norm of x under a random scale and shift.
	p, err := newProblem(&o, dtype)
	if err != nil {
		return err
	}
	target, _, _ := backend.LayerNorm(p.x, p.scale, p.shift, -1, o.eps)
	want := asFloat64(target)

	ln, err := nn.NewLayerNorm(backend.Norm(), o.channels, o.eps, dtype)
	if err != nil {
		return err
	}
	var optimizer optim.Optimizer
	switch *method {
	case "sgd":
		optimizer = optim.NewSGD(ln.Parameters(), optim.SGDConfig{LR: *lr, Momentum: 0.9})
	case "adam":
		optimizer = optim.NewAdam(ln.Parameters(), optim.AdamConfig{LR: *lr})
	default:
		return fmt.Errorf("unknown optimizer %q", *method)
	}

	grad := mustAlloc(p.x.Shape(), dtype)
	ctx := context.Background()
	every := max(*steps/10, 1)
	for step := 0; step <= *steps; step++ {
		out, err := ln.Forward(ctx, p.x)
		if err != nil {
			return err
		}
		// Mean squared error over the batch; dL/dy = (y - target) / batch.
		got := asFloat64(out)
		floats.Sub(got, want)
		loss := floats.Dot(got, got) / float64(2*o.batch)
		if step%every == 0 || step == *steps {
			fmt.Fprintf(stdout, "step %4d  loss %.6e\n", step, loss)
		}
		if step == *steps {
			break
		}

		floats.Scale(1/float64(o.batch), got)
		setFloat64(grad, got)
		optimizer.ZeroGrad()
		if _, err := ln.Backward(ctx, grad); err != nil {
			return err
		}
		if err := optimizer.Step(); err != nil {
			return err
		}
	}
	return nil
}

func setFloat64(r *tensor.RawTensor, vals []float64) {
	if r.DType() == tensor.Float64 {
		copy(r.AsFloat64(), vals)
		return
	}
	dst := r.AsFloat32()
	for i, v := range vals {
		dst[i] = float32(v)
	}
}
