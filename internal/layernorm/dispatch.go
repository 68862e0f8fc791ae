package layernorm

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/born-ml/fusednorm/internal/simt"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// ForwardArgs are the buffers of one forward call.
//
// Data is normalized over Axis. Scale and Shift are optional (nil) vectors of
// Data's axis length. Out has Data's shape; Mean and Std hold one value per
// normalized line, in row-major order of Data's shape without Axis.
type ForwardArgs struct {
	Data    *tensor.RawTensor
	Scale   *tensor.RawTensor
	Shift   *tensor.RawTensor
	Axis    int
	Epsilon float64

	Out  *tensor.RawTensor
	Mean *tensor.RawTensor
	Std  *tensor.RawTensor

	// OutReq is Overwrite, or OverwriteInPlace when Out is Data itself.
	OutReq Req
}

// BackwardArgs are the buffers of one backward call. Mean and Std are the
// statistics saved by the paired forward call. A nil gradient output is
// treated as Skip.
type BackwardArgs struct {
	OutGrad *tensor.RawTensor
	Data    *tensor.RawTensor
	Scale   *tensor.RawTensor
	Mean    *tensor.RawTensor
	Std     *tensor.RawTensor
	Axis    int

	DataGrad  *tensor.RawTensor
	ScaleGrad *tensor.RawTensor
	ShiftGrad *tensor.RawTensor

	DataGradReq  Req
	ScaleGradReq Req
	ShiftGradReq Req
}

// Fallback handles calls whose layout the fused kernels cannot process.
// Arguments reach it already validated, and the dispatcher's stream has been
// synchronized, so it may run synchronously on the caller's goroutine.
type Fallback interface {
	Forward(ctx context.Context, args ForwardArgs) error
	Backward(ctx context.Context, args BackwardArgs) error
}

// Dispatcher validates layer-norm calls and queues the fused kernels on a stream.
type Dispatcher struct {
	stream   *simt.Stream
	cfg      Config
	fallback Fallback
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher launching on stream.
func NewDispatcher(stream *simt.Stream, cfg Config) (*Dispatcher, error) {
	if stream == nil {
		return nil, errors.New("layernorm: nil stream")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = Reference{Parallel: cfg.Parallel}
	}
	return &Dispatcher{
		stream:   stream,
		cfg:      cfg,
		fallback: fallback,
		logger:   cfg.logger(),
	}, nil
}

// Stream returns the stream the dispatcher launches on.
func (d *Dispatcher) Stream() *simt.Stream {
	return d.stream
}

// Forward validates args and queues the forward kernel. It returns once the
// work is queued; call Stream().Synchronize before reading the outputs.
// Calls the fused kernel cannot handle are passed to the Fallback, which
// completes before Forward returns.
func (d *Dispatcher) Forward(ctx context.Context, args ForwardArgs) error {
	axis, err := validateForward(args)
	if err != nil {
		return err
	}

	if !fusable(args.Data, axis) {
		return d.runFallback(ctx, "forward", args.Data, axis, func() error {
			return d.fallback.Forward(ctx, args)
		})
	}

	for _, b := range []struct {
		name string
		t    *tensor.RawTensor
	}{{"out", args.Out}, {"mean", args.Mean}, {"std", args.Std}, {"scale", args.Scale}, {"shift", args.Shift}} {
		if b.t != nil && !b.t.IsContiguous() {
			return configErr("forward", b.name, ErrNotContiguous, "strides %v for shape %v", b.t.Strides(), b.t.Shape())
		}
	}

	if args.Data.DType() == tensor.Float32 {
		return launchForward[float32](d, args, axis)
	}
	return launchForward[float64](d, args, axis)
}

// Backward validates args and queues the gradient kernels for every output
// that is not skipped. Like Forward, it does not wait for the kernels.
func (d *Dispatcher) Backward(ctx context.Context, args BackwardArgs) error {
	args, axis, err := validateBackward(args)
	if err != nil {
		return err
	}
	if args.DataGradReq == Skip && args.ScaleGradReq == Skip && args.ShiftGradReq == Skip {
		d.logger.Debug("layernorm backward: every output skipped")
		return nil
	}

	if !fusable(args.Data, axis) {
		return d.runFallback(ctx, "backward", args.Data, axis, func() error {
			return d.fallback.Backward(ctx, args)
		})
	}

	for _, b := range []struct {
		name string
		t    *tensor.RawTensor
	}{
		{"outGrad", args.OutGrad}, {"scale", args.Scale}, {"mean", args.Mean}, {"std", args.Std},
		{"dataGrad", args.DataGrad}, {"scaleGrad", args.ScaleGrad}, {"shiftGrad", args.ShiftGrad},
	} {
		if b.t != nil && !b.t.IsContiguous() {
			return configErr("backward", b.name, ErrNotContiguous, "strides %v for shape %v", b.t.Strides(), b.t.Shape())
		}
	}

	if args.Data.DType() == tensor.Float32 {
		return launchBackward[float32](d, args, axis)
	}
	return launchBackward[float64](d, args, axis)
}

// fusable reports whether data can be processed as a row-major matrix:
// the normalization axis is the last one and the view is contiguous.
func fusable(data *tensor.RawTensor, axis int) bool {
	return axis == len(data.Shape())-1 && data.IsContiguous()
}

func (d *Dispatcher) runFallback(ctx context.Context, op string, data *tensor.RawTensor, axis int, run func() error) error {
	d.logger.Debug("layernorm "+op+": generic path",
		"shape", data.Shape(), "strides", data.Strides(), "axis", axis)
	// The fallback reads buffers that queued kernels may still be writing.
	if err := d.stream.Synchronize(ctx); err != nil {
		return err
	}
	return run()
}

// rowWarps returns the warps per group for a row kernel: enough lanes to give
// each one vec channels, rounded up to a power of two and capped.
func rowWarps(channels, vec, maxWarps int) int {
	chunks := (channels + vec - 1) / vec
	need := (chunks + simt.WarpSize - 1) / simt.WarpSize
	warps := 1
	for warps < need && warps < maxWarps {
		warps <<= 1
	}
	return min(warps, maxWarps)
}

func launchForward[T tensor.Float](d *Dispatcher, args ForwardArgs, axis int) error {
	x, err := tensor.AsRows[T](args.Data, axis)
	if err != nil {
		return err
	}
	out, err := tensor.AsRows[T](args.Out, axis)
	if err != nil {
		return err
	}
	mean, err := tensor.Vector[T](args.Mean)
	if err != nil {
		return err
	}
	std, err := tensor.Vector[T](args.Std)
	if err != nil {
		return err
	}
	scale, err := optionalVector[T](args.Scale)
	if err != nil {
		return err
	}
	shift, err := optionalVector[T](args.Shift)
	if err != nil {
		return err
	}

	k := &forwardKernel[T]{
		x:      x,
		out:    out,
		scale:  scale,
		shift:  shift,
		mean:   mean,
		std:    std,
		eps:    T(args.Epsilon),
		vec:    d.cfg.VectorWidth,
		affine: selectAffine[T](scale != nil, shift != nil),
	}
	cfg := simt.LaunchConfig{
		Name:          "layernorm_forward",
		Groups:        x.Batch,
		WarpsPerGroup: rowWarps(x.Channels, d.cfg.VectorWidth, d.cfg.MaxWarpsPerGroup),
	}
	d.logger.Debug("layernorm forward: fused path",
		"batch", x.Batch, "channels", x.Channels, "warps", cfg.WarpsPerGroup,
		"scale", scale != nil, "shift", shift != nil, "req", args.OutReq)
	return d.stream.Launch(cfg, k.run)
}

func launchBackward[T tensor.Float](d *Dispatcher, args BackwardArgs, axis int) error {
	dy, err := tensor.AsRows[T](args.OutGrad, axis)
	if err != nil {
		return err
	}
	x, err := tensor.AsRows[T](args.Data, axis)
	if err != nil {
		return err
	}
	mean, err := tensor.Vector[T](args.Mean)
	if err != nil {
		return err
	}
	std, err := tensor.Vector[T](args.Std)
	if err != nil {
		return err
	}
	scale, err := optionalVector[T](args.Scale)
	if err != nil {
		return err
	}

	if args.ScaleGradReq != Skip || args.ShiftGradReq != Skip {
		if err := launchParamGrad(d, args, dy, x, mean, std); err != nil {
			return err
		}
	}

	if args.DataGradReq == Skip {
		return nil
	}
	dx, err := tensor.AsRows[T](args.DataGrad, axis)
	if err != nil {
		return err
	}
	sums, apply := selectDataGrad[T](scale != nil, args.DataGradReq)
	k := &dataGradKernel[T]{
		dy:    dy,
		x:     x,
		dx:    dx,
		scale: scale,
		mean:  mean,
		std:   std,
		vec:   d.cfg.VectorWidth,
		sums:  sums,
		apply: apply,
	}
	cfg := simt.LaunchConfig{
		Name:          "layernorm_backward_data",
		Groups:        x.Batch,
		WarpsPerGroup: rowWarps(x.Channels, d.cfg.VectorWidth, d.cfg.MaxWarpsPerGroup),
	}
	d.logger.Debug("layernorm backward: data gradient",
		"batch", x.Batch, "channels", x.Channels, "warps", cfg.WarpsPerGroup, "req", args.DataGradReq)
	return d.stream.Launch(cfg, k.run)
}

func launchParamGrad[T tensor.Float](d *Dispatcher, args BackwardArgs, dy, x tensor.Rows[T], mean, std []T) error {
	var dscale, dshift []T
	var err error
	if args.ScaleGradReq != Skip {
		if dscale, err = tensor.Vector[T](args.ScaleGrad); err != nil {
			return err
		}
	}
	if args.ShiftGradReq != Skip {
		if dshift, err = tensor.Vector[T](args.ShiftGrad); err != nil {
			return err
		}
	}

	lanes := d.cfg.ParamGradWarps * simt.WarpSize
	chunks := (x.Channels + d.cfg.UnrollChannels - 1) / d.cfg.UnrollChannels
	groups := (chunks + lanes - 1) / lanes

	k := &paramGradKernel[T]{
		dy:         dy,
		x:          x,
		mean:       mean,
		std:        std,
		dscale:     dscale,
		dshift:     dshift,
		unroll:     d.cfg.UnrollChannels,
		totalLanes: groups * lanes,
		accumulate: selectParamAccum[T](dscale != nil, dshift != nil),
		storeScale: writerFor[T](args.ScaleGradReq),
		storeShift: writerFor[T](args.ShiftGradReq),
	}
	cfg := simt.LaunchConfig{
		Name:          "layernorm_backward_params",
		Groups:        groups,
		WarpsPerGroup: d.cfg.ParamGradWarps,
	}
	d.logger.Debug("layernorm backward: parameter gradients",
		"channels", x.Channels, "groups", groups,
		"scale_req", args.ScaleGradReq, "shift_req", args.ShiftGradReq)
	return d.stream.Launch(cfg, k.run)
}

func optionalVector[T tensor.Float](r *tensor.RawTensor) ([]T, error) {
	if r == nil {
		return nil, nil
	}
	return tensor.Vector[T](r)
}

// geometry holds the normalization geometry of a validated call.
type geometry struct {
	axis     int
	channels int // length of the normalization axis
	lines    int // number of normalized lines
}

func checkData(op string, data *tensor.RawTensor, axis int) (geometry, error) {
	if data == nil {
		return geometry{}, configErr(op, "data", ErrNilTensor, "")
	}
	if !data.DType().IsFloat() {
		return geometry{}, configErr(op, "data", ErrDTypeMismatch, "%s is not a floating-point type", data.DType())
	}
	a, err := data.Shape().NormalizeAxis(axis)
	if err != nil {
		return geometry{}, configErr(op, "axis", ErrInvalidAxis, "%v", err)
	}
	_, channels, _ := data.Shape().Split(a)
	return geometry{
		axis:     a,
		channels: channels,
		lines:    data.NumElements() / channels,
	}, nil
}

func requireAll(op string, names []string, ts ...*tensor.RawTensor) error {
	for i, t := range ts {
		if t == nil {
			return configErr(op, names[i], ErrNilTensor, "")
		}
	}
	return nil
}

// checkTensor verifies that t (when present) matches data's dtype and has the
// given shape, or, when shape is nil, n elements.
func checkTensor(op, name string, t, data *tensor.RawTensor, shape tensor.Shape, n int) error {
	if t == nil {
		return nil
	}
	if t.DType() != data.DType() {
		return configErr(op, name, ErrDTypeMismatch, "%s, data is %s", t.DType(), data.DType())
	}
	if shape != nil {
		if !t.Shape().Equal(shape) {
			return configErr(op, name, ErrShapeMismatch, "shape %v, want %v", t.Shape(), shape)
		}
		return nil
	}
	if t.NumElements() != n {
		return configErr(op, name, ErrShapeMismatch, "%d elements, want %d", t.NumElements(), n)
	}
	return nil
}

// ValidateForward checks args the way Dispatcher.Forward does and returns the
// normalized axis. Other executors use it to reject exactly the same calls.
func ValidateForward(args ForwardArgs) (axis int, err error) {
	return validateForward(args)
}

// ValidateBackward checks args the way Dispatcher.Backward does. It returns
// args with every nil gradient output's request set to Skip, and the
// normalized axis.
func ValidateBackward(args BackwardArgs) (BackwardArgs, int, error) {
	return validateBackward(args)
}

func validateForward(args ForwardArgs) (int, error) {
	const op = "forward"
	g, err := checkData(op, args.Data, args.Axis)
	if err != nil {
		return 0, err
	}
	if !(args.Epsilon > 0) || math.IsInf(args.Epsilon, 1) {
		return 0, configErr(op, "epsilon", ErrInvalidEpsilon, "got %g", args.Epsilon)
	}
	if err := requireAll(op, []string{"out", "mean", "std"}, args.Out, args.Mean, args.Std); err != nil {
		return 0, err
	}

	checks := []struct {
		name  string
		t     *tensor.RawTensor
		shape tensor.Shape
		n     int
	}{
		{"scale", args.Scale, nil, g.channels},
		{"shift", args.Shift, nil, g.channels},
		{"out", args.Out, args.Data.Shape(), 0},
		{"mean", args.Mean, nil, g.lines},
		{"std", args.Std, nil, g.lines},
	}
	for _, c := range checks {
		if err := checkTensor(op, c.name, c.t, args.Data, c.shape, c.n); err != nil {
			return 0, err
		}
	}

	switch args.OutReq {
	case Overwrite:
		if args.Out.SharesBuffer(args.Data) {
			return 0, configErr(op, "out", ErrAliasedOutput, "out shares data's buffer; use %s for the same view", OverwriteInPlace)
		}
	case OverwriteInPlace:
		if !args.Out.SameView(args.Data) {
			return 0, configErr(op, "out", ErrUnsupportedReq, "%s requires out to be the data view", OverwriteInPlace)
		}
	default:
		return 0, configErr(op, "out", ErrUnsupportedReq, "%s", args.OutReq)
	}

	inputs := []*tensor.RawTensor{args.Data, args.Scale, args.Shift}
	outputs := []struct {
		name string
		t    *tensor.RawTensor
	}{{"out", args.Out}, {"mean", args.Mean}, {"std", args.Std}}
	for i, o := range outputs {
		for _, in := range inputs[1:] {
			if o.t.SharesBuffer(in) {
				return 0, configErr(op, o.name, ErrAliasedOutput, "shares a buffer with an affine parameter")
			}
		}
		if i > 0 && o.t.SharesBuffer(args.Data) {
			return 0, configErr(op, o.name, ErrAliasedOutput, "shares data's buffer")
		}
		for _, other := range outputs[i+1:] {
			if o.t.SharesBuffer(other.t) {
				return 0, configErr(op, o.name, ErrAliasedOutput, "shares a buffer with %s", other.name)
			}
		}
	}
	return g.axis, nil
}

// validateBackward checks args and returns them with the request of every nil
// gradient output set to Skip.
func validateBackward(args BackwardArgs) (BackwardArgs, int, error) {
	const op = "backward"
	g, err := checkData(op, args.Data, args.Axis)
	if err != nil {
		return args, 0, err
	}
	if err := requireAll(op, []string{"outGrad", "mean", "std"}, args.OutGrad, args.Mean, args.Std); err != nil {
		return args, 0, err
	}

	grads := []struct {
		name string
		t    *tensor.RawTensor
		req  *Req
	}{
		{"dataGrad", args.DataGrad, &args.DataGradReq},
		{"scaleGrad", args.ScaleGrad, &args.ScaleGradReq},
		{"shiftGrad", args.ShiftGrad, &args.ShiftGradReq},
	}
	for _, gr := range grads {
		if gr.t == nil {
			*gr.req = Skip
			continue
		}
		switch *gr.req {
		case Skip, Overwrite, AccumulateInto:
		case OverwriteInPlace:
			return args, 0, configErr(op, gr.name, ErrInPlaceGradient, "")
		default:
			return args, 0, configErr(op, gr.name, ErrUnsupportedReq, "%s", *gr.req)
		}
	}

	checks := []struct {
		name  string
		t     *tensor.RawTensor
		shape tensor.Shape
		n     int
	}{
		{"outGrad", args.OutGrad, args.Data.Shape(), 0},
		{"scale", args.Scale, nil, g.channels},
		{"mean", args.Mean, nil, g.lines},
		{"std", args.Std, nil, g.lines},
		{"dataGrad", args.DataGrad, args.Data.Shape(), 0},
		{"scaleGrad", args.ScaleGrad, nil, g.channels},
		{"shiftGrad", args.ShiftGrad, nil, g.channels},
	}
	for _, c := range checks {
		if err := checkTensor(op, c.name, c.t, args.Data, c.shape, c.n); err != nil {
			return args, 0, err
		}
	}

	inputs := []*tensor.RawTensor{args.OutGrad, args.Data, args.Scale, args.Mean, args.Std}
	for i, gr := range grads {
		if *gr.req == Skip {
			continue
		}
		for _, in := range inputs {
			if !gr.t.SharesBuffer(in) {
				continue
			}
			if *gr.req == AccumulateInto {
				return args, 0, configErr(op, gr.name, ErrAliasedAccumulate, "")
			}
			return args, 0, configErr(op, gr.name, ErrInPlaceGradient, "shares a buffer with an input")
		}
		for _, other := range grads[i+1:] {
			if *other.req != Skip && gr.t.SharesBuffer(other.t) {
				return args, 0, configErr(op, gr.name, ErrAliasedOutput, "shares a buffer with %s", other.name)
			}
		}
	}
	return args, g.axis, nil
}
