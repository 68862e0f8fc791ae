package layernorm

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/fusednorm/internal/parallel"
	"github.com/born-ml/fusednorm/internal/simt"
	"github.com/born-ml/fusednorm/internal/tensor"
)

const testEps = 1e-5

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	stream := simt.NewStream(simt.StreamConfig{Workers: 4})
	t.Cleanup(func() { _ = stream.Close() })
	d, err := NewDispatcher(stream, cfg)
	require.NoError(t, err)
	return d
}

// testConfigs returns geometries that exercise single-warp, power-of-two and
// odd warp counts.
func testConfigs() map[string]Config {
	wide := DefaultConfig()
	wide.VectorWidth = 4

	narrow := DefaultConfig()
	narrow.VectorWidth = 1
	narrow.UnrollChannels = 1

	odd := DefaultConfig()
	odd.VectorWidth = 1
	odd.MaxWarpsPerGroup = 3
	odd.UnrollChannels = 3
	odd.ParamGradWarps = 2

	return map[string]Config{"vec4": wide, "vec1": narrow, "odd-warps": odd}
}

func randSlice(rng *rand.Rand, n int, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + rng.NormFloat64()
	}
	return out
}

func convert[T tensor.Float](xs []float64) []T {
	if xs == nil {
		return nil
	}
	out := make([]T, len(xs))
	for i, x := range xs {
		out[i] = T(x)
	}
	return out
}

func fromSlice[T tensor.Float](t *testing.T, data []float64, shape ...int) *tensor.RawTensor {
	t.Helper()
	if data == nil {
		return nil
	}
	r, err := tensor.FromSlice(convert[T](data), tensor.Shape(shape), tensor.CPU)
	require.NoError(t, err)
	return r
}

func zerosLike(t *testing.T, r *tensor.RawTensor) *tensor.RawTensor {
	t.Helper()
	z, err := tensor.NewRaw(r.Shape(), r.DType(), tensor.CPU)
	require.NoError(t, err)
	return z
}

func newVector(t *testing.T, dtype tensor.DataType, n int) *tensor.RawTensor {
	t.Helper()
	v, err := tensor.NewRaw(tensor.Shape{n}, dtype, tensor.CPU)
	require.NoError(t, err)
	return v
}

func values[T tensor.Float](r *tensor.RawTensor) []float64 {
	if r == nil {
		return nil
	}
	v, err := tensor.Vector[T](r)
	if err != nil {
		panic(err)
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

type forwardResult struct {
	out, mean, std []float64
}

// runForward normalizes a (batch, channels) matrix through d and waits for it.
func runForward[T tensor.Float](t *testing.T, d *Dispatcher, x []float64, batch, channels int, scale, shift []float64) forwardResult {
	t.Helper()
	data := fromSlice[T](t, x, batch, channels)
	dtype := data.DType()
	args := ForwardArgs{
		Data:    data,
		Scale:   fromSlice[T](t, scale, channels),
		Shift:   fromSlice[T](t, shift, channels),
		Axis:    -1,
		Epsilon: testEps,
		Out:     zerosLike(t, data),
		Mean:    newVector(t, dtype, batch),
		Std:     newVector(t, dtype, batch),
		OutReq:  Overwrite,
	}
	ctx := context.Background()
	require.NoError(t, d.Forward(ctx, args))
	require.NoError(t, d.Stream().Synchronize(ctx))
	return forwardResult{out: values[T](args.Out), mean: values[T](args.Mean), std: values[T](args.Std)}
}

type backwardResult struct {
	dx, dscale, dshift []float64
}

// runBackward computes all three gradients with Overwrite through d.
func runBackward[T tensor.Float](t *testing.T, d *Dispatcher, dy, x []float64, batch, channels int, scale []float64, fwd forwardResult) backwardResult {
	t.Helper()
	data := fromSlice[T](t, x, batch, channels)
	dtype := data.DType()
	args := BackwardArgs{
		OutGrad:      fromSlice[T](t, dy, batch, channels),
		Data:         data,
		Scale:        fromSlice[T](t, scale, channels),
		Mean:         fromSlice[T](t, fwd.mean, batch),
		Std:          fromSlice[T](t, fwd.std, batch),
		Axis:         -1,
		DataGrad:     zerosLike(t, data),
		ScaleGrad:    newVector(t, dtype, channels),
		ShiftGrad:    newVector(t, dtype, channels),
		DataGradReq:  Overwrite,
		ScaleGradReq: Overwrite,
		ShiftGradReq: Overwrite,
	}
	ctx := context.Background()
	require.NoError(t, d.Backward(ctx, args))
	require.NoError(t, d.Stream().Synchronize(ctx))
	return backwardResult{dx: values[T](args.DataGrad), dscale: values[T](args.ScaleGrad), dshift: values[T](args.ShiftGrad)}
}

func sequentialReference() Reference {
	return Reference{Parallel: parallel.Sequential()}
}
