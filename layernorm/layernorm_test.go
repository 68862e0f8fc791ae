// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package layernorm_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/fusednorm/layernorm"
	"github.com/born-ml/fusednorm/tensor"
)

func TestPublicForwardBackward(t *testing.T) {
	stream := layernorm.NewStream(layernorm.StreamConfig{Workers: 2})
	defer stream.Close()
	d, err := layernorm.NewDispatcher(stream, layernorm.DefaultConfig())
	require.NoError(t, err)

	x, err := tensor.FromSlice([]float64{0, 1, 2, 3, 4, 5}, tensor.Shape{2, 3}, tensor.CPU)
	require.NoError(t, err)
	out, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float64, tensor.CPU)
	mean, _ := tensor.NewRaw(tensor.Shape{2}, tensor.Float64, tensor.CPU)
	std, _ := tensor.NewRaw(tensor.Shape{2}, tensor.Float64, tensor.CPU)

	ctx := context.Background()
	require.NoError(t, d.Forward(ctx, layernorm.ForwardArgs{
		Data: x, Axis: -1, Epsilon: 1e-5,
		Out: out, Mean: mean, Std: std, OutReq: layernorm.Overwrite,
	}))
	require.NoError(t, stream.Synchronize(ctx))
	assert.InDeltaSlice(t, []float64{1, 4}, mean.AsFloat64(), 1e-12)
	assert.InDeltaSlice(t, []float64{-1.2247, 0, 1.2247, -1.2247, 0, 1.2247}, out.AsFloat64(), 1e-4)

	shiftGrad, _ := tensor.NewRaw(tensor.Shape{3}, tensor.Float64, tensor.CPU)
	require.NoError(t, d.Backward(ctx, layernorm.BackwardArgs{
		OutGrad: out, Data: x, Mean: mean, Std: std, Axis: -1,
		ShiftGrad: shiftGrad, ShiftGradReq: layernorm.AccumulateInto,
	}))
	require.NoError(t, stream.Synchronize(ctx))
	assert.InDeltaSlice(t, []float64{-2.4494, 0, 2.4494}, shiftGrad.AsFloat64(), 1e-3)
}

func TestPublicErrors(t *testing.T) {
	stream := layernorm.NewStream(layernorm.StreamConfig{Workers: 1})
	defer stream.Close()
	d, err := layernorm.NewDispatcher(stream, layernorm.DefaultConfig())
	require.NoError(t, err)

	x, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	mean, _ := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	std, _ := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	dx, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)

	err = d.Backward(context.Background(), layernorm.BackwardArgs{
		OutGrad: x, Data: x, Mean: mean, Std: std, Axis: -1,
		DataGrad: dx, DataGradReq: layernorm.OverwriteInPlace,
	})
	require.ErrorIs(t, err, layernorm.ErrInPlaceGradient)
	var cfgErr *layernorm.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "dataGrad", cfgErr.Arg)
}

func Example() {
	stream := layernorm.NewStream(layernorm.StreamConfig{})
	defer stream.Close()
	d, err := layernorm.NewDispatcher(stream, layernorm.DefaultConfig())
	if err != nil {
		panic(err)
	}

	x, _ := tensor.FromSlice([]float32{0, 1, 2, 3, 4, 5}, tensor.Shape{2, 3}, tensor.CPU)
	out, _ := tensor.NewRaw(x.Shape(), x.DType(), tensor.CPU)
	mean, _ := tensor.NewRaw(tensor.Shape{2}, x.DType(), tensor.CPU)
	std, _ := tensor.NewRaw(tensor.Shape{2}, x.DType(), tensor.CPU)

	ctx := context.Background()
	err = d.Forward(ctx, layernorm.ForwardArgs{
		Data: x, Axis: -1, Epsilon: 1e-5,
		Out: out, Mean: mean, Std: std, OutReq: layernorm.Overwrite,
	})
	if err == nil {
		err = stream.Synchronize(ctx)
	}
	if err != nil {
		panic(err)
	}
	fmt.Printf("mean %v\n", mean.AsFloat32())
	fmt.Printf("out %.3f\n", out.AsFloat32())
	// Output:
	// mean [1 4]
	// out [-1.225 0.000 1.225 -1.225 0.000 1.225]
}
