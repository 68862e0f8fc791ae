package layernorm

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/fusednorm/internal/tensor"
)

func TestForwardTwoByThree(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	got := runForward[float64](t, d, []float64{0, 1, 2, 3, 4, 5}, 2, 3, nil, nil)

	assert.InDeltaSlice(t, []float64{1, 4}, got.mean, 1e-12)
	wantStd := math.Sqrt(2.0/3 + testEps)
	assert.InDeltaSlice(t, []float64{wantStd, wantStd}, got.std, 1e-12)
	assert.InDeltaSlice(t, []float64{-1.2247, 0, 1.2247, -1.2247, 0, 1.2247}, got.out, 1e-4)
}

func TestForwardMatchesTwoPass(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	for name, cfg := range testConfigs() {
		d := newTestDispatcher(t, cfg)
		for _, channels := range []int{1, 31, 32, 33, 128, 4097} {
			const batch = 3
			x := randSlice(rng, batch*channels, 10)

			got64 := runForward[float64](t, d, x, batch, channels, nil, nil)
			got32 := runForward[float32](t, d, x, batch, channels, nil, nil)

			for b := range batch {
				row := x[b*channels : (b+1)*channels]
				mean, variance := stat.PopMeanVariance(row, nil)
				std := math.Sqrt(variance + testEps)

				assert.InDelta(t, mean, got64.mean[b], 1e-10, "%s C=%d row %d", name, channels, b)
				assert.InDelta(t, std, got64.std[b], 1e-10, "%s C=%d row %d", name, channels, b)
				assert.InEpsilon(t, mean, got32.mean[b], 1e-5, "%s C=%d row %d", name, channels, b)
				assert.InEpsilon(t, std, got32.std[b], 1e-3, "%s C=%d row %d", name, channels, b)
			}
		}
	}
}

func TestForwardAffineVariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	const batch, channels = 4, 70
	x := randSlice(rng, batch*channels, 0)
	scale := randSlice(rng, channels, 1)
	shift := randSlice(rng, channels, 0)
	ones := make([]float64, channels)
	floats.AddConst(1, ones)
	zeros := make([]float64, channels)

	for name, cfg := range testConfigs() {
		d := newTestDispatcher(t, cfg)

		plain := runForward[float64](t, d, x, batch, channels, nil, nil)
		identity := runForward[float64](t, d, x, batch, channels, ones, zeros)
		assert.InDeltaSlice(t, identity.out, plain.out, 1e-12, name)

		both := runForward[float64](t, d, x, batch, channels, scale, shift)
		scaled := runForward[float64](t, d, x, batch, channels, scale, nil)
		shifted := runForward[float64](t, d, x, batch, channels, nil, shift)
		for b := range batch {
			for c := range channels {
				i := b*channels + c
				assert.InDelta(t, scale[c]*plain.out[i]+shift[c], both.out[i], 1e-12)
				assert.InDelta(t, scale[c]*plain.out[i], scaled.out[i], 1e-12)
				assert.InDelta(t, plain.out[i]+shift[c], shifted.out[i], 1e-12)
			}
		}
		assert.Equal(t, plain.mean, both.mean)
		assert.Equal(t, plain.std, both.std)
	}
}

func TestForwardConstantRow(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	got := runForward[float32](t, d, []float64{5, 5, 5, 5}, 1, 4, nil, nil)

	assert.Equal(t, []float64{0, 0, 0, 0}, got.out)
	assert.InDelta(t, math.Sqrt(testEps), got.std[0], 1e-7)
}

func TestForwardInPlace(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	const batch, channels = 5, 300
	x := randSlice(rng, batch*channels, 3)
	d := newTestDispatcher(t, DefaultConfig())
	want := runForward[float64](t, d, x, batch, channels, nil, nil)

	data := fromSlice[float64](t, x, batch, channels)
	args := ForwardArgs{
		Data:    data,
		Axis:    1,
		Epsilon: testEps,
		Out:     data,
		Mean:    newVector(t, tensor.Float64, batch),
		Std:     newVector(t, tensor.Float64, batch),
		OutReq:  OverwriteInPlace,
	}
	ctx := context.Background()
	require.NoError(t, d.Forward(ctx, args))
	require.NoError(t, d.Stream().Synchronize(ctx))

	assert.InDeltaSlice(t, want.out, values[float64](data), 1e-12)
	assert.InDeltaSlice(t, want.mean, values[float64](args.Mean), 1e-12)
}

func TestForwardMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	const batch, channels = 6, 257
	x := randSlice(rng, batch*channels, -2)
	scale := randSlice(rng, channels, 0.5)
	shift := randSlice(rng, channels, 0)
	d := newTestDispatcher(t, DefaultConfig())

	fused := runForward[float32](t, d, x, batch, channels, scale, shift)

	data := fromSlice[float32](t, x, batch, channels)
	args := ForwardArgs{
		Data:    data,
		Scale:   fromSlice[float32](t, scale, channels),
		Shift:   fromSlice[float32](t, shift, channels),
		Axis:    -1,
		Epsilon: testEps,
		Out:     zerosLike(t, data),
		Mean:    newVector(t, tensor.Float32, batch),
		Std:     newVector(t, tensor.Float32, batch),
		OutReq:  Overwrite,
	}
	require.NoError(t, sequentialReference().Forward(context.Background(), args))

	assert.InDeltaSlice(t, values[float32](args.Out), fused.out, 1e-4)
	assert.InDeltaSlice(t, values[float32](args.Mean), fused.mean, 1e-5)
	assert.InDeltaSlice(t, values[float32](args.Std), fused.std, 1e-5)
}
