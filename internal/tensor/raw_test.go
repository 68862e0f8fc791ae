package tensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawTensorAsFloat64(t *testing.T) {
	raw, err := NewRaw(Shape{3, 2}, Float64, CPU)
	require.NoError(t, err)
	data := raw.AsFloat64()

	assert.Len(t, data, 6)

	// Modify and verify zero-copy
	data[0] = 42
	assert.Equal(t, 42.0, raw.AsFloat64()[0], "AsFloat64 should return zero-copy slice")
}

func TestRawTensorWrongDTypePanics(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Float32, CPU)
	require.NoError(t, err)
	assert.Panics(t, func() { raw.AsFloat64() })
}

func TestFromSliceLengthMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2}, CPU)
	assert.Error(t, err)
}

func TestIsContiguous(t *testing.T) {
	raw, err := FromSlice([]float32{0, 1, 2, 3, 4, 5}, Shape{2, 3}, CPU)
	require.NoError(t, err)
	assert.True(t, raw.IsContiguous())

	// Transposed view: shape [3, 2], strides [1, 3].
	tr, err := raw.View(Shape{3, 2}, []int{1, 3}, 0)
	require.NoError(t, err)
	assert.False(t, tr.IsContiguous())

	// Size-1 dimensions do not constrain their stride.
	row, err := raw.View(Shape{1, 3}, []int{100, 1}, 3)
	require.NoError(t, err)
	assert.True(t, row.IsContiguous())
	assert.Equal(t, []float32{3, 4, 5}, Elems[float32](row))
}

func TestViewOutOfBounds(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)

	_, err = raw.View(Shape{2, 3}, []int{3, 1}, 1)
	assert.Error(t, err)

	_, err = raw.View(Shape{2, 3}, []int{3}, 0)
	assert.Error(t, err)
}

func TestSharesBufferAndSameView(t *testing.T) {
	a, err := NewRaw(Shape{4}, Float32, CPU)
	require.NoError(t, err)
	b, err := NewRaw(Shape{4}, Float32, CPU)
	require.NoError(t, err)

	same, err := a.Reshape(Shape{4})
	require.NoError(t, err)
	half, err := a.View(Shape{2}, []int{1}, 2)
	require.NoError(t, err)

	assert.True(t, a.SharesBuffer(same))
	assert.True(t, a.SameView(same))
	assert.True(t, a.SharesBuffer(half))
	assert.False(t, a.SameView(half))
	assert.False(t, a.SharesBuffer(b))
	assert.False(t, a.SharesBuffer(nil))
}

func TestAsRows(t *testing.T) {
	raw, err := FromSlice([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, Shape{2, 2, 3}, CPU)
	require.NoError(t, err)

	rows, err := AsRows[float64](raw, -1)
	require.NoError(t, err)
	assert.Equal(t, 4, rows.Batch)
	assert.Equal(t, 3, rows.Channels)
	assert.Equal(t, []float64{6, 7, 8}, rows.Row(2))

	_, err = AsRows[float64](raw, 1)
	assert.True(t, errors.Is(err, ErrNotRowMajor))

	tr, err := raw.View(Shape{3, 4}, []int{1, 3}, 0)
	require.NoError(t, err)
	_, err = AsRows[float64](tr, -1)
	assert.True(t, errors.Is(err, ErrNotRowMajor))

	_, err = AsRows[float64](raw, 3)
	assert.Error(t, err)
}

func TestShapeSplit(t *testing.T) {
	outer, size, inner := Shape{2, 3, 4, 5}.Split(2)
	assert.Equal(t, 6, outer)
	assert.Equal(t, 4, size)
	assert.Equal(t, 5, inner)

	assert.Equal(t, Shape{2, 3, 5}, Shape{2, 3, 4, 5}.Without(2))

	axis, err := Shape{2, 3}.NormalizeAxis(-1)
	require.NoError(t, err)
	assert.Equal(t, 1, axis)
}

func TestElemOffset(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3, 4}, Float32, CPU)
	require.NoError(t, err)
	assert.Equal(t, 1*12+2*4+3, raw.ElemOffset([]int{1, 2, 3}))
	assert.Equal(t, 24, raw.Span())
}

type celsius float32

func TestFromSliceNamedFloat(t *testing.T) {
	assert.Equal(t, Float32, DataTypeOf[celsius]())

	raw, err := FromSlice([]celsius{1, 2, 3}, Shape{3}, CPU)
	require.NoError(t, err)
	assert.Equal(t, Float32, raw.DType())
	assert.Equal(t, []float32{1, 2, 3}, raw.AsFloat32())
	assert.Equal(t, []celsius{1, 2, 3}, Elems[celsius](raw))
}
