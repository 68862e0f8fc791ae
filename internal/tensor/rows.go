package tensor

import (
	"errors"
	"fmt"
)

// ErrNotRowMajor is returned by AsRows when the view cannot be treated as a dense
// (batch, channels) matrix.
var ErrNotRowMajor = errors.New("tensor is not a row-major matrix over the given axis")

// Rows is the row-major matrix view used by the fused kernels: all axes before
// the normalization axis collapse into Batch, and the normalization axis is the
// trailing, unit-stride Channels dimension. Row b occupies Data[b*Channels:(b+1)*Channels].
type Rows[T Float] struct {
	Data     []T
	Batch    int
	Channels int
}

// Row returns the b-th row.
func (m Rows[T]) Row(b int) []T {
	return m.Data[b*m.Channels : (b+1)*m.Channels]
}

// AsRows reshapes r into a (batch, channels) matrix around axis.
// It fails with ErrNotRowMajor unless axis is the last axis and r is contiguous.
func AsRows[T Float](r *RawTensor, axis int) (Rows[T], error) {
	axis, err := r.Shape().NormalizeAxis(axis)
	if err != nil {
		return Rows[T]{}, err
	}
	if axis != len(r.Shape())-1 {
		return Rows[T]{}, fmt.Errorf("%w: axis %d of %v is not the last axis", ErrNotRowMajor, axis, r.Shape())
	}
	if !r.IsContiguous() {
		return Rows[T]{}, fmt.Errorf("%w: strides %v for shape %v", ErrNotRowMajor, r.Strides(), r.Shape())
	}
	batch, channels, _ := r.Shape().Split(axis)
	return Rows[T]{
		Data:     Elems[T](r)[:batch*channels],
		Batch:    batch,
		Channels: channels,
	}, nil
}

// Vector returns the contiguous elements of r as a flat slice of NumElements() values.
func Vector[T Float](r *RawTensor) ([]T, error) {
	if !r.IsContiguous() {
		return nil, fmt.Errorf("%w: strides %v for shape %v", ErrNotRowMajor, r.Strides(), r.Shape())
	}
	return Elems[T](r)[:r.NumElements()], nil
}
