package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// tensorBuffer is the backing storage shared by a tensor and all of its views.
type tensorBuffer struct {
	data []byte
}

// RawTensor is the low-level tensor descriptor: a strided view into a shared buffer.
//
// Strides and offset are expressed in elements, not bytes. Kernels only accept
// views that are contiguous along the normalization axis; everything else is
// routed to the generic path by the dispatcher.
type RawTensor struct {
	buffer *tensorBuffer // Shared backing storage
	shape  Shape         // Tensor dimensions
	stride []int         // Element strides
	dtype  DataType      // Runtime type information
	device Device        // Compute device
	offset int           // Element offset of the first element
}

// NewRaw creates a new contiguous RawTensor with the given shape and type.
// Memory is zero-initialized.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		buffer: &tensorBuffer{data: make([]byte, shape.NumElements()*dtype.Size())},
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromSlice creates a contiguous tensor holding a copy of data.
func FromSlice[T Float](data []T, shape Shape, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	r, err := NewRaw(shape, DataTypeOf[T](), device)
	if err != nil {
		return nil, err
	}
	copy(Elems[T](r), data)
	return r, nil
}

// View returns a tensor sharing r's buffer with a different shape, strides and offset.
// The offset is relative to r's own offset.
func (r *RawTensor) View(shape Shape, strides []int, offset int) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(strides) != len(shape) {
		return nil, fmt.Errorf("strides %v do not match shape %v", strides, shape)
	}
	v := &RawTensor{
		buffer: r.buffer,
		shape:  shape.Clone(),
		stride: append([]int(nil), strides...),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset + offset,
	}
	if offset < 0 || (v.offset+v.Span())*v.dtype.Size() > len(v.buffer.data) {
		return nil, fmt.Errorf("view %v/%v at offset %d exceeds buffer", shape, strides, offset)
	}
	for _, s := range strides {
		if s < 0 {
			return nil, fmt.Errorf("negative strides are not supported: %v", strides)
		}
	}
	return v, nil
}

// Reshape returns a contiguous view with a new shape. r must be contiguous.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if !r.IsContiguous() {
		return nil, fmt.Errorf("reshape of non-contiguous tensor %v/%v", r.shape, r.stride)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("reshape: incompatible shapes: %v -> %v", r.shape, shape)
	}
	return r.View(shape, shape.ComputeStrides(), 0)
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's element strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the memory size in bytes of a dense tensor with this shape.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Span returns the number of elements between the first and the last addressable
// element of the view, inclusive.
func (r *RawTensor) Span() int {
	span := 1
	for i, dim := range r.shape {
		span += (dim - 1) * r.stride[i]
	}
	return span
}

// IsContiguous reports whether the view is dense and row-major.
// Dimensions of size 1 place no constraint on their stride.
func (r *RawTensor) IsContiguous() bool {
	expected := 1
	for i := len(r.shape) - 1; i >= 0; i-- {
		if r.shape[i] == 1 {
			continue
		}
		if r.stride[i] != expected {
			return false
		}
		expected *= r.shape[i]
	}
	return true
}

// SharesBuffer reports whether r and other are views of the same storage.
func (r *RawTensor) SharesBuffer(other *RawTensor) bool {
	return r != nil && other != nil && r.buffer == other.buffer
}

// SameView reports whether r and other address exactly the same elements.
func (r *RawTensor) SameView(other *RawTensor) bool {
	if !r.SharesBuffer(other) || r.offset != other.offset || !r.shape.Equal(other.shape) {
		return false
	}
	for i := range r.stride {
		if r.stride[i] != other.stride[i] {
			return false
		}
	}
	return true
}

// ElemOffset returns the element offset of coords relative to the start of the view.
func (r *RawTensor) ElemOffset(coords []int) int {
	off := 0
	for i, c := range coords {
		off += c * r.stride[i]
	}
	return off
}

// Data returns the raw byte slice starting at the view's first element.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.buffer.data[r.offset*r.dtype.Size():]
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	return Elems[float32](r)
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	return Elems[float64](r)
}

// Elems interprets the view's storage as []T covering Span() elements.
// Indexing the result with ElemOffset addresses the view's elements.
// Panics if T does not match the tensor's dtype.
func Elems[T Float](r *RawTensor) []T {
	if want := DataTypeOf[T](); r.dtype != want {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, want))
	}
	data := r.Data()
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by Span()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), r.Span())
}
