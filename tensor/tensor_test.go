// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/fusednorm/internal/backend/cpu"
	"github.com/born-ml/fusednorm/tensor"
)

// TestBackendInterface verifies that cpu.CPUBackend implements tensor.Backend.
func TestBackendInterface(_ *testing.T) {
	var _ tensor.Backend = (*cpu.CPUBackend)(nil)
}

// TestRawTensorAPI verifies RawTensor type alias exposes expected API.
func TestRawTensorAPI(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}

	if shape := raw.Shape(); !shape.Equal(tensor.Shape{2, 3}) {
		t.Errorf("Shape() = %v, want [2 3]", shape)
	}
	if dtype := raw.DType(); dtype != tensor.Float32 {
		t.Errorf("DType() = %v, want Float32", dtype)
	}
	if device := raw.Device(); device != tensor.CPU {
		t.Errorf("Device() = %v, want CPU", device)
	}
	if n := raw.NumElements(); n != 6 {
		t.Errorf("NumElements() = %d, want 6", n)
	}
	if byteSize := raw.ByteSize(); byteSize != 6*4 {
		t.Errorf("ByteSize() = %d, want 24", byteSize)
	}
	if !raw.IsContiguous() {
		t.Error("IsContiguous() = false for a fresh tensor")
	}
	if f32 := raw.AsFloat32(); len(f32) != 6 {
		t.Errorf("AsFloat32() length = %d, want 6", len(f32))
	}
}

// TestViews verifies that views share storage with their parent.
func TestViews(t *testing.T) {
	parent, err := tensor.FromSlice([]float64{
		0, 1, 2, -1,
		3, 4, 5, -1,
	}, tensor.Shape{2, 4}, tensor.CPU)
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}

	view, err := parent.View(tensor.Shape{2, 3}, []int{4, 1}, 0)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if view.IsContiguous() {
		t.Error("padded view reported contiguous")
	}
	if !view.SharesBuffer(parent) {
		t.Error("view does not share its parent's buffer")
	}
	if view.SameView(parent) {
		t.Error("padded view reported as the same view as its parent")
	}

	data := view.AsFloat64()
	if got := data[view.ElemOffset([]int{1, 2})]; got != 5 {
		t.Errorf("element (1, 2) = %v, want 5", got)
	}
}

// TestDeviceConstants verifies all device constants are accessible.
func TestDeviceConstants(t *testing.T) {
	devices := []struct {
		name   string
		device tensor.Device
	}{
		{"CPU", tensor.CPU},
		{"WebGPU", tensor.WebGPU},
	}

	for _, d := range devices {
		t.Run(d.name, func(t *testing.T) {
			if str := d.device.String(); str != d.name {
				t.Errorf("Device.String() = %q, want %q", str, d.name)
			}
		})
	}
}

// TestDataTypeConstants verifies all data type constants are accessible.
func TestDataTypeConstants(t *testing.T) {
	dtypes := []struct {
		name    string
		dtype   tensor.DataType
		isFloat bool
	}{
		{"Float32", tensor.Float32, true},
		{"Float64", tensor.Float64, true},
		{"Int32", tensor.Int32, false},
		{"Int64", tensor.Int64, false},
	}

	for _, dt := range dtypes {
		t.Run(dt.name, func(t *testing.T) {
			if str := dt.dtype.String(); str == "" {
				t.Errorf("DataType.String() = %q, want non-empty", str)
			}
			if size := dt.dtype.Size(); size <= 0 {
				t.Errorf("DataType.Size() = %d, want > 0", size)
			}
			if dt.dtype.IsFloat() != dt.isFloat {
				t.Errorf("IsFloat() = %v, want %v", dt.dtype.IsFloat(), dt.isFloat)
			}
		})
	}
}

// TestShapeAPI verifies Shape type alias exposes expected API.
func TestShapeAPI(t *testing.T) {
	shape := tensor.Shape{2, 3, 4}

	if n := shape.NumElements(); n != 24 {
		t.Errorf("NumElements() = %d, want 24", n)
	}
	if !shape.Equal(tensor.Shape{2, 3, 4}) {
		t.Error("Equal() = false, want true for identical shapes")
	}

	clone := shape.Clone()
	clone[0] = 999
	if shape[0] == 999 {
		t.Error("Clone() didn't create independent copy")
	}

	axis, err := shape.NormalizeAxis(-1)
	if err != nil || axis != 2 {
		t.Errorf("NormalizeAxis(-1) = %d, %v, want 2", axis, err)
	}
	if _, err := shape.NormalizeAxis(3); err == nil {
		t.Error("NormalizeAxis(3) succeeded on a rank-3 shape")
	}
	if without := shape.Without(1); !without.Equal(tensor.Shape{2, 4}) {
		t.Errorf("Without(1) = %v, want [2 4]", without)
	}
}
