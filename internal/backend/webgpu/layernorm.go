//go:build windows

package webgpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/fusednorm/internal/layernorm"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// LayerNorm normalizes x over axis and applies the optional scale and shift,
// returning the output and the saved mean and std shaped like x without axis.
// Panics on invalid arguments or device failure.
func (b *Backend) LayerNorm(x, scale, shift *tensor.RawTensor, axis int, eps float64) (out, mean, std *tensor.RawTensor) {
	out, mean, std, err := b.runLayerNorm(context.Background(), x, scale, shift, axis, eps)
	if err != nil {
		panic("webgpu: LayerNorm: " + err.Error())
	}
	return out, mean, std
}

// LayerNormBackward returns the gradients of x, scale and shift given the
// gradient of the normalized output. scale may be nil.
func (b *Backend) LayerNormBackward(grad, x, scale, mean, std *tensor.RawTensor, axis int) (dx, dscale, dshift *tensor.RawTensor) {
	dx, dscale, dshift, err := b.runLayerNormBackward(context.Background(), grad, x, scale, mean, std, axis)
	if err != nil {
		panic("webgpu: LayerNormBackward: " + err.Error())
	}
	return dx, dscale, dshift
}

// onDevice reports whether the shaders handle this call: float32 data
// normalized over its last axis, with every operand contiguous.
func onDevice(data *tensor.RawTensor, axis int, operands ...*tensor.RawTensor) bool {
	if data.DType() != tensor.Float32 || axis != len(data.Shape())-1 || !data.IsContiguous() {
		return false
	}
	for _, t := range operands {
		if t != nil && !t.IsContiguous() {
			return false
		}
	}
	return true
}

func (b *Backend) runLayerNorm(ctx context.Context, x, scale, shift *tensor.RawTensor, axis int, eps float64) (out, mean, std *tensor.RawTensor, err error) {
	if x == nil {
		return nil, nil, nil, fmt.Errorf("nil input")
	}
	ax, err := x.Shape().NormalizeAxis(axis)
	if err != nil {
		return nil, nil, nil, err
	}
	if out, err = tensor.NewRaw(x.Shape(), x.DType(), tensor.WebGPU); err != nil {
		return nil, nil, nil, err
	}
	statShape := x.Shape().Without(ax)
	if mean, err = tensor.NewRaw(statShape, x.DType(), tensor.WebGPU); err != nil {
		return nil, nil, nil, err
	}
	if std, err = tensor.NewRaw(statShape, x.DType(), tensor.WebGPU); err != nil {
		return nil, nil, nil, err
	}

	args := layernorm.ForwardArgs{
		Data: x, Scale: scale, Shift: shift, Axis: axis, Epsilon: eps,
		Out: out, Mean: mean, Std: std, OutReq: layernorm.Overwrite,
	}
	if _, err := layernorm.ValidateForward(args); err != nil {
		return nil, nil, nil, err
	}
	if !onDevice(x, ax, scale, shift) {
		b.logger.Debug("layernorm forward: host path", "shape", x.Shape(), "axis", ax, "dtype", x.DType())
		return out, mean, std, b.fallback.Forward(ctx, args)
	}
	return out, mean, std, b.forward(args)
}

func (b *Backend) forward(args layernorm.ForwardArgs) error {
	batch, channels, _ := args.Data.Shape().Split(len(args.Data.Shape()) - 1)
	b.logger.Debug("layernorm forward: device path", "batch", batch, "channels", channels)

	bufX := b.createBuffer(payload(args.Data), wgpu.BufferUsageStorage)
	defer bufX.Release()
	bufScale := b.createBuffer(vectorOr(args.Scale, channels, 1), wgpu.BufferUsageStorage)
	defer bufScale.Release()
	bufShift := b.createBuffer(vectorOr(args.Shift, channels, 0), wgpu.BufferUsageStorage)
	defer bufShift.Release()

	outSize := uint64(args.Out.ByteSize())
	bufOut, outCap := b.buffers.Acquire(outSize, storageUsage)
	defer b.buffers.Release(bufOut, outCap, storageUsage)
	statsSize := uint64(2 * batch * 4)
	bufStats, statsCap := b.buffers.Acquire(statsSize, storageUsage)
	defer b.buffers.Release(bufStats, statsCap, storageUsage)

	groups, rowStride := rowGroups(batch)
	params := make([]byte, 16)
	//nolint:gosec // G115: shapes are validated positive and fit in u32 for device kernels
	binary.LittleEndian.PutUint32(params[0:4], uint32(batch))
	//nolint:gosec // G115: see above
	binary.LittleEndian.PutUint32(params[4:8], uint32(channels))
	binary.LittleEndian.PutUint32(params[8:12], rowStride)
	binary.LittleEndian.PutUint32(params[12:16], math.Float32bits(float32(args.Epsilon)))

	b.dispatch(forwardKernel, groups, params,
		binding{bufX, outSize},
		binding{bufScale, uint64(channels * 4)},
		binding{bufShift, uint64(channels * 4)},
		binding{bufOut, outSize},
		binding{bufStats, statsSize},
	)

	outData, err := b.readBuffer(bufOut, outSize)
	if err != nil {
		return err
	}
	statsData, err := b.readBuffer(bufStats, statsSize)
	if err != nil {
		return err
	}
	copy(args.Out.Data(), outData)
	copy(args.Mean.Data(), statsData[:batch*4])
	copy(args.Std.Data(), statsData[batch*4:])
	return nil
}

func (b *Backend) runLayerNormBackward(ctx context.Context, grad, x, scale, mean, std *tensor.RawTensor, axis int) (dx, dscale, dshift *tensor.RawTensor, err error) {
	if x == nil {
		return nil, nil, nil, fmt.Errorf("nil input")
	}
	ax, err := x.Shape().NormalizeAxis(axis)
	if err != nil {
		return nil, nil, nil, err
	}
	if dx, err = tensor.NewRaw(x.Shape(), x.DType(), tensor.WebGPU); err != nil {
		return nil, nil, nil, err
	}
	channels := tensor.Shape{x.Shape()[ax]}
	if dscale, err = tensor.NewRaw(channels, x.DType(), tensor.WebGPU); err != nil {
		return nil, nil, nil, err
	}
	if dshift, err = tensor.NewRaw(channels, x.DType(), tensor.WebGPU); err != nil {
		return nil, nil, nil, err
	}

	args := layernorm.BackwardArgs{
		OutGrad: grad, Data: x, Scale: scale, Mean: mean, Std: std, Axis: axis,
		DataGrad: dx, ScaleGrad: dscale, ShiftGrad: dshift,
		DataGradReq: layernorm.Overwrite, ScaleGradReq: layernorm.Overwrite, ShiftGradReq: layernorm.Overwrite,
	}
	if _, _, err := layernorm.ValidateBackward(args); err != nil {
		return nil, nil, nil, err
	}
	if !onDevice(x, ax, grad, scale, mean, std) {
		b.logger.Debug("layernorm backward: host path", "shape", x.Shape(), "axis", ax, "dtype", x.DType())
		return dx, dscale, dshift, b.fallback.Backward(ctx, args)
	}
	return dx, dscale, dshift, b.backward(args)
}

func (b *Backend) backward(args layernorm.BackwardArgs) error {
	batch, channels, _ := args.Data.Shape().Split(len(args.Data.Shape()) - 1)
	b.logger.Debug("layernorm backward: device path", "batch", batch, "channels", channels)

	size := uint64(args.Data.ByteSize())
	vecSize := uint64(channels * 4)
	statsSize := uint64(2 * batch * 4)

	bufDy := b.createBuffer(payload(args.OutGrad), wgpu.BufferUsageStorage)
	defer bufDy.Release()
	bufX := b.createBuffer(payload(args.Data), wgpu.BufferUsageStorage)
	defer bufX.Release()
	bufScale := b.createBuffer(vectorOr(args.Scale, channels, 1), wgpu.BufferUsageStorage)
	defer bufScale.Release()
	stats := make([]byte, 0, statsSize)
	stats = append(stats, payload(args.Mean)...)
	stats = append(stats, payload(args.Std)...)
	bufStats := b.createBuffer(stats, wgpu.BufferUsageStorage)
	defer bufStats.Release()

	bufDx, dxCap := b.buffers.Acquire(size, storageUsage)
	defer b.buffers.Release(bufDx, dxCap, storageUsage)
	bufDscale, dscaleCap := b.buffers.Acquire(vecSize, storageUsage)
	defer b.buffers.Release(bufDscale, dscaleCap, storageUsage)
	bufDshift, dshiftCap := b.buffers.Acquire(vecSize, storageUsage)
	defer b.buffers.Release(bufDshift, dshiftCap, storageUsage)

	groups, rowStride := rowGroups(batch)
	params := make([]byte, 16)
	//nolint:gosec // G115: shapes are validated positive and fit in u32 for device kernels
	binary.LittleEndian.PutUint32(params[0:4], uint32(batch))
	//nolint:gosec // G115: see above
	binary.LittleEndian.PutUint32(params[4:8], uint32(channels))
	binary.LittleEndian.PutUint32(params[8:12], rowStride)

	b.dispatch(paramGradKernel, [2]uint32{ceilDiv(channels, workgroupSize), 1}, params,
		binding{bufDy, size},
		binding{bufX, size},
		binding{bufStats, statsSize},
		binding{bufDscale, vecSize},
		binding{bufDshift, vecSize},
	)
	b.dispatch(dataGradKernel, groups, params,
		binding{bufDy, size},
		binding{bufX, size},
		binding{bufScale, vecSize},
		binding{bufStats, statsSize},
		binding{bufDx, size},
	)

	for _, r := range []struct {
		buf  *wgpu.Buffer
		size uint64
		dst  *tensor.RawTensor
	}{{bufDx, size, args.DataGrad}, {bufDscale, vecSize, args.ScaleGrad}, {bufDshift, vecSize, args.ShiftGrad}} {
		data, err := b.readBuffer(r.buf, r.size)
		if err != nil {
			return err
		}
		copy(r.dst.Data(), data)
	}
	return nil
}

// rowGroups lays out one workgroup per row, folding rows past the
// per-dimension limit into the second dimension.
func rowGroups(rows int) (groups [2]uint32, rowStride uint32) {
	x := min(rows, maxGroupsPerDim)
	//nolint:gosec // G115: both values are bounded by maxGroupsPerDim
	return [2]uint32{uint32(x), ceilDiv(rows, x)}, uint32(x)
}

func ceilDiv(a, b int) uint32 {
	//nolint:gosec // G115: callers pass positive sizes
	return uint32((a + b - 1) / b)
}

// payload returns the bytes of a contiguous tensor's elements.
func payload(r *tensor.RawTensor) []byte {
	return r.Data()[:r.ByteSize()]
}

// vectorOr returns the bytes of v, or of n copies of fill when v is nil.
func vectorOr(v *tensor.RawTensor, n int, fill float32) []byte {
	if v != nil {
		return payload(v)
	}
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = fill
	}
	//nolint:gosec // unsafe.Slice for zero-copy conversion of []float32 to bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), n*4)
}
