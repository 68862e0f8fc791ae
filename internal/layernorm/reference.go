package layernorm

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/fusednorm/internal/parallel"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// Reference is the generic, non-fused implementation. It accepts any axis and
// any strides for the data-shaped tensors, computes in float64 and runs
// synchronously. Parameter and statistics vectors must be contiguous.
//
// It is the Dispatcher's default Fallback and the oracle for the fused kernels.
type Reference struct {
	Parallel parallel.Config
}

// Forward implements Fallback.
func (r Reference) Forward(ctx context.Context, args ForwardArgs) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if args.Data.DType() == tensor.Float32 {
		return referenceForward[float32](r.Parallel, args)
	}
	return referenceForward[float64](r.Parallel, args)
}

// Backward implements Fallback.
func (r Reference) Backward(ctx context.Context, args BackwardArgs) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if args.Data.DType() == tensor.Float32 {
		return referenceBackward[float32](r.Parallel, args)
	}
	return referenceBackward[float64](r.Parallel, args)
}

// lines describes the strided lines of a tensor along an axis: line l starts at
// element base[l] and its k-th element sits at base[l]+k*step. Lines are
// numbered in row-major order of the shape without the axis.
type lines struct {
	base         []int
	step         int
	outer, inner int
}

func linesOf(r *tensor.RawTensor, axis int) lines {
	shape := r.Shape()
	strides := r.Strides()
	outer, _, inner := shape.Split(axis)
	rest := shape.Without(axis)
	restStrides := append(append([]int(nil), strides[:axis]...), strides[axis+1:]...)

	base := make([]int, 0, outer*inner)
	coords := make([]int, len(rest))
	for range outer * inner {
		off := 0
		for d, c := range coords {
			off += c * restStrides[d]
		}
		base = append(base, off)
		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < rest[d] {
				break
			}
			coords[d] = 0
		}
	}
	return lines{base: base, step: strides[axis], outer: outer, inner: inner}
}

func gatherLine[T tensor.Float](dst []float64, src []T, l lines, line int) {
	off := l.base[line]
	for k := range dst {
		dst[k] = float64(src[off+k*l.step])
	}
}

func contiguousVector[T tensor.Float](op, name string, r *tensor.RawTensor) ([]T, error) {
	if r == nil {
		return nil, nil
	}
	v, err := tensor.Vector[T](r)
	if err != nil {
		return nil, configErr(op, name, ErrNotContiguous, "%v", err)
	}
	return v, nil
}

func referenceForward[T tensor.Float](cfg parallel.Config, args ForwardArgs) error {
	const op = "forward"
	axis, err := args.Data.Shape().NormalizeAxis(args.Axis)
	if err != nil {
		return configErr(op, "axis", ErrInvalidAxis, "%v", err)
	}
	vecs := make([][]T, 4)
	for i, b := range []struct {
		name string
		t    *tensor.RawTensor
	}{{"scale", args.Scale}, {"shift", args.Shift}, {"mean", args.Mean}, {"std", args.Std}} {
		if vecs[i], err = contiguousVector[T](op, b.name, b.t); err != nil {
			return err
		}
	}
	scale, shift, mean, std := vecs[0], vecs[1], vecs[2], vecs[3]

	channels := args.Data.Shape()[axis]
	xl, ol := linesOf(args.Data, axis), linesOf(args.Out, axis)
	x, out := tensor.Elems[T](args.Data), tensor.Elems[T](args.Out)

	parallel.ForGrid(xl.outer, xl.inner, func(o, i int) {
		line := o*xl.inner + i
		buf := make([]float64, channels)
		gatherLine(buf, x, xl, line)

		m, v := stat.PopMeanVariance(buf, nil)
		s := math.Sqrt(v + args.Epsilon)

		off := ol.base[line]
		for c, xv := range buf {
			y := (xv - m) / s
			if scale != nil {
				y *= float64(scale[c])
			}
			if shift != nil {
				y += float64(shift[c])
			}
			out[off+c*ol.step] = T(y)
		}
		mean[line] = T(m)
		std[line] = T(s)
	}, cfg)
	return nil
}

func referenceBackward[T tensor.Float](cfg parallel.Config, args BackwardArgs) error {
	const op = "backward"
	axis, err := args.Data.Shape().NormalizeAxis(args.Axis)
	if err != nil {
		return configErr(op, "axis", ErrInvalidAxis, "%v", err)
	}
	vecs := make([][]T, 5)
	for i, b := range []struct {
		name string
		t    *tensor.RawTensor
	}{
		{"scale", args.Scale}, {"mean", args.Mean}, {"std", args.Std},
		{"scaleGrad", args.ScaleGrad}, {"shiftGrad", args.ShiftGrad},
	} {
		if vecs[i], err = contiguousVector[T](op, b.name, b.t); err != nil {
			return err
		}
	}
	scale, mean, std, dscale, dshift := vecs[0], vecs[1], vecs[2], vecs[3], vecs[4]

	channels := args.Data.Shape()[axis]
	xl, dyl := linesOf(args.Data, axis), linesOf(args.OutGrad, axis)
	x, dy := tensor.Elems[T](args.Data), tensor.Elems[T](args.OutGrad)
	n := float64(channels)

	if args.DataGradReq != Skip {
		dxl := linesOf(args.DataGrad, axis)
		dx := tensor.Elems[T](args.DataGrad)
		accumulate := args.DataGradReq == AccumulateInto

		parallel.ForGrid(xl.outer, xl.inner, func(o, i int) {
			line := o*xl.inner + i
			g := make([]float64, channels)
			xhat := make([]float64, channels)
			gatherLine(g, dy, dyl, line)
			gatherLine(xhat, x, xl, line)

			if scale != nil {
				for c := range g {
					g[c] *= float64(scale[c])
				}
			}
			m := float64(mean[line])
			invStd := 1 / float64(std[line])
			floats.AddConst(-m, xhat)
			floats.Scale(invStd, xhat)

			s0 := floats.Sum(g) * invStd / n
			s1 := floats.Dot(g, xhat) * invStd / n

			off := dxl.base[line]
			for c := range g {
				v := T(g[c]*invStd - s0 - xhat[c]*s1)
				if accumulate {
					dx[off+c*dxl.step] += v
				} else {
					dx[off+c*dxl.step] = v
				}
			}
		}, cfg)
	}

	storeScale := writerFor[T](args.ScaleGradReq)
	storeShift := writerFor[T](args.ShiftGradReq)
	if storeScale == nil && storeShift == nil {
		return nil
	}

	numLines := len(xl.base)
	parallel.For(channels, func(c int) {
		g := make([]float64, numLines)
		xhat := make([]float64, numLines)
		for line := range numLines {
			g[line] = float64(dy[dyl.base[line]+c*dyl.step])
			xhat[line] = (float64(x[xl.base[line]+c*xl.step]) - float64(mean[line])) / float64(std[line])
		}
		if storeScale != nil {
			storeScale(dscale[c:c+1], []T{T(floats.Dot(xhat, g))})
		}
		if storeShift != nil {
			storeShift(dshift[c:c+1], []T{T(floats.Sum(g))})
		}
	}, cfg)
	return nil
}
