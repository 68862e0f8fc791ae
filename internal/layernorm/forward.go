package layernorm

import (
	"math"

	"github.com/born-ml/fusednorm/internal/simt"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// forwardKernel normalizes one row per execution group.
type forwardKernel[T tensor.Float] struct {
	x, out       tensor.Rows[T]
	scale, shift []T // nil when absent
	mean, std    []T // saved statistics, one per row
	eps          T
	vec          int
	affine       affineFunc[T]
}

func (k *forwardKernel[T]) run(g *simt.Group) {
	row := g.ID()
	x := k.x.Row(row)
	out := k.out.Row(row)
	channels := k.x.Channels
	stride := g.NumLanes() * k.vec

	var scratch []Stats[T]
	if g.NumWarps() > 1 {
		scratch = make([]Stats[T], ScratchSlots(g.NumWarps()))
	}

	g.Run(func(w *simt.Warp) {
		var regs simt.Regs[Stats[T]]
		for lane := range simt.WarpSize {
			acc := &regs[lane]
			for lo := w.Lane(lane) * k.vec; lo < channels; lo += stride {
				for _, v := range x[lo:min(lo+k.vec, channels)] {
					acc.Push(v)
				}
			}
		}

		WarpAllReduce(&regs, Merge[T])
		agg := GroupAllReduce(w, scratch, regs[0], Merge[T])

		std := T(math.Sqrt(float64(agg.Variance() + k.eps)))
		invStd := 1 / std

		for lane := range simt.WarpSize {
			for lo := w.Lane(lane) * k.vec; lo < channels; lo += stride {
				hi := min(lo+k.vec, channels)
				k.affine(out[lo:hi], x[lo:hi], k.scale, k.shift, lo, agg.Mean, invStd)
			}
		}

		if w.ID() == 0 {
			k.mean[row] = agg.Mean
			k.std[row] = std
		}
	})
}
