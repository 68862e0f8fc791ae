package layernorm

import (
	"github.com/born-ml/fusednorm/internal/simt"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// dataGradKernel computes the input gradient of one row per execution group:
//
//	dx = dy·scale·invStd − S0 − (x−mean)·invStd·S1
//	S0 = mean_c(dy·scale)·invStd
//	S1 = mean_c(dy·scale·(x−mean))·invStd²
type dataGradKernel[T tensor.Float] struct {
	dy, x, dx tensor.Rows[T]
	scale     []T // nil when absent (scale ≡ 1)
	mean, std []T
	vec       int
	sums      sumsFunc[T]
	apply     dataGradFunc[T]
}

// sumsFunc adds one chunk's contribution to the row sums.
type sumsFunc[T tensor.Float] func(s *gradSums[T], dy, x, scale []T, lo int, mean T)

func sumsScaled[T tensor.Float](s *gradSums[T], dy, x, scale []T, lo int, mean T) {
	scale = scale[lo : lo+len(dy)]
	for i, g := range dy {
		g *= scale[i]
		s.A += g
		s.B += g * (x[i] - mean)
	}
}

func sumsUnscaled[T tensor.Float](s *gradSums[T], dy, x, _ []T, _ int, mean T) {
	for i, g := range dy {
		s.A += g
		s.B += g * (x[i] - mean)
	}
}

// dataGradFunc stores one chunk of dx according to the output request.
type dataGradFunc[T tensor.Float] func(dx, dy, x, scale []T, lo int, mean, invStd, s0, s1 T)

func dataGradScaledOverwrite[T tensor.Float](dx, dy, x, scale []T, lo int, mean, invStd, s0, s1 T) {
	scale = scale[lo : lo+len(dy)]
	for i, g := range dy {
		dx[i] = g*scale[i]*invStd - s0 - (x[i]-mean)*invStd*s1
	}
}

func dataGradScaledAccumulate[T tensor.Float](dx, dy, x, scale []T, lo int, mean, invStd, s0, s1 T) {
	scale = scale[lo : lo+len(dy)]
	for i, g := range dy {
		dx[i] += g*scale[i]*invStd - s0 - (x[i]-mean)*invStd*s1
	}
}

func dataGradUnscaledOverwrite[T tensor.Float](dx, dy, x, _ []T, _ int, mean, invStd, s0, s1 T) {
	for i, g := range dy {
		dx[i] = g*invStd - s0 - (x[i]-mean)*invStd*s1
	}
}

func dataGradUnscaledAccumulate[T tensor.Float](dx, dy, x, _ []T, _ int, mean, invStd, s0, s1 T) {
	for i, g := range dy {
		dx[i] += g*invStd - s0 - (x[i]-mean)*invStd*s1
	}
}

func selectDataGrad[T tensor.Float](hasScale bool, req Req) (sumsFunc[T], dataGradFunc[T]) {
	accumulate := req == AccumulateInto
	switch {
	case hasScale && accumulate:
		return sumsScaled[T], dataGradScaledAccumulate[T]
	case hasScale:
		return sumsScaled[T], dataGradScaledOverwrite[T]
	case accumulate:
		return sumsUnscaled[T], dataGradUnscaledAccumulate[T]
	default:
		return sumsUnscaled[T], dataGradUnscaledOverwrite[T]
	}
}

func (k *dataGradKernel[T]) run(g *simt.Group) {
	row := g.ID()
	dy, x, dx := k.dy.Row(row), k.x.Row(row), k.dx.Row(row)
	channels := k.x.Channels
	mean := k.mean[row]
	invStd := 1 / k.std[row]
	stride := g.NumLanes() * k.vec

	var scratch []gradSums[T]
	if g.NumWarps() > 1 {
		scratch = make([]gradSums[T], ScratchSlots(g.NumWarps()))
	}

	g.Run(func(w *simt.Warp) {
		var regs simt.Regs[gradSums[T]]
		for lane := range simt.WarpSize {
			for lo := w.Lane(lane) * k.vec; lo < channels; lo += stride {
				hi := min(lo+k.vec, channels)
				k.sums(&regs[lane], dy[lo:hi], x[lo:hi], k.scale, lo, mean)
			}
		}

		WarpAllReduce(&regs, addSums[T])
		total := GroupAllReduce(w, scratch, regs[0], addSums[T])

		n := T(channels)
		s0 := total.A * invStd / n
		s1 := total.B * invStd * invStd / n

		for lane := range simt.WarpSize {
			for lo := w.Lane(lane) * k.vec; lo < channels; lo += stride {
				hi := min(lo+k.vec, channels)
				k.apply(dx[lo:hi], dy[lo:hi], x[lo:hi], k.scale, lo, mean, invStd, s0, s1)
			}
		}
	})
}

// paramGradKernel computes scale and shift gradients. Every lane of the grid
// owns a disjoint set of channel chunks and sums over all rows on its own, so
// no reduction across lanes is needed.
type paramGradKernel[T tensor.Float] struct {
	dy, x                  tensor.Rows[T]
	mean, std              []T
	dscale, dshift         []T
	unroll                 int
	totalLanes             int
	accumulate             paramAccumFunc[T]
	storeScale, storeShift writeFunc[T] // nil when skipped
}

// paramAccumFunc adds row b's contribution for channels [lo, lo+len(gs)) to the
// chunk accumulators. Variants exist for each subset of gradients requested.
type paramAccumFunc[T tensor.Float] func(gs, gb, dy, x []T, mean, invStd T)

func paramAccumBoth[T tensor.Float](gs, gb, dy, x []T, mean, invStd T) {
	for i, g := range dy {
		gs[i] += (x[i] - mean) * invStd * g
		gb[i] += g
	}
}

func paramAccumScale[T tensor.Float](gs, _, dy, x []T, mean, invStd T) {
	for i, g := range dy {
		gs[i] += (x[i] - mean) * invStd * g
	}
}

func paramAccumShift[T tensor.Float](_, gb, dy, _ []T, _, _ T) {
	for i, g := range dy {
		gb[i] += g
	}
}

func selectParamAccum[T tensor.Float](wantScale, wantShift bool) paramAccumFunc[T] {
	switch {
	case wantScale && wantShift:
		return paramAccumBoth[T]
	case wantScale:
		return paramAccumScale[T]
	default:
		return paramAccumShift[T]
	}
}

func (k *paramGradKernel[T]) run(g *simt.Group) {
	channels := k.x.Channels
	stride := k.totalLanes * k.unroll
	first := g.ID() * g.NumLanes()

	g.Run(func(w *simt.Warp) {
		var gs, gb [maxUnroll]T
		for lane := range simt.WarpSize {
			for lo := (first + w.Lane(lane)) * k.unroll; lo < channels; lo += stride {
				hi := min(lo+k.unroll, channels)
				n := hi - lo
				clear(gs[:n])
				clear(gb[:n])

				for b := range k.x.Batch {
					k.accumulate(gs[:n], gb[:n], k.dy.Row(b)[lo:hi], k.x.Row(b)[lo:hi], k.mean[b], 1/k.std[b])
				}

				if k.storeScale != nil {
					k.storeScale(k.dscale[lo:hi], gs[:n])
				}
				if k.storeShift != nil {
					k.storeShift(k.dshift[lo:hi], gb[:n])
				}
			}
		}
	})
}
