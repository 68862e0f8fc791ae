package layernorm

import (
	"github.com/born-ml/fusednorm/internal/simt"
	"github.com/born-ml/fusednorm/internal/tensor"
)

// WarpAllReduce merges the values of all lanes of a warp with an XOR butterfly.
// After log2(WarpSize) rounds every lane holds the same aggregate.
func WarpAllReduce[S any](r *simt.Regs[S], merge func(a, b S) S) {
	for mask := 1; mask < simt.WarpSize; mask <<= 1 {
		partner := simt.ShuffleXor(r, mask)
		for lane := range simt.WarpSize {
			r[lane] = merge(r[lane], partner[lane])
		}
	}
}

// ScratchSlots returns the number of shared slots GroupAllReduce needs for a
// group of numWarps warps.
func ScratchSlots(numWarps int) int {
	return max(numWarps/2, 1)
}

// GroupAllReduce merges the per-warp aggregates v of every warp in w's group
// and returns the group aggregate to all of them. Every warp of the group must
// call it with the same scratch, holding at least ScratchSlots(NumWarps) values.
//
// Each halving step has the upper half of the active warps publish into scratch,
// a barrier, the lower half merge, and a second barrier before the slots are
// reused. With an odd active count the middle warp carries over unchanged.
// The survivor publishes slot 0 and a barrier broadcasts it; a final barrier
// after the read lets the caller reuse scratch for the next reduction.
func GroupAllReduce[S any](w *simt.Warp, scratch []S, v S, merge func(a, b S) S) S {
	if w.NumWarps() == 1 {
		return v
	}

	id := w.ID()
	for active := w.NumWarps(); active > 1; {
		half := active / 2
		upper := active - half
		if id >= upper && id < active {
			scratch[id-upper] = v
		}
		w.Sync()
		if id < half {
			v = merge(v, scratch[id])
		}
		w.Sync()
		active = upper
	}

	if id == 0 {
		scratch[0] = v
	}
	w.Sync()
	total := scratch[0]
	w.Sync()
	return total
}

// gradSums are the two per-row sums of the data gradient:
// A = Σ dy·scale and B = Σ dy·scale·(x−mean).
type gradSums[T tensor.Float] struct {
	A T
	B T
}

func addSums[T tensor.Float](a, b gradSums[T]) gradSums[T] {
	return gradSums[T]{A: a.A + b.A, B: a.B + b.B}
}
