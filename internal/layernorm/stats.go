// Package layernorm implements fused layer normalization over the trailing axis
// of a tensor: the forward transform with saved per-row statistics, the
// data gradient, and the scale/shift gradients.
//
// Row statistics are computed in a single pass with Welford's update in every
// lane, combined across the lanes of a warp by a register butterfly and across
// the warps of a group through shared scratch memory, using Chan's merge at
// every step. Kernels run on a simt.Stream; Dispatcher validates a call,
// selects the fused kernels or the generic Fallback, and queues the launches.
package layernorm

import "github.com/born-ml/fusednorm/internal/tensor"

// Stats is a running (mean, M2, count) triple, where M2 is the sum of squared
// deviations from the mean. Count is kept in T so that Merge is uniform.
type Stats[T tensor.Float] struct {
	Mean  T
	M2    T
	Count T
}

// Push folds one value into s with Welford's update.
func (s *Stats[T]) Push(x T) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / s.Count
	s.M2 += delta * (x - s.Mean)
}

// Variance returns the population variance M2/Count, or 0 for an empty triple.
func (s Stats[T]) Variance() T {
	if s.Count == 0 {
		return 0
	}
	return s.M2 / s.Count
}

// Merge combines the statistics of two disjoint partitions (Chan et al.).
// The result is symmetric in a and b bit for bit; associativity holds up to rounding.
func Merge[T tensor.Float](a, b Stats[T]) Stats[T] {
	n := a.Count + b.Count
	if n == 0 {
		return Stats[T]{}
	}
	wa := a.Count / n
	wb := b.Count / n
	delta := b.Mean - a.Mean
	return Stats[T]{
		Mean:  wa*a.Mean + wb*b.Mean,
		M2:    a.M2 + b.M2 + delta*delta*(wa*wb)*n,
		Count: n,
	}
}
