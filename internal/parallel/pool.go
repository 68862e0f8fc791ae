package parallel

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// chunksPerWorker is how many index ranges each worker is offered per call.
// More ranges than workers lets a worker that finishes early pick up the
// rows of a slower one.
const chunksPerWorker = 4

// Pool bounds the goroutines that run the execution groups of one launch.
type Pool struct {
	numWorkers int
	closed     atomic.Bool
}

// NewPool creates a pool running at most numWorkers calls at once.
// If numWorkers <= 0, GOMAXPROCS is used.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: numWorkers}
}

// NumWorkers returns the concurrency limit of the pool.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Close marks the pool closed. Calling Close multiple times is safe.
// A closed pool still runs work, sequentially on the caller.
func (p *Pool) Close() {
	p.closed.Store(true)
}

// Run executes fn(i) for each i in [0, n) and blocks until all calls return.
// Indices are split into contiguous ranges handed to at most NumWorkers
// goroutines, so execution order across indices is unspecified.
func (p *Pool) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}

	workers := min(p.numWorkers, n)
	if workers == 1 || p.closed.Load() {
		for i := range n {
			fn(i)
		}
		return
	}

	chunk := max(n/(workers*chunksPerWorker), 1)
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}
