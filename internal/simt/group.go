package simt

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Group is one execution group of a launch.
//
// Code in the kernel body before Run executes once per group and is where
// group-shared scratch memory is declared; the closure passed to Run is the
// per-warp program and may reference that scratch.
type Group struct {
	id       int
	numWarps int
	barrier  *Barrier
}

func newGroup(id, numWarps int) *Group {
	g := &Group{id: id, numWarps: numWarps}
	if numWarps > 1 {
		g.barrier = NewBarrier(numWarps)
	}
	return g
}

// ID returns the group's index in the grid.
func (g *Group) ID() int {
	return g.id
}

// NumWarps returns the number of lane-groups in the group.
func (g *Group) NumWarps() int {
	return g.numWarps
}

// NumLanes returns the number of lanes in the group.
func (g *Group) NumLanes() int {
	return g.numWarps * WarpSize
}

// Run executes fn once per warp and returns when all warps have finished.
// With more than one warp, the warps run concurrently. A panic in any warp
// breaks the group barrier so that the remaining warps unwind, and Run
// re-panics with an error wrapping ErrKernelPanic.
func (g *Group) Run(fn func(w *Warp)) {
	if g.numWarps == 1 {
		fn(&Warp{group: g})
		return
	}

	var eg errgroup.Group
	for id := range g.numWarps {
		w := &Warp{group: g, id: id}
		eg.Go(func() (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				g.barrier.Break()
				if e, ok := r.(error); ok && errors.Is(e, ErrBarrierBroken) {
					// Another warp failed first and reports the cause.
					return
				}
				err = fmt.Errorf("%w: group %d warp %d: %v", ErrKernelPanic, g.id, w.id, r)
			}()
			fn(w)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		panic(err)
	}
}

// Warp is one lane-group. Its lanes execute in lock-step on the calling goroutine.
type Warp struct {
	group *Group
	id    int
}

// ID returns the warp's index within its group.
func (w *Warp) ID() int {
	return w.id
}

// Group returns the execution group the warp belongs to.
func (w *Warp) Group() *Group {
	return w.group
}

// NumWarps returns the number of warps in the warp's group.
func (w *Warp) NumWarps() int {
	return w.group.numWarps
}

// Lane returns the group-wide index of the warp's lane-th lane.
func (w *Warp) Lane(lane int) int {
	return w.id*WarpSize + lane
}

// Sync is a group-wide barrier: it returns once every warp of the group has
// reached it, making scratch writes issued before the barrier visible to all
// warps after it. It is a no-op for single-warp groups.
func (w *Warp) Sync() {
	if w.group.barrier == nil {
		return
	}
	if err := w.group.barrier.Wait(); err != nil {
		panic(err)
	}
}
