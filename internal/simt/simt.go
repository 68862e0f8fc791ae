// Package simt models a single-instruction-multiple-thread device on the host.
//
// A kernel launch consists of Groups execution groups. Each group is made of
// one or more lane-groups (warps) of WarpSize lanes. Lanes of one warp run in
// lock-step on a single goroutine, so their per-lane registers are plain arrays
// (Regs) and exchanging values between them (ShuffleXor) needs no
// synchronization. Warps of one group run concurrently and coordinate through
// group-local scratch memory and a barrier (Warp.Sync). Groups are independent
// and are scheduled in any order on a worker pool.
package simt

import (
	"errors"
	"fmt"
)

// WarpSize is the number of lock-step lanes in a lane-group.
const WarpSize = 32

// MaxWarpsPerGroup bounds the size of an execution group (1024 lanes).
const MaxWarpsPerGroup = 32

// Errors reported by launches and streams.
var (
	ErrInvalidLaunch = errors.New("simt: invalid launch configuration")
	ErrKernelPanic   = errors.New("simt: kernel panicked")
	ErrBarrierBroken = errors.New("simt: barrier broken")
	ErrStreamFailed  = errors.New("simt: stream torn down after a failed launch")
	ErrStreamClosed  = errors.New("simt: stream closed")
)

// Regs is a per-lane register file of one warp: Regs[l] belongs to lane l.
type Regs[T any] [WarpSize]T

// ShuffleXor returns, for every lane l, the value held by lane l^mask.
// mask must be in [0, WarpSize).
func ShuffleXor[T any](r *Regs[T], mask int) Regs[T] {
	var out Regs[T]
	for lane := range WarpSize {
		out[lane] = r[lane^mask]
	}
	return out
}

// LaunchConfig describes the geometry of one kernel launch.
type LaunchConfig struct {
	Name          string // Kernel name, for logs and errors.
	Groups        int    // Number of execution groups (grid size).
	WarpsPerGroup int    // Lane-groups per execution group.
}

// LanesPerGroup returns the number of lanes in each execution group.
func (c LaunchConfig) LanesPerGroup() int {
	return c.WarpsPerGroup * WarpSize
}

// Validate checks the geometry against device limits.
func (c LaunchConfig) Validate() error {
	if c.Groups < 0 {
		return fmt.Errorf("%w: %s: negative group count %d", ErrInvalidLaunch, c.Name, c.Groups)
	}
	if c.WarpsPerGroup < 1 || c.WarpsPerGroup > MaxWarpsPerGroup {
		return fmt.Errorf("%w: %s: %d warps per group (must be in [1, %d])",
			ErrInvalidLaunch, c.Name, c.WarpsPerGroup, MaxWarpsPerGroup)
	}
	return nil
}
