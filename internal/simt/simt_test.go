package simt

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShuffleXor(t *testing.T) {
	var r Regs[int]
	for lane := range WarpSize {
		r[lane] = lane * 10
	}

	for _, mask := range []int{1, 2, 4, 8, 16} {
		out := ShuffleXor(&r, mask)
		for lane := range WarpSize {
			assert.Equal(t, (lane^mask)*10, out[lane], "mask %d lane %d", mask, lane)
		}
	}
}

func TestLaunchConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  LaunchConfig
		ok   bool
	}{
		{"single warp", LaunchConfig{Name: "k", Groups: 4, WarpsPerGroup: 1}, true},
		{"max warps", LaunchConfig{Name: "k", Groups: 1, WarpsPerGroup: MaxWarpsPerGroup}, true},
		{"empty grid", LaunchConfig{Name: "k", Groups: 0, WarpsPerGroup: 1}, true},
		{"no warps", LaunchConfig{Name: "k", Groups: 1, WarpsPerGroup: 0}, false},
		{"too many warps", LaunchConfig{Name: "k", Groups: 1, WarpsPerGroup: MaxWarpsPerGroup + 1}, false},
		{"negative grid", LaunchConfig{Name: "k", Groups: -1, WarpsPerGroup: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidLaunch))
			}
		})
	}
	assert.Equal(t, 64, LaunchConfig{WarpsPerGroup: 2}.LanesPerGroup())
}

func TestBarrierOrdersPhases(t *testing.T) {
	const parties = 4
	b := NewBarrier(parties)

	var arrived atomic.Int32
	errs := make(chan error, parties)
	for range parties {
		go func() {
			for phase := int32(1); phase <= 3; phase++ {
				arrived.Add(1)
				if err := b.Wait(); err != nil {
					errs <- err
					return
				}
				if got := arrived.Load(); got < phase*parties {
					errs <- errors.New("barrier released before all parties arrived")
					return
				}
				if err := b.Wait(); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}

	for range parties {
		require.NoError(t, <-errs)
	}
}

func TestBarrierBreakReleasesWaiters(t *testing.T) {
	b := NewBarrier(2)

	done := make(chan error, 1)
	go func() { done <- b.Wait() }()

	time.Sleep(10 * time.Millisecond)
	b.Break()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBarrierBroken)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Break")
	}
	assert.ErrorIs(t, b.Wait(), ErrBarrierBroken)
}

func TestGroupRunSharedScratch(t *testing.T) {
	g := newGroup(0, 4)

	// Each warp publishes its id, syncs, then reads its neighbour's slot.
	scratch := make([]int, g.NumWarps())
	seen := make([]int, g.NumWarps())
	g.Run(func(w *Warp) {
		scratch[w.ID()] = w.ID() + 100
		w.Sync()
		seen[w.ID()] = scratch[(w.ID()+1)%w.NumWarps()]
	})

	for id := range seen {
		assert.Equal(t, (id+1)%4+100, seen[id])
	}
	assert.Equal(t, 128, g.NumLanes())
}

func TestGroupRunPanicUnwindsWaitingWarps(t *testing.T) {
	g := newGroup(3, 3)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrKernelPanic)
		assert.Contains(t, err.Error(), "boom")
	}()

	g.Run(func(w *Warp) {
		if w.ID() == 1 {
			panic("boom")
		}
		w.Sync() // would deadlock without barrier breaking
	})
}

func TestWarpLane(t *testing.T) {
	g := newGroup(0, 2)
	w := &Warp{group: g, id: 1}
	assert.Equal(t, WarpSize+5, w.Lane(5))
	assert.Same(t, g, w.Group())
}
