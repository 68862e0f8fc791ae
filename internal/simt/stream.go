package simt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/born-ml/fusednorm/internal/parallel"
)

// Kernel is the body of a launch, invoked once per execution group.
type Kernel func(g *Group)

// StreamConfig configures a Stream.
type StreamConfig struct {
	Workers int          // Worker goroutines executing groups (<= 0: GOMAXPROCS).
	Logger  *slog.Logger // Destination for launch and failure records (nil: discard).
}

// DefaultStreamConfig returns a configuration using all available CPUs.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{Workers: parallel.DefaultConfig().NumWorkers}
}

type launch struct {
	cfg    LaunchConfig
	kernel Kernel
	seq    uint64
}

// Stream is a FIFO queue of kernel launches.
//
// Launch returns as soon as the work is queued. Launches execute one after
// another in enqueue order, so a launch observes every write made by the
// launches queued before it. Within a launch, groups run in parallel on a
// bounded worker pool. A launch cannot be canceled once queued; if a kernel
// panics, the stream is torn down: queued launches are discarded and every
// later Launch or Synchronize reports an error wrapping ErrStreamFailed.
type Stream struct {
	pool   *parallel.Pool
	logger *slog.Logger

	mu        sync.Mutex
	wake      *sync.Cond
	queue     []launch
	enqueued  uint64
	completed uint64
	progress  chan struct{} // closed and replaced whenever completed advances or the stream fails
	err       error
	closed    bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewStream creates a stream and starts its executor.
func NewStream(cfg StreamConfig) *Stream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Stream{
		pool:     parallel.NewPool(cfg.Workers),
		logger:   logger,
		progress: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.wake = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Launch validates cfg and queues kernel for execution.
// Invalid geometry is reported synchronously and nothing is queued.
func (s *Stream) Launch(cfg LaunchConfig, kernel Kernel) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if s.closed {
		return ErrStreamClosed
	}

	s.enqueued++
	s.queue = append(s.queue, launch{cfg: cfg, kernel: kernel, seq: s.enqueued})
	s.wake.Signal()

	s.logger.Debug("kernel queued",
		"kernel", cfg.Name, "groups", cfg.Groups, "warps_per_group", cfg.WarpsPerGroup, "seq", s.enqueued)
	return nil
}

// Synchronize blocks until every launch queued before the call has completed,
// the stream fails, or ctx is done.
func (s *Stream) Synchronize(ctx context.Context) error {
	s.mu.Lock()
	target := s.enqueued
	for {
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return err
		}
		if s.completed >= target {
			s.mu.Unlock()
			return nil
		}
		progress := s.progress
		s.mu.Unlock()

		select {
		case <-progress:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
}

// Err returns the error that tore the stream down, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close waits for queued launches to finish, stops the executor and releases
// the worker pool. It is safe to call Close more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.wake.Signal()
		s.mu.Unlock()

		<-s.done
		s.pool.Close()
	})
	return s.Err()
}

func (s *Stream) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.wake.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		l := s.queue[0]
		s.queue[0] = launch{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		err := s.execute(l)

		s.mu.Lock()
		if err != nil {
			s.err = fmt.Errorf("%w: %w", ErrStreamFailed, err)
			dropped := len(s.queue)
			s.queue = nil
			s.logger.Error("stream torn down",
				"kernel", l.cfg.Name, "seq", l.seq, "dropped_launches", dropped, "err", err)
		} else {
			s.completed = l.seq
		}
		close(s.progress)
		s.progress = make(chan struct{})
		s.mu.Unlock()
	}
}

// execute runs every group of one launch and reports the first kernel failure.
func (s *Stream) execute(l launch) error {
	var (
		failed    atomic.Bool
		firstErr  error
		errorOnce sync.Once
	)

	s.pool.Run(l.cfg.Groups, func(i int) {
		if failed.Load() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				failed.Store(true)
				errorOnce.Do(func() {
					if e, ok := r.(error); ok {
						firstErr = fmt.Errorf("%s: group %d: %w", l.cfg.Name, i, e)
						return
					}
					firstErr = fmt.Errorf("%w: %s: group %d: %v", ErrKernelPanic, l.cfg.Name, i, r)
				})
			}
		}()
		l.kernel(newGroup(i, l.cfg.WarpsPerGroup))
	})

	return firstErr
}
