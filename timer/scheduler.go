package timer

import (
	"context"
	"sync"
	"time"
)

// Scheduler drives a fixed-period loop after an initial delay. The callback
// runs on the scheduler goroutine, so at most one call is in flight; ticks
// that fall due while a call is still running are dropped, not queued.
type Scheduler struct {
	delay    time.Duration
	interval time.Duration

	mutex   sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(delay, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		delay:    delay,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the loop. The context passed to fn is cancelled by Stop and
// must be checked by fn before it mutates anything. Start is a no-op after
// the first call or after Stop.
func (s *Scheduler) Start(fn func(ctx context.Context)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started || s.ctx.Err() != nil {
		return
	}
	s.started = true
	go s.loop(fn)
}

func (s *Scheduler) loop(fn func(ctx context.Context)) {
	defer close(s.done)

	delay := time.NewTimer(s.delay)
	defer delay.Stop()

	select {
	case <-s.ctx.Done():
		return
	case <-delay.C:
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop. It does not wait, so it is safe to call from inside
// the callback; use Wait to block until the loop has exited.
func (s *Scheduler) Stop() {
	s.cancel()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	return s.ctx.Err() != nil
}

// Wait blocks until the loop goroutine has returned. It returns at once for a
// scheduler that was never started.
func (s *Scheduler) Wait() {
	s.mutex.Lock()
	started := s.started
	s.mutex.Unlock()
	if started {
		<-s.done
	}
}
