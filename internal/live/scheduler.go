package live

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start on a running Scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler runs a task repeatedly on one goroutine. The next pass is armed
// only after the previous one returns, so passes never overlap.
type Scheduler struct {
	clock    Clock
	interval time.Duration
	task     func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(clock Clock, interval time.Duration, task func(ctx context.Context)) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{clock: clock, interval: interval, task: task}
}

// Start runs the first pass immediately and then one pass per interval until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.start(ctx, true)
}

// StartDelayed is like Start but waits one interval before the first pass.
func (s *Scheduler) StartDelayed(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *Scheduler) start(ctx context.Context, immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.loop(ctx, done, immediate)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, immediate bool) {
	defer close(done)
	tick := make(chan struct{}, 1)

	for {
		if ctx.Err() != nil {
			return
		}
		if immediate {
			s.task(ctx)
		}
		immediate = true

		timer := s.clock.AfterFunc(s.interval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-tick:
		}
	}
}

// Stop cancels the loop and returns once the current pass has finished.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}
