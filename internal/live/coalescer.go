package live

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlushFunc writes one coalesced batch of external uids.
type FlushFunc func(ctx context.Context, uids []string)

// Coalescer collects uids and hands them to a FlushFunc once no new uid has
// arrived for the debounce delay. Every uid added during the quiet period is
// flushed, not just the last one. Flushes run on their own goroutine.
type Coalescer struct {
	clock  Clock
	delay  time.Duration
	flush  FlushFunc
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timer   Timer
	gen     uint64
	stopped bool
}

// NewCoalescer creates a coalescer. Flushes receive a context that is
// cancelled by Stop.
func NewCoalescer(clock Clock, delay time.Duration, flush FlushFunc, logger *zap.Logger) *Coalescer {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		clock:   clock,
		delay:   delay,
		flush:   flush,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
}

// Add queues a uid and restarts the quiet period.
func (c *Coalescer) Add(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pending[uid] = struct{}{}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.delay, func() { c.fire(gen) })
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.gen || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	uids := make([]string, 0, len(c.pending))
	for uid := range c.pending {
		uids = append(uids, uid)
	}
	clear(c.pending)
	c.timer = nil
	c.wg.Add(1)
	c.mu.Unlock()

	slices.Sort(uids)
	c.logger.Debug("flushing coalesced uids", zap.Int("count", len(uids)))
	go func() {
		defer c.wg.Done()
		c.flush(c.ctx, uids)
	}()
}

// Pending returns the number of uids waiting for the next flush.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Discard drops queued uids without flushing them.
func (c *Coalescer) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
}

func (c *Coalescer) discardLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	clear(c.pending)
}

// Wait blocks until in-flight flushes have returned.
func (c *Coalescer) Wait() {
	c.wg.Wait()
}

// Stop discards queued uids, cancels in-flight flushes and waits for them.
// Add is a no-op afterwards.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.discardLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
