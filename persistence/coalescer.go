package persistence

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned when scheduling on a closed Coalescer.
var ErrClosed = errors.New("coalescer closed")

// WriteFunc performs one persisted write.
type WriteFunc func(ctx context.Context) error

// Coalescer debounces writes per target. Scheduling a target that already has
// a pending write replaces that write and restarts its quiet period, so a
// burst of edits results in a single write of the newest value.
type Coalescer struct {
	Delay time.Duration
	// Timeout bounds writes fired by the timer.
	Timeout time.Duration
	// OnError receives errors from timer-fired writes. Defaults to logging.
	OnError func(target string, err error)

	mu      sync.Mutex
	pending map[string]*pendingWrite
	seq     uint64
	closed  bool
}

type pendingWrite struct {
	seq   uint64
	timer *time.Timer
	write WriteFunc
}

func NewCoalescer(delay time.Duration) *Coalescer {
	return &Coalescer{
		Delay:   delay,
		Timeout: 30 * time.Second,
		pending: make(map[string]*pendingWrite),
	}
}

// Schedule arms (or re-arms) target with write.
func (c *Coalescer) Schedule(target string, write WriteFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if prev, ok := c.pending[target]; ok {
		prev.timer.Stop()
	}
	c.seq++
	pw := &pendingWrite{seq: c.seq, write: write}
	seq := c.seq
	pw.timer = time.AfterFunc(c.Delay, func() { c.fire(target, seq) })
	c.pending[target] = pw
	return nil
}

func (c *Coalescer) fire(target string, seq uint64) {
	pw := c.take(target, seq)
	if pw == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	if err := pw.write(ctx); err != nil {
		c.reportError(target, err)
	}
}

// take removes the pending write of target. seq 0 matches any write.
func (c *Coalescer) take(target string, seq uint64) *pendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	pw, ok := c.pending[target]
	if !ok || (seq != 0 && pw.seq != seq) {
		return nil
	}
	pw.timer.Stop()
	delete(c.pending, target)
	return pw
}

// Flush runs the pending write of target now. It is a no-op when nothing is
// pending.
func (c *Coalescer) Flush(ctx context.Context, target string) error {
	pw := c.take(target, 0)
	if pw == nil {
		return nil
	}
	return pw.write(ctx)
}

// FlushAll runs every pending write now, in target order.
func (c *Coalescer) FlushAll(ctx context.Context) error {
	var errs []error
	for _, target := range c.Pending() {
		if err := c.Flush(ctx, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel drops the pending write of target and reports whether there was one.
func (c *Coalescer) Cancel(target string) bool {
	return c.take(target, 0) != nil
}

// Pending lists the targets with an armed write.
func (c *Coalescer) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for target := range c.pending {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Close flushes every pending write and rejects further scheduling.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.FlushAll(ctx)
}

func (c *Coalescer) reportError(target string, err error) {
	if c.OnError != nil {
		c.OnError(target, err)
		return
	}
	log.Printf("[Persist] debounced write %s failed: %v", target, err)
}
