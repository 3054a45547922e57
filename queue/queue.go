// Package queue implements the bounded/unbounded handoff between
// slurpers (producers) and the indexer (single consumer).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
)

// Unbounded selects an unbounded FIFO queue when passed as throttleSize.
const Unbounded = -1

// Queue is the FIFO handoff contract. Put is used by slurpers, Take and
// Poll by the indexer. Every blocking call observes ctx cancellation.
type Queue interface {
	// Put enqueues a change, blocking if the queue is bounded and full.
	Put(ctx context.Context, c *event.Change) error
	// Take blocks until an item is available or ctx is done.
	Take(ctx context.Context) (*event.Change, error)
	// Poll waits up to timeout for an item. ok is false on timeout.
	Poll(ctx context.Context, timeout time.Duration) (c *event.Change, ok bool, err error)
}

// New builds a bounded queue of the given capacity, or an unbounded one
// when size == Unbounded.
func New(size int) Queue {
	if size == Unbounded {
		return newUnbounded()
	}
	return newBounded(size)
}

// bounded wraps a channel of fixed capacity; Put blocks on a full
// channel and observes ctx the same way Take/Poll do.
type bounded struct {
	ch chan *event.Change
}

func newBounded(size int) *bounded {
	return &bounded{ch: make(chan *event.Change, size)}
}

func (b *bounded) Put(ctx context.Context, c *event.Change) error {
	select {
	case b.ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *bounded) Take(ctx context.Context) (*event.Change, error) {
	select {
	case c := <-b.ch:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *bounded) Poll(ctx context.Context, timeout time.Duration) (*event.Change, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c := <-b.ch:
		return c, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// unbounded is a growable FIFO guarded by a mutex/condition variable; it
// never blocks a producer. Cancellation of a blocked consumer is
// implemented by spawning a watcher that broadcasts once ctx fires.
type unbounded struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*event.Change
}

func newUnbounded() *unbounded {
	u := &unbounded{}
	u.cond = sync.NewCond(&u.mu)
	return u
}

func (u *unbounded) Put(ctx context.Context, c *event.Change) error {
	u.mu.Lock()
	u.items = append(u.items, c)
	u.mu.Unlock()
	u.cond.Signal()
	return nil
}

func (u *unbounded) Take(ctx context.Context) (*event.Change, error) {
	return u.wait(ctx, 0, false)
}

func (u *unbounded) Poll(ctx context.Context, timeout time.Duration) (*event.Change, bool, error) {
	c, err := u.wait(ctx, timeout, true)
	return c, c != nil, err
}

func (u *unbounded) wait(ctx context.Context, timeout time.Duration, timed bool) (*event.Change, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Take the lock so the broadcast cannot fall between the
			// consumer's ctx check and its cond.Wait.
			u.mu.Lock()
			u.cond.Broadcast()
			u.mu.Unlock()
		case <-done:
		}
	}()

	var deadline time.Time
	if timed {
		deadline = time.Now().Add(timeout)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for len(u.items) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if timed && !time.Now().Before(deadline) {
			return nil, nil
		}
		if timed {
			// Cond has no native timed wait; sleep in steps of at most
			// 10ms, bounded by the remaining deadline, and recheck. Put's
			// Signal does not wake this sleep, so a new item is noticed
			// at the next step.
			remaining := time.Until(deadline)
			u.mu.Unlock()
			time.Sleep(minDuration(remaining, 10*time.Millisecond))
			u.mu.Lock()
			continue
		}
		u.cond.Wait()
	}
	c := u.items[0]
	u.items = u.items[1:]
	return c, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
