package ctxsync

import (
	"context"
	"sync"
)

// Cond is a condition variable whose waits can be cancelled. Unlike
// [sync.Cond] it only supports Broadcast.
//
// L must be held when changing the condition and when calling
// [Cond.WaitWithContext]. A Cond must not be copied after first use.
type Cond struct {
	// L is held while observing or changing the condition
	L sync.Locker

	mu     sync.Mutex
	notify chan struct{}
}

// NewCond returns a new Cond with Locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, notify: make(chan struct{})}
}

// WaitWithContext releases c.L and blocks until awoken by Broadcast or context
// cancellation. Reacquires c.L before returning. Should be used in a loop that
// checks the condition.
func (c *Cond) WaitWithContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// taken while c.L is held, so a Broadcast that follows a change of the
	// condition always closes the channel we wait on
	c.mu.Lock()
	notify := c.notify
	c.mu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-notify:
		return nil
	}
}

// Broadcast wakes all waiting goroutines, if any.
// The caller does not need to hold c.L.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}
