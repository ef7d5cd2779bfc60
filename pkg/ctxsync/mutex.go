// Package ctxsync provides synchronization primitives whose blocking calls can
// be abandoned through a [context.Context].
package ctxsync

import (
	"context"
)

// NewMutex creates a new instance of Mutex.
func NewMutex() *Mutex {
	return &Mutex{
		held: make(chan struct{}, 1),
	}
}

// A Mutex is a mutual exclusion lock. Waiting for it can be cancelled.
type Mutex struct {
	held chan struct{}
}

// Lock locks the mutex with a context.Background()
func (m *Mutex) Lock() {
	_ = m.LockWithContext(context.Background())
}

// LockWithContext locks until Unlock is called or context is cancelled
func (m *Mutex) LockWithContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.held <- struct{}{}:
		return nil
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	select {
	case m.held <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	select {
	case <-m.held:
	default:
		panic("ctxsync: unlock of unlocked mutex")
	}
}
