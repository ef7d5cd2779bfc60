// Package arena hands out generation-checked handles. A handle stays alive
// until it is released or its arena is closed; a slot freed by one handle can
// be reused by another without the old handle coming back to life.
package arena

import (
	"errors"
	"sync"
)

// ErrClosed is returned when allocating from a closed arena.
var ErrClosed = errors.New("arena: closed")

type slot struct {
	gen  uint32
	live bool
}

// Arena owns a set of handles.
type Arena struct {
	mu     sync.Mutex
	slots  []slot
	free   []uint32
	live   int
	closed bool
}

// New returns an empty arena.
func New() *Arena {
	return &Arena{}
}

// Alloc returns a new live handle.
func (a *Arena) Alloc() (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Handle{}, ErrClosed
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}
	a.slots[idx].live = true
	a.live++
	return Handle{arena: a, index: idx, gen: a.slots[idx].gen}, nil
}

// Len returns the number of live handles.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Close releases every handle. Later allocations fail with [ErrClosed].
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	for n := range a.slots {
		if a.slots[n].live {
			a.slots[n].live = false
			a.slots[n].gen++
		}
	}
	a.live = 0
	a.free = nil
}

// Closed reports whether Close was called.
func (a *Arena) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Arena) alive(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.slots[h.index]
	return s.live && s.gen == h.gen
}

func (a *Arena) release(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return
	}
	s.live = false
	s.gen++
	a.live--
	if !a.closed {
		a.free = append(a.free, h.index)
	}
}

// Handle is a comparable reference to an arena slot. The zero Handle is never
// alive.
type Handle struct {
	arena *Arena
	index uint32
	gen   uint32
}

// Alive reports whether the handle was neither released nor outlived its
// arena.
func (h Handle) Alive() bool {
	if h.arena == nil {
		return false
	}
	return h.arena.alive(h)
}

// Release kills the handle. Releasing twice is a no-op.
func (h Handle) Release() {
	if h.arena == nil {
		return
	}
	h.arena.release(h)
}
