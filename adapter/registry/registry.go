// Package registry contains the observer registry used by every notifying
// entity. A registry holds (observer, listener) pairs where the observer is
// only used for identity and liveness and the listener is held strongly.
//
// A registry is not safe for concurrent use. It is meant to be confined to the
// goroutine that delivers its notifications, and it stays consistent when
// that goroutine adds, removes or clears pairs from inside [Registry.ForEach].
package registry

import (
	"slices"
	"weak"
)

// Ref is the liveness capability of an observer.
type Ref interface {
	comparable
	// Alive reports whether the observer can still receive notifications.
	// Once false it must stay false.
	Alive() bool
}

type pair[O Ref, L comparable] struct {
	observer O
	listener L
	removed  bool
}

// Registry is a set of observer pairs with stable iteration.
type Registry[O Ref, L comparable] struct {
	pairs []*pair[O, L]
}

// New returns an empty registry.
func New[O Ref, L comparable]() *Registry[O, L] {
	return &Registry[O, L]{}
}

// Add registers the pair. Adding a pair that is already registered is a
// no-op. Pairs added during [Registry.ForEach] are first visited by the next
// call.
func (r *Registry[O, L]) Add(observer O, listener L) {
	if slices.ContainsFunc(r.pairs, func(p *pair[O, L]) bool {
		return p.observer == observer && p.listener == listener
	}) {
		return
	}
	r.pairs = append(r.pairs, &pair[O, L]{observer: observer, listener: listener})
}

// Remove unregisters the pair, if present.
func (r *Registry[O, L]) Remove(observer O, listener L) {
	r.removeFunc(func(p *pair[O, L]) bool {
		return p.observer == observer && p.listener == listener
	})
}

// RemoveByObserver unregisters every pair of the observer.
func (r *Registry[O, L]) RemoveByObserver(observer O) {
	r.removeFunc(func(p *pair[O, L]) bool {
		return p.observer == observer
	})
}

func (r *Registry[O, L]) removeFunc(match func(*pair[O, L]) bool) {
	r.pairs = slices.DeleteFunc(r.pairs, func(p *pair[O, L]) bool {
		if match(p) {
			p.removed = true
			return true
		}
		return false
	})
}

// Clear unregisters every pair. A [Registry.ForEach] in progress makes no
// further calls.
func (r *Registry[O, L]) Clear() {
	for _, p := range r.pairs {
		p.removed = true
	}
	r.pairs = nil
}

// ForEach calls fn for every pair registered when the call started and not
// removed since. Pairs whose observer is no longer alive are dropped without
// being visited.
func (r *Registry[O, L]) ForEach(fn func(observer O, listener L)) {
	snapshot := slices.Clone(r.pairs)
	for _, p := range snapshot {
		if p.removed {
			continue
		}
		if !p.observer.Alive() {
			r.removeFunc(func(q *pair[O, L]) bool { return q == p })
			continue
		}
		fn(p.observer, p.listener)
	}
}

// Size returns the number of registered pairs, dead observers included until
// the next sweep.
func (r *Registry[O, L]) Size() int {
	return len(r.pairs)
}

// IsEmpty reports whether no pair is registered.
func (r *Registry[O, L]) IsEmpty() bool {
	return len(r.pairs) == 0
}

// WeakRef is a [Ref] that dies when the garbage collector reclaims the
// observed value.
type WeakRef[T any] struct {
	p weak.Pointer[T]
}

// NewWeakRef returns a weak reference to v.
func NewWeakRef[T any](v *T) WeakRef[T] {
	return WeakRef[T]{p: weak.Make(v)}
}

// Alive implements [Ref].
func (w WeakRef[T]) Alive() bool {
	return w.p.Value() != nil
}
