package session

import (
	"weak"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// target is what sessions, results and objects implement to be bound to the
// session notifier.
type target interface {
	// prepare observes v and reports whether listeners must be called.
	prepare(v domain.Version) bool
	// deliver calls the listeners.
	deliver()
	// dead reports whether the target can no longer deliver.
	dead() bool
}

// detacher is implemented by targets that freeze when a write transaction
// starts.
type detacher interface {
	detach()
}

// strongTarget implements [notifier.Target] for a target kept alive by its
// binding.
type strongTarget struct {
	t target
}

func (s strongTarget) Prepare(v domain.Version) bool { return s.t.prepare(v) }
func (s strongTarget) Notify()                       { s.t.deliver() }
func (s strongTarget) Closed() bool                  { return s.t.dead() }

// weakTarget implements [notifier.Target] without keeping the value alive.
// Once the value is collected the target reports itself closed and the
// notifier drops it.
type weakTarget[T any, P interface {
	*T
	target
}] struct {
	p weak.Pointer[T]
}

func newWeakTarget[T any, P interface {
	*T
	target
}](v P) *weakTarget[T, P] {
	return &weakTarget[T, P]{p: weak.Make((*T)(v))}
}

func (w *weakTarget[T, P]) get() P {
	return P(w.p.Value())
}

// Prepare implements [notifier.Target].
func (w *weakTarget[T, P]) Prepare(v domain.Version) bool {
	t := w.get()
	if t == nil {
		return false
	}
	return t.prepare(v)
}

// Notify implements [notifier.Target].
func (w *weakTarget[T, P]) Notify() {
	if t := w.get(); t != nil {
		t.deliver()
	}
}

// Closed implements [notifier.Target].
func (w *weakTarget[T, P]) Closed() bool {
	t := w.get()
	return t == nil || t.dead()
}

func (w *weakTarget[T, P]) detach() {
	t := w.get()
	if t == nil {
		return
	}
	if d, ok := any(t).(detacher); ok {
		d.detach()
	}
}

func (w *weakTarget[T, P]) held() (domain.Version, bool) {
	t := w.get()
	if t == nil {
		return 0, false
	}
	if h, ok := any(t).(pinHolder); ok {
		return h.held()
	}
	return 0, false
}
