package session

import "github.com/vinicius-lino-figueiredo/liveview/domain"

// Observer owns listener registrations. It is only used for identity and
// liveness: once it stops being alive its listeners are dropped. Both
// [arena.Handle] and [registry.WeakRef] are observers.
//
// [arena.Handle]: github.com/vinicius-lino-figueiredo/liveview/pkg/arena.Handle
// [registry.WeakRef]: github.com/vinicius-lino-figueiredo/liveview/adapter/registry.WeakRef
type Observer interface {
	Alive() bool
}

// Callback is implemented by [Listener] and [ChangeListener].
type Callback[T any] interface {
	call(T, ChangeSet)
}

// Listener is called with the changed value. Listeners are compared by
// pointer, so the same *Listener must be used to remove it.
type Listener[T any] struct {
	fn func(T)
}

// NewListener returns a listener calling fn.
func NewListener[T any](fn func(T)) *Listener[T] {
	return &Listener[T]{fn: fn}
}

func (l *Listener[T]) call(v T, _ ChangeSet) {
	l.fn(v)
}

// ChangeListener is called with the changed value and the description of
// what changed.
type ChangeListener[T any] struct {
	fn func(T, ChangeSet)
}

// NewChangeListener returns a listener calling fn.
func NewChangeListener[T any](fn func(T, ChangeSet)) *ChangeListener[T] {
	return &ChangeListener[T]{fn: fn}
}

func (l *ChangeListener[T]) call(v T, cs ChangeSet) {
	l.fn(v, cs)
}

// ChangeSet describes how results changed between two deliveries. Deletions
// are positions in the previous rows; Insertions and Modifications are
// positions in the new ones. Initial is set on the first delivery of results
// that were never loaded before, in which case every row is an insertion.
type ChangeSet struct {
	Insertions    []int
	Deletions     []int
	Modifications []int
	Initial       bool
}

// Empty reports whether nothing changed.
func (cs ChangeSet) Empty() bool {
	return !cs.Initial && len(cs.Insertions) == 0 && len(cs.Deletions) == 0 && len(cs.Modifications) == 0
}

// diff compares two materializations. modified reports whether a row kept in
// both was written since the old one was taken.
func diff(old, current domain.RowSet, modified func(domain.RowKey) bool) ChangeSet {
	var cs ChangeSet

	kept := make(map[domain.RowKey]struct{}, len(current))
	for _, k := range current {
		kept[k] = struct{}{}
	}
	before := make(map[domain.RowKey]struct{}, len(old))
	for n, k := range old {
		before[k] = struct{}{}
		if _, ok := kept[k]; !ok {
			cs.Deletions = append(cs.Deletions, n)
		}
	}
	for n, k := range current {
		if _, ok := before[k]; !ok {
			cs.Insertions = append(cs.Insertions, n)
			continue
		}
		if modified(k) {
			cs.Modifications = append(cs.Modifications, n)
		}
	}
	return cs
}

func initial(rows domain.RowSet) ChangeSet {
	cs := ChangeSet{Initial: true, Insertions: make([]int, len(rows))}
	for n := range rows {
		cs.Insertions[n] = n
	}
	return cs
}
