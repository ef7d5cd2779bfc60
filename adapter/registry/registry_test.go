package registry

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/liveview/pkg/arena"
)

type listener struct {
	calls int
}

type RegistryTestSuite struct {
	suite.Suite
	arena *arena.Arena
	r     *Registry[arena.Handle, *listener]
}

func (s *RegistryTestSuite) SetupTest() {
	s.arena = arena.New()
	s.r = New[arena.Handle, *listener]()
}

func (s *RegistryTestSuite) observer() arena.Handle {
	h, err := s.arena.Alloc()
	s.Require().NoError(err)
	return h
}

func (s *RegistryTestSuite) TestAdd() {
	o := s.observer()
	l := &listener{}

	s.True(s.r.IsEmpty())
	s.r.Add(o, l)
	s.Equal(1, s.r.Size())

	// same identity, no change
	s.r.Add(o, l)
	s.Equal(1, s.r.Size())

	s.r.Add(o, &listener{})
	s.r.Add(s.observer(), l)
	s.Equal(3, s.r.Size())
	s.False(s.r.IsEmpty())
}

func (s *RegistryTestSuite) TestRemove() {
	o := s.observer()
	l1, l2 := &listener{}, &listener{}
	s.r.Add(o, l1)
	s.r.Add(o, l2)

	s.r.Remove(o, l1)
	s.Equal(1, s.r.Size())

	// unknown pair
	s.r.Remove(s.observer(), l2)
	s.Equal(1, s.r.Size())

	s.r.Remove(o, l2)
	s.True(s.r.IsEmpty())
}

func (s *RegistryTestSuite) TestRemoveByObserver() {
	o1, o2 := s.observer(), s.observer()
	s.r.Add(o1, &listener{})
	s.r.Add(o1, &listener{})
	s.r.Add(o2, &listener{})

	s.r.RemoveByObserver(o1)
	s.Equal(1, s.r.Size())
}

func (s *RegistryTestSuite) TestClear() {
	s.r.Add(s.observer(), &listener{})
	s.r.Add(s.observer(), &listener{})
	s.r.Clear()
	s.True(s.r.IsEmpty())
}

func (s *RegistryTestSuite) TestForEach() {
	l1, l2 := &listener{}, &listener{}
	s.r.Add(s.observer(), l1)
	s.r.Add(s.observer(), l2)

	var order []*listener
	s.r.ForEach(func(_ arena.Handle, l *listener) {
		order = append(order, l)
	})
	s.Equal([]*listener{l1, l2}, order)
}

// Dead observers are dropped during the sweep, before their listener is
// called.
func (s *RegistryTestSuite) TestForEachDropsDeadObservers() {
	dead, live := s.observer(), s.observer()
	ld, ll := &listener{}, &listener{}
	s.r.Add(dead, ld)
	s.r.Add(live, ll)

	dead.Release()
	s.Equal(2, s.r.Size())

	s.r.ForEach(func(_ arena.Handle, l *listener) { l.calls++ })
	s.Zero(ld.calls)
	s.Equal(1, ll.calls)
	s.Equal(1, s.r.Size())
}

func (s *RegistryTestSuite) TestForEachCanAdd() {
	o := s.observer()
	added := &listener{}
	s.r.Add(o, &listener{})

	visited := 0
	s.r.ForEach(func(o arena.Handle, _ *listener) {
		visited++
		s.r.Add(o, added)
	})
	s.Equal(1, visited)
	s.Equal(2, s.r.Size())

	visited = 0
	s.r.ForEach(func(arena.Handle, *listener) { visited++ })
	s.Equal(2, visited)
}

// An observer removing itself must not be called again in the same pass,
// and the rest of the pass still runs.
func (s *RegistryTestSuite) TestForEachCanRemove() {
	o1, o2 := s.observer(), s.observer()
	first, second, other := &listener{}, &listener{}, &listener{}
	s.r.Add(o1, first)
	s.r.Add(o1, second)
	s.r.Add(o2, other)

	s.NotPanics(func() {
		s.r.ForEach(func(o arena.Handle, l *listener) {
			l.calls++
			if o == o1 {
				s.r.RemoveByObserver(o1)
			}
		})
	})

	s.Equal(1, first.calls)
	s.Zero(second.calls)
	s.Equal(1, other.calls)
	s.Equal(1, s.r.Size())
}

func (s *RegistryTestSuite) TestForEachCanClear() {
	l1, l2 := &listener{}, &listener{}
	s.r.Add(s.observer(), l1)
	s.r.Add(s.observer(), l2)

	s.r.ForEach(func(_ arena.Handle, l *listener) {
		l.calls++
		s.r.Clear()
	})

	s.Equal(1, l1.calls)
	s.Zero(l2.calls)
	s.True(s.r.IsEmpty())
}

// A panicking listener leaves the registry usable.
func (s *RegistryTestSuite) TestForEachPanic() {
	l := &listener{}
	s.r.Add(s.observer(), l)

	s.Panics(func() {
		s.r.ForEach(func(arena.Handle, *listener) { panic("boom") })
	})

	s.r.ForEach(func(_ arena.Handle, l *listener) { l.calls++ })
	s.Equal(1, l.calls)
}

type owner struct {
	name string
}

func (s *RegistryTestSuite) TestWeakRef() {
	r := New[WeakRef[owner], *listener]()
	l := &listener{}

	o := &owner{name: "view"}
	ref := NewWeakRef(o)
	s.True(ref.Alive())
	s.Equal(ref, NewWeakRef(o))

	r.Add(ref, l)
	r.Add(NewWeakRef(o), l)
	s.Equal(1, r.Size())

	r.ForEach(func(_ WeakRef[owner], l *listener) { l.calls++ })
	s.Equal(1, l.calls)
	runtime.KeepAlive(o)

	o = nil
	s.Eventually(func() bool {
		runtime.GC()
		return !ref.Alive()
	}, time.Second, 10*time.Millisecond)

	r.ForEach(func(_ WeakRef[owner], l *listener) { l.calls++ })
	s.Equal(1, l.calls)
	s.True(r.IsEmpty())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
