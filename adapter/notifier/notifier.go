// Package notifier delivers change notifications on the event loop that owns
// them.
//
// A [Notifier] keeps the targets bound to one session. Change signals coming
// from any goroutine are turned into notification cycles (ticks) queued on
// the owning [Looper]; several signals arriving before the cycle runs are
// merged into one. Each cycle calls back the session, which re-pins its
// views and then asks the notifier to [Notifier.Deliver] the new version.
package notifier

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Target is something listeners can be attached to.
type Target interface {
	// Prepare is called once every bound target observes v. It reports
	// whether the content changed since listeners were last called.
	Prepare(v domain.Version) bool
	// Notify calls the listeners of the target.
	Notify()
	// Closed reports whether the target can no longer deliver.
	Closed() bool
}

// minSweep is the number of bindings below which closed targets are only
// dropped by [Notifier.Deliver].
const minSweep = 64

type binding struct {
	target      Target
	delivered   domain.Version
	initialized bool
	removed     bool
}

// Notifier implements per-loop delivery for a session.
type Notifier struct {
	looper   *Looper
	tick     func()
	bindings []*binding
	index    map[Target]*binding
	// Bind drops closed targets once bindings reach this size
	sweepAt int

	mu      sync.Mutex
	pending bool

	metrics *Metrics
	logger  *slog.Logger
}

// New returns a notifier posting its cycles to looper. A nil looper means the
// owner has no event loop: deliveries only happen through explicit calls to
// [Notifier.Deliver]. tick is run on the looper for each cycle.
func New(looper *Looper, tick func(), options ...Option) *Notifier {
	n := &Notifier{
		looper:  looper,
		tick:    tick,
		index:   make(map[Target]*binding),
		sweepAt: minSweep,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(n)
	}
	return n
}

// CanDeliver reports whether cycles can be posted.
func (n *Notifier) CanDeliver() bool {
	return n.looper != nil && n.looper.Alive()
}

// Post runs fn on the owning loop.
func (n *Notifier) Post(fn func()) error {
	if n.looper == nil {
		return domain.ErrDeliveryUnsupported
	}
	return n.looper.Post(fn)
}

// Schedule requests a notification cycle. Requests made while a cycle is
// pending are merged into it. A front request runs before any other task
// already queued on the loop, even if a cycle was pending.
func (n *Notifier) Schedule(front bool) error {
	if n.looper == nil {
		return domain.ErrDeliveryUnsupported
	}

	n.mu.Lock()
	if n.pending && !front {
		n.mu.Unlock()
		if n.metrics != nil {
			n.metrics.Coalesced.Inc()
		}
		return nil
	}
	n.pending = true
	n.mu.Unlock()

	post := n.looper.Post
	if front {
		post = n.looper.PostFront
	}
	err := post(n.runTick)
	if err != nil {
		n.mu.Lock()
		n.pending = false
		n.mu.Unlock()
	}
	return err
}

// Pending reports whether a cycle is queued and not yet started.
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

func (n *Notifier) runTick() {
	n.mu.Lock()
	if !n.pending {
		// already handled by an earlier front cycle
		n.mu.Unlock()
		return
	}
	n.pending = false
	n.mu.Unlock()

	start := time.Now()
	if n.metrics != nil {
		n.metrics.Ticks.Inc()
		defer func() { n.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()
	}
	n.tick()
}

// Bind attaches a target. Binding twice is a no-op. A new target is
// considered never delivered to, so the next cycle prepares it whatever its
// version.
//
// Closed targets are dropped by Bind whenever the number of bindings doubled
// since the last sweep, so owners that never deliver do not keep them.
func (n *Notifier) Bind(t Target) {
	if _, ok := n.index[t]; ok {
		return
	}
	if len(n.bindings) >= n.sweepAt {
		n.sweep()
	}
	b := &binding{target: t}
	n.bindings = append(n.bindings, b)
	n.index[t] = b
}

func (n *Notifier) sweep() {
	n.bindings = slices.DeleteFunc(n.bindings, func(b *binding) bool {
		if !b.target.Closed() {
			return false
		}
		b.removed = true
		delete(n.index, b.target)
		return true
	})
	n.sweepAt = max(2*len(n.bindings), minSweep)
	n.logger.Debug("closed targets dropped", slog.Int("bound", len(n.bindings)))
}

// Unbind detaches a target. It is safe to call during delivery.
func (n *Notifier) Unbind(t Target) {
	b, ok := n.index[t]
	if !ok {
		return
	}
	delete(n.index, t)
	b.removed = true
	n.bindings = slices.DeleteFunc(n.bindings, func(x *binding) bool { return x == b })
}

// Bound reports whether t is attached.
func (n *Notifier) Bound(t Target) bool {
	_, ok := n.index[t]
	return ok
}

// Size returns the number of bound targets, closed ones included until they
// are dropped.
func (n *Notifier) Size() int {
	return len(n.bindings)
}

// Each calls fn for every bound target. Targets bound or unbound by fn do not
// change the targets visited.
func (n *Notifier) Each(fn func(Target)) {
	for _, b := range slices.Clone(n.bindings) {
		if !b.removed {
			fn(b.target)
		}
	}
}

// Invalidate makes the next [Notifier.Deliver] prepare every target, even if
// the version did not move.
func (n *Notifier) Invalidate() {
	for _, b := range n.bindings {
		b.initialized = false
	}
}

// UnbindAll detaches every target.
func (n *Notifier) UnbindAll() {
	for _, b := range n.bindings {
		b.removed = true
	}
	n.bindings = nil
	clear(n.index)
	n.sweepAt = minSweep
}

// Deliver notifies every bound target whose content changed at v. A target
// is never delivered the same or an older version twice. All targets are
// prepared before any listener runs, so listeners see every target at v.
//
// A panicking listener does not prevent other targets from being notified;
// the first panic is raised again once every target was visited, and the
// failing target still counts as delivered to.
func (n *Notifier) Deliver(v domain.Version) {
	snapshot := slices.Clone(n.bindings)

	due := make([]*binding, 0, len(snapshot))
	for _, b := range snapshot {
		if b.removed {
			continue
		}
		if b.target.Closed() {
			n.Unbind(b.target)
			continue
		}
		if b.initialized && !v.After(b.delivered) {
			continue
		}
		changed := b.target.Prepare(v)
		b.delivered, b.initialized = v, true
		if changed {
			due = append(due, b)
		}
	}

	var p Panics
	for _, b := range due {
		if b.removed || b.target.Closed() {
			continue
		}
		if n.metrics != nil {
			n.metrics.Deliveries.Inc()
		}
		p.Run(b.target.Notify)
	}
	n.logger.Debug("delivered",
		slog.Uint64("version", uint64(v)),
		slog.Int("targets", len(due)),
	)
	p.Repanic()
}

// Panics runs functions and keeps the first panic they raise, so that a
// failing listener does not starve the ones after it.
type Panics struct {
	value  any
	caught bool
}

// Run calls fn, recovering from its panic.
func (p *Panics) Run(fn func()) {
	defer func() {
		if r := recover(); r != nil && !p.caught {
			p.value, p.caught = r, true
		}
	}()
	fn()
}

// Repanic raises the first recovered panic, if any.
func (p *Panics) Repanic() {
	if p.caught {
		panic(p.value)
	}
}
