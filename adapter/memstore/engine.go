// Package memstore contains an in-memory implementation of [domain.Engine].
//
// Every commit publishes a new immutable state. States are kept while they
// are the latest one or pinned by a snapshot, so readers never see a write
// that happened after they pinned their version. A single write transaction
// can be open at a time, engine wide.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"github.com/vinicius-lino-figueiredo/liveview/pkg/ctxsync"
)

// Engine implements [domain.Engine].
type Engine struct {
	// writer is held from BeginWrite until Commit or Cancel
	writer *ctxsync.Mutex

	mu       sync.Mutex
	changed  *ctxsync.Cond
	latest   *state
	versions map[domain.Version]*state
	closed   bool

	comparer       domain.Comparer
	hasher         domain.Hasher
	matcher        domain.Matcher
	fieldNavigator domain.FieldNavigator
	useIndexes     bool
	logger         *slog.Logger
}

// NewEngine returns an empty engine at version 1.
func NewEngine(options ...Option) domain.Engine {
	comp := comparer.NewComparer()
	e := &Engine{
		writer:         ctxsync.NewMutex(),
		versions:       make(map[domain.Version]*state),
		comparer:       comp,
		hasher:         hasher.NewHasher(),
		matcher:        matcher.NewMatcher(matcher.WithComparer(comp)),
		fieldNavigator: fieldnavigator.NewFieldNavigator(),
		useIndexes:     true,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(e)
	}
	e.changed = ctxsync.NewCond(&e.mu)
	e.latest = newState()
	e.versions[e.latest.version] = e.latest
	return e
}

// Latest implements [domain.Engine].
func (e *Engine) Latest() domain.Version {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest.version
}

// Snapshot implements [domain.Engine].
func (e *Engine) Snapshot(v domain.Version) (domain.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", domain.ErrInvalidState)
	}
	st, ok := e.versions[v]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrVersionReleased, v)
	}
	return e.pin(st), nil
}

// PinLatest implements [domain.Engine].
func (e *Engine) PinLatest() (domain.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", domain.ErrInvalidState)
	}
	return e.pin(e.latest), nil
}

// pin must be called with e.mu held.
func (e *Engine) pin(st *state) *snapshot {
	st.refs++
	return &snapshot{reader: reader{e: e, st: st}}
}

func (e *Engine) release(st *state) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st.refs--
	if st.refs == 0 && st != e.latest {
		delete(e.versions, st.version)
		e.logger.Debug("version released", slog.Uint64("version", uint64(st.version)))
	}
}

// Retained returns the number of versions that can still be pinned.
func (e *Engine) Retained() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.versions)
}

// BeginWrite implements [domain.Engine].
func (e *Engine) BeginWrite(ctx context.Context) (domain.WriteTx, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("%w: engine closed", domain.ErrInvalidState)
	}
	if err := e.writer.LockWithContext(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.writer.Unlock()
		return nil, fmt.Errorf("%w: engine closed", domain.ErrInvalidState)
	}
	base := e.latest
	e.mu.Unlock()

	return newWriteTx(e, base), nil
}

func (e *Engine) publish(st *state) domain.Version {
	e.mu.Lock()
	prev := e.latest
	st.version = prev.version + 1
	st.frozen = true
	e.latest = st
	e.versions[st.version] = st
	if prev.refs == 0 {
		delete(e.versions, prev.version)
	}
	e.mu.Unlock()

	e.changed.Broadcast()
	e.logger.Debug("version committed", slog.Uint64("version", uint64(st.version)))
	return st.version
}

// WaitForChange implements [domain.Engine].
func (e *Engine) WaitForChange(ctx context.Context, since domain.Version) (domain.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for !e.closed && !e.latest.version.After(since) {
		if err := e.changed.WaitWithContext(ctx); err != nil {
			return e.latest.version, err
		}
	}
	if e.closed {
		return e.latest.version, fmt.Errorf("%w: engine closed", domain.ErrInvalidState)
	}
	return e.latest.version, nil
}

// Close implements [domain.Engine]. Snapshots already pinned stay readable.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.changed.Broadcast()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
