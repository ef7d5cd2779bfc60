// Package session contains the live view layer: sessions owning the version
// they read, results that follow that version, and the change listeners
// attached to them.
//
// A session reads a single committed version of an engine. Results created
// from it are evaluated lazily and then pinned to the version they were
// evaluated at. Starting a write transaction detaches every result, freezing
// it at the version read before the transaction. A refresh, or a cycle of the
// session looper, re-pins them to the latest version and calls the listeners
// of everything that changed.
//
// Sessions are confined to one goroutine. When a [notifier.Looper] is given,
// that goroutine is the looper's.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/decoder"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/descriptor"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/persistence"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/registry"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"github.com/vinicius-lino-figueiredo/liveview/pkg/arena"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vinicius-lino-figueiredo/liveview/adapter/session"

// Session is one logical connection to an engine.
type Session struct {
	id     uuid.UUID
	engine domain.Engine

	looper   *notifier.Looper
	notifier *notifier.Notifier
	arena    *arena.Arena

	snap   domain.Snapshot
	tx     domain.WriteTx
	closed bool
	// versions read before a commit that detached results are still pinned
	// at, until the next re-pin
	retained map[domain.Version]domain.Snapshot
	// bound targets must be prepared again even if the version did not move
	stale bool
	// the next cycle was requested by a commit of this session
	localPending bool
	autoRefresh  bool

	listeners *registry.Registry[Observer, Callback[*Session]]
	notified  domain.Version

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	waitMu     sync.Mutex
	waitCancel context.CancelFunc
	waitStop   bool

	decoder     domain.Decoder
	persistence domain.Persistence
	comparer    domain.Comparer
	metrics     *notifier.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Open starts a session reading the latest version of engine.
func Open(engine domain.Engine, options ...Option) (*Session, error) {
	s := &Session{
		id:          uuid.New(),
		engine:      engine,
		arena:       arena.New(),
		autoRefresh: true,
		listeners:   registry.New[Observer, Callback[*Session]](),
		decoder:     decoder.NewDecoder(),
		comparer:    comparer.NewComparer(),
		tracer:      otel.Tracer(tracerName),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(s)
	}
	s.logger = s.logger.With(slog.String("session", s.id.String()))
	if s.persistence == nil {
		s.persistence = persistence.NewPersistence(persistence.WithLogger(s.logger))
	}

	snap, err := engine.PinLatest()
	if err != nil {
		return nil, err
	}
	s.snap = snap
	s.notified = snap.Version()

	opts := []notifier.Option{notifier.WithLogger(s.logger)}
	if s.metrics != nil {
		opts = append(opts, notifier.WithMetrics(s.metrics))
	}
	s.notifier = notifier.New(s.looper, s.tick, opts...)
	s.notifier.Bind(strongTarget{s})

	if s.looper != nil {
		s.watch()
	}

	s.logger.Debug("session opened", slog.Uint64("version", uint64(snap.Version())))
	return s, nil
}

// watch turns commits of any session into notification cycles.
func (s *Session) watch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	s.watchDone = make(chan struct{})

	since := s.snap.Version()
	looperDone := s.looper.Done()
	go func() {
		select {
		case <-looperDone:
			cancel()
		case <-ctx.Done():
		}
	}()
	go func() {
		defer close(s.watchDone)
		for {
			v, err := s.engine.WaitForChange(ctx, since)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("stopped watching for changes", slog.Any("error", err))
				}
				return
			}
			since = v
			if err := s.notifier.Schedule(false); err != nil {
				s.logger.Warn("cannot schedule notification cycle", slog.Any("error", err))
				return
			}
		}
	}()
}

func (s *Session) tick() {
	if s.closed || s.tx != nil {
		return
	}
	if !s.localPending && !s.autoRefresh {
		return
	}
	s.localPending = false
	if err := s.repin(context.Background(), "liveview.cycle"); err != nil {
		s.logger.Warn("cannot re-pin session", slog.Any("error", err))
	}
}

// repin moves the session to the latest version and delivers notifications
// for it. Listener panics are raised again once every target was notified.
func (s *Session) repin(ctx context.Context, spanName string) error {
	_, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("liveview.session", s.id.String()),
	))
	defer span.End()

	snap, err := s.engine.PinLatest()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if snap.Version() == s.snap.Version() {
		snap.Release()
	} else {
		s.snap.Release()
		s.snap = snap
	}

	v := s.snap.Version()
	span.SetAttributes(attribute.Int64("liveview.version", int64(v)))
	defer s.releaseRetained()
	if s.stale {
		s.notifier.Invalidate()
		s.stale = false
	}
	s.logger.Debug("session re-pinned", slog.Uint64("version", uint64(v)))
	s.notifier.Deliver(v)
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return fmt.Errorf("%w: session is closed", domain.ErrInvalidState)
	}
	return nil
}

func (s *Session) writeTx() (domain.WriteTx, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, fmt.Errorf("%w: not in a write transaction", domain.ErrInvalidState)
	}
	return s.tx, nil
}

// reader returns what the session currently reads: its write transaction if
// one is open, its pinned version otherwise.
func (s *Session) reader() domain.Reader {
	if s.tx != nil {
		return s.tx
	}
	return s.snap
}

// ID returns the session identifier used in logs and spans.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Version returns the committed version the session reads.
func (s *Session) Version() domain.Version {
	return s.snap.Version()
}

// IsInTransaction reports whether a write transaction is open.
func (s *Session) IsInTransaction() bool {
	return s.tx != nil
}

// IsClosed reports whether the session was closed.
func (s *Session) IsClosed() bool {
	return s.closed
}

// IsAutoRefresh reports whether commits of other sessions re-pin this one.
func (s *Session) IsAutoRefresh() bool {
	return s.autoRefresh && s.notifier.CanDeliver()
}

// SetAutoRefresh changes whether commits of other sessions re-pin this one.
// It can only be enabled on sessions with a looper.
func (s *Session) SetAutoRefresh(b bool) error {
	if err := s.check(); err != nil {
		return err
	}
	if b && !s.notifier.CanDeliver() {
		return fmt.Errorf("%w: auto refresh needs a looper", domain.ErrDeliveryUnsupported)
	}
	s.autoRefresh = b
	return nil
}

// BeginTransaction opens a write transaction, waiting for the engine writer
// lock. Every result of the session is detached before it returns.
func (s *Session) BeginTransaction(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx != nil {
		return fmt.Errorf("%w: already in a write transaction", domain.ErrInvalidState)
	}

	tx, err := s.engine.BeginWrite(ctx)
	if err != nil {
		return err
	}

	s.notifier.Each(func(t notifier.Target) {
		if d, ok := t.(detacher); ok {
			d.detach()
		}
	})
	s.tx = tx
	s.stale = true
	s.logger.Debug("write transaction started", slog.Uint64("base", uint64(tx.Base())))
	return nil
}

// CommitTransaction publishes the writes. Results stay detached until the
// next refresh or looper cycle; on a looper that cycle runs before any task
// already queued.
func (s *Session) CommitTransaction(ctx context.Context) (domain.Version, error) {
	tx, err := s.writeTx()
	if err != nil {
		return 0, err
	}

	_, span := s.tracer.Start(ctx, "liveview.commit", trace.WithAttributes(
		attribute.String("liveview.session", s.id.String()),
	))
	defer span.End()

	s.tx = nil
	v, err := tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int64("liveview.version", int64(v)))

	s.logger.Debug("write transaction committed", slog.Uint64("version", uint64(v)))
	defer s.scheduleLocal()

	snap, err := s.engine.PinLatest()
	if err != nil {
		// the writes are published, the session keeps reading its old
		// version until the next re-pin
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return v, fmt.Errorf("version %d committed but not pinned: %w", v, err)
	}
	s.retain(s.snap)
	s.snap = snap
	return v, nil
}

// pinHolder is implemented by targets that keep reading the version they are
// pinned at after their session moved past it.
type pinHolder interface {
	// held returns that version, and false if nothing is held.
	held() (domain.Version, bool)
}

// retain keeps old readable while bound results are held at its version,
// and releases the retained versions no result holds anymore.
func (s *Session) retain(old domain.Snapshot) {
	used := make(map[domain.Version]bool)
	s.notifier.Each(func(t notifier.Target) {
		if p, ok := t.(pinHolder); ok {
			if v, ok := p.held(); ok {
				used[v] = true
			}
		}
	})

	for v, snap := range s.retained {
		if !used[v] {
			snap.Release()
			delete(s.retained, v)
		}
	}
	if _, ok := s.retained[old.Version()]; ok || !used[old.Version()] {
		old.Release()
		return
	}
	if s.retained == nil {
		s.retained = make(map[domain.Version]domain.Snapshot)
	}
	s.retained[old.Version()] = old
}

func (s *Session) releaseRetained() {
	for _, snap := range s.retained {
		snap.Release()
	}
	s.retained = nil
}

// CancelTransaction discards the writes. Results stay detached until the next
// refresh or looper cycle.
func (s *Session) CancelTransaction() error {
	tx, err := s.writeTx()
	if err != nil {
		return err
	}
	s.tx = nil
	if err := tx.Cancel(); err != nil {
		return err
	}
	s.logger.Debug("write transaction cancelled")
	s.scheduleLocal()
	return nil
}

func (s *Session) scheduleLocal() {
	if !s.notifier.CanDeliver() {
		return
	}
	s.localPending = true
	if err := s.notifier.Schedule(true); err != nil {
		s.logger.Warn("cannot schedule notification cycle", slog.Any("error", err))
	}
}

// Refresh re-pins the session and its results to the latest version and
// calls the listeners of everything that changed, on the calling goroutine.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx != nil {
		return fmt.Errorf("%w: cannot refresh inside a write transaction", domain.ErrInvalidState)
	}
	return s.repin(ctx, "liveview.refresh")
}

// WaitForChange blocks until a version newer than the one the session reads
// is committed. It returns false without error if [Session.StopWaitForChange]
// was called. The session is not re-pinned.
func (s *Session) WaitForChange(ctx context.Context) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}

	s.waitMu.Lock()
	if s.waitStop {
		s.waitStop = false
		s.waitMu.Unlock()
		return false, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.waitCancel = cancel
	s.waitMu.Unlock()

	_, err := s.engine.WaitForChange(ctx, s.snap.Version())

	s.waitMu.Lock()
	stopped := s.waitStop
	s.waitStop, s.waitCancel = false, nil
	s.waitMu.Unlock()

	if stopped {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StopWaitForChange makes the running [Session.WaitForChange], or the next
// one, return false. It can be called from any goroutine.
func (s *Session) StopWaitForChange() {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	s.waitStop = true
	if s.waitCancel != nil {
		s.waitCancel()
	}
}

// Close cancels the open write transaction, if any, and invalidates
// everything created by the session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.tx != nil {
		err = s.tx.Cancel()
		s.tx = nil
	}
	if s.watchCancel != nil {
		s.watchCancel()
		<-s.watchDone
	}
	s.StopWaitForChange()

	s.notifier.UnbindAll()
	s.listeners.Clear()
	s.arena.Close()
	s.releaseRetained()
	s.snap.Release()

	s.logger.Debug("session closed")
	return err
}

// NewObserver returns an observer that lives until it is released or the
// session is closed.
func (s *Session) NewObserver() (arena.Handle, error) {
	if err := s.check(); err != nil {
		return arena.Handle{}, err
	}
	return s.arena.Alloc()
}

func (s *Session) canListen() error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.notifier.CanDeliver() {
		return fmt.Errorf("%w: listeners need a session with a looper", domain.ErrDeliveryUnsupported)
	}
	return nil
}

// AddListener calls l every time the session moves to a new version.
func (s *Session) AddListener(observer Observer, l *Listener[*Session]) error {
	if observer == nil || l == nil {
		return fmt.Errorf("%w: nil observer or listener", domain.ErrInvalidArgument)
	}
	if err := s.canListen(); err != nil {
		return err
	}
	s.listeners.Add(observer, l)
	return nil
}

// RemoveListener removes a listener added by [Session.AddListener].
func (s *Session) RemoveListener(observer Observer, l *Listener[*Session]) error {
	if err := s.check(); err != nil {
		return err
	}
	s.listeners.Remove(observer, l)
	return nil
}

// RemoveAllListeners removes every session listener.
func (s *Session) RemoveAllListeners() error {
	if err := s.check(); err != nil {
		return err
	}
	s.listeners.Clear()
	return nil
}

func (s *Session) prepare(v domain.Version) bool {
	if !v.After(s.notified) {
		return false
	}
	s.notified = v
	return !s.listeners.IsEmpty()
}

func (s *Session) deliver() {
	var p notifier.Panics
	s.listeners.ForEach(func(_ Observer, l Callback[*Session]) {
		p.Run(func() { l.call(s, ChangeSet{}) })
	})
	p.Repanic()
}

func (s *Session) dead() bool {
	return s.closed
}

// Schema returns the schema of a table at the version the session reads.
func (s *Session) Schema(table string) (domain.TableSchema, error) {
	if err := s.check(); err != nil {
		return domain.TableSchema{}, err
	}
	ts, ok := s.reader().TableSchema(table)
	if !ok {
		return domain.TableSchema{}, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	return ts, nil
}

// SortDescriptor validates fields of table for [Results.Sort] against the
// schema the session reads.
func (s *Session) SortDescriptor(table string, fields []string, orders []domain.SortOrder) (descriptor.Descriptor, error) {
	if err := s.check(); err != nil {
		return descriptor.Descriptor{}, err
	}
	return descriptor.ForSort(s.reader(), table, fields, orders)
}

// DistinctDescriptor validates fields of table for [Results.Distinct].
func (s *Session) DistinctDescriptor(table string, fields ...string) (descriptor.Descriptor, error) {
	if err := s.check(); err != nil {
		return descriptor.Descriptor{}, err
	}
	return descriptor.ForDistinct(s.reader(), table, fields...)
}

// CreateTable adds a table. It needs a write transaction.
func (s *Session) CreateTable(name string, specs ...domain.ColumnSpec) (domain.TableSchema, error) {
	tx, err := s.writeTx()
	if err != nil {
		return domain.TableSchema{}, err
	}
	return tx.CreateTable(name, specs...)
}

// AddColumn adds a column to an existing table. It needs a write
// transaction.
func (s *Session) AddColumn(table string, spec domain.ColumnSpec) (domain.Column, error) {
	tx, err := s.writeTx()
	if err != nil {
		return domain.Column{}, err
	}
	return tx.AddColumn(table, spec)
}

// AddSearchIndex indexes a column of table. It needs a write transaction.
func (s *Session) AddSearchIndex(table string, field string) error {
	tx, err := s.writeTx()
	if err != nil {
		return err
	}
	ts, ok := tx.TableSchema(table)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	col, ok := ts.Column(field)
	if !ok {
		return domain.ErrField{
			Kind:   domain.ErrAmbiguousField,
			Table:  table,
			Field:  field,
			Reason: "cannot find field",
		}
	}
	return tx.AddSearchIndex(table, col.ID)
}

// CreateObject appends an empty row to table. It needs a write transaction.
func (s *Session) CreateObject(table string) (*Object, error) {
	tx, err := s.writeTx()
	if err != nil {
		return nil, err
	}
	key, err := tx.CreateRow(table)
	if err != nil {
		return nil, err
	}
	return s.object(table, key), nil
}

// Object returns the row of table identified by key.
func (s *Session) Object(table string, key domain.RowKey) (*Object, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if _, ok := s.reader().TableSchema(table); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	if !s.reader().Exists(table, key) {
		return nil, fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, table, key)
	}
	return s.object(table, key), nil
}

// Import creates one row of table per JSON record read from r. It needs a
// write transaction.
func (s *Session) Import(ctx context.Context, table string, r io.Reader) (domain.RowSet, error) {
	tx, err := s.writeTx()
	if err != nil {
		return nil, err
	}
	return s.persistence.Import(ctx, tx, table, r)
}

// Export writes every row of table to w as JSON lines.
func (s *Session) Export(ctx context.Context, table string, w io.Writer) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.persistence.Export(ctx, s.reader(), table, w)
}

// Where starts a query over table.
func (s *Session) Where(table string) *QueryBuilder {
	return newQueryBuilder(s, table, nil)
}

// AllObjects returns every row of table.
func (s *Session) AllObjects(table string) (*Results, error) {
	return s.Where(table).FindAll()
}
