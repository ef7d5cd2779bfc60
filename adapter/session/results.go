package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/descriptor"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/registry"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"github.com/vinicius-lino-figueiredo/liveview/pkg/arena"
)

var navigator = fieldnavigator.NewFieldNavigator()

// Mode tells whether results were evaluated.
type Mode uint8

// Result modes.
const (
	ModeQuery Mode = iota + 1
	ModeMaterialized
)

func (m Mode) String() string {
	switch m {
	case ModeQuery:
		return "Query"
	case ModeMaterialized:
		return "Materialized"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Results is a live view over the rows matching a query. It is evaluated the
// first time its rows are needed and then follows the version of its session.
//
// Results are detached while their session is in a write transaction: they
// keep the rows they had when it started, or the rows found the first time
// they are evaluated inside it.
type Results struct {
	session *Session
	handle  arena.Handle
	query   domain.Query

	rows     domain.RowSet
	loaded   bool
	pinned   domain.Version
	detached bool
	bornInTx bool
	snapshot bool
	// incremented every time rows are replaced
	gen uint64
	// rows before the first delete made through the results since the last
	// re-pin
	previous domain.RowSet

	listeners *registry.Registry[Observer, Callback[*Results]]
	changes   ChangeSet
}

func (s *Session) newResults(q domain.Query) (*Results, error) {
	h, err := s.arena.Alloc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
	}
	r := &Results{
		session:   s,
		handle:    h,
		query:     q,
		pinned:    s.Version(),
		detached:  s.tx != nil,
		bornInTx:  s.tx != nil,
		listeners: registry.New[Observer, Callback[*Results]](),
	}
	runtime.AddCleanup(r, func(h arena.Handle) { h.Release() }, h)
	s.notifier.Bind(newWeakTarget(r))
	return r, nil
}

func (s *Session) newSnapshot(q domain.Query, rows domain.RowSet, pinned domain.Version) (*Results, error) {
	h, err := s.arena.Alloc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
	}
	r := &Results{
		session:   s,
		handle:    h,
		query:     q,
		rows:      rows,
		loaded:    true,
		pinned:    pinned,
		detached:  true,
		snapshot:  true,
		listeners: registry.New[Observer, Callback[*Results]](),
	}
	runtime.AddCleanup(r, func(h arena.Handle) { h.Release() }, h)
	return r, nil
}

func (r *Results) check() error {
	if err := r.session.check(); err != nil {
		return err
	}
	if !r.handle.Alive() {
		return fmt.Errorf("%w: results are no longer valid", domain.ErrInvalidState)
	}
	return nil
}

// source is the reader the rows are evaluated against.
func (r *Results) source() domain.Reader {
	s := r.session
	if r.bornInTx && s.tx != nil {
		return s.tx
	}
	if v, ok := r.held(); ok {
		if snap, ok := s.retained[v]; ok {
			return snap
		}
	}
	return s.snap
}

// held implements pinHolder. Detached results keep reading the version they
// were loaded at after a commit moved their session past it.
func (r *Results) held() (domain.Version, bool) {
	if !r.loaded || !r.detached || r.bornInTx || r.snapshot {
		return 0, false
	}
	return r.pinned, true
}

func (r *Results) load(ctx context.Context) error {
	if err := r.check(); err != nil {
		return err
	}
	if r.loaded {
		return nil
	}
	rows, err := r.source().Evaluate(ctx, r.query)
	if err != nil {
		return err
	}
	r.rows, r.loaded = rows, true
	r.pinned = r.session.Version()
	if r.session.tx == nil {
		r.detached = false
	}
	return nil
}

// Table returns the queried table.
func (r *Results) Table() string {
	return r.query.Table
}

// Load evaluates the results if they were not yet.
func (r *Results) Load(ctx context.Context) error {
	return r.load(ctx)
}

// IsLoaded reports whether the results were evaluated.
func (r *Results) IsLoaded() bool {
	return r.loaded
}

// Mode returns [ModeMaterialized] once the results were evaluated.
func (r *Results) Mode() Mode {
	if r.loaded {
		return ModeMaterialized
	}
	return ModeQuery
}

// IsDetached reports whether the results are frozen at an older version
// than their session's because of a write transaction.
func (r *Results) IsDetached() bool {
	return r.detached
}

// IsSnapshot reports whether the results were created by
// [Results.CreateSnapshot].
func (r *Results) IsSnapshot() bool {
	return r.snapshot
}

// IsValid reports whether the results can still be used.
func (r *Results) IsValid() bool {
	return r.check() == nil
}

// Version returns the version the results are pinned to.
func (r *Results) Version() domain.Version {
	return r.pinned
}

// Size evaluates the results if needed and returns the number of rows.
func (r *Results) Size() (int, error) {
	if err := r.load(context.Background()); err != nil {
		return 0, err
	}
	return len(r.rows), nil
}

// Keys returns the keys of the rows, in order.
func (r *Results) Keys() (domain.RowSet, error) {
	if err := r.load(context.Background()); err != nil {
		return nil, err
	}
	return r.rows.Clone(), nil
}

// Get returns the i-th row.
func (r *Results) Get(i int) (*Object, error) {
	if err := r.load(context.Background()); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(r.rows) {
		return nil, fmt.Errorf("%w: index %d, size %d", domain.ErrOutOfRange, i, len(r.rows))
	}
	return r.session.object(r.query.Table, r.rows[i]), nil
}

// First returns the first row.
func (r *Results) First() (*Object, error) {
	return r.Get(0)
}

// Last returns the last row.
func (r *Results) Last() (*Object, error) {
	size, err := r.Size()
	if err != nil {
		return nil, err
	}
	return r.Get(size - 1)
}

// IndexOf returns the position of o, or -1.
func (r *Results) IndexOf(o *Object) (int, error) {
	if err := r.load(context.Background()); err != nil {
		return -1, err
	}
	if o == nil || o.table != r.query.Table || o.session != r.session {
		return -1, nil
	}
	return r.rows.IndexOf(o.key), nil
}

// Contains reports whether o is part of the results.
func (r *Results) Contains(o *Object) (bool, error) {
	i, err := r.IndexOf(o)
	return i >= 0, err
}

// Where starts a query restricted to these results.
func (r *Results) Where() *QueryBuilder {
	return newQueryBuilder(r.session, r.query.Table, r)
}

// Sort returns new results sorted by d, pinned at the same version. The
// receiver is not changed.
func (r *Results) Sort(d descriptor.Descriptor) (*Results, error) {
	if d.Kind() != descriptor.KindSort {
		return nil, fmt.Errorf("%w: %s descriptor used to sort", domain.ErrInvalidArgument, d.Kind())
	}
	return r.derive(d)
}

// SortBy returns new results sorted by a single field.
func (r *Results) SortBy(field string, order domain.SortOrder) (*Results, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	d, err := descriptor.ForSortField(r.session.reader(), r.query.Table, field, order)
	if err != nil {
		return nil, err
	}
	return r.Sort(d)
}

// Distinct returns new results keeping the first row of each combination of
// the values in d. The receiver is not changed.
func (r *Results) Distinct(d descriptor.Descriptor) (*Results, error) {
	if d.Kind() != descriptor.KindDistinct {
		return nil, fmt.Errorf("%w: %s descriptor used for distinct", domain.ErrInvalidArgument, d.Kind())
	}
	return r.derive(d)
}

// DistinctBy returns new results without duplicated values of fields.
func (r *Results) DistinctBy(fields ...string) (*Results, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	d, err := descriptor.ForDistinct(r.session.reader(), r.query.Table, fields...)
	if err != nil {
		return nil, err
	}
	return r.Distinct(d)
}

func (r *Results) derive(d descriptor.Descriptor) (*Results, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if d.Table() != r.query.Table {
		return nil, fmt.Errorf("%w: descriptor of %s applied to %s", domain.ErrInvalidArgument, d.Table(), r.query.Table)
	}
	step, err := d.Step()
	if err != nil {
		return nil, err
	}

	q := r.query.Clone()
	q.Steps = append(q.Steps, step)
	if !r.loaded {
		return r.session.newResults(q)
	}

	// rows are taken from the receiver so both share its version
	rows, err := r.source().Evaluate(context.Background(), domain.Query{
		Table:  r.query.Table,
		Within: r.rows,
		Steps:  []domain.Step{step},
	})
	if err != nil {
		return nil, err
	}
	if r.snapshot {
		return r.session.newSnapshot(q, rows, r.pinned)
	}

	res, err := r.session.newResults(q)
	if err != nil {
		return nil, err
	}
	res.rows, res.loaded = rows, true
	res.pinned, res.detached, res.bornInTx = r.pinned, r.detached, r.bornInTx
	return res, nil
}

// CreateSnapshot returns results frozen at the current rows. Snapshots never
// follow later versions and cannot be listened to.
func (r *Results) CreateSnapshot() (*Results, error) {
	if err := r.load(context.Background()); err != nil {
		return nil, err
	}
	return r.session.newSnapshot(r.query.Clone(), r.rows.Clone(), r.pinned)
}

// AddListener calls l every time the rows change.
func (r *Results) AddListener(observer Observer, l *Listener[*Results]) error {
	if l == nil {
		return fmt.Errorf("%w: nil listener", domain.ErrInvalidArgument)
	}
	return r.addListener(observer, l)
}

// AddChangeListener calls l with a description of what changed every time
// the rows change.
func (r *Results) AddChangeListener(observer Observer, l *ChangeListener[*Results]) error {
	if l == nil {
		return fmt.Errorf("%w: nil listener", domain.ErrInvalidArgument)
	}
	return r.addListener(observer, l)
}

func (r *Results) addListener(observer Observer, l Callback[*Results]) error {
	if observer == nil {
		return fmt.Errorf("%w: nil observer", domain.ErrInvalidArgument)
	}
	if err := r.check(); err != nil {
		return err
	}
	if r.snapshot {
		return fmt.Errorf("%w: snapshots cannot be listened to", domain.ErrUnsupportedOperation)
	}
	if err := r.session.canListen(); err != nil {
		return err
	}
	r.listeners.Add(observer, l)
	return nil
}

// RemoveListener removes a listener added by [Results.AddListener] or
// [Results.AddChangeListener].
func (r *Results) RemoveListener(observer Observer, l Callback[*Results]) error {
	if err := r.check(); err != nil {
		return err
	}
	r.listeners.Remove(observer, l)
	return nil
}

// RemoveListeners removes every listener of observer.
func (r *Results) RemoveListeners(observer Observer) error {
	if err := r.check(); err != nil {
		return err
	}
	r.listeners.RemoveByObserver(observer)
	return nil
}

// RemoveAllListeners removes every listener.
func (r *Results) RemoveAllListeners() error {
	if err := r.check(); err != nil {
		return err
	}
	r.listeners.Clear()
	return nil
}

func (r *Results) detach() {
	r.detached = true
}

func (r *Results) prepare(v domain.Version) bool {
	if r.snapshot || !r.handle.Alive() {
		return false
	}
	r.bornInTx = false
	snap := r.session.snap

	if !r.loaded {
		r.pinned, r.detached = v, false
		if r.listeners.IsEmpty() {
			return false
		}
		rows, err := snap.Evaluate(context.Background(), r.query)
		if err != nil {
			r.session.logger.Warn("cannot evaluate results", slog.String("table", r.query.Table), slog.Any("error", err))
			return false
		}
		r.rows, r.loaded = rows, true
		r.changes = initial(rows)
		return true
	}

	if !r.detached && r.pinned == v {
		return false
	}

	rows, err := snap.Evaluate(context.Background(), r.query)
	if err != nil {
		r.session.logger.Warn("cannot evaluate results", slog.String("table", r.query.Table), slog.Any("error", err))
		return false
	}
	since := r.pinned
	old := r.rows
	if r.previous != nil {
		old, r.previous = r.previous, nil
	}
	cs := diff(old, rows, func(k domain.RowKey) bool {
		m, err := snap.Modified(r.query.Table, k)
		return err == nil && m.After(since)
	})
	if !slices.Equal(r.rows, rows) {
		r.gen++
	}
	r.rows, r.pinned, r.detached = rows, v, false

	if cs.Empty() || r.listeners.IsEmpty() {
		return false
	}
	r.changes = cs
	return true
}

func (r *Results) deliver() {
	cs := r.changes
	r.changes = ChangeSet{}

	var p notifier.Panics
	r.listeners.ForEach(func(_ Observer, l Callback[*Results]) {
		p.Run(func() { l.call(r, cs) })
	})
	p.Repanic()
}

func (r *Results) dead() bool {
	return !r.handle.Alive()
}

// Iterator returns a cursor over the rows. The cursor fails with
// [domain.ErrConcurrentModification] once the results are re-pinned to
// different rows.
func (r *Results) Iterator() (*Iterator, error) {
	if err := r.load(context.Background()); err != nil {
		return nil, err
	}
	h, err := r.session.arena.Alloc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
	}
	it := &Iterator{results: r, handle: h, gen: r.gen, pos: -1}
	runtime.AddCleanup(it, func(h arena.Handle) { h.Release() }, h)
	return it, nil
}

// DeleteFirst deletes the first row. It reports false if there are no rows.
// It needs a write transaction.
func (r *Results) DeleteFirst() (bool, error) {
	return r.deleteEdge(true)
}

// DeleteLast deletes the last row. It reports false if there are no rows. It
// needs a write transaction.
func (r *Results) DeleteLast() (bool, error) {
	return r.deleteEdge(false)
}

func (r *Results) deleteEdge(first bool) (bool, error) {
	size, err := r.Size()
	if err != nil {
		return false, err
	}
	if size == 0 {
		if _, err := r.session.writeTx(); err != nil {
			return false, err
		}
		return false, nil
	}
	i := size - 1
	if first {
		i = 0
	}
	return true, r.Delete(i)
}

// Delete deletes the i-th row. It needs a write transaction.
func (r *Results) Delete(i int) error {
	tx, err := r.session.writeTx()
	if err != nil {
		return err
	}
	if err := r.load(context.Background()); err != nil {
		return err
	}
	if i < 0 || i >= len(r.rows) {
		return fmt.Errorf("%w: index %d, size %d", domain.ErrOutOfRange, i, len(r.rows))
	}
	key := r.rows[i]
	if tx.Exists(r.query.Table, key) {
		if err := tx.DeleteRow(r.query.Table, key); err != nil {
			return err
		}
	}
	if r.previous == nil {
		r.previous = r.rows
	}
	r.rows = slices.Delete(r.rows.Clone(), i, i+1)
	r.gen++
	return nil
}

// Clear deletes every row. It reports false if there were no rows. It needs
// a write transaction.
func (r *Results) Clear() (bool, error) {
	tx, err := r.session.writeTx()
	if err != nil {
		return false, err
	}
	if err := r.load(context.Background()); err != nil {
		return false, err
	}
	if len(r.rows) == 0 {
		return false, nil
	}
	for _, key := range r.rows {
		if !tx.Exists(r.query.Table, key) {
			continue
		}
		if err := tx.DeleteRow(r.query.Table, key); err != nil {
			return false, err
		}
	}
	if r.previous == nil {
		r.previous = r.rows
	}
	r.rows = domain.RowSet{}
	r.gen++
	return true, nil
}

// Scan decodes every row into target, which must be a pointer to a slice.
// Struct fields are matched to columns by the "liveview" tag.
func (r *Results) Scan(ctx context.Context, target any) error {
	if err := r.load(ctx); err != nil {
		return err
	}
	reader := r.source()
	records := make([]map[string]any, 0, len(r.rows))
	for _, key := range r.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !reader.Exists(r.query.Table, key) {
			continue
		}
		m, err := rowMap(reader, r.query.Table, key)
		if err != nil {
			return err
		}
		records = append(records, m)
	}
	return r.session.decoder.Decode(records, target)
}
