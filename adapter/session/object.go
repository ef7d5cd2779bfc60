package session

import (
	"fmt"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/persistence"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/registry"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Object is a live accessor to a single row. Reads always observe the version
// the session currently reads.
type Object struct {
	session *Session
	table   string
	key     domain.RowKey

	baseline domain.Version
	// set when the deletion is observed, until it is delivered
	deleted bool
	gone    bool

	listeners *registry.Registry[Observer, Callback[*Object]]
	bound     bool
}

func (s *Session) object(table string, key domain.RowKey) *Object {
	return &Object{
		session:   s,
		table:     table,
		key:       key,
		baseline:  s.Version(),
		listeners: registry.New[Observer, Callback[*Object]](),
	}
}

func (o *Object) check() error {
	if err := o.session.check(); err != nil {
		return err
	}
	if !o.session.reader().Exists(o.table, o.key) {
		return fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, o.table, o.key)
	}
	return nil
}

// Table returns the table of the row.
func (o *Object) Table() string {
	return o.table
}

// Key returns the key of the row.
func (o *Object) Key() domain.RowKey {
	return o.key
}

// IsValid reports whether the session is open and the row was not deleted.
func (o *Object) IsValid() bool {
	return o.check() == nil
}

// Get returns the value at field, which may be a dotted path following
// object links. Values behind an empty link are nil.
func (o *Object) Get(field string) (any, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	reader := o.session.reader()
	path, err := columnPath(reader, o.table, field)
	if err != nil {
		return nil, err
	}
	v, defined, err := navigator.GetField(reader, o.table, o.key, path)
	if err != nil || !defined {
		return nil, err
	}
	return v, nil
}

// Set writes a column of the row. Objects are stored as links to their row.
// It needs a write transaction.
func (o *Object) Set(field string, value any) error {
	tx, err := o.session.writeTx()
	if err != nil {
		return err
	}
	if !tx.Exists(o.table, o.key) {
		return fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, o.table, o.key)
	}
	ts, _ := tx.TableSchema(o.table)
	col, ok := ts.Column(field)
	if !ok {
		return domain.ErrField{
			Kind:   domain.ErrAmbiguousField,
			Table:  o.table,
			Field:  field,
			Reason: "cannot find field",
		}
	}

	switch t := value.(type) {
	case *Object:
		if t == nil {
			value = nil
			break
		}
		value = t.key
	case []*Object:
		keys := make(domain.RowSet, len(t))
		for n, obj := range t {
			keys[n] = obj.key
		}
		value = keys
	}
	return tx.Set(o.table, o.key, col.ID, value)
}

// Delete removes the row. It needs a write transaction.
func (o *Object) Delete() error {
	tx, err := o.session.writeTx()
	if err != nil {
		return err
	}
	return tx.DeleteRow(o.table, o.key)
}

// Map returns every column of the row by name, plus the row key under
// [persistence.KeyField].
func (o *Object) Map() (map[string]any, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	return rowMap(o.session.reader(), o.table, o.key)
}

// Decode copies the row into target, matching struct fields by their
// "liveview" tag.
func (o *Object) Decode(target any) error {
	m, err := o.Map()
	if err != nil {
		return err
	}
	return o.session.decoder.Decode(m, target)
}

// AddListener calls l every time a version writing the row is delivered, and
// once more when the row is deleted.
func (o *Object) AddListener(observer Observer, l *Listener[*Object]) error {
	if observer == nil || l == nil {
		return fmt.Errorf("%w: nil observer or listener", domain.ErrInvalidArgument)
	}
	if err := o.check(); err != nil {
		return err
	}
	if err := o.session.canListen(); err != nil {
		return err
	}
	if !o.bound {
		o.session.notifier.Bind(newWeakTarget(o))
		o.bound = true
	}
	o.listeners.Add(observer, l)
	return nil
}

// RemoveListener removes a listener added by [Object.AddListener].
func (o *Object) RemoveListener(observer Observer, l *Listener[*Object]) error {
	if err := o.session.check(); err != nil {
		return err
	}
	o.listeners.Remove(observer, l)
	return nil
}

// RemoveAllListeners removes every listener of the row.
func (o *Object) RemoveAllListeners() error {
	if err := o.session.check(); err != nil {
		return err
	}
	o.listeners.Clear()
	return nil
}

func (o *Object) prepare(v domain.Version) bool {
	if o.gone || o.deleted {
		return false
	}
	snap := o.session.snap
	if !snap.Exists(o.table, o.key) {
		o.deleted = true
		return !o.listeners.IsEmpty()
	}
	m, err := snap.Modified(o.table, o.key)
	changed := err == nil && m.After(o.baseline)
	o.baseline = v
	return changed && !o.listeners.IsEmpty()
}

func (o *Object) deliver() {
	if o.deleted {
		o.gone = true
	}
	var p notifier.Panics
	o.listeners.ForEach(func(_ Observer, l Callback[*Object]) {
		p.Run(func() { l.call(o, ChangeSet{}) })
	})
	p.Repanic()
}

func (o *Object) dead() bool {
	return o.session.closed || o.gone
}

// columnPath resolves a dotted field of any type. Every segment but the last
// must be an object link.
func columnPath(schema domain.SchemaSource, table, field string) ([]domain.ColumnID, error) {
	names, err := navigator.SplitFields(field)
	if err != nil {
		return nil, err
	}
	path := make([]domain.ColumnID, 0, len(names))
	for n, name := range names {
		ts, ok := schema.TableSchema(table)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
		}
		col, ok := ts.Column(name)
		if !ok {
			return nil, domain.ErrField{
				Kind:   domain.ErrAmbiguousField,
				Table:  table,
				Field:  name,
				Reason: "cannot find field",
			}
		}
		path = append(path, col.ID)
		if n < len(names)-1 {
			if col.Type != domain.FieldObject {
				return nil, domain.ErrField{
					Kind:   domain.ErrInvalidPath,
					Table:  table,
					Field:  name,
					Type:   col.Type,
					Reason: "not an object link",
				}
			}
			table = col.Target
		}
	}
	return path, nil
}

// rowMap reads every column of a row by name.
func rowMap(r domain.Reader, table string, key domain.RowKey) (map[string]any, error) {
	ts, ok := r.TableSchema(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	m := make(map[string]any, len(ts.Columns)+1)
	m[persistence.KeyField] = key
	for _, col := range ts.Columns {
		v, err := r.Value(table, key, col.ID)
		if err != nil {
			return nil, err
		}
		m[col.Name] = v
	}
	return m, nil
}
