package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// reader implements [domain.Reader] over a single state.
type reader struct {
	e  *Engine
	st *state
}

func (r *reader) table(name string) (*table, error) {
	t, ok := r.st.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTableNotFound, name)
	}
	return t, nil
}

func (r *reader) row(tableName string, key domain.RowKey) (*table, *row, error) {
	t, err := r.table(tableName)
	if err != nil {
		return nil, nil, err
	}
	rw, ok := t.rows[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, tableName, key)
	}
	return t, rw, nil
}

// TableSchema implements [domain.SchemaSource].
func (r *reader) TableSchema(name string) (domain.TableSchema, bool) {
	t, ok := r.st.tables[name]
	if !ok {
		return domain.TableSchema{}, false
	}
	return t.schema, true
}

// Version implements [domain.Reader].
func (r *reader) Version() domain.Version {
	return r.st.version
}

// TableNames implements [domain.Reader].
func (r *reader) TableNames() []string {
	names := make([]string, 0, len(r.st.tables))
	for name := range r.st.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Rows implements [domain.Reader].
func (r *reader) Rows(table string) (domain.RowSet, error) {
	t, err := r.table(table)
	if err != nil {
		return nil, err
	}
	return slices.Clone(domain.RowSet(t.order)), nil
}

// Exists implements [domain.Reader].
func (r *reader) Exists(table string, key domain.RowKey) bool {
	t, ok := r.st.tables[table]
	if !ok {
		return false
	}
	_, ok = t.rows[key]
	return ok
}

// Value implements [domain.Reader].
func (r *reader) Value(table string, key domain.RowKey, col domain.ColumnID) (any, error) {
	t, rw, err := r.row(table, key)
	if err != nil {
		return nil, err
	}
	c, ok := t.schema.ColumnByID(col)
	if !ok {
		return nil, fmt.Errorf("%w: column %d in %s", domain.ErrInvalidArgument, col, table)
	}
	if c.Type == domain.FieldLinkingObjects {
		return r.backlinks(c, key), nil
	}
	return rw.values[col], nil
}

// backlinks lists the rows of c.Target whose c.Origin column points at key.
func (r *reader) backlinks(c domain.Column, key domain.RowKey) domain.RowSet {
	origin, ok := r.st.tables[c.Target]
	if !ok {
		return domain.RowSet{}
	}
	oc, ok := origin.schema.Column(c.Origin)
	if !ok {
		return domain.RowSet{}
	}
	res := domain.RowSet{}
	for _, k := range origin.order {
		switch v := origin.rows[k].values[oc.ID].(type) {
		case domain.RowKey:
			if v == key {
				res = append(res, k)
			}
		case domain.RowSet:
			if v.Contains(key) {
				res = append(res, k)
			}
		}
	}
	return res
}

// Modified implements [domain.Reader].
func (r *reader) Modified(table string, key domain.RowKey) (domain.Version, error) {
	_, rw, err := r.row(table, key)
	if err != nil {
		return 0, err
	}
	return rw.modified, nil
}

// Evaluate implements [domain.Reader].
func (r *reader) Evaluate(ctx context.Context, q domain.Query) (domain.RowSet, error) {
	return r.e.evaluate(ctx, r, q)
}

// snapshot implements [domain.Snapshot].
type snapshot struct {
	reader
	once sync.Once
}

// Release implements [domain.Snapshot].
func (s *snapshot) Release() {
	s.once.Do(func() {
		s.e.release(s.st)
	})
}
