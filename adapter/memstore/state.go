package memstore

import (
	"maps"
	"slices"
	"sync"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/index"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// row is never modified once its version is committed. Writes replace it.
type row struct {
	values   map[domain.ColumnID]any
	modified domain.Version
}

func (r *row) clone() *row {
	return &row{values: maps.Clone(r.values), modified: r.modified}
}

type table struct {
	schema  domain.TableSchema
	nextCol domain.ColumnID
	rows    map[domain.RowKey]*row
	order   []domain.RowKey
}

func (t *table) clone() *table {
	schema := t.schema
	schema.Columns = slices.Clone(t.schema.Columns)
	return &table{
		schema:  schema,
		nextCol: t.nextCol,
		rows:    maps.Clone(t.rows),
		order:   slices.Clone(t.order),
	}
}

// state is the whole dataset at one version. Committed states are frozen and
// shared by every snapshot of that version; a write transaction works on a
// shallow copy and clones tables and rows the first time it touches them.
type state struct {
	version domain.Version
	tables  map[string]*table
	nextKey domain.RowKey
	frozen  bool

	// guarded by the engine lock
	refs int

	idxMu   sync.Mutex
	indexes map[string]map[domain.ColumnID]domain.Index
}

func newState() *state {
	return &state{
		version: 1,
		tables:  make(map[string]*table),
		nextKey: 1,
		frozen:  true,
	}
}

func (s *state) derive() *state {
	return &state{
		version: s.version,
		tables:  maps.Clone(s.tables),
		nextKey: s.nextKey,
	}
}

// index returns the search index of an indexed column, building it the first
// time it is needed. Only frozen states have indexes.
func (s *state) index(e *Engine, tbl *table, col domain.Column) (domain.Index, error) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	if idx, ok := s.indexes[tbl.schema.Name][col.ID]; ok {
		return idx, nil
	}

	idx := index.NewIndex(col.ID, index.WithComparer(e.comparer), index.WithHasher(e.hasher))
	for _, key := range tbl.order {
		if err := idx.Insert(tbl.rows[key].values[col.ID], key); err != nil {
			return nil, err
		}
	}

	if s.indexes == nil {
		s.indexes = make(map[string]map[domain.ColumnID]domain.Index)
	}
	if s.indexes[tbl.schema.Name] == nil {
		s.indexes[tbl.schema.Name] = make(map[domain.ColumnID]domain.Index)
	}
	s.indexes[tbl.schema.Name][col.ID] = idx
	return idx, nil
}
