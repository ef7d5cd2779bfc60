package memstore

import (
	"fmt"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// writeTx implements [domain.WriteTx].
type writeTx struct {
	reader
	base *state

	dirtyTables map[string]bool
	dirtyRows   map[string]map[domain.RowKey]bool
	done        bool
}

func newWriteTx(e *Engine, base *state) *writeTx {
	return &writeTx{
		reader:      reader{e: e, st: base.derive()},
		base:        base,
		dirtyTables: make(map[string]bool),
		dirtyRows:   make(map[string]map[domain.RowKey]bool),
	}
}

// Base implements [domain.WriteTx].
func (tx *writeTx) Base() domain.Version {
	return tx.base.version
}

func (tx *writeTx) check() error {
	if tx.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrInvalidState)
	}
	return nil
}

func (tx *writeTx) mutableTable(name string) (*table, error) {
	t, err := tx.table(name)
	if err != nil {
		return nil, err
	}
	if tx.dirtyTables[name] {
		return t, nil
	}
	t = t.clone()
	tx.st.tables[name] = t
	tx.dirtyTables[name] = true
	return t, nil
}

func (tx *writeTx) mutableRow(t *table, key domain.RowKey) (*row, error) {
	rw, ok := t.rows[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, t.schema.Name, key)
	}
	name := t.schema.Name
	if !tx.dirtyRows[name][key] {
		rw = rw.clone()
		t.rows[key] = rw
		if tx.dirtyRows[name] == nil {
			tx.dirtyRows[name] = make(map[domain.RowKey]bool)
		}
		tx.dirtyRows[name][key] = true
	}
	rw.modified = tx.base.version + 1
	return rw, nil
}

// CreateTable implements [domain.WriteTx].
func (tx *writeTx) CreateTable(name string, specs ...domain.ColumnSpec) (domain.TableSchema, error) {
	if err := tx.check(); err != nil {
		return domain.TableSchema{}, err
	}
	if name == "" {
		return domain.TableSchema{}, fmt.Errorf("%w: empty table name", domain.ErrInvalidArgument)
	}
	if _, ok := tx.st.tables[name]; ok {
		return domain.TableSchema{}, fmt.Errorf("%w: %s", domain.ErrTableExists, name)
	}

	t := &table{
		schema: domain.TableSchema{Name: name},
		rows:   make(map[domain.RowKey]*row),
	}
	for _, spec := range specs {
		if err := tx.addColumn(t, spec); err != nil {
			return domain.TableSchema{}, err
		}
	}

	tx.st.tables[name] = t
	tx.dirtyTables[name] = true
	return t.schema, nil
}

// AddColumn implements [domain.WriteTx].
func (tx *writeTx) AddColumn(tableName string, spec domain.ColumnSpec) (domain.Column, error) {
	if err := tx.check(); err != nil {
		return domain.Column{}, err
	}
	t, err := tx.mutableTable(tableName)
	if err != nil {
		return domain.Column{}, err
	}
	if err := tx.addColumn(t, spec); err != nil {
		return domain.Column{}, err
	}
	c := t.schema.Columns[len(t.schema.Columns)-1]
	for _, k := range t.order {
		rw, err := tx.mutableRow(t, k)
		if err != nil {
			return domain.Column{}, err
		}
		rw.values[c.ID] = defaultValue(c)
	}
	return c, nil
}

func (tx *writeTx) addColumn(t *table, spec domain.ColumnSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: empty column name in %s", domain.ErrInvalidArgument, t.schema.Name)
	}
	if _, ok := t.schema.Column(spec.Name); ok {
		return fmt.Errorf("%w: duplicated column %s.%s", domain.ErrInvalidArgument, t.schema.Name, spec.Name)
	}
	if !slices.Contains(domain.AllFieldTypes, spec.Type) {
		return fmt.Errorf("%w: unknown type of %s.%s", domain.ErrInvalidArgument, t.schema.Name, spec.Name)
	}

	if spec.Type.IsLink() {
		// links to the table being created are allowed
		if spec.Target != t.schema.Name {
			if _, ok := tx.st.tables[spec.Target]; !ok {
				return fmt.Errorf("%w: link target %s of %s.%s", domain.ErrTableNotFound, spec.Target, t.schema.Name, spec.Name)
			}
		}
	}
	if spec.Type == domain.FieldLinkingObjects {
		origin := t.schema
		if spec.Target != t.schema.Name {
			origin = tx.st.tables[spec.Target].schema
		}
		oc, ok := origin.Column(spec.Origin)
		if !ok || (oc.Type != domain.FieldObject && oc.Type != domain.FieldList) || oc.Target != t.schema.Name {
			return fmt.Errorf("%w: %s.%s does not link to %s", domain.ErrInvalidArgument, spec.Target, spec.Origin, t.schema.Name)
		}
	}

	t.nextCol++
	t.schema.Columns = append(t.schema.Columns, domain.Column{
		ID:       t.nextCol,
		Name:     spec.Name,
		Type:     spec.Type,
		Target:   spec.Target,
		Origin:   spec.Origin,
		Indexed:  spec.Indexed && indexable(spec.Type),
		Nullable: spec.Nullable,
	})
	return nil
}

func indexable(t domain.FieldType) bool {
	switch t {
	case domain.FieldBool, domain.FieldInt, domain.FieldString, domain.FieldDate:
		return true
	default:
		return false
	}
}

// AddSearchIndex implements [domain.WriteTx].
func (tx *writeTx) AddSearchIndex(tableName string, col domain.ColumnID) error {
	if err := tx.check(); err != nil {
		return err
	}
	t, err := tx.mutableTable(tableName)
	if err != nil {
		return err
	}
	for n, c := range t.schema.Columns {
		if c.ID != col {
			continue
		}
		if !indexable(c.Type) {
			return domain.ErrField{
				Kind:   domain.ErrUnsupportedField,
				Table:  tableName,
				Field:  c.Name,
				Type:   c.Type,
				Reason: "cannot index",
			}
		}
		t.schema.Columns[n].Indexed = true
		return nil
	}
	return fmt.Errorf("%w: column %d in %s", domain.ErrInvalidArgument, col, tableName)
}

// CreateRow implements [domain.WriteTx].
func (tx *writeTx) CreateRow(tableName string) (domain.RowKey, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	t, err := tx.mutableTable(tableName)
	if err != nil {
		return 0, err
	}

	key := tx.st.nextKey
	tx.st.nextKey++

	values := make(map[domain.ColumnID]any, len(t.schema.Columns))
	for _, c := range t.schema.Columns {
		values[c.ID] = defaultValue(c)
	}
	t.rows[key] = &row{values: values, modified: tx.base.version + 1}
	t.order = append(t.order, key)

	if tx.dirtyRows[tableName] == nil {
		tx.dirtyRows[tableName] = make(map[domain.RowKey]bool)
	}
	tx.dirtyRows[tableName][key] = true
	return key, nil
}

func defaultValue(c domain.Column) any {
	if c.Nullable {
		return nil
	}
	switch c.Type {
	case domain.FieldBool:
		return false
	case domain.FieldInt:
		return int64(0)
	case domain.FieldFloat, domain.FieldDouble:
		return float64(0)
	case domain.FieldString:
		return ""
	case domain.FieldBinary:
		return []byte{}
	case domain.FieldDate:
		return time.Unix(0, 0).UTC()
	case domain.FieldList:
		return domain.RowSet{}
	case domain.FieldIntList:
		return []int64{}
	case domain.FieldStringList:
		return []string{}
	default:
		return nil
	}
}

// Set implements [domain.WriteTx].
func (tx *writeTx) Set(tableName string, key domain.RowKey, col domain.ColumnID, value any) error {
	if err := tx.check(); err != nil {
		return err
	}
	t, err := tx.mutableTable(tableName)
	if err != nil {
		return err
	}
	c, ok := t.schema.ColumnByID(col)
	if !ok {
		return fmt.Errorf("%w: column %d in %s", domain.ErrInvalidArgument, col, tableName)
	}

	v, err := tx.normalize(t.schema.Name, c, value)
	if err != nil {
		return err
	}

	rw, err := tx.mutableRow(t, key)
	if err != nil {
		return err
	}
	rw.values[col] = v
	return nil
}

// DeleteRow implements [domain.WriteTx]. Links pointing at the row are
// cleared, which counts as a modification of the linking rows.
func (tx *writeTx) DeleteRow(tableName string, key domain.RowKey) error {
	if err := tx.check(); err != nil {
		return err
	}
	t, err := tx.mutableTable(tableName)
	if err != nil {
		return err
	}
	if _, ok := t.rows[key]; !ok {
		return fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, tableName, key)
	}
	delete(t.rows, key)
	t.order = slices.DeleteFunc(t.order, func(k domain.RowKey) bool { return k == key })

	return tx.unlink(tableName, key)
}

func (tx *writeTx) unlink(target string, key domain.RowKey) error {
	for _, name := range tx.TableNames() {
		t := tx.st.tables[name]
		for _, c := range t.schema.Columns {
			if c.Target != target || (c.Type != domain.FieldObject && c.Type != domain.FieldList) {
				continue
			}
			for _, k := range t.order {
				var replacement any
				switch v := t.rows[k].values[c.ID].(type) {
				case domain.RowKey:
					if v != key {
						continue
					}
					replacement = nil
				case domain.RowSet:
					if !v.Contains(key) {
						continue
					}
					replacement = slices.DeleteFunc(v.Clone(), func(x domain.RowKey) bool { return x == key })
				default:
					continue
				}

				mt, err := tx.mutableTable(name)
				if err != nil {
					return err
				}
				rw, err := tx.mutableRow(mt, k)
				if err != nil {
					return err
				}
				rw.values[c.ID] = replacement
				t = mt
			}
		}
	}
	return nil
}

// Commit implements [domain.WriteTx].
func (tx *writeTx) Commit() (domain.Version, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	tx.done = true
	v := tx.e.publish(tx.st)
	tx.e.writer.Unlock()
	return v, nil
}

// Cancel implements [domain.WriteTx].
func (tx *writeTx) Cancel() error {
	if err := tx.check(); err != nil {
		return err
	}
	tx.done = true
	tx.e.writer.Unlock()
	return nil
}
