// Package fieldnavigator contains the default [domain.FieldNavigator]. It
// splits dotted field descriptions and follows single-object links from one
// row to the next until the last column of a path.
package fieldnavigator

import (
	"fmt"
	"strings"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// FieldNavigator implements [domain.FieldNavigator].
type FieldNavigator struct{}

// NewFieldNavigator returns a new instance of [domain.FieldNavigator].
func NewFieldNavigator() domain.FieldNavigator {
	return &FieldNavigator{}
}

// SplitFields implements [domain.FieldNavigator].
func (fn *FieldNavigator) SplitFields(in string) ([]string, error) {
	if in == "" {
		return nil, fmt.Errorf("%w: empty field description", domain.ErrInvalidPath)
	}
	parts := strings.Split(in, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: malformed field description %q", domain.ErrInvalidPath, in)
		}
	}
	return parts, nil
}

// GetField implements [domain.FieldNavigator].
func (fn *FieldNavigator) GetField(r domain.Reader, table string, key domain.RowKey, path []domain.ColumnID) (any, bool, error) {
	if len(path) == 0 {
		return nil, false, fmt.Errorf("%w: empty column path", domain.ErrInvalidPath)
	}

	for n, id := range path {
		schema, ok := r.TableSchema(table)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
		}
		col, ok := schema.ColumnByID(id)
		if !ok {
			return nil, false, fmt.Errorf("%w: column %d in %s", domain.ErrInvalidPath, id, table)
		}

		value, err := r.Value(table, key, id)
		if err != nil {
			return nil, false, err
		}

		if n == len(path)-1 {
			return value, true, nil
		}

		if col.Type != domain.FieldObject {
			return nil, false, fmt.Errorf("%w: %s.%s is not an object link", domain.ErrInvalidPath, table, col.Name)
		}

		// null link, nothing further down the path
		next, ok := value.(domain.RowKey)
		if !ok || !r.Exists(col.Target, next) {
			return nil, false, nil
		}
		table, key = col.Target, next
	}

	return nil, false, nil
}
