// Package descriptor resolves field descriptions used to sort, distinct and
// filter results into chains of column ids, validating them against the
// schema before anything is evaluated.
//
// A field description is a dotted path starting at the queried table. Every
// segment but the last must be a single-object link and the last segment must
// be of a type supported by the operation.
package descriptor

import (
	"fmt"
	"slices"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Kind is the operation a [Descriptor] was validated for.
type Kind uint8

// Descriptor kinds.
const (
	KindSort Kind = iota + 1
	KindDistinct
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindSort:
		return "Sort"
	case KindDistinct:
		return "Distinct"
	case KindQuery:
		return "Query"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var (
	sortable = []domain.FieldType{
		domain.FieldBool, domain.FieldInt, domain.FieldFloat, domain.FieldDouble,
		domain.FieldString, domain.FieldDate,
	}
	distinctable = []domain.FieldType{
		domain.FieldBool, domain.FieldInt, domain.FieldString, domain.FieldDate,
	}
	queryable = []domain.FieldType{
		domain.FieldBool, domain.FieldInt, domain.FieldFloat, domain.FieldDouble,
		domain.FieldString, domain.FieldBinary, domain.FieldDate, domain.FieldObject,
	}
)

var navigator = fieldnavigator.NewFieldNavigator()

// Descriptor is an immutable list of resolved field paths. Sort descriptors
// also carry one order per path.
type Descriptor struct {
	kind      Kind
	table     string
	paths     [][]domain.ColumnID
	types     []domain.FieldType
	ascending []bool
}

// ForSort validates fields for sorting table. There must be one order per
// field.
func ForSort(schema domain.SchemaSource, table string, fields []string, orders []domain.SortOrder) (Descriptor, error) {
	if len(fields) != len(orders) {
		return Descriptor{}, fmt.Errorf("%w: %d fields and %d sort orders", domain.ErrArityMismatch, len(fields), len(orders))
	}
	d, err := build(schema, KindSort, table, fields)
	if err != nil {
		return Descriptor{}, err
	}
	d.ascending = make([]bool, len(orders))
	for n, o := range orders {
		d.ascending[n] = bool(o)
	}
	return d, nil
}

// ForSortField validates a single field for sorting table.
func ForSortField(schema domain.SchemaSource, table string, field string, order domain.SortOrder) (Descriptor, error) {
	return ForSort(schema, table, []string{field}, []domain.SortOrder{order})
}

// ForDistinct validates fields for removing duplicates from table. Distinct
// fields cannot traverse links.
func ForDistinct(schema domain.SchemaSource, table string, fields ...string) (Descriptor, error) {
	return build(schema, KindDistinct, table, fields)
}

// ForQuery validates a single field used by a predicate over table.
func ForQuery(schema domain.SchemaSource, table string, field string) (Descriptor, error) {
	return build(schema, KindQuery, table, []string{field})
}

func build(schema domain.SchemaSource, kind Kind, table string, fields []string) (Descriptor, error) {
	if len(fields) == 0 {
		return Descriptor{}, fmt.Errorf("%w: at least one field name must be specified", domain.ErrInvalidArgument)
	}
	if _, ok := schema.TableSchema(table); !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}

	d := Descriptor{
		kind:  kind,
		table: table,
		paths: make([][]domain.ColumnID, len(fields)),
		types: make([]domain.FieldType, len(fields)),
	}
	for n, field := range fields {
		path, typ, err := resolve(schema, kind, table, field)
		if err != nil {
			return Descriptor{}, err
		}
		d.paths[n], d.types[n] = path, typ
	}
	return d, nil
}

func resolve(schema domain.SchemaSource, kind Kind, table, field string) ([]domain.ColumnID, domain.FieldType, error) {
	names, err := navigator.SplitFields(field)
	if err != nil {
		return nil, 0, err
	}

	path := make([]domain.ColumnID, 0, len(names))
	current := table
	for n, name := range names {
		ts, ok := schema.TableSchema(current)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", domain.ErrTableNotFound, current)
		}
		col, ok := ts.Column(name)
		if !ok {
			return nil, 0, domain.ErrField{
				Kind:   domain.ErrAmbiguousField,
				Table:  current,
				Field:  name,
				Reason: "cannot find field",
			}
		}
		path = append(path, col.ID)

		if n == len(names)-1 {
			if !slices.Contains(allowed(kind), col.Type) {
				return nil, 0, domain.ErrField{
					Kind:   domain.ErrUnsupportedField,
					Table:  current,
					Field:  name,
					Type:   col.Type,
					Reason: kind.String() + " is not supported",
				}
			}
			return path, col.Type, nil
		}

		if err := traversable(kind, current, col); err != nil {
			return nil, 0, err
		}
		current = col.Target
	}
	return path, 0, nil
}

func allowed(kind Kind) []domain.FieldType {
	switch kind {
	case KindSort:
		return sortable
	case KindDistinct:
		return distinctable
	default:
		return queryable
	}
}

// traversable checks a non-terminal path segment.
func traversable(kind Kind, table string, col domain.Column) error {
	invalid := func(reason string) error {
		return domain.ErrField{
			Kind:   domain.ErrInvalidPath,
			Table:  table,
			Field:  col.Name,
			Type:   col.Type,
			Reason: reason,
		}
	}

	switch col.Type {
	case domain.FieldObject:
		if kind == KindDistinct {
			return invalid("Distinct does not support link fields")
		}
		return nil
	case domain.FieldList, domain.FieldLinkingObjects:
		return invalid(kind.String() + " does not support list fields in a path")
	case domain.FieldBool, domain.FieldInt, domain.FieldFloat, domain.FieldDouble,
		domain.FieldString, domain.FieldBinary, domain.FieldDate,
		domain.FieldIntList, domain.FieldStringList:
		return invalid("not a link field")
	default:
		return invalid("unknown field type")
	}
}

// Kind returns the operation the descriptor was validated for.
func (d Descriptor) Kind() Kind {
	return d.kind
}

// Table returns the table the paths start at.
func (d Descriptor) Table() string {
	return d.table
}

// Len returns the number of fields.
func (d Descriptor) Len() int {
	return len(d.paths)
}

// Path returns the column chain of the i-th field.
func (d Descriptor) Path(i int) []domain.ColumnID {
	return slices.Clone(d.paths[i])
}

// Type returns the type of the last column of the i-th field.
func (d Descriptor) Type(i int) domain.FieldType {
	return d.types[i]
}

// Ascending returns the sort orders, or nil if d is not a sort descriptor.
func (d Descriptor) Ascending() []bool {
	return slices.Clone(d.ascending)
}

// Step returns the query step applying d. Only sort and distinct descriptors
// can be used as steps.
func (d Descriptor) Step() (domain.Step, error) {
	var kind domain.StepKind
	switch d.kind {
	case KindSort:
		kind = domain.StepSort
	case KindDistinct:
		kind = domain.StepDistinct
	default:
		return domain.Step{}, fmt.Errorf("%w: %s descriptor is not a step", domain.ErrUnsupportedOperation, d.kind)
	}
	paths := make([][]domain.ColumnID, len(d.paths))
	for n, p := range d.paths {
		paths[n] = slices.Clone(p)
	}
	return domain.Step{Kind: kind, Paths: paths, Ascending: d.Ascending()}, nil
}
