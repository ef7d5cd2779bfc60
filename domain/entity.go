package domain

import (
	"fmt"
	"slices"
)

// Version identifies a committed state of the dataset. Versions issued by the
// same [Engine] are strictly increasing and can be compared across sessions.
type Version uint64

// Before reports whether v was committed before o.
func (v Version) Before(o Version) bool { return v < o }

// After reports whether v was committed after o.
func (v Version) After(o Version) bool { return v > o }

// FieldType is the closed set of column types known to the engine. New
// values must be handled by every exhaustive switch in descriptor, matcher
// and comparer.
type FieldType uint8

// Column types.
const (
	FieldBool FieldType = iota + 1
	FieldInt
	FieldFloat
	FieldDouble
	FieldString
	FieldBinary
	FieldDate
	FieldObject
	FieldList
	FieldLinkingObjects
	FieldIntList
	FieldStringList
)

// AllFieldTypes lists every [FieldType] in declaration order.
var AllFieldTypes = []FieldType{
	FieldBool, FieldInt, FieldFloat, FieldDouble, FieldString, FieldBinary,
	FieldDate, FieldObject, FieldList, FieldLinkingObjects, FieldIntList,
	FieldStringList,
}

func (t FieldType) String() string {
	switch t {
	case FieldBool:
		return "BOOLEAN"
	case FieldInt:
		return "INTEGER"
	case FieldFloat:
		return "FLOAT"
	case FieldDouble:
		return "DOUBLE"
	case FieldString:
		return "STRING"
	case FieldBinary:
		return "BINARY"
	case FieldDate:
		return "DATE"
	case FieldObject:
		return "OBJECT"
	case FieldList:
		return "LIST"
	case FieldLinkingObjects:
		return "LINKING_OBJECTS"
	case FieldIntList:
		return "INTEGER_LIST"
	case FieldStringList:
		return "STRING_LIST"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

// IsLink reports whether the column points to rows of another table.
func (t FieldType) IsLink() bool {
	switch t {
	case FieldObject, FieldList, FieldLinkingObjects:
		return true
	default:
		return false
	}
}

// IsList reports whether the column holds more than one value per row.
func (t FieldType) IsList() bool {
	switch t {
	case FieldList, FieldLinkingObjects, FieldIntList, FieldStringList:
		return true
	default:
		return false
	}
}

// ColumnID identifies a column inside its table. IDs are never reused.
type ColumnID int64

// RowKey identifies a row inside its table. Keys are never reused.
type RowKey int64

// RowSet is an ordered sequence of row keys, the materialized form of a
// query.
type RowSet []RowKey

// IndexOf returns the position of key in rs, or -1.
func (rs RowSet) IndexOf(key RowKey) int {
	return slices.Index(rs, key)
}

// Contains reports whether key is part of rs.
func (rs RowSet) Contains(key RowKey) bool {
	return slices.Contains(rs, key)
}

// Clone returns a copy of rs that does not share memory with it.
func (rs RowSet) Clone() RowSet {
	if rs == nil {
		return nil
	}
	return slices.Clone(rs)
}

// Column describes a single column of a table.
type Column struct {
	ID   ColumnID
	Name string
	Type FieldType
	// Target is the linked table for link columns.
	Target string
	// Origin is the link column of Target that a linking objects column
	// reverses.
	Origin   string
	Indexed  bool
	Nullable bool
}

// ColumnSpec is used to declare a column when creating a table.
type ColumnSpec struct {
	Name     string
	Type     FieldType
	Target   string
	Origin   string
	Indexed  bool
	Nullable bool
}

// TableSchema is the schema of a table at a given version.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Column returns the column with the given name.
func (ts TableSchema) Column(name string) (Column, bool) {
	for _, c := range ts.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnByID returns the column with the given id.
func (ts TableSchema) ColumnByID(id ColumnID) (Column, bool) {
	for _, c := range ts.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Operator is a comparison used by a [Predicate].
type Operator uint8

// Predicate operators.
const (
	OpEqual Operator = iota + 1
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpBeginsWith
	OpEndsWith
	OpContains
	OpIsNull
	OpIsNotNull
)

func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpBeginsWith:
		return "BEGINSWITH"
	case OpEndsWith:
		return "ENDSWITH"
	case OpContains:
		return "CONTAINS"
	case OpIsNull:
		return "ISNULL"
	case OpIsNotNull:
		return "ISNOTNULL"
	default:
		return fmt.Sprintf("Operator(%d)", uint8(o))
	}
}

// Predicate compares the value found at Path with Value.
type Predicate struct {
	// Path is a chain of column ids starting at the query table. Every
	// element but the last is a single-object link.
	Path  []ColumnID
	Op    Operator
	Value any
}

// StepKind tells how a [Step] reorders or filters rows.
type StepKind uint8

// Step kinds.
const (
	StepSort StepKind = iota + 1
	StepDistinct
)

// Step is a sort or distinct applied after predicates are evaluated.
type Step struct {
	Kind      StepKind
	Paths     [][]ColumnID
	Ascending []bool
}

// Query selects rows of Table. Groups are OR-ed together and predicates
// inside a group are AND-ed. An empty Groups slice matches every row. If
// Within is not nil only the listed rows are candidates, in that order.
type Query struct {
	Table  string
	Groups [][]Predicate
	Within RowSet
	Steps  []Step
}

// Clone returns a deep copy of q that can be extended without affecting it.
func (q Query) Clone() Query {
	res := Query{Table: q.Table, Within: q.Within.Clone()}
	if q.Groups != nil {
		res.Groups = make([][]Predicate, len(q.Groups))
		for n, g := range q.Groups {
			res.Groups[n] = slices.Clone(g)
		}
	}
	res.Steps = slices.Clone(q.Steps)
	return res
}

// SortOrder is the direction of a sort.
type SortOrder bool

// Sort orders.
const (
	Ascending  SortOrder = true
	Descending SortOrder = false
)
