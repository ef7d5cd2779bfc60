// Package domain contains the types and collaborator interfaces shared by the
// liveview adapters.
//
// The storage engine is consumed only through [Engine], [Snapshot] and
// [WriteTx]. Everything else in this package is a small interface that can
// be swapped by the user, the same way the default adapters are wired.
package domain

import (
	"context"
	"io"
	"iter"
)

// SchemaSource resolves table schemas. Field path resolution is a pure
// function of a SchemaSource.
type SchemaSource interface {
	// TableSchema returns the schema of the named table.
	TableSchema(name string) (TableSchema, bool)
}

// Reader gives read access to the dataset at a single version.
type Reader interface {
	SchemaSource
	// Version returns the version this reader observes.
	Version() Version
	// TableNames returns every table name, sorted.
	TableNames() []string
	// Rows returns all row keys of the table in insertion order.
	Rows(table string) (RowSet, error)
	// Exists reports whether the row is present.
	Exists(table string, key RowKey) bool
	// Value returns the value stored in a column. Unset values are nil.
	Value(table string, key RowKey, col ColumnID) (any, error)
	// Modified returns the version that last wrote the row.
	Modified(table string, key RowKey) (Version, error)
	// Evaluate materializes a query into a row set.
	Evaluate(ctx context.Context, q Query) (RowSet, error)
}

// Snapshot is a [Reader] pinned to a committed version. The version is
// retained by the engine until Release is called.
type Snapshot interface {
	Reader
	// Release lets the engine discard the pinned version. Calling it more
	// than once is a no-op.
	Release()
}

// WriteTx is the single write transaction of an [Engine]. Reads observe the
// uncommitted writes of the transaction.
type WriteTx interface {
	Reader
	// Base returns the version the transaction started from.
	Base() Version
	// CreateTable adds a new table.
	CreateTable(name string, specs ...ColumnSpec) (TableSchema, error)
	// AddColumn appends a column to an existing table. Existing rows get
	// the default value of the column.
	AddColumn(table string, spec ColumnSpec) (Column, error)
	// AddSearchIndex marks a column as indexed.
	AddSearchIndex(table string, col ColumnID) error
	// CreateRow appends an empty row.
	CreateRow(table string) (RowKey, error)
	// Set writes a column value.
	Set(table string, key RowKey, col ColumnID, value any) error
	// DeleteRow removes a row.
	DeleteRow(table string, key RowKey) error
	// Commit publishes the writes and returns the new version. The
	// transaction cannot be used afterwards.
	Commit() (Version, error)
	// Cancel discards the writes. The transaction cannot be used
	// afterwards.
	Cancel() error
}

// Engine is the storage collaborator. Only one [WriteTx] can be open at a
// time engine-wide; snapshots can be read concurrently.
type Engine interface {
	// Latest returns the most recent committed version.
	Latest() Version
	// Snapshot pins a committed version for reading. Versions that are
	// neither the latest nor pinned may be discarded, in which case
	// [ErrVersionReleased] is returned.
	Snapshot(v Version) (Snapshot, error)
	// PinLatest pins the most recent committed version.
	PinLatest() (Snapshot, error)
	// BeginWrite blocks until the writer lock is acquired or ctx is done.
	BeginWrite(ctx context.Context) (WriteTx, error)
	// WaitForChange blocks until a version newer than since is committed
	// or ctx is done.
	WaitForChange(ctx context.Context, since Version) (Version, error)
	// Close releases the engine.
	Close() error
}

// Comparer provides ordering for column values.
type Comparer interface {
	// Compare returns -1, 0, or 1 based on the comparison of two values.
	Compare(any, any) (int, error)
	// Comparable returns true if two values can be compared.
	Comparable(any, any) bool
}

// Hasher generates hash values for column values, used to find duplicates.
type Hasher interface {
	// Hash generates a hash value for the given data.
	Hash(any) (uint64, error)
}

// Matcher evaluates a single predicate operator.
type Matcher interface {
	// Match reports whether value satisfies op against operand.
	Match(value any, op Operator, operand any) (bool, error)
}

// FieldNavigator splits field descriptions and follows link paths.
type FieldNavigator interface {
	// SplitFields parses a dotted field description.
	SplitFields(string) ([]string, error)
	// GetField follows path from the given row and returns the final
	// value. defined is false when a link along the way is empty.
	GetField(r Reader, table string, key RowKey, path []ColumnID) (value any, defined bool, err error)
}

// Decoder converts row values into user types.
type Decoder interface {
	// Decode copies source into target, which must be a pointer.
	Decode(source any, target any) error
}

// Index is a search index over a single column, mapping column values to the
// rows that hold them.
type Index interface {
	// Column returns the indexed column.
	Column() ColumnID
	// Insert adds the row under value.
	Insert(value any, key RowKey) error
	// Remove deletes the row from under value.
	Remove(value any, key RowKey) error
	// GetMatching returns the rows holding any of the given values.
	GetMatching(values ...any) (RowSet, error)
	// GetBetweenBounds returns the rows whose value satisfies a single
	// ordering operator against bound.
	GetBetweenBounds(ctx context.Context, op Operator, bound any) (iter.Seq2[RowKey, error], error)
	// GetNumberOfKeys returns the number of distinct indexed values.
	GetNumberOfKeys() int
}

// Persistence moves table contents in and out of the dataset as JSON.
type Persistence interface {
	// Import creates one row per record read from r and returns their
	// keys in stream order.
	Import(ctx context.Context, tx WriteTx, table string, r io.Reader) (RowSet, error)
	// Export writes every row of the table to w.
	Export(ctx context.Context, r Reader, table string, w io.Writer) error
}
