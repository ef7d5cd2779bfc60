// Package liveview provides live query results over an embedded,
// versioned object store.
//
// A [Session] reads one committed version of an [Engine]. Queries built from
// it return [Results] that are evaluated lazily and then follow the session:
// they keep showing the version they were read at until the session re-pins,
// either through [Session.Refresh] or, for sessions confined to a [Looper],
// on their own after any commit. Listeners attached to results, objects or
// the session itself are called on the looper with what changed.
//
// The basic usage starts with an engine and a looper:
//
//	engine := liveview.NewEngine()
//	looper := liveview.NewLooper()
//	ses, err := liveview.Open(engine, liveview.WithLooper(looper))
package liveview

import (
	"log/slog"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/descriptor"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/memstore"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/session"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidState is returned when using a closed session or engine,
	// or when a write is attempted outside of a transaction.
	ErrInvalidState = domain.ErrInvalidState
	// ErrUnsupportedOperation is returned for operations the target cannot
	// perform, like modifying a snapshot or an incomplete OR.
	ErrUnsupportedOperation = domain.ErrUnsupportedOperation
	// ErrInvalidArgument is wrapped by every argument validation error.
	ErrInvalidArgument = domain.ErrInvalidArgument
	// ErrUnsupportedField is returned when a field type cannot be used by
	// a sort, a distinct or a predicate.
	ErrUnsupportedField = domain.ErrUnsupportedField
	// ErrInvalidPath is returned when a dotted field path goes through a
	// field that is not a link.
	ErrInvalidPath = domain.ErrInvalidPath
	// ErrAmbiguousField is returned when a field name is not part of the
	// table schema.
	ErrAmbiguousField = domain.ErrAmbiguousField
	// ErrArityMismatch is returned when the number of sort fields and sort
	// orders differ.
	ErrArityMismatch = domain.ErrArityMismatch
	// ErrOutOfRange is returned when reading a position past the end of
	// [Results].
	ErrOutOfRange = domain.ErrOutOfRange
	// ErrDeliveryUnsupported is returned when adding listeners to a
	// session that has no [Looper].
	ErrDeliveryUnsupported = domain.ErrDeliveryUnsupported
	// ErrConcurrentModification stops an [Iterator] whose results changed.
	ErrConcurrentModification = domain.ErrConcurrentModification
	// ErrTargetNil is returned when decoding into a nil target.
	ErrTargetNil = domain.ErrTargetNil
	// ErrNonPointer is returned when decoding into a non pointer target.
	ErrNonPointer = domain.ErrNonPointer
	// ErrVersionReleased is returned when opening a version the engine no
	// longer keeps.
	ErrVersionReleased = domain.ErrVersionReleased
	// ErrTableExists is returned by [Session.CreateTable] for a name in use.
	ErrTableExists = domain.ErrTableExists
	// ErrTableNotFound is returned when a table does not exist.
	ErrTableNotFound = domain.ErrTableNotFound
	// ErrRowNotFound is returned when reading an object that was deleted.
	ErrRowNotFound = domain.ErrRowNotFound
	// ErrLooperClosed is returned when posting to a looper that quit.
	ErrLooperClosed = domain.ErrLooperClosed
)

// ErrField describes a field that failed validation. It wraps one of the
// argument errors, so it can be checked with [errors.Is].
type ErrField = domain.ErrField

// ErrDecode is returned when a row cannot be decoded into a target.
type ErrDecode = domain.ErrDecode

// ErrCorruptImport is returned by [Session.Import] when too many records of
// the stream cannot be parsed.
type ErrCorruptImport = domain.ErrCorruptImport

// Engine stores committed versions of the data.
type Engine = domain.Engine

// Version identifies a committed state of an [Engine].
type Version = domain.Version

// RowKey identifies a row inside its table.
type RowKey = domain.RowKey

// RowSet is an ordered list of row keys.
type RowSet = domain.RowSet

// FieldType is the type of a column.
type FieldType = domain.FieldType

// Column types.
const (
	FieldBool           = domain.FieldBool
	FieldInt            = domain.FieldInt
	FieldFloat          = domain.FieldFloat
	FieldDouble         = domain.FieldDouble
	FieldString         = domain.FieldString
	FieldBinary         = domain.FieldBinary
	FieldDate           = domain.FieldDate
	FieldObject         = domain.FieldObject
	FieldList           = domain.FieldList
	FieldLinkingObjects = domain.FieldLinkingObjects
	FieldIntList        = domain.FieldIntList
	FieldStringList     = domain.FieldStringList
)

// ColumnSpec declares a column in [Session.CreateTable].
type ColumnSpec = domain.ColumnSpec

// Column is a column of a [TableSchema].
type Column = domain.Column

// TableSchema is the schema of a table at a given version.
type TableSchema = domain.TableSchema

// SortOrder is the direction of a sort.
type SortOrder = domain.SortOrder

// Sort orders.
const (
	Ascending  = domain.Ascending
	Descending = domain.Descending
)

// Session is one logical connection to an [Engine].
type Session = session.Session

// Results is a live, lazily evaluated list of rows.
type Results = session.Results

// Object is a single row read through a [Session].
type Object = session.Object

// Iterator walks the rows of [Results].
type Iterator = session.Iterator

// QueryBuilder collects predicates over a table.
type QueryBuilder = session.QueryBuilder

// ChangeSet describes how [Results] changed between two deliveries.
type ChangeSet = session.ChangeSet

// Observer owns listener registrations.
type Observer = session.Observer

// Descriptor is a validated list of field paths used to sort or dedupe
// [Results].
type Descriptor = descriptor.Descriptor

// Looper is the event loop a [Session] can be confined to.
type Looper = notifier.Looper

// Metrics holds the collectors updated by session notifiers.
type Metrics = notifier.Metrics

// Listener is called with the changed value.
type Listener[T any] = session.Listener[T]

// ChangeListener is called with the changed value and a [ChangeSet].
type ChangeListener[T any] = session.ChangeListener[T]

// NewListener returns a listener calling fn.
func NewListener[T any](fn func(T)) *Listener[T] {
	return session.NewListener(fn)
}

// NewChangeListener returns a listener calling fn with what changed.
func NewChangeListener[T any](fn func(T, ChangeSet)) *ChangeListener[T] {
	return session.NewChangeListener(fn)
}

// NewEngine creates an empty in-memory engine. Options are the ones from
// package memstore, like [memstore.WithIndexes] and [memstore.WithLogger].
func NewEngine(options ...memstore.Option) Engine {
	return memstore.NewEngine(options...)
}

// NewLooper starts an event loop. Options are the ones from package
// notifier:
//
// - [notifier.WithPanicHandler]: receives panics raised by queued tasks and
// listeners.
//
// - [notifier.WithMaxQueue]: limits the number of queued tasks.
//
// - [notifier.WithLooperLogger]: sets the looper logger.
func NewLooper(options ...notifier.LooperOption) *Looper {
	return notifier.NewLooper(options...)
}

// Open starts a session reading the latest version of engine, with the
// provided options:
//
// - [WithLooper]: confines the session to a looper, enabling listeners.
//
// - [WithAutoRefresh]: sets whether commits of other sessions re-pin it.
//
// - [WithLogger]: sets the session logger.
//
// - [WithTracer]: sets the tracer used for commit and refresh spans.
//
// - [WithMetrics]: sets the collectors updated by the session notifier.
func Open(engine Engine, options ...session.Option) (*Session, error) {
	return session.Open(engine, options...)
}

// WithLooper confines the session to l.
func WithLooper(l *Looper) session.Option {
	return session.WithLooper(l)
}

// WithAutoRefresh sets whether commits made by other sessions re-pin a
// looper session on their own.
func WithAutoRefresh(b bool) session.Option {
	return session.WithAutoRefresh(b)
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) session.Option {
	return session.WithLogger(l)
}

// WithTracer sets the session tracer.
func WithTracer(t trace.Tracer) session.Option {
	return session.WithTracer(t)
}

// WithMetrics sets the session metrics.
func WithMetrics(m *Metrics) session.Option {
	return session.WithMetrics(m)
}
