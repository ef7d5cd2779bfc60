package domain

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidState is returned when operating on a closed session or
	// view, or when writing outside a write transaction.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnsupportedOperation is returned when an operation makes no sense
	// for the current mode, like listening on a snapshot.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidArgument is returned when an argument fails validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedField is returned when the final field of a path has a
	// type that is not allowed for the requested operation.
	ErrUnsupportedField = fmt.Errorf("%w: unsupported field", ErrInvalidArgument)
	// ErrInvalidPath is returned when a field path is empty, malformed, or
	// traverses a field that is not a single-object link.
	ErrInvalidPath = fmt.Errorf("%w: invalid field path", ErrInvalidArgument)
	// ErrAmbiguousField is returned when a field name cannot be resolved.
	ErrAmbiguousField = fmt.Errorf("%w: unknown field", ErrInvalidArgument)
	// ErrArityMismatch is returned when the number of fields and sort
	// orders do not match.
	ErrArityMismatch = fmt.Errorf("%w: number of fields and sort orders do not match", ErrInvalidArgument)
	// ErrOutOfRange is returned when an index is outside the materialized
	// bounds.
	ErrOutOfRange = errors.New("index out of range")
	// ErrDeliveryUnsupported is returned when the owning looper cannot
	// accept deliveries.
	ErrDeliveryUnsupported = errors.New("notification delivery unsupported")
	// ErrConcurrentModification is returned by iterators captured before
	// their results were re-pinned.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrTargetNil is returned when a decode target is nil.
	ErrTargetNil = errors.New("target interface is nil")
	// ErrNonPointer is returned when a decode target is not a pointer.
	ErrNonPointer = errors.New("target is not a pointer")
	// ErrVersionReleased is returned when a snapshot of a version that is
	// no longer retained is requested.
	ErrVersionReleased = errors.New("version no longer retained")
	// ErrTableExists is returned when creating a table twice.
	ErrTableExists = errors.New("table already exists")
	// ErrTableNotFound is returned when a table does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrRowNotFound is returned when a row was deleted or never existed.
	ErrRowNotFound = errors.New("row not found")
	// ErrLooperClosed is returned when posting to a looper that quit.
	ErrLooperClosed = fmt.Errorf("%w: looper closed", ErrDeliveryUnsupported)
)

// ErrField describes a field that failed validation. It wraps one of the
// argument sentinels so it can be tested with [errors.Is].
type ErrField struct {
	Kind  error
	Table string
	Field string
	Type  FieldType
	// Reason is a short free-form explanation.
	Reason string
}

func (e ErrField) Error() string {
	if e.Type != 0 {
		return fmt.Sprintf("%s: field '%s' in class '%s' is of invalid type '%s'", e.Reason, e.Field, e.Table, e.Type)
	}
	return fmt.Sprintf("%s: field '%s' in class '%s'", e.Reason, e.Field, e.Table)
}

func (e ErrField) Unwrap() error { return e.Kind }

// ErrDecode is returned by [Decoder.Decode] to wrap third party decoding
// errors.
type ErrDecode struct {
	Source any
	Target any
}

func (e ErrDecode) Error() string {
	return fmt.Sprintf("cannot decode %T into %T", e.Source, e.Target)
}

// ErrCorruptImport is returned when too many records of an import stream
// cannot be parsed.
type ErrCorruptImport struct {
	CorruptionRate        float64
	CorruptItems          int
	DataLength            int
	CorruptAlertThreshold float64
}

func (e ErrCorruptImport) Error() string {
	return fmt.Sprintf("%.0f%% of the import stream is corrupt, more than the accepted %.0f%%", math.Floor(100*e.CorruptionRate), math.Floor(100*e.CorruptAlertThreshold))
}
