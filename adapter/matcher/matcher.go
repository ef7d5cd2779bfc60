// Package matcher contains the default implementation of [domain.Matcher].
// It evaluates a single predicate operator against a column value; the
// combination of predicates into groups is done by the engine.
package matcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// ErrCompArgType is returned when an operator is called with an argument of
// invalid type.
type ErrCompArgType struct {
	Op     domain.Operator
	Want   string
	Actual any
}

// Error implements [error].
func (e ErrCompArgType) Error() string {
	return fmt.Sprintf(
		"%s value should be of type %s, got %T",
		e.Op, e.Want, e.Actual,
	)
}

// Unwrap allows matching with [domain.ErrInvalidArgument].
func (e ErrCompArgType) Unwrap() error { return domain.ErrInvalidArgument }

// Matcher implements [domain.Matcher].
type Matcher struct {
	comparer domain.Comparer
}

// NewMatcher returns a new implementation of domain.Matcher.
func NewMatcher(options ...Option) domain.Matcher {
	m := &Matcher{
		comparer: comparer.NewComparer(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Match implements [domain.Matcher].
func (m *Matcher) Match(value any, op domain.Operator, operand any) (bool, error) {
	switch op {
	case domain.OpIsNull:
		return value == nil, nil
	case domain.OpIsNotNull:
		return value != nil, nil
	case domain.OpEqual:
		return m.eq(value, operand)
	case domain.OpNotEqual:
		eq, err := m.eq(value, operand)
		return !eq, err
	case domain.OpGreater:
		return m.order(value, operand, func(c int) bool { return c > 0 })
	case domain.OpGreaterEqual:
		return m.order(value, operand, func(c int) bool { return c >= 0 })
	case domain.OpLess:
		return m.order(value, operand, func(c int) bool { return c < 0 })
	case domain.OpLessEqual:
		return m.order(value, operand, func(c int) bool { return c <= 0 })
	case domain.OpBeginsWith:
		return m.text(op, value, operand, strings.HasPrefix, bytes.HasPrefix)
	case domain.OpEndsWith:
		return m.text(op, value, operand, strings.HasSuffix, bytes.HasSuffix)
	case domain.OpContains:
		return m.text(op, value, operand, strings.Contains, bytes.Contains)
	default:
		return false, fmt.Errorf("%w: unknown operator %s", domain.ErrInvalidArgument, op)
	}
}

func (m *Matcher) eq(value, operand any) (bool, error) {
	if value == nil || operand == nil {
		return value == nil && operand == nil, nil
	}
	if !m.comparer.Comparable(value, operand) {
		// binary values are not ordered against other kinds, but can
		// still be equal
		a, aok := value.([]byte)
		b, bok := operand.([]byte)
		if aok && bok {
			return bytes.Equal(a, b), nil
		}
		return false, nil
	}
	c, err := m.comparer.Compare(value, operand)
	if err != nil {
		return false, err
	}
	return c == 0, nil
}

func (m *Matcher) order(value, operand any, accept func(int) bool) (bool, error) {
	if value == nil || !m.comparer.Comparable(value, operand) {
		return false, nil
	}
	c, err := m.comparer.Compare(value, operand)
	if err != nil {
		return false, err
	}
	return accept(c), nil
}

func (m *Matcher) text(op domain.Operator, value, operand any, str func(string, string) bool, bin func([]byte, []byte) bool) (bool, error) {
	switch o := operand.(type) {
	case string:
		v, ok := value.(string)
		if !ok {
			return false, nil
		}
		return str(v, o), nil
	case []byte:
		v, ok := value.([]byte)
		if !ok {
			return false, nil
		}
		return bin(v, o), nil
	default:
		return false, ErrCompArgType{Op: op, Want: "string", Actual: operand}
	}
}
