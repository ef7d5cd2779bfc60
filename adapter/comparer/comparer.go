// Package comparer contains the default [domain.Comparer] implementation.
//
// Values of different kinds are ordered as follows: nil, numbers, strings,
// booleans, dates, binary and lists. Numbers of any Go numeric type compare
// by value, with NaN before every other number.
package comparer

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// kind is the rank of a value among values of other kinds.
type kind uint8

const (
	kindNil kind = iota
	kindNumber
	kindString
	kindBool
	kindDate
	kindBinary
	kindList
	kindUnknown
)

// Comparer implements domain.Comparer.
type Comparer struct{}

// NewComparer returns a new implementation of domain.Comparer.
func NewComparer() domain.Comparer {
	return &Comparer{}
}

// Comparable implements domain.Comparer. Only scalar values of the same kind
// are comparable.
func (c *Comparer) Comparable(a, b any) bool {
	k := c.kindOf(a)
	if k != c.kindOf(b) {
		return false
	}
	switch k {
	case kindNumber, kindString, kindBool, kindDate:
		return true
	default:
		return false
	}
}

// Compare implements domain.Comparer.
func (c *Comparer) Compare(a any, b any) (int, error) {
	ka, kb := c.kindOf(a), c.kindOf(b)
	if ka == kindNil || kb == kindNil {
		return cmp.Compare(ka, kb), nil
	}
	if ka == kindUnknown || kb == kindUnknown {
		return 0, fmt.Errorf("%w: cannot compare unexpected types %T and %T", domain.ErrInvalidArgument, a, b)
	}
	if ka != kb {
		return cmp.Compare(ka, kb), nil
	}

	switch ka {
	case kindNumber:
		return c.compareNumbers(a, b), nil
	case kindString:
		return cmp.Compare(a.(string), b.(string)), nil
	case kindBool:
		return c.compareBool(a.(bool), b.(bool)), nil
	case kindDate:
		return a.(time.Time).Compare(b.(time.Time)), nil
	case kindBinary:
		return bytes.Compare(a.([]byte), b.([]byte)), nil
	default:
		la, _ := c.asList(a)
		lb, _ := c.asList(b)
		return c.compareList(la, lb)
	}
}

func (c *Comparer) kindOf(v any) kind {
	switch v.(type) {
	case nil:
		return kindNil
	case string:
		return kindString
	case bool:
		return kindBool
	case time.Time:
		return kindDate
	case []byte:
		return kindBinary
	}
	if _, ok := c.asList(v); ok {
		return kindList
	}
	if _, ok := c.asNumber(v); ok {
		return kindNumber
	}
	return kindUnknown
}

func (c *Comparer) compareNumbers(a, b any) int {
	na, _ := c.asNumber(a)
	nb, _ := c.asNumber(b)
	switch {
	case na == nil && nb == nil:
		return 0
	case na == nil:
		return -1
	case nb == nil:
		return 1
	}
	// big.Float keeps int64 and float64 comparisons exact
	return na.Cmp(nb)
}

func (c *Comparer) compareList(a, b []any) (int, error) {
	for i := range min(len(a), len(b)) {
		comp, err := c.Compare(a[i], b[i])
		if err != nil {
			return 0, err
		}
		if comp != 0 {
			return comp, nil
		}
	}
	return cmp.Compare(len(a), len(b)), nil
}

func (c *Comparer) compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func (c *Comparer) asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []int64:
		return boxed(l), true
	case []string:
		return boxed(l), true
	case domain.RowSet:
		return boxed([]domain.RowKey(l)), true
	case []domain.RowKey:
		return boxed(l), true
	default:
		return nil, false
	}
}

func boxed[T any](l []T) []any {
	res := make([]any, len(l))
	for n, v := range l {
		res[n] = v
	}
	return res
}

// asNumber returns a nil float and true for NaN.
func (c *Comparer) asNumber(v any) (*big.Float, bool) {
	switch n := v.(type) {
	case int:
		return new(big.Float).SetInt64(int64(n)), true
	case int8:
		return new(big.Float).SetInt64(int64(n)), true
	case int16:
		return new(big.Float).SetInt64(int64(n)), true
	case int32:
		return new(big.Float).SetInt64(int64(n)), true
	case int64:
		return new(big.Float).SetInt64(n), true
	case domain.RowKey:
		return new(big.Float).SetInt64(int64(n)), true
	case uint:
		return new(big.Float).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Float).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Float).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Float).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Float).SetUint64(n), true
	case float32:
		return c.asFloat(float64(n)), true
	case float64:
		return c.asFloat(n), true
	default:
		return nil, false
	}
}

func (c *Comparer) asFloat(f float64) *big.Float {
	if math.IsNaN(f) {
		return nil
	}
	return new(big.Float).SetFloat64(f)
}
