package memstore

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// normalize converts value to the representation stored for c: int64 for
// integers, float64 for floating point columns, [domain.RowKey] for object
// links and [domain.RowSet] for link lists.
func (tx *writeTx) normalize(tableName string, c domain.Column, value any) (any, error) {
	fail := func() error {
		return fmt.Errorf("%w: cannot store %T in %s.%s of type %s", domain.ErrInvalidArgument, value, tableName, c.Name, c.Type)
	}

	if value == nil {
		switch {
		case c.Type == domain.FieldLinkingObjects:
			return nil, fail()
		case c.Nullable, c.Type == domain.FieldObject:
			return nil, nil
		case c.Type.IsList():
			return defaultValue(domain.Column{Type: c.Type}), nil
		default:
			return nil, fail()
		}
	}

	switch c.Type {
	case domain.FieldBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case domain.FieldInt:
		if i, ok := toInt(value); ok {
			return i, nil
		}
	case domain.FieldFloat, domain.FieldDouble:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
	case domain.FieldString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case domain.FieldBinary:
		if b, ok := value.([]byte); ok {
			return slices.Clone(b), nil
		}
	case domain.FieldDate:
		if t, ok := value.(time.Time); ok {
			return t, nil
		}
	case domain.FieldObject:
		k, ok := toKey(value)
		if !ok {
			break
		}
		if !tx.Exists(c.Target, k) {
			return nil, fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, c.Target, k)
		}
		return k, nil
	case domain.FieldList:
		keys, ok := toKeys(value)
		if !ok {
			break
		}
		for _, k := range keys {
			if !tx.Exists(c.Target, k) {
				return nil, fmt.Errorf("%w: %s[%d]", domain.ErrRowNotFound, c.Target, k)
			}
		}
		return keys, nil
	case domain.FieldIntList:
		if l, ok := toList(value, toInt); ok {
			return l, nil
		}
	case domain.FieldStringList:
		if l, ok := toList(value, toString); ok {
			return l, nil
		}
	case domain.FieldLinkingObjects:
		return nil, fmt.Errorf("%w: %s.%s is computed", domain.ErrUnsupportedOperation, tableName, c.Name)
	}
	return nil, fail()
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), t <= math.MaxInt64
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), t <= math.MaxInt64
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toKey(v any) (domain.RowKey, bool) {
	if k, ok := v.(domain.RowKey); ok {
		return k, true
	}
	i, ok := toInt(v)
	return domain.RowKey(i), ok
}

func toKeys(v any) (domain.RowSet, bool) {
	switch t := v.(type) {
	case domain.RowSet:
		return t.Clone(), true
	case []domain.RowKey:
		return domain.RowSet(slices.Clone(t)), true
	}
	l, ok := toList(v, toKey)
	return domain.RowSet(l), ok
}

func toList[T any](v any, conv func(any) (T, bool)) ([]T, bool) {
	switch t := v.(type) {
	case []T:
		return slices.Clone(t), true
	case []any:
		res := make([]T, len(t))
		for n, item := range t {
			c, ok := conv(item)
			if !ok {
				return nil, false
			}
			res[n] = c
		}
		return res, true
	case []int:
		res := make([]T, len(t))
		for n, item := range t {
			c, ok := conv(item)
			if !ok {
				return nil, false
			}
			res[n] = c
		}
		return res, true
	default:
		return nil, false
	}
}
