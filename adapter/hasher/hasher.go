// Package hasher contains a json based implementation of [domain.Hasher].
// Values are canonicalized before marshaling so that equal column values of
// different Go types (int and int64, for instance) share a hash. Dates and
// binary values are tagged so they never collide with strings.
package hasher

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"time"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Hasher implements [domain.Hasher].
type Hasher struct{}

// NewHasher returns a new implementation of [domain.Hasher].
func NewHasher() domain.Hasher {
	return &Hasher{}
}

// Hash implements domain.Hasher.
func (h *Hasher) Hash(value any) (uint64, error) {
	canonical := h.canonicalize(value)

	b, err := json.Marshal(canonical)
	if err != nil {
		return 0, err
	}

	hasher := fnv.New64a()

	_, _ = hasher.Write(b) // fnv.sum64a.Write never returns error

	return hasher.Sum64(), nil
}

type dateValue struct {
	Date int64 `json:"$date"`
}

type binaryValue struct {
	Bin []byte `json:"$bin"`
}

func (h *Hasher) canonicalize(a any) any {
	switch t := a.(type) {
	case nil, bool, string, float32, float64:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return uint64(t)
	case uint8:
		return uint64(t)
	case uint16:
		return uint64(t)
	case uint32:
		return uint64(t)
	case uint64:
		return t
	case domain.RowKey:
		return int64(t)
	case time.Time:
		return dateValue{Date: t.UnixNano()}
	case []byte:
		return binaryValue{Bin: t}
	case []any:
		res := make([]any, len(t))
		for n, v := range t {
			res[n] = h.canonicalize(v)
		}
		return res
	}

	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		res := make([]any, v.Len())
		for n := range v.Len() {
			res[n] = h.canonicalize(v.Index(n).Interface())
		}
		return res
	case reflect.Pointer, reflect.Chan, reflect.Func:
		// not marshalable, identity is the best we can do
		if v.IsNil() {
			return nil
		}
		return v.Pointer()
	}
	return a
}
