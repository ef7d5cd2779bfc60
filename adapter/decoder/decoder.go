// Package decoder contains the default [domain.Decoder] implementation.
package decoder

import (
	"fmt"
	"time"

	"github.com/goccy/go-reflect"
	"github.com/mitchellh/mapstructure"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// TagName is the struct tag used to map columns to fields.
const TagName = "liveview"

// Decoder implements domain.Decoder.
type Decoder struct{}

// NewDecoder returns a new implementation of domain.Decoder.
func NewDecoder() domain.Decoder {
	return &Decoder{}
}

// Decode implements domain.Decoder.
func (d *Decoder) Decode(source any, target any) error {
	if target == nil {
		return domain.ErrTargetNil
	}

	value := reflect.ValueNoEscapeOf(target)
	if value.Kind() != reflect.Ptr {
		return domain.ErrNonPointer
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    TagName,
		Result:     target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeHookFunc(time.RFC3339Nano)),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(d.adjust(source)); err != nil {
		errDec := domain.ErrDecode{Source: source, Target: target}
		return fmt.Errorf("%w: %w", errDec, err)
	}
	return nil
}

func (d *Decoder) adjust(value any) any {
	switch t := value.(type) {
	case domain.RowKey:
		return int64(t)
	case domain.RowSet:
		lst := make([]int64, len(t))
		for n, k := range t {
			lst[n] = int64(k)
		}
		return lst
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = d.adjust(v)
		}
		return m
	case []any:
		lst := make([]any, len(t))
		for n, v := range t {
			lst[n] = d.adjust(v)
		}
		return lst
	default:
		return value
	}
}
