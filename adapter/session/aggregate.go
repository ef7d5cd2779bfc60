package session

import (
	"context"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/descriptor"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

var summable = []domain.FieldType{domain.FieldInt, domain.FieldFloat, domain.FieldDouble}

// values returns the non null values of field over the rows, and the type of
// field.
func (r *Results) values(field, op string, allowed []domain.FieldType) ([]any, domain.FieldType, error) {
	if err := r.load(context.Background()); err != nil {
		return nil, 0, err
	}
	src := r.source()
	d, err := descriptor.ForQuery(src, r.query.Table, field)
	if err != nil {
		return nil, 0, err
	}
	typ := d.Type(0)
	if !slices.Contains(allowed, typ) {
		return nil, 0, domain.ErrField{
			Kind:   domain.ErrUnsupportedOperation,
			Table:  r.query.Table,
			Field:  field,
			Type:   typ,
			Reason: op + " is not supported",
		}
	}

	path := d.Path(0)
	values := make([]any, 0, len(r.rows))
	for _, key := range r.rows {
		if !src.Exists(r.query.Table, key) {
			continue
		}
		v, defined, err := navigator.GetField(src, r.query.Table, key, path)
		if err != nil {
			return nil, 0, err
		}
		if defined && v != nil {
			values = append(values, v)
		}
	}
	return values, typ, nil
}

// Min returns the lowest value of a numeric or date field, or nil if there
// are no values.
func (r *Results) Min(field string) (any, error) {
	return r.extreme(field, "Min", -1)
}

// Max returns the highest value of a numeric or date field, or nil if there
// are no values.
func (r *Results) Max(field string) (any, error) {
	return r.extreme(field, "Max", 1)
}

func (r *Results) extreme(field, op string, sign int) (any, error) {
	values, _, err := r.values(field, op, ordered)
	if err != nil {
		return nil, err
	}
	var best any
	for _, v := range values {
		if best == nil {
			best = v
			continue
		}
		c, err := r.session.comparer.Compare(v, best)
		if err != nil {
			return nil, err
		}
		if c*sign > 0 {
			best = v
		}
	}
	return best, nil
}

// Sum adds the values of a numeric field. Integer fields give an int64,
// floating point fields a float64.
func (r *Results) Sum(field string) (any, error) {
	values, typ, err := r.values(field, "Sum", summable)
	if err != nil {
		return nil, err
	}
	if typ == domain.FieldInt {
		var sum int64
		for _, v := range values {
			sum += v.(int64)
		}
		return sum, nil
	}
	var sum float64
	for _, v := range values {
		sum += v.(float64)
	}
	return sum, nil
}

// Average returns the mean of the values of a numeric field, or 0 if there
// are no values.
func (r *Results) Average(field string) (float64, error) {
	values, typ, err := r.values(field, "Average", summable)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range values {
		if typ == domain.FieldInt {
			sum += float64(v.(int64))
		} else {
			sum += v.(float64)
		}
	}
	return sum / float64(len(values)), nil
}

// MinDate is [Results.Min] for date fields.
func (r *Results) MinDate(field string) (time.Time, bool, error) {
	return r.date(r.Min(field))
}

// MaxDate is [Results.Max] for date fields.
func (r *Results) MaxDate(field string) (time.Time, bool, error) {
	return r.date(r.Max(field))
}

func (r *Results) date(v any, err error) (time.Time, bool, error) {
	if err != nil || v == nil {
		return time.Time{}, false, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, false, domain.ErrField{
			Kind:   domain.ErrUnsupportedOperation,
			Table:  r.query.Table,
			Reason: "not a date field",
		}
	}
	return t, true, nil
}
