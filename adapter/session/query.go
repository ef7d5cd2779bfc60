package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/descriptor"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

var (
	ordered = []domain.FieldType{domain.FieldInt, domain.FieldFloat, domain.FieldDouble, domain.FieldDate}
	textual = []domain.FieldType{domain.FieldString, domain.FieldBinary}
)

// QueryBuilder collects predicates over a table. Predicates are AND-ed
// until [QueryBuilder.Or] is called. The first invalid predicate is
// remembered and returned by [QueryBuilder.FindAll].
type QueryBuilder struct {
	session *Session
	table   string
	parent  *Results

	groups    [][]domain.Predicate
	current   []domain.Predicate
	orPending bool
	err       error
}

func newQueryBuilder(s *Session, table string, parent *Results) *QueryBuilder {
	qb := &QueryBuilder{session: s, table: table, parent: parent}
	if err := s.check(); err != nil {
		qb.err = err
	} else if _, ok := s.reader().TableSchema(table); !ok {
		qb.err = fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	return qb
}

// EqualTo matches rows whose field equals value.
func (qb *QueryBuilder) EqualTo(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpEqual, value, nil)
}

// NotEqualTo matches rows whose field differs from value.
func (qb *QueryBuilder) NotEqualTo(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpNotEqual, value, nil)
}

// GreaterThan matches rows whose field is greater than value.
func (qb *QueryBuilder) GreaterThan(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpGreater, value, ordered)
}

// GreaterThanOrEqualTo matches rows whose field is greater than or equal to
// value.
func (qb *QueryBuilder) GreaterThanOrEqualTo(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpGreaterEqual, value, ordered)
}

// LessThan matches rows whose field is less than value.
func (qb *QueryBuilder) LessThan(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpLess, value, ordered)
}

// LessThanOrEqualTo matches rows whose field is less than or equal to value.
func (qb *QueryBuilder) LessThanOrEqualTo(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpLessEqual, value, ordered)
}

// Between matches rows whose field is in the closed interval [from, to].
func (qb *QueryBuilder) Between(field string, from, to any) *QueryBuilder {
	return qb.add(field, domain.OpGreaterEqual, from, ordered).
		add(field, domain.OpLessEqual, to, ordered)
}

// BeginsWith matches text or binary fields starting with value.
func (qb *QueryBuilder) BeginsWith(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpBeginsWith, value, textual)
}

// EndsWith matches text or binary fields ending with value.
func (qb *QueryBuilder) EndsWith(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpEndsWith, value, textual)
}

// Contains matches text or binary fields containing value.
func (qb *QueryBuilder) Contains(field string, value any) *QueryBuilder {
	return qb.add(field, domain.OpContains, value, textual)
}

// IsNull matches rows whose field is null or whose link path is empty.
func (qb *QueryBuilder) IsNull(field string) *QueryBuilder {
	return qb.add(field, domain.OpIsNull, nil, nil)
}

// IsNotNull matches rows whose field holds a value.
func (qb *QueryBuilder) IsNotNull(field string) *QueryBuilder {
	return qb.add(field, domain.OpIsNotNull, nil, nil)
}

// Or closes the current group of predicates. Rows matching any group are
// selected.
func (qb *QueryBuilder) Or() *QueryBuilder {
	if qb.err != nil {
		return qb
	}
	if len(qb.current) == 0 {
		qb.err = fmt.Errorf("%w: missing left-hand side of OR", domain.ErrUnsupportedOperation)
		return qb
	}
	qb.groups = append(qb.groups, qb.current)
	qb.current, qb.orPending = nil, true
	return qb
}

func (qb *QueryBuilder) add(field string, op domain.Operator, value any, allowed []domain.FieldType) *QueryBuilder {
	if qb.err != nil {
		return qb
	}
	d, err := descriptor.ForQuery(qb.session.reader(), qb.table, field)
	if err != nil {
		qb.err = err
		return qb
	}
	if allowed != nil && !slices.Contains(allowed, d.Type(0)) {
		qb.err = domain.ErrField{
			Kind:   domain.ErrUnsupportedField,
			Table:  qb.table,
			Field:  field,
			Type:   d.Type(0),
			Reason: op.String() + " is not supported",
		}
		return qb
	}

	switch t := value.(type) {
	case *Object:
		if t == nil {
			value = nil
		} else {
			value = t.key
		}
	case []byte:
		value = slices.Clone(t)
	}
	if d.Type(0) == domain.FieldObject && op != domain.OpIsNull && op != domain.OpIsNotNull {
		if _, ok := value.(domain.RowKey); !ok && value != nil {
			qb.err = fmt.Errorf("%w: %s.%s must be compared with an object, got %T", domain.ErrInvalidArgument, qb.table, field, value)
			return qb
		}
	}

	qb.current = append(qb.current, domain.Predicate{Path: d.Path(0), Op: op, Value: value})
	qb.orPending = false
	return qb
}

func (qb *QueryBuilder) build() (domain.Query, error) {
	if qb.err != nil {
		return domain.Query{}, qb.err
	}
	if qb.orPending {
		return domain.Query{}, fmt.Errorf("%w: missing right-hand side of OR", domain.ErrUnsupportedOperation)
	}
	groups := slices.Clone(qb.groups)
	if len(qb.current) > 0 {
		groups = append(groups, qb.current)
	}

	q := domain.Query{Table: qb.table, Groups: groups}
	p := qb.parent
	if p == nil {
		return q, nil
	}
	if err := p.check(); err != nil {
		return domain.Query{}, err
	}
	if p.snapshot {
		q.Within = p.rows.Clone()
		if q.Within == nil {
			q.Within = domain.RowSet{}
		}
		return q, nil
	}

	parent := p.query.Clone()
	q.Groups = cross(parent.Groups, groups)
	q.Within, q.Steps = parent.Within, parent.Steps
	return q, nil
}

// cross ANDs two disjunctions of groups.
func cross(a, b [][]domain.Predicate) [][]domain.Predicate {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	res := make([][]domain.Predicate, 0, len(a)*len(b))
	for _, ga := range a {
		for _, gb := range b {
			g := make([]domain.Predicate, 0, len(ga)+len(gb))
			res = append(res, append(append(g, ga...), gb...))
		}
	}
	return res
}

// FindAll returns results over the matching rows. They are evaluated the
// first time they are read.
func (qb *QueryBuilder) FindAll() (*Results, error) {
	q, err := qb.build()
	if err != nil {
		return nil, err
	}
	return qb.session.newResults(q)
}

// FindFirst returns the first matching row, or nil if there is none.
func (qb *QueryBuilder) FindFirst() (*Object, error) {
	res, err := qb.FindAll()
	if err != nil {
		return nil, err
	}
	size, err := res.Size()
	if err != nil || size == 0 {
		return nil, err
	}
	return res.Get(0)
}

// Count returns the number of matching rows.
func (qb *QueryBuilder) Count(ctx context.Context) (int, error) {
	res, err := qb.FindAll()
	if err != nil {
		return 0, err
	}
	if err := res.Load(ctx); err != nil {
		return 0, err
	}
	return len(res.rows), nil
}
