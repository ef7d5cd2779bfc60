package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// how many rows are visited between two context checks
const ctxCheckInterval = 1024

func (e *Engine) evaluate(ctx context.Context, r *reader, q domain.Query) (domain.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := r.table(q.Table)
	if err != nil {
		return nil, err
	}

	candidates, err := e.candidates(ctx, r, t, q)
	if err != nil {
		return nil, err
	}

	rows := make(domain.RowSet, 0, len(candidates))
	for n, key := range candidates {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ok, err := e.matchGroups(r, q.Table, key, q.Groups)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, key)
		}
	}

	for _, step := range q.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch step.Kind {
		case domain.StepSort:
			rows, err = e.sortRows(r, q.Table, rows, step)
		case domain.StepDistinct:
			rows, err = e.distinctRows(r, q.Table, rows, step)
		default:
			err = fmt.Errorf("%w: unknown step kind %d", domain.ErrInvalidArgument, step.Kind)
		}
		if err != nil {
			return nil, err
		}
	}

	return rows, nil
}

// candidates returns the rows worth matching, in table order. A search index
// is used to narrow them when the query is a single group holding a
// predicate over an indexed column of the queried table.
func (e *Engine) candidates(ctx context.Context, r *reader, t *table, q domain.Query) (domain.RowSet, error) {
	if q.Within != nil {
		res := make(domain.RowSet, 0, len(q.Within))
		for _, k := range q.Within {
			if _, ok := t.rows[k]; ok {
				res = append(res, k)
			}
		}
		return res, nil
	}

	if e.useIndexes && r.st.frozen && len(q.Groups) == 1 {
		for _, p := range q.Groups[0] {
			if len(p.Path) != 1 {
				continue
			}
			col, ok := t.schema.ColumnByID(p.Path[0])
			if !ok || !col.Indexed {
				continue
			}
			keys, ok, err := e.lookup(ctx, r, t, col, p)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			found := make(map[domain.RowKey]struct{}, len(keys))
			for _, k := range keys {
				found[k] = struct{}{}
			}
			res := make(domain.RowSet, 0, len(keys))
			for _, k := range t.order {
				if _, ok := found[k]; ok {
					res = append(res, k)
				}
			}
			return res, nil
		}
	}

	return domain.RowSet(t.order), nil
}

func (e *Engine) lookup(ctx context.Context, r *reader, t *table, col domain.Column, p domain.Predicate) (domain.RowSet, bool, error) {
	switch p.Op {
	case domain.OpEqual, domain.OpGreater, domain.OpGreaterEqual, domain.OpLess, domain.OpLessEqual:
	default:
		return nil, false, nil
	}

	idx, err := r.st.index(e, t, col)
	if err != nil {
		return nil, false, err
	}

	if p.Op == domain.OpEqual {
		keys, err := idx.GetMatching(p.Value)
		return keys, err == nil, err
	}

	seq, err := idx.GetBetweenBounds(ctx, p.Op, p.Value)
	if err != nil {
		return nil, false, err
	}
	var keys domain.RowSet
	for k, err := range seq {
		if err != nil {
			return nil, false, err
		}
		keys = append(keys, k)
	}
	return keys, true, nil
}

func (e *Engine) matchGroups(r *reader, tableName string, key domain.RowKey, groups [][]domain.Predicate) (bool, error) {
	if len(groups) == 0 {
		return true, nil
	}
	for _, group := range groups {
		ok, err := e.matchGroup(r, tableName, key, group)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) matchGroup(r *reader, tableName string, key domain.RowKey, group []domain.Predicate) (bool, error) {
	for _, p := range group {
		value, err := e.valueAt(r, tableName, key, p.Path)
		if err != nil {
			return false, err
		}
		ok, err := e.matcher.Match(value, p.Op, p.Value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// valueAt returns nil when a link along the path is empty.
func (e *Engine) valueAt(r *reader, tableName string, key domain.RowKey, path []domain.ColumnID) (any, error) {
	value, defined, err := e.fieldNavigator.GetField(r, tableName, key, path)
	if err != nil {
		return nil, err
	}
	if !defined {
		return nil, nil
	}
	return value, nil
}

type keyedRow struct {
	key    domain.RowKey
	values []any
}

func (e *Engine) keyRows(r *reader, tableName string, rows domain.RowSet, paths [][]domain.ColumnID) ([]keyedRow, error) {
	keyed := make([]keyedRow, len(rows))
	for n, key := range rows {
		values := make([]any, len(paths))
		for i, path := range paths {
			v, err := e.valueAt(r, tableName, key, path)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		keyed[n] = keyedRow{key: key, values: values}
	}
	return keyed, nil
}

// sortRows is stable, so rows with equal values keep their relative order.
func (e *Engine) sortRows(r *reader, tableName string, rows domain.RowSet, step domain.Step) (domain.RowSet, error) {
	if len(step.Ascending) != len(step.Paths) {
		return nil, domain.ErrArityMismatch
	}
	keyed, err := e.keyRows(r, tableName, rows, step.Paths)
	if err != nil {
		return nil, err
	}

	var cmpErr error
	slices.SortStableFunc(keyed, func(a, b keyedRow) int {
		for i := range step.Paths {
			c, err := e.comparer.Compare(a.values[i], b.values[i])
			if err != nil {
				cmpErr = err
				return 0
			}
			if c == 0 {
				continue
			}
			if !step.Ascending[i] {
				c = -c
			}
			return c
		}
		return 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}

	res := make(domain.RowSet, len(keyed))
	for n, k := range keyed {
		res[n] = k.key
	}
	return res, nil
}

// distinctRows keeps the first row of each combination of values.
func (e *Engine) distinctRows(r *reader, tableName string, rows domain.RowSet, step domain.Step) (domain.RowSet, error) {
	keyed, err := e.keyRows(r, tableName, rows, step.Paths)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64][]keyedRow)
	res := make(domain.RowSet, 0, len(keyed))
Rows:
	for _, k := range keyed {
		h, err := e.hasher.Hash(k.values)
		if err != nil {
			return nil, err
		}
		// same hash is not enough, values must compare equal
		for _, other := range seen[h] {
			equal, err := e.equalValues(k.values, other.values)
			if err != nil {
				return nil, err
			}
			if equal {
				continue Rows
			}
		}
		seen[h] = append(seen[h], k)
		res = append(res, k.key)
	}
	return res, nil
}

func (e *Engine) equalValues(a, b []any) (bool, error) {
	for i := range a {
		c, err := e.comparer.Compare(a[i], b[i])
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}
