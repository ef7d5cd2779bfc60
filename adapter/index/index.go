// Package index contains the default [domain.Index] implementation, an AVL
// tree keyed by column value whose nodes hold the keys of the rows sharing
// that value.
package index

import (
	"context"
	"fmt"
	"iter"

	"github.com/vinicius-lino-figueiredo/bst"
	"github.com/vinicius-lino-figueiredo/bst/adapter/avl"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Index implements [domain.Index].
type Index struct {
	column domain.ColumnID
	// Exported to allow testing. Should not be a problem because Index is
	// used as interface.
	Tree     bst.BST[any, domain.RowKey]
	comparer domain.Comparer
	hasher   domain.Hasher
}

// NewIndex returns a new implementation of domain.Index for the given column.
func NewIndex(column domain.ColumnID, options ...Option) domain.Index {
	i := &Index{
		column:   column,
		comparer: comparer.NewComparer(),
		hasher:   hasher.NewHasher(),
	}
	for _, option := range options {
		option(i)
	}
	i.Tree = avl.NewBST(false, 8, NewBSTComparer(i.comparer))
	return i
}

// Column implements [domain.Index].
func (i *Index) Column() domain.ColumnID {
	return i.column
}

// Insert implements [domain.Index].
func (i *Index) Insert(value any, key domain.RowKey) error {
	return i.Tree.Insert(value, key)
}

// Remove implements [domain.Index].
func (i *Index) Remove(value any, key domain.RowKey) error {
	return i.Tree.Delete(value, &key)
}

// GetMatching implements [domain.Index].
func (i *Index) GetMatching(values ...any) (domain.RowSet, error) {
	seen := make(map[uint64]struct{}, len(values))
	var res domain.RowSet
	for _, v := range values {
		h, err := i.hasher.Hash(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		found, err := i.Tree.Search(v)
		if err != nil {
			return nil, err
		}
		if found == nil {
			continue
		}
		res = append(res, found.Values()...)
	}
	return res, nil
}

// GetBetweenBounds implements [domain.Index].
func (i *Index) GetBetweenBounds(ctx context.Context, op domain.Operator, bound any) (iter.Seq2[domain.RowKey, error], error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var qry bst.Query[any]
	switch op {
	case domain.OpGreater:
		qry.GreaterThan = &bst.Bound[any]{Value: bound, IncludeEqual: false}
	case domain.OpGreaterEqual:
		qry.GreaterThan = &bst.Bound[any]{Value: bound, IncludeEqual: true}
	case domain.OpLess:
		qry.LowerThan = &bst.Bound[any]{Value: bound, IncludeEqual: false}
	case domain.OpLessEqual:
		qry.LowerThan = &bst.Bound[any]{Value: bound, IncludeEqual: true}
	default:
		return nil, fmt.Errorf("%w: %s is not a range operator", domain.ErrInvalidArgument, op)
	}

	return i.Tree.Query(qry), nil
}

// GetNumberOfKeys implements [domain.Index].
func (i *Index) GetNumberOfKeys() int {
	return i.Tree.GetNumberOfKeys()
}
