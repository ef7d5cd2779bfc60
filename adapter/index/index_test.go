package index

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

type IndexTestSuite struct {
	suite.Suite
	idx *Index
}

func (s *IndexTestSuite) SetupTest() {
	s.idx = NewIndex(3, WithComparer(comparer.NewComparer())).(*Index)
	s.Require().NoError(s.idx.Insert(int64(4), 1))
	s.Require().NoError(s.idx.Insert(int64(3), 2))
	s.Require().NoError(s.idx.Insert(int64(1), 3))
	s.Require().NoError(s.idx.Insert(int64(1), 4))
}

func (s *IndexTestSuite) collect(seq func(func(domain.RowKey, error) bool)) []domain.RowKey {
	var res []domain.RowKey
	for k, err := range seq {
		s.Require().NoError(err)
		res = append(res, k)
	}
	slices.Sort(res)
	return res
}

func (s *IndexTestSuite) TestColumn() {
	s.Equal(domain.ColumnID(3), s.idx.Column())
}

func (s *IndexTestSuite) TestInsertion() {
	s.Equal(3, s.idx.GetNumberOfKeys())

	found, err := s.idx.Tree.Search(int64(1))
	s.NoError(err)
	s.Require().NotNil(found)
	s.ElementsMatch([]domain.RowKey{3, 4}, found.Values())
}

func (s *IndexTestSuite) TestGetMatching() {
	rows, err := s.idx.GetMatching(1)
	s.NoError(err)
	s.ElementsMatch(domain.RowSet{3, 4}, rows)

	// repeated values are looked up once
	rows, err = s.idx.GetMatching(4, int64(4), 3, 99)
	s.NoError(err)
	s.ElementsMatch(domain.RowSet{1, 2}, rows)
}

func (s *IndexTestSuite) TestRemove() {
	s.NoError(s.idx.Remove(int64(1), 3))
	rows, err := s.idx.GetMatching(1)
	s.NoError(err)
	s.Equal(domain.RowSet{4}, rows)

	s.NoError(s.idx.Remove(int64(1), 4))
	rows, err = s.idx.GetMatching(1)
	s.NoError(err)
	s.Empty(rows)
}

func (s *IndexTestSuite) TestGetBetweenBounds() {
	ctx := context.Background()

	seq, err := s.idx.GetBetweenBounds(ctx, domain.OpGreater, 1)
	s.NoError(err)
	s.Equal([]domain.RowKey{1, 2}, s.collect(seq))

	seq, err = s.idx.GetBetweenBounds(ctx, domain.OpGreaterEqual, 3)
	s.NoError(err)
	s.Equal([]domain.RowKey{1, 2}, s.collect(seq))

	seq, err = s.idx.GetBetweenBounds(ctx, domain.OpLess, 4)
	s.NoError(err)
	s.Equal([]domain.RowKey{2, 3, 4}, s.collect(seq))

	seq, err = s.idx.GetBetweenBounds(ctx, domain.OpLessEqual, 1)
	s.NoError(err)
	s.Equal([]domain.RowKey{3, 4}, s.collect(seq))

	_, err = s.idx.GetBetweenBounds(ctx, domain.OpContains, 1)
	s.ErrorIs(err, domain.ErrInvalidArgument)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.idx.GetBetweenBounds(cancelled, domain.OpLess, 1)
	s.ErrorIs(err, context.Canceled)
}

func TestIndexTestSuite(t *testing.T) {
	suite.Run(t, new(IndexTestSuite))
}
