package hasher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

type HasherTestSuite struct {
	suite.Suite
	h *Hasher
}

func (s *HasherTestSuite) SetupTest() {
	s.h = NewHasher().(*Hasher)
}

func (s *HasherTestSuite) hash(v any) uint64 {
	res, err := s.h.Hash(v)
	s.Require().NoError(err)
	return res
}

// Equal numbers of different types should share a hash.
func (s *HasherTestSuite) TestNumbers() {
	s.Equal(s.hash(int64(4)), s.hash(4))
	s.Equal(s.hash(uint8(4)), s.hash(uint64(4)))
	s.Equal(s.hash(domain.RowKey(7)), s.hash(int64(7)))
	s.NotEqual(s.hash(4), s.hash(5))
}

// Strings, dates and binaries with the same textual content should not
// collide.
func (s *HasherTestSuite) TestTaggedValues() {
	date := time.UnixMilli(1000)
	s.NotEqual(s.hash(date.Format(time.RFC3339Nano)), s.hash(date))
	s.NotEqual(s.hash("YQ=="), s.hash([]byte("a")))
	s.Equal(s.hash(time.UnixMilli(1000)), s.hash(date))
}

func (s *HasherTestSuite) TestLists() {
	s.Equal(s.hash([]any{1, "a", nil}), s.hash([]any{int64(1), "a", nil}))
	s.Equal(s.hash([]int64{1, 2}), s.hash([]any{1, 2}))
	s.NotEqual(s.hash([]any{1, 2}), s.hash([]any{2, 1}))
}

func (s *HasherTestSuite) TestNilPointers() {
	var p *int
	s.Equal(s.hash(nil), s.hash(p))
}

func TestHasherTestSuite(t *testing.T) {
	suite.Run(t, new(HasherTestSuite))
}
