package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

type M = map[string]any

type DecoderTestSuite struct {
	suite.Suite
	d *Decoder
}

func (s *DecoderTestSuite) SetupTest() {
	s.d = NewDecoder().(*Decoder)
}

func (s *DecoderTestSuite) TestSimpleStruct() {
	type SimpleStruct struct {
		Name  string
		Age   int
		Human bool
	}

	var tgt SimpleStruct
	err := s.d.Decode(M{"name": "Jonathan", "age": int64(18), "human": true}, &tgt)
	s.NoError(err)
	s.Equal("Jonathan", tgt.Name)
	s.Equal(18, tgt.Age)
	s.True(tgt.Human)
}

func (s *DecoderTestSuite) TestTags() {
	type Dog struct {
		Key   int64     `liveview:"_key"`
		Name  string    `liveview:"name"`
		Owner int64     `liveview:"owner"`
		Born  time.Time `liveview:"born"`
	}

	born := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	var tgt Dog
	err := s.d.Decode(M{
		"_key":  domain.RowKey(3),
		"name":  "Rex",
		"owner": domain.RowKey(10),
		"born":  born,
	}, &tgt)
	s.NoError(err)
	s.Equal(Dog{Key: 3, Name: "Rex", Owner: 10, Born: born}, tgt)
}

func (s *DecoderTestSuite) TestLists() {
	type ListStruct struct {
		Strings []string
		Numbers []int
		Links   []int64
	}

	var tgt ListStruct
	err := s.d.Decode(M{
		"strings": []string{"one", "two"},
		"numbers": []any{1, uint(2), int64(3)},
		"links":   domain.RowSet{4, 5},
	}, &tgt)
	s.NoError(err)
	s.Equal([]string{"one", "two"}, tgt.Strings)
	s.Equal([]int{1, 2, 3}, tgt.Numbers)
	s.Equal([]int64{4, 5}, tgt.Links)
}

func (s *DecoderTestSuite) TestMap() {
	var tgt M
	s.NoError(s.d.Decode(M{"a": domain.RowKey(1)}, &tgt))
	s.Equal(M{"a": int64(1)}, tgt)
}

func (s *DecoderTestSuite) TestInvalidTarget() {
	s.ErrorIs(s.d.Decode(M{}, nil), domain.ErrTargetNil)

	var tgt struct{}
	s.ErrorIs(s.d.Decode(M{}, tgt), domain.ErrNonPointer)
}

func (s *DecoderTestSuite) TestDecodeError() {
	var tgt struct{ Age int }
	err := s.d.Decode(M{"age": "old"}, &tgt)
	s.Error(err)
	s.ErrorAs(err, new(domain.ErrDecode))
}

func TestDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(DecoderTestSuite))
}
