package session

import (
	"fmt"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"github.com/vinicius-lino-figueiredo/liveview/pkg/arena"
)

// Iterator walks the rows of a [Results]. It is created by
// [Results.Iterator] and stops with [domain.ErrConcurrentModification] if the
// results are given different rows while it runs.
type Iterator struct {
	results *Results
	handle  arena.Handle
	gen     uint64
	pos     int
	err     error
}

// Next moves to the next row and reports whether there is one. Once it
// returns false, [Iterator.Err] tells whether the iteration failed.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	r := it.results
	if err := r.check(); err != nil {
		it.fail(err)
		return false
	}
	if !it.handle.Alive() {
		return false
	}
	if r.gen != it.gen {
		it.fail(fmt.Errorf("%w: results changed during iteration", domain.ErrConcurrentModification))
		return false
	}
	if it.pos+1 >= len(r.rows) {
		it.Close()
		return false
	}
	it.pos++
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.Close()
}

// Object returns the current row, or nil before the first call to
// [Iterator.Next].
func (it *Iterator) Object() *Object {
	r := it.results
	if it.pos < 0 || it.pos >= len(r.rows) {
		return nil
	}
	return r.session.object(r.query.Table, r.rows[it.pos])
}

// Index returns the position of the current row.
func (it *Iterator) Index() int {
	return it.pos
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator. Next returns false afterwards.
func (it *Iterator) Close() {
	it.handle.Release()
}
