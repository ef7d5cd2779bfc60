package index

import "github.com/vinicius-lino-figueiredo/liveview/domain"

// Option configures an [Index].
type Option func(*Index)

// WithComparer sets the comparer used to order indexed values.
func WithComparer(c domain.Comparer) Option {
	return func(i *Index) {
		i.comparer = c
	}
}

// WithHasher sets the hasher used to deduplicate lookup values.
func WithHasher(h domain.Hasher) Option {
	return func(i *Index) {
		i.hasher = h
	}
}
