package memstore

import (
	"log/slog"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithComparer sets the comparer used for sorting and index ordering.
func WithComparer(c domain.Comparer) Option {
	return func(e *Engine) {
		e.comparer = c
	}
}

// WithHasher sets the hasher used to find distinct values.
func WithHasher(h domain.Hasher) Option {
	return func(e *Engine) {
		e.hasher = h
	}
}

// WithMatcher sets the predicate matcher.
func WithMatcher(m domain.Matcher) Option {
	return func(e *Engine) {
		e.matcher = m
	}
}

// WithFieldNavigator sets the navigator used to follow link paths.
func WithFieldNavigator(fn domain.FieldNavigator) Option {
	return func(e *Engine) {
		e.fieldNavigator = fn
	}
}

// WithIndexes enables or disables the use of search indexes when
// evaluating queries. Indexes are used by default.
func WithIndexes(use bool) Option {
	return func(e *Engine) {
		e.useIndexes = use
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}
