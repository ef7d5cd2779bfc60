package session

import (
	"log/slog"

	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a [Session].
type Option func(*Session)

// WithLooper confines the session to an event loop. Listeners can only be
// added to sessions with a looper, and only such sessions re-pin on their
// own. Every method of the session and of what it creates must then be
// called from tasks of that looper.
func WithLooper(l *notifier.Looper) Option {
	return func(s *Session) {
		s.looper = l
	}
}

// WithAutoRefresh sets whether commits made by other sessions re-pin a
// looper session on their own. Defaults to true. Commits made by the session
// itself always do.
func WithAutoRefresh(b bool) Option {
	return func(s *Session) {
		s.autoRefresh = b
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithTracer sets the tracer used for commit and refresh spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = t
	}
}

// WithDecoder sets the decoder used by [Object.Decode] and [Results.Scan].
func WithDecoder(d domain.Decoder) Option {
	return func(s *Session) {
		s.decoder = d
	}
}

// WithPersistence sets the JSON import and export implementation.
func WithPersistence(p domain.Persistence) Option {
	return func(s *Session) {
		s.persistence = p
	}
}

// WithComparer sets the comparer used by aggregates.
func WithComparer(c domain.Comparer) Option {
	return func(s *Session) {
		s.comparer = c
	}
}

// WithMetrics sets the collectors updated by the session notifier.
func WithMetrics(m *notifier.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}
