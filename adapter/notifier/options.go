package notifier

import "log/slog"

// Option configures a [Notifier].
type Option func(*Notifier)

// WithMetrics sets the collectors updated by the notifier.
func WithMetrics(m *Metrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// WithLogger sets the notifier logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = l
	}
}

// LooperOption configures a [Looper].
type LooperOption func(*Looper)

// WithPanicHandler sets the function receiving panics raised by tasks. The
// default handler panics again, crashing the program like any goroutine
// would.
func WithPanicHandler(h func(any)) LooperOption {
	return func(l *Looper) {
		l.panicHandler = h
	}
}

// WithMaxQueue bounds the number of queued tasks. Zero means unbounded.
func WithMaxQueue(size int) LooperOption {
	return func(l *Looper) {
		l.maxQueue = size
	}
}

// WithLooperLogger sets the looper logger.
func WithLooperLogger(lg *slog.Logger) LooperOption {
	return func(l *Looper) {
		l.logger = lg
	}
}
