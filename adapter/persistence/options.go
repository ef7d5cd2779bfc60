package persistence

import "log/slog"

// Option configures a [Persistence].
type Option func(*Persistence)

// WithCorruptAlertThreshold sets the share of unparsable lines tolerated in
// a JSON lines import before it is refused.
func WithCorruptAlertThreshold(c float64) Option {
	return func(p *Persistence) {
		p.corruptAlertThreshold = c
	}
}

// WithLogger sets the logger used to report imports and skipped lines.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persistence) {
		p.logger = l
	}
}
