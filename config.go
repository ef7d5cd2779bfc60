package liveview

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/memstore"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/session"
)

// Config holds the settings that can be given through the environment.
type Config struct {
	AutoRefresh      bool       `env:"LIVEVIEW_AUTO_REFRESH"      envDefault:"true"`
	LogLevel         slog.Level `env:"LIVEVIEW_LOG_LEVEL"         envDefault:"INFO"`
	LooperQueue      int        `env:"LIVEVIEW_LOOPER_QUEUE"      envDefault:"0"`
	MetricsNamespace string     `env:"LIVEVIEW_METRICS_NAMESPACE" envDefault:"liveview"`
	UseIndexes       bool       `env:"LIVEVIEW_USE_INDEXES"       envDefault:"true"`
}

// LoadConfig reads a [Config] from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.LooperQueue < 0 {
		return Config{}, fmt.Errorf("%w: LIVEVIEW_LOOPER_QUEUE must not be negative", ErrInvalidArgument)
	}
	return cfg, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}

// Metrics registers the notifier collectors in reg under the configured
// namespace.
func (c Config) Metrics(reg prometheus.Registerer) (*Metrics, error) {
	return notifier.NewMetrics(reg, c.MetricsNamespace)
}

// EngineOptions returns the [NewEngine] options matching c.
func (c Config) EngineOptions(logger *slog.Logger) []memstore.Option {
	return []memstore.Option{
		memstore.WithIndexes(c.UseIndexes),
		memstore.WithLogger(logger),
	}
}

// LooperOptions returns the [NewLooper] options matching c. A zero queue
// size leaves the looper unbounded.
func (c Config) LooperOptions(logger *slog.Logger) []notifier.LooperOption {
	opts := []notifier.LooperOption{notifier.WithLooperLogger(logger)}
	if c.LooperQueue > 0 {
		opts = append(opts, notifier.WithMaxQueue(c.LooperQueue))
	}
	return opts
}

// SessionOptions returns the [Open] options matching c. looper and metrics
// may be nil.
func (c Config) SessionOptions(looper *Looper, logger *slog.Logger, metrics *Metrics) []session.Option {
	opts := []session.Option{session.WithLogger(logger)}
	if looper != nil {
		opts = append(opts, session.WithLooper(looper), session.WithAutoRefresh(c.AutoRefresh))
	}
	if metrics != nil {
		opts = append(opts, session.WithMetrics(metrics))
	}
	return opts
}
