package notifier

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the collectors updated by a [Notifier]. The same Metrics can
// be shared by every notifier of a process.
type Metrics struct {
	Deliveries   prometheus.Counter
	Ticks        prometheus.Counter
	Coalesced    prometheus.Counter
	TickDuration prometheus.Histogram
}

// NewMetrics creates the notifier collectors under namespace and registers
// them with reg, if not nil. Collectors already registered by a previous
// call are reused.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Number of change notifications handed to listeners.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "ticks_total",
			Help:      "Number of notification cycles processed.",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "coalesced_total",
			Help:      "Number of change signals merged into an already pending cycle.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "tick_duration_seconds",
			Help:      "Time spent re-pinning and delivering in a notification cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	m.Deliveries, err = register(reg, m.Deliveries)
	if err != nil {
		return nil, err
	}
	m.Ticks, err = register(reg, m.Ticks)
	if err != nil {
		return nil, err
	}
	m.Coalesced, err = register(reg, m.Coalesced)
	if err != nil {
		return nil, err
	}
	m.TickDuration, err = register(reg, m.TickDuration)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
