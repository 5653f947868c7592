// Package metrics exposes Prometheus counters for the conversation store.
// A nil *Collector is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Collector struct {
	started       prometheus.Counter
	appended      *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	loaded        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rosa",
			Name:      "conversations_started_total",
			Help:      "Conversations created.",
		}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosa",
			Name:      "messages_appended_total",
			Help:      "Messages appended to conversations.",
		}, []string{"role"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosa",
			Name:      "load_skipped_total",
			Help:      "Vault entries skipped while loading conversations.",
		}, []string{"kind"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosa",
			Name:      "storage_errors_total",
			Help:      "Failed vault operations.",
		}, []string{"op"}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rosa",
			Name:      "conversations_loaded",
			Help:      "Conversations held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.started, c.appended, c.skipped, c.storageErrors, c.loaded)
	}
	return c
}

func (c *Collector) ConversationStarted() {
	if c == nil {
		return
	}
	c.started.Inc()
}

func (c *Collector) MessageAppended(role string) {
	if c == nil {
		return
	}
	c.appended.WithLabelValues(role).Inc()
}

func (c *Collector) Skipped(kind string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(kind).Inc()
}

func (c *Collector) StorageError(op string) {
	if c == nil {
		return
	}
	c.storageErrors.WithLabelValues(op).Inc()
}

func (c *Collector) SetLoaded(n int) {
	if c == nil {
		return
	}
	c.loaded.Set(float64(n))
}
