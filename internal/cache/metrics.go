package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache traffic. A nil *Metrics is valid and records nothing,
// so call sites never have to branch.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	puts          prometheus.Counter
	invalidations prometheus.Counter
}

// NewMetrics creates and registers cache counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache misses.",
		}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "puts_total",
			Help:      "Number of pages written to the cache.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Number of per-user invalidations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.puts, m.invalidations)
	}
	return m
}

func (m *Metrics) Hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) Put() {
	if m != nil {
		m.puts.Inc()
	}
}

func (m *Metrics) Invalidate() {
	if m != nil {
		m.invalidations.Inc()
	}
}
