package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks retrieval traffic and subsystem health. A nil *Metrics
// records nothing.
type Metrics struct {
	searches          prometheus.Counter
	searchDuration    prometheus.Histogram
	subsystemFailures *prometheus.CounterVec
	degraded          prometheus.Counter
	writes            prometheus.Counter
}

// NewMetrics creates and registers engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "engine",
			Name:      "searches_total",
			Help:      "Number of search requests handled.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "engine",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		subsystemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "engine",
			Name:      "subsystem_failures_total",
			Help:      "Retrieval subsystem failures by subsystem.",
		}, []string{"subsystem"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "engine",
			Name:      "degraded_responses_total",
			Help:      "Responses served with every enabled subsystem failed.",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "engine",
			Name:      "writes_total",
			Help:      "Memory items written.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.searches, m.searchDuration, m.subsystemFailures, m.degraded, m.writes)
	}
	return m
}

func (m *Metrics) ObserveSearch(d time.Duration) {
	if m != nil {
		m.searches.Inc()
		m.searchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SubsystemFailure(name string) {
	if m != nil {
		m.subsystemFailures.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) Degraded() {
	if m != nil {
		m.degraded.Inc()
	}
}

func (m *Metrics) Write() {
	if m != nil {
		m.writes.Inc()
	}
}
