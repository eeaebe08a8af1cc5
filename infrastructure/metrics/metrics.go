package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the processing packages. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Operations         *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	CacheErrors        *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curetrack",
			Name:      "operations_total",
			Help:      "Processing operations by name and outcome kind.",
		}, []string{"operation", "outcome"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curetrack",
			Subsystem: "read_model",
			Name:      "hits_total",
			Help:      "Read-model cache hits by key family.",
		}, []string{"family"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curetrack",
			Subsystem: "read_model",
			Name:      "misses_total",
			Help:      "Read-model cache misses by key family.",
		}, []string{"family"}),
		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curetrack",
			Subsystem: "read_model",
			Name:      "invalidations_total",
			Help:      "Read-model entries removed by invalidation, by mode.",
		}, []string{"mode"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curetrack",
			Subsystem: "read_model",
			Name:      "errors_total",
			Help:      "Read-model cache failures that fell through to live computation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.CacheHits, m.CacheMisses, m.CacheInvalidations, m.CacheErrors)
	}
	return m
}

// Observe records the outcome of operation. outcome is "ok" or a failure kind.
func (m *Metrics) Observe(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) CacheHit(family string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(family).Inc()
}

func (m *Metrics) CacheMiss(family string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(family).Inc()
}

func (m *Metrics) CacheInvalidated(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheInvalidations.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}
