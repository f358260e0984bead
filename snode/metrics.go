package snode

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "swarmd"

// Metrics exports snode network counters to prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Classifications  *prometheus.CounterVec
	Evictions        prometheus.Counter
	PoolRefreshes    prometheus.Counter
	PoolSize         prometheus.Gauge
	Difficulty       prometheus.Gauge
	MessagesReceived prometheus.Counter
	Duplicates       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snode_failures_total",
			Help:      "Classified snode failure responses by outcome.",
		}, []string{"outcome"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snode_evictions_total",
			Help:      "Snodes evicted from the pool after reaching the failure threshold.",
		}),
		PoolRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snode_pool_refreshes_total",
			Help:      "Snode pool repopulations from a seed node.",
		}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "snode_pool_size",
			Help:      "Number of snodes in the candidate pool.",
		}),
		Difficulty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pow_difficulty",
			Help:      "Current proof of work difficulty target.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "New messages delivered to the application.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_duplicate_total",
			Help:      "Retrieved messages dropped as already received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Classifications, m.Evictions, m.PoolRefreshes,
			m.PoolSize, m.Difficulty, m.MessagesReceived, m.Duplicates)
	}
	return m
}

func (m *Metrics) classified(o Outcome) {
	if m != nil {
		m.Classifications.WithLabelValues(o.String()).Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) poolRefreshed(size int) {
	if m != nil {
		m.PoolRefreshes.Inc()
		m.PoolSize.Set(float64(size))
	}
}

func (m *Metrics) setPoolSize(size int) {
	if m != nil {
		m.PoolSize.Set(float64(size))
	}
}

func (m *Metrics) setDifficulty(d int) {
	if m != nil {
		m.Difficulty.Set(float64(d))
	}
}

func (m *Metrics) received(fresh, dups int) {
	if m != nil {
		m.MessagesReceived.Add(float64(fresh))
		m.Duplicates.Add(float64(dups))
	}
}
