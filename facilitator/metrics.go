package facilitator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the facilitator's Prometheus instruments. Each Service owns
// its registry so tests can run services side by side.
type Metrics struct {
	registry *prometheus.Registry

	verifies      *prometheus.CounterVec
	settles       *prometheus.CounterVec
	settleSeconds prometheus.Histogram
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilitator_verify_total",
			Help: "Verify requests by result.",
		}, []string{"result"}),
		settles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilitator_settle_total",
			Help: "Settle requests by result.",
		}, []string{"result"}),
		settleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facilitator_settle_seconds",
			Help:    "Wall time of settle requests including the confirmation wait.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	m.registry.MustRegister(m.verifies, m.settles, m.settleSeconds)
	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeVerify(valid bool) {
	if valid {
		m.verifies.WithLabelValues("valid").Inc()
	} else {
		m.verifies.WithLabelValues("invalid").Inc()
	}
}

func (m *Metrics) observeSettle(success bool, seconds float64) {
	if success {
		m.settles.WithLabelValues("success").Inc()
	} else {
		m.settles.WithLabelValues("failure").Inc()
	}
	m.settleSeconds.Observe(seconds)
}

func (m *Metrics) observeError(op string) {
	switch op {
	case "verify":
		m.verifies.WithLabelValues("error").Inc()
	case "settle":
		m.settles.WithLabelValues("error").Inc()
	}
}
