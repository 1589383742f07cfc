package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Request outcomes recorded by the relay.
const (
	outcomeOK            = "ok"
	outcomeBadRequest    = "bad_request"
	outcomeUnconfigured  = "unconfigured"
	outcomeRateLimited   = "rate_limited"
	outcomeCircuitOpen   = "circuit_open"
	outcomeProviderError = "provider_error"
	outcomeServerError   = "server_error"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Duration     prometheus.Histogram
	BreakerState prometheus.Gauge
}

// NewMetrics creates the relay collectors and registers them with reg. A
// nil reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Completion relay requests by outcome",
			},
			[]string{"outcome"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "provider_duration_seconds",
				Help:      "Latency of provider calls made by the relay",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "breaker_state",
				Help:      "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration, m.BreakerState)
	}
	return m
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setBreaker(s gobreaker.State) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(s))
}
