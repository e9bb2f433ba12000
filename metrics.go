package apitool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcome labels.
const (
	attemptSuccess          = "success"
	attemptProtocolFailure  = "protocol_failure"
	attemptTransportFailure = "transport_failure"
)

// Metrics holds the Prometheus collectors for call execution.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	CallsTotal      *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	CallsInFlight   prometheus.Gauge
	BreakerState    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apitool",
				Name:      "calls_total",
				Help:      "Total number of executed calls by protocol and envelope status",
			},
			[]string{"protocol", "status"},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apitool",
				Name:      "attempts_total",
				Help:      "Total number of attempts by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		),
		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apitool",
				Name:      "attempt_duration_seconds",
				Help:      "Attempt latency histogram",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"protocol"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apitool",
				Name:      "retries_total",
				Help:      "Total number of delayed retries by protocol",
			},
			[]string{"protocol"},
		),
		CallsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "apitool",
				Name:      "calls_in_flight",
				Help:      "Current number of calls being executed",
			},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "apitool",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per host (0=closed, 1=half-open, 2=open)",
			},
			[]string{"host"},
		),
	}
}

func (m *Metrics) observeAttempt(protocol Protocol, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(string(protocol), outcome).Inc()
	if seconds >= 0 {
		m.AttemptDuration.WithLabelValues(string(protocol)).Observe(seconds)
	}
}

func (m *Metrics) observeRetry(protocol Protocol) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(string(protocol)).Inc()
}

func (m *Metrics) observeCall(protocol Protocol, status Status) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(string(protocol), string(status)).Inc()
}

func (m *Metrics) callStarted() {
	if m == nil {
		return
	}
	m.CallsInFlight.Inc()
}

func (m *Metrics) callFinished() {
	if m == nil {
		return
	}
	m.CallsInFlight.Dec()
}

func (m *Metrics) setBreakerState(host string, state CircuitBreakerState) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(host).Set(float64(state))
}
