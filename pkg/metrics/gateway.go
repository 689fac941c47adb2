package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records gateway call attempts and latency per operation.
type GatewayMetrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dedupHit *prometheus.CounterVec
}

// NewGatewayMetrics registers the gateway metrics on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_attempts_total",
		Help: "Gateway call attempts by operation and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	dedupHit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_dedup_hits_total",
		Help: "Requests short-circuited by the duplicate-initiation guard.",
	}, []string{"operation"})
	reg.MustRegister(attempts, duration, dedupHit)
	return &GatewayMetrics{
		attempts: attempts,
		duration: duration,
		dedupHit: dedupHit,
	}
}

// IncAttempt increments the attempt counter for the operation/outcome pair.
func (g *GatewayMetrics) IncAttempt(operation, outcome string) {
	if g == nil || g.attempts == nil {
		return
	}
	g.attempts.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveDuration records the wall time of a gateway call.
func (g *GatewayMetrics) ObserveDuration(operation string, duration time.Duration) {
	if g == nil || g.duration == nil {
		return
	}
	g.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncDedupHit increments the duplicate-guard counter.
func (g *GatewayMetrics) IncDedupHit(operation string) {
	if g == nil || g.dedupHit == nil {
		return
	}
	g.dedupHit.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
