package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics records reconciliation decisions per outcome kind.
type ReconcileMetrics struct {
	applied *prometheus.CounterVec
	skipped *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_applied_total",
		Help: "Reconciliation outcomes applied to payments.",
	}, []string{"kind"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_skipped_total",
		Help: "Reconciliation outcomes skipped because the payment was already terminal.",
	}, []string{"kind"})
	reg.MustRegister(applied, skipped)
	return &ReconcileMetrics{applied: applied, skipped: skipped}
}

// IncApplied increments the applied counter for the outcome kind.
func (r *ReconcileMetrics) IncApplied(kind string) {
	if r == nil || r.applied == nil {
		return
	}
	r.applied.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncSkipped increments the skipped counter for the outcome kind.
func (r *ReconcileMetrics) IncSkipped(kind string) {
	if r == nil || r.skipped == nil {
		return
	}
	r.skipped.WithLabelValues(normalizeLabel(kind)).Inc()
}
