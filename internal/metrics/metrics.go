// Package metrics exposes classification counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// Metrics groups the tierkit collectors.
type Metrics struct {
	// Records classified, by domain and tier
	Classified *prometheus.CounterVec
	// Records skipped, by domain
	Skipped *prometheus.CounterVec
	// Wall time of Run, by domain
	BatchDuration *prometheus.HistogramVec
	// Latest demand minus capacity, by domain and cluster
	CapacityGap *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierkit_records_classified_total",
			Help: "Records classified, by domain and tier.",
		}, []string{"domain", "tier"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tierkit_records_skipped_total",
			Help: "Records skipped because they could not be normalized or identified.",
		}, []string{"domain"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tierkit_batch_duration_seconds",
			Help:    "Latency of batch classification.",
			Buckets: prometheus.DefBuckets,
		}, []string{"domain"}),
		CapacityGap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tierkit_capacity_gap",
			Help: "Demand minus capacity from the latest reconciliation of each cluster.",
		}, []string{"domain", "cluster"}),
	}
	reg.MustRegister(m.Classified, m.Skipped, m.BatchDuration, m.CapacityGap)
	return m
}

// ObserveBatch records a finished batch.
func (m *Metrics) ObserveBatch(b *engine.Batch, took time.Duration) {
	for tier, n := range b.TierCounts() {
		m.Classified.WithLabelValues(b.Domain, tier).Add(float64(n))
	}
	if len(b.Skipped) > 0 {
		m.Skipped.WithLabelValues(b.Domain).Add(float64(len(b.Skipped)))
	}
	m.BatchDuration.WithLabelValues(b.Domain).Observe(took.Seconds())
}

// ObserveReconciliation sets the gap gauge for every reported cluster.
func (m *Metrics) ObserveReconciliation(domain string, reports []reconcile.Report) {
	for _, r := range reports {
		m.CapacityGap.WithLabelValues(domain, r.Cluster).Set(float64(r.Gap))
	}
}
