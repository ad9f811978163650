package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// gathered flattens a registry into "name{label=value,...}" -> value.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName() + "{"
			for i, lp := range m.GetLabel() {
				if i > 0 {
					key += ","
				}
				key += lp.GetName() + "=" + lp.GetValue()
			}
			key += "}"
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestObserveBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	b := &engine.Batch{
		Domain: "sdoh",
		Results: []engine.Result{
			{RecordID: "a", Tier: classify.Tier{ID: "HOUSING_FIRST"}},
			{RecordID: "b", Tier: classify.Tier{ID: "HOUSING_FIRST"}},
			{RecordID: "c", Tier: classify.Tier{ID: "FOOD_RX_ELIGIBLE"}},
		},
		Skipped: []engine.Skip{{Index: 3, RecordID: "d"}},
	}
	m.ObserveBatch(b, 20*time.Millisecond)
	m.ObserveBatch(b, 10*time.Millisecond)

	got := gathered(t, reg)
	assert.Equal(t, 4.0, got["tierkit_records_classified_total{domain=sdoh,tier=HOUSING_FIRST}"])
	assert.Equal(t, 2.0, got["tierkit_records_classified_total{domain=sdoh,tier=FOOD_RX_ELIGIBLE}"])
	assert.Equal(t, 2.0, got["tierkit_records_skipped_total{domain=sdoh}"])
	assert.Equal(t, 2.0, got["tierkit_batch_duration_seconds{domain=sdoh}"])
}

func TestObserveReconciliation_LatestWins(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveReconciliation("sdoh", []reconcile.Report{{Cluster: "HOUSING_FIRST", Gap: 70}, {Cluster: "FOOD_RX_ELIGIBLE", Gap: -150}})
	m.ObserveReconciliation("sdoh", []reconcile.Report{{Cluster: "HOUSING_FIRST", Gap: 10}})

	got := gathered(t, reg)
	assert.Equal(t, 10.0, got["tierkit_capacity_gap{cluster=HOUSING_FIRST,domain=sdoh}"])
	assert.Equal(t, -150.0, got["tierkit_capacity_gap{cluster=FOOD_RX_ELIGIBLE,domain=sdoh}"])
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
