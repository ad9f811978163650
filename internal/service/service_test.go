package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tierkit/internal/catalog"
	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/factor"
	"github.com/abhisek/tierkit/internal/metrics"
	"github.com/abhisek/tierkit/internal/publish"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/store"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New("", nil)
	require.NoError(t, err)
	return cat
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	s, err := store.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func members() []factor.Record {
	return []factor.Record{
		{ID: "m-1", Attributes: map[string]any{"z_code_categories": "HOUSING", "clinical_acuity": 2}},
		{ID: "m-2", Attributes: map[string]any{"z_code_categories": "HOUSING", "clinical_acuity": 5}},
		{ID: "m-3", Attributes: map[string]any{"z_code_categories": "HOUSING", "clinical_acuity": 4}},
		{ID: "m-4", Attributes: map[string]any{"z_code_categories": "", "clinical_acuity": "high"}},
	}
}

func TestClassify_Basic(t *testing.T) {
	svc := New(testCatalog(t))

	out, err := svc.Classify(context.Background(), Request{Domain: "sdoh", Records: members()})
	require.NoError(t, err)

	assert.Empty(t, out.RunID)
	assert.False(t, out.Saved)
	assert.Len(t, out.Batch.Results, 3)
	require.Len(t, out.Batch.Skipped, 1)
	assert.Equal(t, "m-4", out.Batch.Skipped[0].RecordID)
	assert.Nil(t, out.Reports)

	doc := out.Document()
	assert.Equal(t, map[string]int{"HOUSING_FIRST": 3}, doc.TierCounts)
}

func TestClassify_ReconcileWithOverride(t *testing.T) {
	svc := New(testCatalog(t))

	out, err := svc.Classify(context.Background(), Request{
		Domain:     "sdoh",
		Records:    members(),
		Capacities: []reconcile.Capacity{{Cluster: "HOUSING_FIRST", Capacity: 2, Status: reconcile.Active}},
	})
	require.NoError(t, err)

	var housing *reconcile.Report
	for i := range out.Reports {
		if out.Reports[i].Cluster == "HOUSING_FIRST" {
			housing = &out.Reports[i]
		}
	}
	require.NotNil(t, housing)
	assert.Equal(t, 3, housing.Demand)
	assert.Equal(t, 1, housing.Gap)
	assert.Equal(t, []string{"m-2", "m-3"}, housing.Prioritized)
	assert.Equal(t, []string{"m-1"}, housing.Deferred)
}

func TestClassify_ReconcileDomainCapacities(t *testing.T) {
	svc := New(testCatalog(t))
	out, err := svc.Classify(context.Background(), Request{Domain: "sdoh", Records: members(), Reconcile: true})
	require.NoError(t, err)
	require.NotEmpty(t, out.Reports)
	for _, r := range out.Reports {
		if r.Cluster == "HOUSING_FIRST" {
			assert.Equal(t, 50, r.Capacity)
			assert.Equal(t, -47, r.Gap)
		}
	}
}

func TestClassify_ConfigurationErrors(t *testing.T) {
	svc := New(testCatalog(t))
	ctx := context.Background()

	_, err := svc.Classify(ctx, Request{Domain: "nope"})
	assert.ErrorIs(t, err, catalog.ErrUnknownDomain)

	_, err = svc.Classify(ctx, Request{Domain: "sdoh", Constants: map[string]float64{"no_such_constant": 1}})
	assert.Error(t, err)

	_, err = svc.Classify(ctx, Request{Domain: "sdoh", Capacities: []reconcile.Capacity{{Cluster: "X", Capacity: -1}}})
	assert.Error(t, err)

	_, err = svc.Classify(ctx, Request{Domain: "sdoh", Save: true})
	assert.ErrorIs(t, err, ErrNoStore)

	_, err = svc.Classify(ctx, Request{Domain: "sdoh", Publish: true})
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestClassify_FailFast(t *testing.T) {
	svc := New(testCatalog(t))
	_, err := svc.Classify(context.Background(), Request{Domain: "sdoh", Records: members(), Mode: engine.FailFast})

	var recErr *engine.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 3, recErr.Index)
}

func TestClassify_TunedConstants(t *testing.T) {
	svc := New(testCatalog(t))
	out, err := svc.Classify(context.Background(), Request{
		Domain:    "sdoh",
		Records:   members()[:1],
		Constants: map[string]float64{"housing_min_address_changes": 3},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Batch.Version, "v1.0.0+tuned."), out.Batch.Version)
}

func TestClassify_SaveAndPublish(t *testing.T) {
	st := testStore(t)
	pub := publish.NewMockPublisher()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := New(testCatalog(t), WithRuns(st.Runs()), WithPublisher(pub), WithMetrics(m))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	out, err := svc.Classify(context.Background(), Request{
		Domain: "sdoh", Records: members(), Source: "members.csv", Reconcile: true, Save: true, Publish: true,
	})
	require.NoError(t, err)
	require.NoError(t, out.PublishErr)
	require.NotEmpty(t, out.RunID)
	assert.True(t, out.Saved)
	assert.Equal(t, out.RunID, out.Document().RunID)

	runs, err := st.Runs().List(context.Background(), store.ListOpts{Domain: "sdoh"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].ID.String())
	assert.Equal(t, "members.csv", runs[0].Source)
	assert.Equal(t, "skip", runs[0].Mode)

	// Three results plus the run summary.
	require.Len(t, pub.Sent, 4)
	assert.Equal(t, publish.TypeRun, pub.Sent[3].Type)
	assert.Equal(t, out.RunID, string(pub.Sent[3].Key))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "tierkit_records_classified_total")
	assert.Contains(t, names, "tierkit_records_skipped_total")
	assert.Contains(t, names, "tierkit_capacity_gap")
}

func TestClassify_PublishFailureKeepsOutcome(t *testing.T) {
	boom := errors.New("broker down")
	svc := New(testCatalog(t), WithPublisher(publish.NewMockPublisher(boom)))

	out, err := svc.Classify(context.Background(), Request{Domain: "sdoh", Records: members(), Publish: true})
	require.NoError(t, err)
	assert.ErrorIs(t, out.PublishErr, boom)
	assert.Len(t, out.Batch.Results, 3)
	assert.NotEmpty(t, out.RunID)
}
