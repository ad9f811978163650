package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/score"
)

func sampleBatch() *engine.Batch {
	return &engine.Batch{
		Domain:  "coasean",
		Version: "v1.1.0",
		Total:   4,
		Results: []engine.Result{
			{
				RecordID:  "sepsis",
				Score:     29.5,
				BaseScore: 29.5,
				Tier:      classify.Tier{ID: "STRONG_BUILD", Label: "STRONG BUILD"},
				MatchedBy: "band (22, +inf)",
				Contributions: []score.Contribution{
					{Factor: "data_sensitivity", Value: 5, Weight: 1.5, Amount: 7.5},
					{Factor: "workflow_specificity", Value: 5, Weight: 1, Amount: 5},
					{Factor: "vendor_maturity", Value: 5, Weight: 1, Amount: 5},
					{Factor: "talent", Value: 4, Weight: 1, Amount: 4},
				},
				Scales:  []engine.ScaleReading{{Name: "transaction_cost", Label: "HIGH"}},
				Factors: map[string]float64{"data_sensitivity": 5, "talent": 4},
			},
			{
				RecordID:  "chatbot",
				Score:     6.5,
				BaseScore: 6.5,
				Tier:      classify.Tier{ID: "STRONG_BUY", Label: "STRONG BUY"},
				MatchedBy: "band (-inf, 13]",
				Contributions: []score.Contribution{
					{Factor: "data_sensitivity", Value: 1, Weight: 1.5, Amount: 1.5},
				},
				Scales:  []engine.ScaleReading{{Name: "transaction_cost", Label: "LOW"}},
				Factors: map[string]float64{"data_sensitivity": 1, "talent": 1},
			},
		},
		Skipped: []engine.Skip{
			{Index: 1, RecordID: "broken", Reason: "missing attribute talent"},
			{Index: 3, RecordID: "sepsis", Reason: `duplicate record id "sepsis"`},
		},
	}
}

func sampleReports() []reconcile.Report {
	return []reconcile.Report{
		{
			Cluster: "HOUSING_FIRST", Label: "Housing First", Demand: 3, Capacity: 2, Gap: 1,
			Status: reconcile.Active, RankedBy: "clinical_acuity desc, then record id",
			Directive:   "serve top 2 of 3 in HOUSING_FIRST ranked by clinical_acuity desc, then record id; defer 1",
			Prioritized: []string{"m-1", "m-2"}, Deferred: []string{"m-3"},
		},
		{
			Cluster: "COMPLEX_INTERVENTION", Demand: 1, Capacity: 0, Gap: 1, Status: reconcile.Active,
			RankedBy:  "score desc, then record id",
			Directive: "no intervention available for COMPLEX_INTERVENTION: defer all 1, waitlist ranked by score desc, then record id",
			Deferred:  []string{"m-4"},
			Note:      "cluster COMPLEX_INTERVENTION has zero capacity: no intervention available",
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": JSON, "CSV": CSV, " table ": Table} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestNew_CountsAndTotals(t *testing.T) {
	doc := New(sampleBatch(), sampleReports())
	assert.Equal(t, map[string]int{"STRONG_BUILD": 1, "STRONG_BUY": 1}, doc.TierCounts)
	require.NotNil(t, doc.Totals)
	assert.Equal(t, Totals{Demand: 4, Capacity: 2, Shortfall: 2}, *doc.Totals)

	empty := New(&engine.Batch{Domain: "sdoh"}, nil)
	assert.NotNil(t, empty.Results)
	assert.NotNil(t, empty.Skipped)
	assert.Nil(t, empty.Totals)
}

func TestEmit_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emitter{Format: JSON}.Emit(&buf, New(sampleBatch(), sampleReports())))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "coasean", got["domain"])
	assert.Len(t, got["results"], 2)
	assert.Len(t, got["skipped"], 2)
	assert.Len(t, got["reconciliation"], 2)

	first := got["results"].([]any)[0].(map[string]any)
	assert.Equal(t, 29.5, first["aggregate_score"])
	assert.Contains(t, first, "contributing_factors")
	assert.Equal(t, "STRONG_BUILD", first["tier"].(map[string]any)["id"])
}

func TestEmit_CSVKeepsInputOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emitter{Format: CSV}.Emit(&buf, New(sampleBatch(), nil)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	header := rows[0]
	assert.Equal(t, []string{
		"record_id", "status", "aggregate_score", "base_score", "tier", "tier_label", "matched_by",
		"contributing_factors", "scale:transaction_cost", "factor:data_sensitivity", "factor:talent", "skip_reason",
	}, header)

	var order []string
	for _, r := range rows[1:] {
		order = append(order, r[0]+"/"+r[1])
	}
	want := []string{"sepsis/classified", "broken/skipped", "chatbot/classified", "sepsis/skipped"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("row order (-want +got):\n%s", diff)
	}

	assert.Equal(t, "29.5", rows[1][2])
	assert.Equal(t, "data_sensitivity=7.5;workflow_specificity=5;vendor_maturity=5;talent=4", rows[1][7])
	assert.Equal(t, "HIGH", rows[1][8])
	assert.Equal(t, "missing attribute talent", rows[2][11])
	assert.Equal(t, "", rows[2][2])
}

func TestEmit_CSVCompositeColumns(t *testing.T) {
	b := &engine.Batch{
		Domain: "goldcard",
		Total:  1,
		Results: []engine.Result{{
			RecordID:   "prov-1",
			Score:      5,
			Tier:       classify.Tier{ID: "TIER_1_IMMEDIATE", Label: "Tier 1"},
			MatchedBy:  "immediate",
			Scales:     []engine.ScaleReading{{Name: "recommended_services", Label: "ALL_SERVICES"}},
			Composites: map[string]float64{"gold_card_score": 92.4},
			Factors:    map[string]float64{"volume": 150},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, Emitter{Format: CSV}.Emit(&buf, New(b, nil)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"scale:recommended_services", "composite:gold_card_score", "factor:volume", "skip_reason"}, rows[0][8:])
	assert.Equal(t, []string{"ALL_SERVICES", "92.4", "150", ""}, rows[1][8:])
}

func TestEmitReconciliation_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emitter{Format: CSV}.EmitReconciliation(&buf, sampleReports()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"HOUSING_FIRST", "Housing First", "3", "2", "1", "active"}, rows[1][:6])
	assert.Equal(t, "m-1;m-2", rows[1][8])
	assert.Equal(t, "m-3", rows[1][9])
	assert.Contains(t, rows[2][11], "zero capacity")
}

func TestEmitReconciliation_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emitter{Format: JSON}.EmitReconciliation(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestEmit_TablePlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emitter{Format: Table}.Emit(&buf, New(sampleBatch(), sampleReports())))
	out := buf.String()

	for _, want := range []string{
		"coasean v1.1.0: 2 of 4 records classified, 2 skipped",
		"STRONG_BUILD (STRONG BUILD)",
		"data_sensitivity +7.50",
		"TRANSACTION_COST",
		"Skipped records",
		"missing attribute talent",
		"Capacity reconciliation",
		"serve top 2 of 3 in HOUSING_FIRST",
		"note: cluster COMPLEX_INTERVENTION has zero capacity",
		"total demand 4, capacity 2, shortfall 2",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[", "plain output has no escape codes")
	// Only the top three contributions are listed.
	assert.NotContains(t, out, "talent +4.00")
}

func TestEmit_UnknownFormat(t *testing.T) {
	err := Emitter{Format: "xml"}.Emit(&bytes.Buffer{}, New(sampleBatch(), nil))
	assert.Error(t, err)
	err = Emitter{Format: "xml"}.EmitReconciliation(&bytes.Buffer{}, nil)
	assert.Error(t, err)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEmit_WriteError(t *testing.T) {
	for _, f := range []Format{JSON, CSV, Table} {
		err := Emitter{Format: f}.Emit(failWriter{}, New(sampleBatch(), nil))
		assert.Error(t, err, f)
		assert.True(t, strings.Contains(err.Error(), "disk full"), f)
	}
}
