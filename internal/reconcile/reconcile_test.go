package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/engine"
)

func result(id, tier string, score, acuity float64) engine.Result {
	return engine.Result{
		RecordID: id,
		Score:    score,
		Tier:     classify.Tier{ID: tier, Label: tier},
		Factors:  map[string]float64{"clinical_acuity": acuity},
	}
}

func housingDemand(n int) []engine.Result {
	out := make([]engine.Result, n)
	for i := range out {
		out[i] = result(fmt.Sprintf("m-%03d", i), "HOUSING_FIRST", 2, float64(1+i%5))
	}
	return out
}

func TestReconcile_ShortfallNamesRankingKey(t *testing.T) {
	r := New(Ranking{}, map[string]Ranking{"HOUSING_FIRST": ByFactor("clinical_acuity", true)})

	reports, err := r.Reconcile(housingDemand(120), []Capacity{{Cluster: "HOUSING_FIRST", Capacity: 50, Status: Active}})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	rep := reports[0]
	if rep.Demand != 120 || rep.Capacity != 50 || rep.Gap != 70 {
		t.Errorf("demand/capacity/gap = %d/%d/%d, want 120/50/70", rep.Demand, rep.Capacity, rep.Gap)
	}
	if !strings.Contains(rep.Directive, "clinical_acuity desc") {
		t.Errorf("directive %q does not name the ranking key", rep.Directive)
	}
	if len(rep.Prioritized) != 50 || len(rep.Deferred) != 70 {
		t.Errorf("prioritized %d, deferred %d", len(rep.Prioritized), len(rep.Deferred))
	}
	if rep.Issue != nil {
		t.Errorf("unexpected issue %v", rep.Issue)
	}

	// acuity cycles 1..5, so 24 members have acuity 5 and all must be served.
	acuity := make(map[string]float64)
	for _, res := range housingDemand(120) {
		acuity[res.RecordID] = res.Factors["clinical_acuity"]
	}
	lowestServed := 5.0
	for _, id := range rep.Prioritized {
		if a := acuity[id]; a < lowestServed {
			lowestServed = a
		}
	}
	for _, id := range rep.Deferred {
		if acuity[id] > lowestServed {
			t.Fatalf("deferred %s (acuity %g) ahead of a served record with acuity %g", id, acuity[id], lowestServed)
		}
	}
}

func TestReconcile_TieBreakByRecordID(t *testing.T) {
	r := New(ByScore(), nil)
	results := []engine.Result{
		result("c", "T", 5, 0),
		result("a", "T", 5, 0),
		result("b", "T", 9, 0),
	}
	reports, err := r.Reconcile(results, []Capacity{{Cluster: "T", Capacity: 2}})
	if err != nil {
		t.Fatal(err)
	}
	want := Report{
		Cluster: "T", Label: "T", Demand: 3, Capacity: 2, Gap: 1, Status: Active,
		RankedBy:    "score desc, then record id",
		Directive:   "serve top 2 of 3 in T ranked by score desc, then record id; defer 1",
		Prioritized: []string{"b", "a"},
		Deferred:    []string{"c"},
	}
	if diff := cmp.Diff(want, reports[0], cmpopts.IgnoreFields(Report{}, "Issue")); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_ZeroAndMissingCapacity(t *testing.T) {
	r := New(ByScore(), nil)
	results := []engine.Result{
		result("m1", "FOOD_RX_ELIGIBLE", 1, 0),
		result("m2", "TRANSPORTATION_SUPPORT", 1, 0),
	}
	reports, err := r.Reconcile(results, []Capacity{{Cluster: "FOOD_RX_ELIGIBLE", Capacity: 0, Status: Active}})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}

	for i, declared := range []bool{true, false} {
		rep := reports[i]
		var nc *NoCapacityConfiguredError
		if !errors.As(rep.Issue, &nc) {
			t.Fatalf("%s: issue = %v, want NoCapacityConfiguredError", rep.Cluster, rep.Issue)
		}
		if nc.Declared != declared {
			t.Errorf("%s: declared = %v, want %v", rep.Cluster, nc.Declared, declared)
		}
		if rep.Gap != 1 || len(rep.Deferred) != 1 || len(rep.Prioritized) != 0 {
			t.Errorf("%s: %+v", rep.Cluster, rep)
		}
		if !strings.Contains(rep.Directive, "no intervention available") {
			t.Errorf("%s: directive %q", rep.Cluster, rep.Directive)
		}
	}
	if reports[1].Cluster != "TRANSPORTATION_SUPPORT" {
		t.Errorf("results-only cluster should follow table clusters, got %q", reports[1].Cluster)
	}
}

func TestReconcile_PilotIsSoft(t *testing.T) {
	r := New(ByScore(), nil)
	results := []engine.Result{
		result("a", "P", 3, 0),
		result("b", "P", 2, 0),
		result("c", "P", 1, 0),
	}
	reports, err := r.Reconcile(results, []Capacity{{Cluster: "P", Capacity: 1, Status: Pilot}})
	if err != nil {
		t.Fatal(err)
	}
	rep := reports[0]
	if len(rep.Deferred) != 0 {
		t.Errorf("pilot must not defer, got %v", rep.Deferred)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, rep.Prioritized); diff != "" {
		t.Errorf("prioritized (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c"}, rep.Overflow); diff != "" {
		t.Errorf("overflow (-want +got):\n%s", diff)
	}
	if rep.Gap != 2 {
		t.Errorf("gap = %d, want 2", rep.Gap)
	}
}

func TestReconcile_WithinCapacity(t *testing.T) {
	r := New(Ranking{}, nil)
	reports, err := r.Reconcile([]engine.Result{result("a", "T", 1, 0)}, []Capacity{
		{Cluster: "T", Capacity: 10, Status: "Limited"},
		{Cluster: "EMPTY", Capacity: 5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if reports[0].Gap != -9 || reports[0].Status != Limited || len(reports[0].Deferred) != 0 {
		t.Errorf("T: %+v", reports[0])
	}
	if reports[1].Demand != 0 || reports[1].Gap != -5 {
		t.Errorf("EMPTY: %+v", reports[1])
	}
	if !strings.HasPrefix(reports[1].Directive, "no demand") {
		t.Errorf("EMPTY directive %q", reports[1].Directive)
	}
}

func TestReconcile_InvalidCapacities(t *testing.T) {
	r := New(ByScore(), nil)
	bad := [][]Capacity{
		{{Cluster: "", Capacity: 1}},
		{{Cluster: "A", Capacity: -1}},
		{{Cluster: "A", Capacity: 1}, {Cluster: "A", Capacity: 2}},
		{{Cluster: "A", Capacity: 1, Status: "paused"}},
	}
	for i, caps := range bad {
		if _, err := r.Reconcile(nil, caps); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	r := New(ByScore(), nil)
	results := []engine.Result{result("low", "T", 1, 0), result("high", "T", 9, 0)}
	if _, err := r.Reconcile(results, []Capacity{{Cluster: "T", Capacity: 1}}); err != nil {
		t.Fatal(err)
	}
	if results[0].RecordID != "low" {
		t.Error("input results were reordered")
	}
}

func TestRanking_Then(t *testing.T) {
	rk := ByFactor("clinical_acuity", true).Then(ByScore())
	a := result("a", "T", 1, 4)
	b := result("b", "T", 7, 4)
	c := result("c", "T", 9, 2)
	if !rk.Less(b, a) || !rk.Less(a, c) || rk.Less(c, b) {
		t.Error("unexpected chained order")
	}
	if rk.Key != "clinical_acuity desc, score desc" {
		t.Errorf("key = %q", rk.Key)
	}

	missing := engine.Result{RecordID: "x"}
	if rk.Less(missing, c) {
		t.Error("record without the factor must sort last")
	}
}

func TestTotals(t *testing.T) {
	d, c, s := Totals([]Report{{Demand: 120, Capacity: 50, Gap: 70}, {Demand: 3, Capacity: 10, Gap: -7}})
	if d != 123 || c != 60 || s != 70 {
		t.Errorf("totals = %d/%d/%d", d, c, s)
	}
}

func TestRanking_ByComposite(t *testing.T) {
	withScore := func(id string, v float64) engine.Result {
		return engine.Result{RecordID: id, Composites: map[string]float64{"gold_card_score": v}}
	}
	rk := ByComposite("gold_card_score", true)
	if rk.Key != "gold_card_score desc" {
		t.Errorf("key = %q", rk.Key)
	}
	if !rk.Less(withScore("a", 91.2), withScore("b", 74)) {
		t.Error("higher composite must come first")
	}
	if rk.Less(engine.Result{RecordID: "x"}, withScore("b", 10)) {
		t.Error("record without the composite must sort last")
	}
	if !ByComposite("gold_card_score", false).Less(withScore("b", 74), withScore("a", 91.2)) {
		t.Error("ascending order not honored")
	}
}
