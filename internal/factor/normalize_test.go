package factor

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func sdohRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	zero := 0.0
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(r.SetConstant("cost_barrier_min_abandoned_fills", 2))
	must(r.Register(Definition{
		Name: "housing_signal", Weight: 1, Kind: KindIndicator, Range: Range{0, 1},
		Extract: Extraction{Kind: ExtractContains, Attribute: "z_code_categories", Category: "HOUSING"},
	}))
	must(r.Register(Definition{
		Name: "food_signal", Weight: 1, Kind: KindIndicator, Range: Range{0, 1},
		Extract: Extraction{Kind: ExtractAny, Signals: []Extraction{
			{Kind: ExtractContains, Attribute: "z_code_categories", Category: "FOOD"},
			{Kind: ExtractAtLeast, Attribute: "abandoned_fills", ThresholdRef: "cost_barrier_min_abandoned_fills"},
		}},
	}))
	must(r.Register(Definition{
		Name: "distinct_sdoh_factors", Weight: 0, Range: Range{0, 10},
		Extract: Extraction{Kind: ExtractCountDistinct, Attribute: "z_code_categories"},
	}))
	must(r.Register(Definition{
		Name: "clinical_acuity", Weight: 0, Range: Range{1, 5}, Default: ptr(3),
	}))
	must(r.Register(Definition{
		Name: "er_visits", Weight: 0, Range: Range{0, 12}, Clamp: true, Default: &zero,
	}))
	must(r.Seal())
	return r
}

func ptr(v float64) *float64 { return &v }

func TestNormalize_Extractions(t *testing.T) {
	r := sdohRegistry(t)

	vec, err := r.Normalize(Record{ID: "m1", Attributes: map[string]any{
		"z_code_categories": "housing; TRANSPORTATION;HOUSING",
		"abandoned_fills":   "2",
		"er_visits":         40,
	}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := map[string]float64{
		"housing_signal":        1,
		"food_signal":           1, // via abandoned fills proxy
		"distinct_sdoh_factors": 2,
		"clinical_acuity":       3, // declared default
		"er_visits":             12,
	}
	if !reflect.DeepEqual(vec.Values, want) {
		t.Errorf("got %v, want %v", vec.Values, want)
	}
	if vec.RecordID != "m1" {
		t.Errorf("got record id %q", vec.RecordID)
	}
}

func TestNormalize_ListFromJSON(t *testing.T) {
	r := sdohRegistry(t)
	vec, err := r.Normalize(Record{ID: "m2", Attributes: map[string]any{
		"z_code_categories": []any{"FOOD"},
		"abandoned_fills":   0.0,
	}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if vec.Values["housing_signal"] != 0 || vec.Values["food_signal"] != 1 {
		t.Errorf("unexpected values %v", vec.Values)
	}
}

func TestNormalize_MissingAttribute(t *testing.T) {
	r := sdohRegistry(t)

	_, err := r.Normalize(Record{ID: "m3", Attributes: map[string]any{}})
	var missing *MissingAttributeError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want MissingAttributeError", err)
	}
	if missing.Attribute != "z_code_categories" || missing.Factor != "housing_signal" || missing.RecordID != "m3" {
		t.Errorf("unexpected error fields: %+v", missing)
	}
}

func TestNormalize_AnySignalDecidedDespiteMissingProxy(t *testing.T) {
	r := sdohRegistry(t)

	// FOOD category present decides food_signal even without abandoned_fills.
	vec, err := r.Normalize(Record{ID: "m4", Attributes: map[string]any{
		"z_code_categories": "FOOD",
	}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if vec.Values["food_signal"] != 1 {
		t.Errorf("food_signal = %g, want 1", vec.Values["food_signal"])
	}

	// Without FOOD the missing proxy attribute must be reported.
	_, err = r.Normalize(Record{ID: "m5", Attributes: map[string]any{
		"z_code_categories": "HOUSING",
	}})
	var missing *MissingAttributeError
	if !errors.As(err, &missing) || missing.Attribute != "abandoned_fills" {
		t.Fatalf("got %v, want missing abandoned_fills", err)
	}
}

func TestNormalize_OutOfRange(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Name: "spec_volatility", Weight: 1, Range: Range{1, 5}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}

	for _, raw := range []any{0, 6, 5.5, math.NaN(), "NaN"} {
		_, err := r.Normalize(Record{ID: "p", Attributes: map[string]any{"spec_volatility": raw}})
		var oor *OutOfRangeError
		if !errors.As(err, &oor) {
			t.Errorf("value %v: got %v, want OutOfRangeError", raw, err)
		}
	}

	for _, raw := range []any{1, 5, "3", int64(2)} {
		if _, err := r.Normalize(Record{ID: "p", Attributes: map[string]any{"spec_volatility": raw}}); err != nil {
			t.Errorf("value %v: unexpected error %v", raw, err)
		}
	}
}

func TestNormalize_InvalidAttribute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Name: "volume", Weight: 1, Range: Range{0, 1000}}); err != nil {
		t.Fatal(err)
	}
	_ = r.Seal()

	_, err := r.Normalize(Record{ID: "p", Attributes: map[string]any{"volume": "lots"}})
	var inv *InvalidAttributeError
	if !errors.As(err, &inv) {
		t.Fatalf("got %v, want InvalidAttributeError", err)
	}
}

func TestNormalize_BooleansAndPercentages(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Definition{Name: "fraud_flag", Weight: 0, Range: Range{0, 1}})
	_ = r.Register(Definition{Name: "approval_rate", Weight: 0, Range: Range{0, 1}})
	_ = r.Seal()

	vec, err := r.Normalize(Record{ID: "prov", Attributes: map[string]any{
		"fraud_flag":    "false",
		"approval_rate": "96%",
	}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if vec.Values["fraud_flag"] != 0 {
		t.Errorf("fraud_flag = %g", vec.Values["fraud_flag"])
	}
	if math.Abs(vec.Values["approval_rate"]-0.96) > 1e-12 {
		t.Errorf("approval_rate = %g", vec.Values["approval_rate"])
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	r := sdohRegistry(t)
	rec := Record{ID: "m6", Attributes: map[string]any{
		"z_code_categories": "FOOD;UTILITIES",
		"abandoned_fills":   1,
		"clinical_acuity":   4,
	}}

	first, err := r.Normalize(rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Normalize(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("normalization not idempotent: %v vs %v", first, second)
	}
	if rec.Attributes["z_code_categories"] != "FOOD;UTILITIES" {
		t.Error("record was mutated")
	}
}

func TestNormalize_SumClamped(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{
		Name: "switching_penalty", Range: Range{0, 2}, Clamp: true,
		Extract: Extraction{Kind: ExtractSum, Signals: []Extraction{
			{Kind: ExtractDirect, Attribute: "vendor_years", Coefficient: 0.15},
			{Kind: ExtractDirect, Attribute: "integration_points", Coefficient: 0.10},
		}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		years, points float64
		want          float64
	}{
		{0, 0, 0},
		{4, 5, 1.1},
		{10, 10, 2},
	}
	for _, tt := range tests {
		vec, err := r.Normalize(Record{ID: "p", Attributes: map[string]any{
			"vendor_years": tt.years, "integration_points": tt.points,
		}})
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if got := vec.Values["switching_penalty"]; math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("years=%g points=%g: got %g, want %g", tt.years, tt.points, got, tt.want)
		}
	}

	_, err := r.Normalize(Record{ID: "p", Attributes: map[string]any{"vendor_years": 3}})
	var missing *MissingAttributeError
	if !errors.As(err, &missing) || missing.Attribute != "integration_points" {
		t.Errorf("got %v, want missing integration_points", err)
	}
}

func TestNormalize_SumOffset(t *testing.T) {
	fifty := 50.0
	r := NewRegistry()
	if err := r.Register(Definition{
		Name: "efficiency_points", Range: Range{0, 100}, Clamp: true, Default: &fifty,
		Extract: Extraction{Kind: ExtractSum, Offset: 100, Signals: []Extraction{
			{Kind: ExtractDirect, Attribute: "avg_processing_hours", Coefficient: -5},
		}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		attrs map[string]any
		want  float64
	}{
		{"fast", map[string]any{"avg_processing_hours": 2}, 90},
		{"slow clamps at zero", map[string]any{"avg_processing_hours": 30}, 0},
		{"absent uses default", map[string]any{}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, err := r.Normalize(Record{ID: "prov", Attributes: tt.attrs})
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got := vec.Values["efficiency_points"]; math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %g, want %g", got, tt.want)
			}
		})
	}
}

func TestNormalize_SumOfAnyGroups(t *testing.T) {
	zero := 0.0
	r := NewRegistry()
	if err := r.Register(Definition{
		Name: "service_points", Range: Range{0, 3}, Default: &zero,
		Extract: Extraction{Kind: ExtractSum, Signals: []Extraction{
			{Kind: ExtractContains, Attribute: "service_type", Category: "surgical", Coefficient: 2},
			{Kind: ExtractAny, Coefficient: 3, Signals: []Extraction{
				{Kind: ExtractContains, Attribute: "service_type", Category: "genetic_testing"},
				{Kind: ExtractContains, Attribute: "service_type", Category: "experimental"},
			}},
		}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		service any
		want    float64
	}{
		{"Surgical", 2},
		{"experimental", 3},
		{"imaging", 0},
		{nil, 0},
	}
	for _, tt := range tests {
		attrs := map[string]any{}
		if tt.service != nil {
			attrs["service_type"] = tt.service
		}
		vec, err := r.Normalize(Record{ID: "auth", Attributes: attrs})
		if err != nil {
			t.Fatalf("%v: %v", tt.service, err)
		}
		if got := vec.Values["service_points"]; got != tt.want {
			t.Errorf("%v: got %g, want %g", tt.service, got, tt.want)
		}
	}
}
