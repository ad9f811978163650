package factor

import "fmt"

// Kind selects how a factor's value enters the aggregate score.
type Kind string

const (
	// KindWeighted contributes value × weight.
	KindWeighted Kind = "weighted"
	// KindIndicator contributes weight when the value is non-zero.
	KindIndicator Kind = "indicator"
)

// Direction is a factor's polarity relative to the domain's dominant tier
// (e.g. BUILD in the Coasean model).
type Direction string

const (
	// Toward means a larger value pushes the score toward the dominant tier.
	Toward Direction = "toward"
	// Away means a larger value pushes the score away from it; the scorer negates it.
	Away Direction = "away"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within [Min, Max]. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp limits v to [Min, Max].
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// ExtractKind names an extraction rule.
type ExtractKind string

const (
	// ExtractDirect reads a numeric or boolean attribute as-is.
	ExtractDirect ExtractKind = "direct"
	// ExtractCountDistinct counts distinct categories in a list attribute.
	ExtractCountDistinct ExtractKind = "count_distinct"
	// ExtractContains yields 1 when a list attribute contains Category.
	ExtractContains ExtractKind = "contains"
	// ExtractAtLeast yields 1 when a numeric attribute is >= the threshold.
	ExtractAtLeast ExtractKind = "at_least"
	// ExtractAtMost yields 1 when a numeric attribute is <= the threshold.
	ExtractAtMost ExtractKind = "at_most"
	// ExtractAny yields 1 when any of its Signals yields a non-zero value.
	ExtractAny ExtractKind = "any"
	// ExtractSum adds Offset to Coefficient × value summed over its Signals.
	ExtractSum ExtractKind = "sum"
)

// Extraction describes how a factor value is derived from raw attributes.
type Extraction struct {
	Kind      ExtractKind
	Attribute string // defaults to the factor name for attribute-based kinds

	Category   string   // contains
	Categories []string // count_distinct: only count these when non-empty

	Threshold    float64 // at_least / at_most
	ThresholdRef string  // names a registry constant; overrides Threshold

	Coefficient float64 // sum: scale applied to this signal; 0 means 1
	Offset      float64 // sum: added to the total

	Signals []Extraction // any, sum
}

// Definition declares one scoring factor of a domain.
type Definition struct {
	Name        string
	Description string
	Weight      float64
	Direction   Direction
	Kind        Kind
	Range       Range
	Clamp       bool     // clamp out-of-range values instead of failing
	Default     *float64 // used when the source attribute is absent
	Extract     Extraction
}

// Sign returns +1 for Toward factors and -1 for Away factors.
func (d Definition) Sign() float64 {
	if d.Direction == Away {
		return -1
	}
	return 1
}

// Record is a raw input row: a claims extract, provider statistics or a
// survey response. Attribute values may be numbers, booleans, strings or
// lists. Records are never mutated.
type Record struct {
	ID         string
	Attributes map[string]any
}

// Vector holds the normalized factor values for one record.
type Vector struct {
	RecordID string
	Values   map[string]float64
}

// Value returns the normalized value of a factor.
func (v Vector) Value(name string) (float64, bool) {
	x, ok := v.Values[name]
	return x, ok
}
