package classify

// ScoreField is the clause field that refers to the aggregate score rather
// than a factor value.
const ScoreField = "score"

// DefaultRuleName is reported as MatchedBy when no rule applies.
const DefaultRuleName = "default"

// Tier is a discrete output category.
type Tier struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Input is what a classifier sees for one record.
type Input struct {
	Score      float64
	Values     map[string]float64
	Composites map[string]float64
}

// Field returns the score, a factor value or a composite by name.
func (in *Input) Field(name string) (float64, bool) {
	if name == ScoreField {
		return in.Score, true
	}
	if v, ok := in.Values[name]; ok {
		return v, true
	}
	v, ok := in.Composites[name]
	return v, ok
}

// Decision is a classifier's output. Tier is never empty.
type Decision struct {
	Tier      Tier
	MatchedBy string // band interval or rule name
}

// Classifier maps an Input to exactly one tier.
type Classifier interface {
	Classify(in *Input) Decision
	// Tiers lists every tier the classifier can emit, in declared order.
	Tiers() []Tier
}
