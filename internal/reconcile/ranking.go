package reconcile

import (
	"fmt"

	"github.com/abhisek/tierkit/internal/engine"
)

// Ranking orders a cluster's members when capacity runs short. Less reports
// whether a should be served before b; ties fall back to record id.
type Ranking struct {
	Key  string // shown in directives, e.g. "clinical_acuity desc"
	Less func(a, b engine.Result) bool
}

// ByScore serves the highest aggregate score first.
func ByScore() Ranking {
	return Ranking{
		Key:  "score desc",
		Less: func(a, b engine.Result) bool { return a.Score > b.Score },
	}
}

// ByFactor ranks on a normalized factor value. Records lacking the factor
// sort last.
func ByFactor(name string, descending bool) Ranking {
	return byValue(name, descending, func(r engine.Result) map[string]float64 { return r.Factors })
}

// ByComposite ranks on a composite score, e.g. the gold card score.
func ByComposite(name string, descending bool) Ranking {
	return byValue(name, descending, func(r engine.Result) map[string]float64 { return r.Composites })
}

func byValue(name string, descending bool, values func(engine.Result) map[string]float64) Ranking {
	dir := "asc"
	if descending {
		dir = "desc"
	}
	return Ranking{
		Key: fmt.Sprintf("%s %s", name, dir),
		Less: func(a, b engine.Result) bool {
			av, aok := values(a)[name]
			bv, bok := values(b)[name]
			if aok != bok {
				return aok
			}
			if descending {
				return av > bv
			}
			return av < bv
		},
	}
}

// Then chains rankings: next decides only when r sees a tie.
func (r Ranking) Then(next Ranking) Ranking {
	return Ranking{
		Key: r.Key + ", " + next.Key,
		Less: func(a, b engine.Result) bool {
			if r.Less(a, b) {
				return true
			}
			if r.Less(b, a) {
				return false
			}
			return next.Less(a, b)
		},
	}
}
