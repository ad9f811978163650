package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/abhisek/tierkit/internal/band"
	"github.com/abhisek/tierkit/internal/factor"
)

// Contribution is one factor's signed share of the aggregate score.
type Contribution struct {
	Factor string  `json:"factor"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
	Amount float64 `json:"amount"`
}

// Multiplier scales the weighted sum by a step value looked up from a
// factor, e.g. the SDOH burden multiplier applied to friction points.
type Multiplier struct {
	Name   string
	Factor string
	Steps  band.Table // Band.Value carries the multiplier
}

// Applied records a multiplier that was applied to a score.
type Applied struct {
	Name   string  `json:"name"`
	Step   string  `json:"step"`
	Factor float64 `json:"factor"`
}

// Breakdown is the scorer's output for one record.
type Breakdown struct {
	Base          float64        `json:"base"`
	Total         float64        `json:"total"`
	Contributions []Contribution `json:"contributions"`
	Multipliers   []Applied      `json:"multipliers,omitempty"`
}

// Scorer combines a normalized vector into an aggregate score.
type Scorer struct {
	multipliers []Multiplier
}

// New returns a Scorer. Multiplier factors must be registered in reg.
func New(reg *factor.Registry, multipliers ...Multiplier) (*Scorer, error) {
	for _, m := range multipliers {
		if m.Name == "" {
			return nil, fmt.Errorf("multiplier name is required")
		}
		if _, ok := reg.Lookup(m.Factor); !ok {
			return nil, fmt.Errorf("multiplier %q references unknown factor %q", m.Name, m.Factor)
		}
		if m.Steps.Len() == 0 {
			return nil, fmt.Errorf("multiplier %q has no steps", m.Name)
		}
	}
	return &Scorer{multipliers: multipliers}, nil
}

// Score computes Σ sign × contribution over every registered factor, then
// applies multiplier terms in declaration order. Weighted factors contribute
// value × weight; indicator factors contribute weight when non-zero.
func (s *Scorer) Score(reg *factor.Registry, vec factor.Vector) (Breakdown, error) {
	defs := reg.Definitions()
	contribs := make([]Contribution, 0, len(defs))
	var sum float64

	for _, d := range defs {
		v, ok := vec.Values[d.Name]
		if !ok {
			return Breakdown{}, fmt.Errorf("record %q: vector has no value for factor %q", vec.RecordID, d.Name)
		}

		var amount float64
		switch d.Kind {
		case factor.KindIndicator:
			if v != 0 {
				amount = d.Weight
			}
		default:
			amount = v * d.Weight
		}
		amount *= d.Sign()
		sum += amount

		contribs = append(contribs, Contribution{
			Factor: d.Name,
			Value:  v,
			Weight: d.Weight,
			Amount: amount,
		})
	}

	// Stable sort keeps registration order among equal magnitudes.
	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Amount) > math.Abs(contribs[j].Amount)
	})

	b := Breakdown{Base: sum, Total: sum, Contributions: contribs}
	for _, m := range s.multipliers {
		step := m.Steps.Lookup(vec.Values[m.Factor])
		b.Total *= step.Value
		b.Multipliers = append(b.Multipliers, Applied{Name: m.Name, Step: step.Label, Factor: step.Value})
	}
	return b, nil
}
