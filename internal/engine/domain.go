package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/abhisek/tierkit/internal/band"
	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/factor"
	"github.com/abhisek/tierkit/internal/score"
)

// Scale is an auxiliary band table read off the score, a factor or a
// composite, such as the Coasean transaction-cost level or the SDOH
// non-adherence multiplier. Scales annotate results; they never change the
// tier.
type Scale struct {
	Name  string
	Field string // classify.ScoreField, a factor or a composite name
	Table band.Table
}

// Term is one weighted input of a Composite: a factor or an earlier
// composite.
type Term struct {
	Factor string
	Weight float64
}

// Composite is a secondary weighted sum over normalized factor values, kept
// apart from the aggregate score. The gold card 0-100 score is one: it ranks
// and scopes eligible providers while the tier ladder reads the criteria
// count. Rules and scales can refer to a composite by name.
type Composite struct {
	Name  string
	Terms []Term
	// Percent reports the sum as a share of the total term weight, scaled
	// to 0-100: earned criteria points over available points.
	Percent  bool
	Decimals int // rounding applied to the result; negative keeps full precision
}

func (c Composite) eval(values, composites map[string]float64) float64 {
	var sum, total float64
	for _, t := range c.Terms {
		v, ok := values[t.Factor]
		if !ok {
			v = composites[t.Factor]
		}
		sum += t.Weight * v
		total += t.Weight
	}
	if c.Percent {
		sum = sum / total * 100
	}
	if c.Decimals < 0 {
		return sum
	}
	p := math.Pow10(c.Decimals)
	return math.Round(sum*p) / p
}

// Config gathers the parts of a Domain.
type Config struct {
	Name        string
	Version     string
	Description string
	Registry    *factor.Registry
	Scorer      *score.Scorer
	Classifier  classify.Classifier
	Composites  []Composite
	Scales      []Scale
}

// Domain is an immutable, versioned classification configuration. Several
// domains can coexist in one process; a Domain is safe for concurrent use.
type Domain struct {
	name        string
	version     string
	description string
	registry    *factor.Registry
	scorer      *score.Scorer
	classifier  classify.Classifier
	composites  []Composite
	scales      []Scale
}

// NewDomain validates cfg and returns a Domain. The registry must be sealed.
func NewDomain(cfg Config) (*Domain, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("domain name is required")
	}
	if cfg.Registry == nil || !cfg.Registry.Sealed() {
		return nil, fmt.Errorf("domain %q: registry must be sealed", cfg.Name)
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("domain %q: scorer is required", cfg.Name)
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("domain %q: classifier is required", cfg.Name)
	}
	composites := make(map[string]bool, len(cfg.Composites))
	for _, c := range cfg.Composites {
		if err := validateComposite(cfg.Registry, c, composites); err != nil {
			return nil, fmt.Errorf("domain %q: %w", cfg.Name, err)
		}
		if composites[c.Name] {
			return nil, fmt.Errorf("domain %q: composite %q declared twice", cfg.Name, c.Name)
		}
		composites[c.Name] = true
	}
	for _, s := range cfg.Scales {
		if s.Field == classify.ScoreField || composites[s.Field] {
			continue
		}
		if _, ok := cfg.Registry.Lookup(s.Field); !ok {
			return nil, fmt.Errorf("domain %q: scale %q references unknown factor %q", cfg.Name, s.Name, s.Field)
		}
	}

	scales := make([]Scale, len(cfg.Scales))
	copy(scales, cfg.Scales)
	comps := make([]Composite, len(cfg.Composites))
	copy(comps, cfg.Composites)
	return &Domain{
		name:        cfg.Name,
		version:     cfg.Version,
		description: cfg.Description,
		registry:    cfg.Registry,
		scorer:      cfg.Scorer,
		classifier:  cfg.Classifier,
		composites:  comps,
		scales:      scales,
	}, nil
}

// validateComposite checks c against the factors and the composites declared
// before it.
func validateComposite(reg *factor.Registry, c Composite, earlier map[string]bool) error {
	if c.Name == "" {
		return fmt.Errorf("composite name is required")
	}
	if c.Name == classify.ScoreField {
		return fmt.Errorf("composite %q shadows the aggregate score", c.Name)
	}
	if _, ok := reg.Lookup(c.Name); ok {
		return fmt.Errorf("composite %q shadows a factor", c.Name)
	}
	if len(c.Terms) == 0 {
		return fmt.Errorf("composite %q has no terms", c.Name)
	}
	var total float64
	for _, t := range c.Terms {
		if _, ok := reg.Lookup(t.Factor); !ok && !earlier[t.Factor] {
			return fmt.Errorf("composite %q references unknown factor %q", c.Name, t.Factor)
		}
		total += t.Weight
	}
	if c.Percent && total <= 0 {
		return fmt.Errorf("composite %q: percent needs a positive total weight", c.Name)
	}
	return nil
}

func (d *Domain) Name() string                    { return d.name }
func (d *Domain) Version() string                 { return d.version }
func (d *Domain) Description() string             { return d.description }
func (d *Domain) Registry() *factor.Registry      { return d.registry }
func (d *Domain) Classifier() classify.Classifier { return d.classifier }

// Composites returns the domain's composite scores.
func (d *Domain) Composites() []Composite {
	out := make([]Composite, len(d.composites))
	copy(out, d.composites)
	return out
}

// Scales returns the domain's auxiliary scales.
func (d *Domain) Scales() []Scale {
	out := make([]Scale, len(d.scales))
	copy(out, d.scales)
	return out
}

// Tiers lists every tier the domain can emit.
func (d *Domain) Tiers() []classify.Tier { return d.classifier.Tiers() }

// WithConstants returns a copy of d whose registry has the given constants
// overridden. The version gains a "+tuned.<digest>" build suffix naming the
// effective constants, so runs tuned the same way share a version and runs
// tuned differently do not.
func (d *Domain) WithConstants(overrides map[string]float64) (*Domain, error) {
	if len(overrides) == 0 {
		return d, nil
	}
	reg, err := d.registry.WithConstants(overrides)
	if err != nil {
		return nil, fmt.Errorf("domain %q: %w", d.name, err)
	}
	cp := *d
	cp.registry = reg
	cp.version = tunedVersion(d.version, reg)
	return &cp, nil
}

func tunedVersion(version string, reg *factor.Registry) string {
	if i := strings.IndexByte(version, '+'); i >= 0 {
		version = version[:i]
	}
	h := sha256.New()
	for _, name := range reg.ConstantNames() {
		v, _ := reg.Constant(name)
		fmt.Fprintf(h, "%s=%s\n", name, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return version + "+tuned." + hex.EncodeToString(h.Sum(nil))[:8]
}

// Result is the classification of one record.
type Result struct {
	RecordID      string               `json:"record_id"`
	Score         float64              `json:"aggregate_score"`
	BaseScore     float64              `json:"base_score"`
	Tier          classify.Tier        `json:"tier"`
	MatchedBy     string               `json:"matched_by"`
	Contributions []score.Contribution `json:"contributing_factors"`
	Multipliers   []score.Applied      `json:"multipliers,omitempty"`
	Scales        []ScaleReading       `json:"scales,omitempty"`
	Composites    map[string]float64   `json:"composites,omitempty"`
	Factors       map[string]float64   `json:"factors"`
}

// ScaleReading is the label and value a named scale assigned to a record.
type ScaleReading struct {
	Name  string  `json:"name"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Scale returns the reading of a named scale.
func (r Result) Scale(name string) (ScaleReading, bool) {
	for _, s := range r.Scales {
		if s.Name == name {
			return s, true
		}
	}
	return ScaleReading{}, false
}

// Classify runs one record through normalize, score and classify. It has no
// side effects and identical input always yields an identical Result.
func (d *Domain) Classify(rec factor.Record) (Result, error) {
	vec, err := d.registry.Normalize(rec)
	if err != nil {
		return Result{}, err
	}

	b, err := d.scorer.Score(d.registry, vec)
	if err != nil {
		return Result{}, err
	}

	in := &classify.Input{Score: b.Total, Values: vec.Values}
	if len(d.composites) > 0 {
		in.Composites = make(map[string]float64, len(d.composites))
		for _, c := range d.composites {
			in.Composites[c.Name] = c.eval(vec.Values, in.Composites)
		}
	}
	dec := d.classifier.Classify(in)

	res := Result{
		RecordID:      rec.ID,
		Score:         b.Total,
		BaseScore:     b.Base,
		Tier:          dec.Tier,
		MatchedBy:     dec.MatchedBy,
		Contributions: b.Contributions,
		Multipliers:   b.Multipliers,
		Composites:    in.Composites,
		Factors:       vec.Values,
	}
	for _, s := range d.scales {
		v, _ := in.Field(s.Field)
		step := s.Table.Lookup(v)
		res.Scales = append(res.Scales, ScaleReading{Name: s.Name, Label: step.Label, Value: step.Value})
	}
	return res, nil
}
