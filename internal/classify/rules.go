package classify

import (
	"fmt"
	"strings"
)

// Rule is one entry of a first-match priority list.
// Match returns (tier, true) when the rule applies.
type Rule interface {
	Name() string
	Match(in *Input) (Tier, bool)
}

// Op is a clause comparison operator.
type Op string

const (
	OpGTE Op = ">="
	OpGT  Op = ">"
	OpLTE Op = "<="
	OpLT  Op = "<"
	OpEQ  Op = "=="
	OpNE  Op = "!="
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNE:
		return true
	}
	return false
}

func (op Op) eval(a, b float64) bool {
	switch op {
	case OpGTE:
		return a >= b
	case OpGT:
		return a > b
	case OpLTE:
		return a <= b
	case OpLT:
		return a < b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	}
	return false
}

// Clause compares a field (the score or a factor) with a constant.
type Clause struct {
	Field string  `json:"field"`
	Op    Op      `json:"op"`
	Value float64 `json:"value"`
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %g", c.Field, c.Op, c.Value)
}

// Match selects how a ThresholdRule combines its clauses.
type Match string

const (
	MatchAll Match = "all"
	MatchAny Match = "any"
)

// ThresholdRule is the data-driven Rule used by declarative domains,
// the equivalent of one WHEN arm of a CASE expression.
type ThresholdRule struct {
	RuleName string
	Tier     Tier
	Mode     Match
	Clauses  []Clause
}

func (r *ThresholdRule) Name() string { return r.RuleName }

func (r *ThresholdRule) Match(in *Input) (Tier, bool) {
	if len(r.Clauses) == 0 {
		return Tier{}, false
	}
	matchAny := r.Mode == MatchAny
	for _, c := range r.Clauses {
		v, ok := in.Field(c.Field)
		hit := ok && c.Op.eval(v, c.Value)
		if matchAny && hit {
			return r.Tier, true
		}
		if !matchAny && !hit {
			return Tier{}, false
		}
	}
	if matchAny {
		return Tier{}, false
	}
	return r.Tier, true
}

// Describe renders the rule condition, e.g. "housing_signal >= 1".
func (r *ThresholdRule) Describe() string {
	parts := make([]string, len(r.Clauses))
	for i, c := range r.Clauses {
		parts[i] = c.String()
	}
	joiner := " AND "
	if r.Mode == MatchAny {
		joiner = " OR "
	}
	return strings.Join(parts, joiner)
}

// RunRules evaluates rules in order and returns the first match.
// Returns (Tier{}, "", false) if no rule applies.
func RunRules(rules []Rule, in *Input) (Tier, string, bool) {
	for _, r := range rules {
		if t, ok := r.Match(in); ok {
			return t, r.Name(), true
		}
	}
	return Tier{}, "", false
}

// RuleClassifier is a first-match priority list with a mandatory fallback.
// A record matching several rules gets the earliest one; no scores are
// compared between rules.
type RuleClassifier struct {
	rules    []Rule
	fallback Tier
}

// NewRuleClassifier validates the list. fields names every factor a clause
// may reference; the score is always allowed.
func NewRuleClassifier(rules []Rule, fallback Tier, fields []string) (*RuleClassifier, error) {
	if fallback.ID == "" {
		return nil, fmt.Errorf("rule classifier needs a default tier")
	}

	known := make(map[string]bool, len(fields)+1)
	known[ScoreField] = true
	for _, f := range fields {
		known[f] = true
	}

	var errs []string
	names := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Name() == "" {
			errs = append(errs, fmt.Sprintf("rule %d: name is required", i))
		} else if names[r.Name()] {
			errs = append(errs, fmt.Sprintf("rule %d: duplicate name %q", i, r.Name()))
		}
		names[r.Name()] = true

		tr, ok := r.(*ThresholdRule)
		if !ok {
			continue
		}
		if tr.Tier.ID == "" {
			errs = append(errs, fmt.Sprintf("rule %q: tier id is required", tr.RuleName))
		}
		if tr.Mode != MatchAll && tr.Mode != MatchAny {
			errs = append(errs, fmt.Sprintf("rule %q: unknown match mode %q", tr.RuleName, tr.Mode))
		}
		if len(tr.Clauses) == 0 {
			errs = append(errs, fmt.Sprintf("rule %q: at least one clause is required", tr.RuleName))
		}
		for _, c := range tr.Clauses {
			if !known[c.Field] {
				errs = append(errs, fmt.Sprintf("rule %q: unknown field %q", tr.RuleName, c.Field))
			}
			if !c.Op.Valid() {
				errs = append(errs, fmt.Sprintf("rule %q: unknown operator %q", tr.RuleName, c.Op))
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid rule list:\n  %s", strings.Join(errs, "\n  "))
	}

	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &RuleClassifier{rules: cp, fallback: fallback}, nil
}

func (c *RuleClassifier) Classify(in *Input) Decision {
	if t, name, ok := RunRules(c.rules, in); ok {
		return Decision{Tier: t, MatchedBy: name}
	}
	return Decision{Tier: c.fallback, MatchedBy: DefaultRuleName}
}

// Tiers returns rule tiers in priority order followed by the fallback,
// without repeats.
func (c *RuleClassifier) Tiers() []Tier {
	seen := make(map[string]bool)
	var out []Tier
	add := func(t Tier) {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	for _, r := range c.rules {
		if tr, ok := r.(*ThresholdRule); ok {
			add(tr.Tier)
		}
	}
	add(c.fallback)
	return out
}

// Rules returns the rule list in priority order.
func (c *RuleClassifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Fallback returns the default tier.
func (c *RuleClassifier) Fallback() Tier { return c.fallback }
