package catalog

import (
	"fmt"
	"math"
	"sort"

	"github.com/abhisek/tierkit/internal/band"
	"github.com/abhisek/tierkit/internal/classify"
	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/factor"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/score"
)

// Definition is a built, ready-to-run domain together with its capacity
// table and reconciliation policy.
type Definition struct {
	Document   *Document
	Domain     *engine.Domain
	Capacities []reconcile.Capacity
	Reconciler *reconcile.Reconciler
}

// Build turns a parsed document into a Definition. Every configuration
// error is reported here, before any record is processed.
func Build(doc *Document) (*Definition, error) {
	reg := factor.NewRegistry()

	constNames := make([]string, 0, len(doc.Constants))
	for name := range doc.Constants {
		constNames = append(constNames, name)
	}
	sort.Strings(constNames)
	for _, name := range constNames {
		if err := reg.SetConstant(name, doc.Constants[name]); err != nil {
			return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
		}
	}

	for _, fd := range doc.Factors {
		def := factor.Definition{
			Name:        fd.Name,
			Description: fd.Description,
			Weight:      fd.Weight,
			Direction:   factor.Direction(fd.Direction),
			Kind:        factor.Kind(fd.Kind),
			Range:       factor.Range{Min: fd.Range.Min, Max: fd.Range.Max},
			Clamp:       fd.Clamp,
			Default:     fd.Default,
		}
		if fd.Extract != nil {
			def.Extract = extraction(*fd.Extract)
		}
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
		}
	}
	if err := reg.Seal(); err != nil {
		return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
	}

	var multipliers []score.Multiplier
	for _, md := range doc.Multipliers {
		steps, err := stepTable(md.Steps)
		if err != nil {
			return nil, fmt.Errorf("domain %s: multiplier %s: %w", doc.Name, md.Name, err)
		}
		multipliers = append(multipliers, score.Multiplier{Name: md.Name, Factor: md.Factor, Steps: steps})
	}
	scorer, err := score.New(reg, multipliers...)
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
	}

	composites := make([]engine.Composite, len(doc.Composites))
	fields := reg.Names()
	for i, cd := range doc.Composites {
		c := engine.Composite{Name: cd.Name, Percent: cd.Percent, Decimals: -1}
		if cd.Decimals != nil {
			c.Decimals = *cd.Decimals
		}
		for _, t := range cd.Terms {
			c.Terms = append(c.Terms, engine.Term{Factor: t.Factor, Weight: t.Weight})
		}
		composites[i] = c
		fields = append(fields, cd.Name)
	}

	cl, err := buildClassifier(doc.Classifier, fields)
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
	}

	var scales []engine.Scale
	for _, sd := range doc.Scales {
		steps, err := stepTable(sd.Steps)
		if err != nil {
			return nil, fmt.Errorf("domain %s: scale %s: %w", doc.Name, sd.Name, err)
		}
		scales = append(scales, engine.Scale{Name: sd.Name, Field: sd.Field, Table: steps})
	}

	domain, err := engine.NewDomain(engine.Config{
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
		Registry:    reg,
		Scorer:      scorer,
		Classifier:  cl,
		Composites:  composites,
		Scales:      scales,
	})
	if err != nil {
		return nil, err
	}

	caps, err := reconcile.ValidateCapacities(doc.Capacity)
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
	}
	known := make(map[string]bool)
	for _, t := range cl.Tiers() {
		known[t.ID] = true
	}
	for _, c := range caps {
		if !known[c.Cluster] {
			return nil, fmt.Errorf("domain %s: capacity for unknown cluster %q", doc.Name, c.Cluster)
		}
	}

	rec, err := buildReconciler(doc.Ranking, domain, known)
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", doc.Name, err)
	}

	return &Definition{Document: doc, Domain: domain, Capacities: caps, Reconciler: rec}, nil
}

func extraction(ed ExtractDoc) factor.Extraction {
	e := factor.Extraction{
		Kind:         factor.ExtractKind(ed.Kind),
		Attribute:    ed.Attribute,
		Category:     ed.Category,
		Categories:   ed.Categories,
		Threshold:    ed.Threshold,
		ThresholdRef: ed.ThresholdRef,
		Coefficient:  ed.Coefficient,
		Offset:       ed.Offset,
	}
	for _, s := range ed.Signals {
		e.Signals = append(e.Signals, extraction(s))
	}
	return e
}

func stepTable(steps []StepDoc) (band.Table, error) {
	bands := make([]band.Band, len(steps))
	for i, s := range steps {
		upper := math.Inf(1)
		switch {
		case s.Upper != nil && s.Below != nil:
			return band.Table{}, fmt.Errorf("step %q: upper and below are mutually exclusive", s.Label)
		case s.Upper != nil:
			upper = *s.Upper
		case s.Below != nil:
			// The largest float under the cut-off keeps the table upper-inclusive.
			upper = math.Nextafter(*s.Below, math.Inf(-1))
		case i != len(steps)-1:
			return band.Table{}, fmt.Errorf("step %q: only the last step may omit its upper bound", s.Label)
		}
		bands[i] = band.Band{Label: s.Label, Upper: upper, Value: s.Value}
	}
	return band.New(bands)
}

func tier(td TierDoc) classify.Tier {
	label := td.Label
	if label == "" {
		label = td.ID
	}
	return classify.Tier{ID: td.ID, Label: label}
}

func buildClassifier(cd ClassifierDoc, fields []string) (classify.Classifier, error) {
	if len(cd.Bands) > 0 {
		bands := make([]classify.BandTier, len(cd.Bands))
		for i, b := range cd.Bands {
			upper := math.Inf(1)
			if b.Upper != nil {
				upper = *b.Upper
			} else if i != len(cd.Bands)-1 {
				return nil, fmt.Errorf("band %q: only the last band may omit its upper bound", b.ID)
			}
			bands[i] = classify.BandTier{Tier: tier(TierDoc{ID: b.ID, Label: b.Label}), Upper: upper}
		}
		return classify.NewBandClassifier(bands)
	}

	if cd.Default == nil {
		return nil, fmt.Errorf("rule classifier needs a default tier")
	}
	rules := make([]classify.Rule, len(cd.Rules))
	for i, rd := range cd.Rules {
		mode := classify.Match(rd.Match)
		if mode == "" {
			mode = classify.MatchAll
		}
		clauses := make([]classify.Clause, len(rd.When))
		for j, c := range rd.When {
			clauses[j] = classify.Clause{Field: c.Field, Op: classify.Op(c.Op), Value: c.Value}
		}
		rules[i] = &classify.ThresholdRule{RuleName: rd.Name, Tier: tier(rd.Tier), Mode: mode, Clauses: clauses}
	}
	return classify.NewRuleClassifier(rules, tier(*cd.Default), fields)
}

func buildReconciler(rd RankingDoc, d *engine.Domain, clusters map[string]bool) (*reconcile.Reconciler, error) {
	fallback := reconcile.ByScore()
	if rd.Default != nil {
		rk, err := ranking(*rd.Default, d)
		if err != nil {
			return nil, err
		}
		fallback = rk
	}
	per := make(map[string]reconcile.Ranking, len(rd.Clusters))
	for cluster, doc := range rd.Clusters {
		if !clusters[cluster] {
			return nil, fmt.Errorf("ranking for unknown cluster %q", cluster)
		}
		rk, err := ranking(doc, d)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", cluster, err)
		}
		per[cluster] = rk
	}
	return reconcile.New(fallback, per), nil
}

func ranking(rd RankDoc, d *engine.Domain) (reconcile.Ranking, error) {
	desc := rd.Order != "asc"
	if rd.Field == classify.ScoreField {
		if desc {
			return reconcile.ByScore(), nil
		}
		return reconcile.Ranking{
			Key:  "score asc",
			Less: func(a, b engine.Result) bool { return a.Score < b.Score },
		}, nil
	}
	for _, c := range d.Composites() {
		if c.Name == rd.Field {
			return reconcile.ByComposite(rd.Field, desc), nil
		}
	}
	if _, ok := d.Registry().Lookup(rd.Field); !ok {
		return reconcile.Ranking{}, fmt.Errorf("ranking on unknown factor %q", rd.Field)
	}
	return reconcile.ByFactor(rd.Field, desc), nil
}

// Tune returns a copy of def whose domain uses the given constant overrides.
func (def *Definition) Tune(overrides map[string]float64) (*Definition, error) {
	if len(overrides) == 0 {
		return def, nil
	}
	d, err := def.Domain.WithConstants(overrides)
	if err != nil {
		return nil, err
	}
	cp := *def
	cp.Domain = d
	return &cp, nil
}

// Reconcile runs the domain's reconciler. A nil caps uses the domain's own
// capacity table.
func (def *Definition) Reconcile(results []engine.Result, caps []reconcile.Capacity) ([]reconcile.Report, error) {
	if caps == nil {
		caps = def.Capacities
	}
	return def.Reconciler.Reconcile(results, caps)
}
