// Package report renders classification batches and reconciliation reports
// as JSON, CSV or a terminal table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// Format selects an output encoding.
type Format string

const (
	JSON  Format = "json"
	CSV   Format = "csv"
	Table Format = "table"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, CSV, Table:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json, csv or table)", s)
}

// Totals summarises a reconciliation across clusters.
type Totals struct {
	Demand    int `json:"demand"`
	Capacity  int `json:"capacity"`
	Shortfall int `json:"shortfall"`
}

// Document is everything a classify run produces.
type Document struct {
	RunID          string             `json:"run_id,omitempty"`
	Domain         string             `json:"domain"`
	Version        string             `json:"version"`
	Total          int                `json:"total"`
	TierCounts     map[string]int     `json:"tier_counts"`
	Results        []engine.Result    `json:"results"`
	Skipped        []engine.Skip      `json:"skipped"`
	Reconciliation []reconcile.Report `json:"reconciliation,omitempty"`
	Totals         *Totals            `json:"totals,omitempty"`
}

// New assembles a Document from a batch and optional reconciliation.
func New(b *engine.Batch, reports []reconcile.Report) *Document {
	doc := &Document{
		Domain:         b.Domain,
		Version:        b.Version,
		Total:          b.Total,
		TierCounts:     b.TierCounts(),
		Results:        b.Results,
		Skipped:        b.Skipped,
		Reconciliation: reports,
	}
	if doc.Results == nil {
		doc.Results = []engine.Result{}
	}
	if doc.Skipped == nil {
		doc.Skipped = []engine.Skip{}
	}
	if len(reports) > 0 {
		d, c, s := reconcile.Totals(reports)
		doc.Totals = &Totals{Demand: d, Capacity: c, Shortfall: s}
	}
	return doc
}

// Emitter writes documents in one format.
type Emitter struct {
	Format Format
	// Styled enables colours in table output.
	Styled bool
}

// Emit writes doc. CSV output carries one row per input record; use
// EmitReconciliation for the cluster reports.
func (e Emitter) Emit(w io.Writer, doc *Document) error {
	switch e.Format {
	case JSON, "":
		return writeJSON(w, doc)
	case CSV:
		return writeResultsCSV(w, doc)
	case Table:
		return writeTable(w, doc, newStyles(e.Styled))
	}
	return fmt.Errorf("unknown output format %q", e.Format)
}

// EmitReconciliation writes only the cluster reports.
func (e Emitter) EmitReconciliation(w io.Writer, reports []reconcile.Report) error {
	switch e.Format {
	case JSON, "":
		if reports == nil {
			reports = []reconcile.Report{}
		}
		return writeJSON(w, reports)
	case CSV:
		return writeReconciliationCSV(w, reports)
	case Table:
		return writeReconciliationTable(w, reports, newStyles(e.Styled))
	}
	return fmt.Errorf("unknown output format %q", e.Format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// factorColumns is the sorted union of factor names across results.
func factorColumns(results []engine.Result) []string {
	return valueColumns(results, func(r engine.Result) map[string]float64 { return r.Factors })
}

func compositeColumns(results []engine.Result) []string {
	return valueColumns(results, func(r engine.Result) map[string]float64 { return r.Composites })
}

func valueColumns(results []engine.Result, values func(engine.Result) map[string]float64) []string {
	seen := make(map[string]bool)
	for _, r := range results {
		for name := range values(r) {
			seen[name] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for name := range seen {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

// scaleColumns lists scale names in first-seen order.
func scaleColumns(results []engine.Result) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range results {
		for _, s := range r.Scales {
			if !seen[s.Name] {
				seen[s.Name] = true
				cols = append(cols, s.Name)
			}
		}
	}
	return cols
}

func sortedTiers(counts map[string]int) []string {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func num(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
