package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// writeResultsCSV emits classified and skipped records in input order.
// Skipped rows leave the score columns empty and carry the reason.
func writeResultsCSV(w io.Writer, doc *Document) error {
	factors := factorColumns(doc.Results)
	scales := scaleColumns(doc.Results)
	composites := compositeColumns(doc.Results)

	header := []string{"record_id", "status", "aggregate_score", "base_score", "tier", "tier_label", "matched_by", "contributing_factors"}
	for _, s := range scales {
		header = append(header, "scale:"+s)
	}
	for _, c := range composites {
		header = append(header, "composite:"+c)
	}
	for _, f := range factors {
		header = append(header, "factor:"+f)
	}
	header = append(header, "skip_reason")

	type row struct {
		index  int
		fields []string
	}
	rows := make([]row, 0, len(doc.Results)+len(doc.Skipped))

	for _, s := range doc.Skipped {
		fields := make([]string, len(header))
		fields[0] = s.RecordID
		fields[1] = "skipped"
		fields[len(fields)-1] = s.Reason
		rows = append(rows, row{index: s.Index, fields: fields})
	}
	batch := engine.Batch{Results: doc.Results, Skipped: doc.Skipped}
	for i, idx := range batch.ResultIndexes() {
		rows = append(rows, row{index: idx, fields: resultFields(doc.Results[i], scales, composites, factors)})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].index < rows[j].index })

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.fields); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func resultFields(r engine.Result, scales, composites, factors []string) []string {
	contribs := make([]string, len(r.Contributions))
	for i, c := range r.Contributions {
		contribs[i] = c.Factor + "=" + strconv.FormatFloat(c.Amount, 'f', -1, 64)
	}
	fields := []string{
		r.RecordID,
		"classified",
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		strconv.FormatFloat(r.BaseScore, 'f', -1, 64),
		r.Tier.ID,
		r.Tier.Label,
		r.MatchedBy,
		strings.Join(contribs, ";"),
	}
	for _, name := range scales {
		s, _ := r.Scale(name)
		fields = append(fields, s.Label)
	}
	fields = appendValues(fields, r.Composites, composites)
	fields = appendValues(fields, r.Factors, factors)
	return append(fields, "")
}

func writeReconciliationCSV(w io.Writer, reports []reconcile.Report) error {
	cw := csv.NewWriter(w)
	header := []string{"cluster", "label", "demand", "capacity", "gap", "status", "ranked_by", "directive", "prioritized", "deferred", "overflow", "note"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, r := range reports {
		err := cw.Write([]string{
			r.Cluster,
			r.Label,
			strconv.Itoa(r.Demand),
			strconv.Itoa(r.Capacity),
			strconv.Itoa(r.Gap),
			string(r.Status),
			r.RankedBy,
			r.Directive,
			strings.Join(r.Prioritized, ";"),
			strings.Join(r.Deferred, ";"),
			strings.Join(r.Overflow, ";"),
			r.Note,
		})
		if err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func appendValues(fields []string, values map[string]float64, names []string) []string {
	for _, name := range names {
		if v, ok := values[name]; ok {
			fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
		} else {
			fields = append(fields, "")
		}
	}
	return fields
}
