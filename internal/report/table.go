package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/reconcile"
)

// topFactors is how many contributions the table shows per record.
const topFactors = 3

func newTable(st styles, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.border).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}
			return st.cell
		})
}

func writeTable(w io.Writer, doc *Document, st styles) error {
	var b strings.Builder

	title := fmt.Sprintf("%s %s: %d of %d records classified", doc.Domain, doc.Version, len(doc.Results), doc.Total)
	if len(doc.Skipped) > 0 {
		title += fmt.Sprintf(", %d skipped", len(doc.Skipped))
	}
	if doc.RunID != "" {
		title += " (run " + doc.RunID + ")"
	}
	b.WriteString(st.title.Render(title))
	b.WriteString("\n")

	if len(doc.Results) > 0 {
		scales := scaleColumns(doc.Results)
		headers := []string{"RECORD", "SCORE", "TIER", "MATCHED BY", "TOP FACTORS"}
		for _, s := range scales {
			headers = append(headers, strings.ToUpper(s))
		}
		t := newTable(st, headers...)
		for _, r := range doc.Results {
			t.Row(resultRow(r, scales)...)
		}
		b.WriteString(t.String())
		b.WriteString("\n")

		counts := newTable(st, "TIER", "COUNT")
		for _, id := range sortedTiers(doc.TierCounts) {
			counts.Row(id, strconv.Itoa(doc.TierCounts[id]))
		}
		b.WriteString(counts.String())
		b.WriteString("\n")
	}

	if len(doc.Skipped) > 0 {
		b.WriteString(st.title.Render("Skipped records"))
		b.WriteString("\n")
		t := newTable(st, "INDEX", "RECORD", "REASON")
		for _, s := range doc.Skipped {
			t.Row(strconv.Itoa(s.Index), s.RecordID, s.Reason)
		}
		b.WriteString(t.String())
		b.WriteString("\n")
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	if len(doc.Reconciliation) > 0 {
		return writeReconciliationTable(w, doc.Reconciliation, st)
	}
	return nil
}

func resultRow(r engine.Result, scales []string) []string {
	n := min(topFactors, len(r.Contributions))
	top := make([]string, 0, n)
	for _, c := range r.Contributions[:n] {
		top = append(top, fmt.Sprintf("%s %+.2f", c.Factor, c.Amount))
	}
	tier := r.Tier.Label
	if tier != r.Tier.ID {
		tier = r.Tier.ID + " (" + r.Tier.Label + ")"
	}
	row := []string{r.RecordID, num(r.Score), tier, r.MatchedBy, strings.Join(top, ", ")}
	for _, name := range scales {
		s, _ := r.Scale(name)
		row = append(row, s.Label)
	}
	return row
}

func writeReconciliationTable(w io.Writer, reports []reconcile.Report, st styles) error {
	var b strings.Builder
	b.WriteString(st.title.Render("Capacity reconciliation"))
	b.WriteString("\n")

	t := newTable(st, "CLUSTER", "DEMAND", "CAPACITY", "GAP", "STATUS", "DIRECTIVE")
	gapStyle := make(map[int]lipgloss.Style, len(reports))
	for i, r := range reports {
		t.Row(r.Cluster, strconv.Itoa(r.Demand), strconv.Itoa(r.Capacity), strconv.Itoa(r.Gap), string(r.Status), r.Directive)
		switch {
		case r.Gap > 0 && r.Status == reconcile.Pilot:
			gapStyle[i] = st.soft
		case r.Gap > 0:
			gapStyle[i] = st.short
		default:
			gapStyle[i] = st.ok
		}
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return st.header
		}
		if col == 3 {
			return gapStyle[row]
		}
		return st.cell
	})
	b.WriteString(t.String())
	b.WriteString("\n")

	for _, r := range reports {
		if r.Note != "" {
			b.WriteString(st.hint.Render("note: " + r.Note))
			b.WriteString("\n")
		}
	}
	demand, capacity, shortfall := reconcile.Totals(reports)
	fmt.Fprintf(&b, "total demand %d, capacity %d, shortfall %d\n", demand, capacity, shortfall)

	_, err := io.WriteString(w, b.String())
	return err
}
