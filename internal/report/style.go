package report

import (
	"charm.land/lipgloss/v2"
)

// Palette
var (
	primary = lipgloss.Color("#8B5CF6") // purple
	accent  = lipgloss.Color("#F97316") // orange
	success = lipgloss.Color("#22C55E") // green
	danger  = lipgloss.Color("#F43F5E") // rose
	dim     = lipgloss.Color("#94A3B8") // slate
	border  = lipgloss.Color("#334155")
)

type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	hint   lipgloss.Style
	short  lipgloss.Style // clusters over hard capacity
	soft   lipgloss.Style // pilot overflow
	ok     lipgloss.Style
	border lipgloss.Style
}

func newStyles(enabled bool) styles {
	cell := lipgloss.NewStyle().Padding(0, 1)
	if !enabled {
		plain := lipgloss.NewStyle()
		return styles{title: plain, header: cell, cell: cell, hint: plain, short: cell, soft: cell, ok: cell, border: plain}
	}
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(primary),
		header: cell.Bold(true).Foreground(primary),
		cell:   cell,
		hint:   lipgloss.NewStyle().Foreground(dim).Italic(true),
		short:  cell.Foreground(danger).Bold(true),
		soft:   cell.Foreground(accent),
		ok:     cell.Foreground(success),
		border: lipgloss.NewStyle().Foreground(border),
	}
}
