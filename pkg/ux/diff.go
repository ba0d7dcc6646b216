// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianEval/pkg/myers"
)

// MinSideBySideWidth is the narrowest terminal SideBySide will lay out.
const MinSideBySideWidth = 40

// Unified prints a unified diff, coloring headers, hunk markers and
// changed lines.
func (p *Printer) Unified(text string) {
	for _, line := range myers.Lines(text) {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			line = p.st.Header.Render(line)
		case strings.HasPrefix(line, "@@"):
			line = p.st.Hunk.Render(line)
		case strings.HasPrefix(line, "+"):
			line = p.st.Insert.Render(line)
		case strings.HasPrefix(line, "-"):
			line = p.st.Delete.Render(line)
		}
		fmt.Fprintln(p.w, line)
	}
}

// sidePair is one row of a side-by-side layout. A nil side is blank.
type sidePair struct {
	old, new *myers.Row
}

// pairRows lines up a diff for two-column display. Equal rows appear on
// both sides; a run of deletes is paired positionally with the run of
// inserts that follows it, and the longer run spills onto blank rows.
func pairRows(rows []myers.Row) []sidePair {
	var out []sidePair
	for i := 0; i < len(rows); {
		if rows[i].Kind == myers.Equal {
			out = append(out, sidePair{old: &rows[i], new: &rows[i]})
			i++
			continue
		}
		var dels, ins []*myers.Row
		for i < len(rows) && rows[i].Kind == myers.Delete {
			dels = append(dels, &rows[i])
			i++
		}
		for i < len(rows) && rows[i].Kind == myers.Insert {
			ins = append(ins, &rows[i])
			i++
		}
		n := max(len(dels), len(ins))
		for j := 0; j < n; j++ {
			var pair sidePair
			if j < len(dels) {
				pair.old = dels[j]
			}
			if j < len(ins) {
				pair.new = ins[j]
			}
			out = append(out, pair)
		}
	}
	return out
}

// SideBySide prints rows in two columns fitted to width. Widths below
// MinSideBySideWidth are raised to it.
func (p *Printer) SideBySide(oldName, newName string, rows []myers.Row, width int) {
	if width < MinSideBySideWidth {
		width = MinSideBySideWidth
	}
	const gutter = " │ "
	col := (width - 3) / 2

	fmt.Fprintf(p.w, "%s%s%s\n",
		p.st.Header.Render(pad(truncate(oldName, col), col)),
		p.st.Muted.Render(gutter),
		p.st.Header.Render(truncate(newName, col)))
	fmt.Fprintln(p.w, p.st.Muted.Render(strings.Repeat("─", col)+"─┼─"+strings.Repeat("─", col)))

	for _, pair := range pairRows(rows) {
		left := p.cell(pair.old, true, col)
		right := p.cell(pair.new, false, col)
		fmt.Fprintf(p.w, "%s%s%s\n", left, p.st.Muted.Render(gutter), strings.TrimRight(right, " "))
	}
}

// cell renders one side of a row as "NNNN± text", padded to col.
func (p *Printer) cell(r *myers.Row, oldSide bool, col int) string {
	const numWidth = 6
	if r == nil {
		return strings.Repeat(" ", col)
	}
	line := r.NewLine
	if oldSide {
		line = r.OldLine
	}
	text := pad(truncate(r.Text, col-numWidth), col-numWidth)

	switch r.Kind {
	case myers.Delete:
		return p.st.Muted.Render(fmt.Sprintf("%4d", line)) + p.st.Delete.Render("- "+text)
	case myers.Insert:
		return p.st.Muted.Render(fmt.Sprintf("%4d", line)) + p.st.Insert.Render("+ "+text)
	default:
		return p.st.Muted.Render(fmt.Sprintf("%4d", line)) + "  " + text
	}
}

// DiffStats prints the added/removed/unchanged counts of a diff.
func (p *Printer) DiffStats(s myers.Stats) {
	p.Summary(
		SummaryPart{Value: fmt.Sprintf("+%d", s.Added), Label: "added", Tone: ToneGood},
		SummaryPart{Value: fmt.Sprintf("-%d", s.Removed), Label: "removed", Tone: ToneBad},
		SummaryPart{Value: fmt.Sprintf("%d", s.Unchanged), Label: "unchanged", Tone: ToneMuted},
	)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func pad(s string, n int) string {
	if w := len([]rune(s)); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}
