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
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table prints rows under headers. With color it draws a rounded lipgloss
// table; without, it prints tab-aligned columns.
//
// styleCell, if non-nil, may return a style for a body cell; it is ignored
// when color is off.
func (p *Printer) Table(headers []string, rows [][]string, styleCell func(row, col int) (lipgloss.Style, bool)) {
	if !p.color {
		tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		for _, r := range rows {
			fmt.Fprintln(tw, strings.Join(r, "\t"))
		}
		_ = tw.Flush()
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.st.Muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.st.Title.Padding(0, 1)
			}
			if styleCell != nil {
				if s, ok := styleCell(row, col); ok {
					return s.Padding(0, 1)
				}
			}
			return p.st.Plain.Padding(0, 1)
		})
	fmt.Fprintln(p.w, t.Render())
}

// StatusStyle returns the style used for a job status word.
func (p *Printer) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "successful":
		return p.st.Success
	case "failed":
		return p.st.Error
	case "expired":
		return p.st.Muted
	default:
		return p.st.Warning
	}
}

// ConfidenceStyle returns the style used for a scan finding confidence.
func (p *Printer) ConfidenceStyle(confidence string) lipgloss.Style {
	switch strings.ToLower(confidence) {
	case "high":
		return p.st.Error
	case "medium":
		return p.st.Warning
	default:
		return p.st.Muted
	}
}
