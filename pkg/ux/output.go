// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the aleutian-eval CLI.
//
// All output goes through a Printer bound to one writer. Color is decided
// once per Printer from a ColorMode: auto enables it only for a terminal
// that has not set NO_COLOR.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
)

// Aleutian color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success, inserts
	ColorTealPrimary = lipgloss.Color("#20B9B4") // titles
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, hunk headers
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, line numbers
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C") // errors, deletes
)

// ColorMode selects when ANSI styling is emitted.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode accepts "auto", "always" and "never". Empty means auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	default:
		return ColorAuto, fmt.Errorf("unknown color mode %q (want auto, always or never)", s)
	}
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

type styles struct {
	Plain   lipgloss.Style
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Insert  lipgloss.Style
	Delete  lipgloss.Style
	Hunk    lipgloss.Style
	Header  lipgloss.Style
	Box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Plain:   r.NewStyle(),
		Title:   r.NewStyle().Bold(true).Foreground(ColorTealPrimary),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorTealBright),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
		Insert:  r.NewStyle().Foreground(ColorTealBright),
		Delete:  r.NewStyle().Foreground(ColorError),
		Hunk:    r.NewStyle().Foreground(ColorTealDeep),
		Header:  r.NewStyle().Bold(true),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
	}
}

// Printer writes styled output to one writer. Not safe for concurrent use.
type Printer struct {
	w     io.Writer
	color bool
	st    styles
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer, mode ColorMode) *Printer {
	color := useColor(w, mode)
	r := lipgloss.NewRenderer(w)
	if color {
		if mode == ColorAlways {
			r.SetColorProfile(termenv.ANSI256)
		}
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{w: w, color: color, st: newStyles(r)}
}

func useColor(w io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		if os.Getenv("NO_COLOR") != "" {
			return false
		}
		return logging.IsTerminal(w)
	}
}

// Color reports whether this Printer emits ANSI styling.
func (p *Printer) Color() bool { return p.color }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

// Render styles an icon.
func (p *Printer) Render(i Icon) string {
	switch i {
	case IconSuccess:
		return p.st.Success.Render(string(i))
	case IconWarning:
		return p.st.Warning.Render(string(i))
	case IconError:
		return p.st.Error.Render(string(i))
	case IconPending:
		return p.st.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a bold heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.w, p.st.Title.Render(text))
}

// Success prints text behind a check mark.
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Render(IconSuccess), p.st.Success.Render(text))
}

// Warning prints text behind a warning sign.
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Render(IconWarning), p.st.Warning.Render(text))
}

// Error prints text behind a cross.
func (p *Printer) Error(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.Render(IconError), p.st.Error.Render(text))
}

// Muted prints secondary text.
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.w, p.st.Muted.Render(text))
}

// Box prints content in a rounded box. Without color the box is replaced
// by a plain "title: content" block so output stays grep-friendly.
func (p *Printer) Box(title, content string) {
	if !p.color {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, p.st.Box.Render(p.st.Title.Render(title)+"\n"+content))
}

// Summary prints labelled counts on one line, e.g. "+3 added  -1 removed".
func (p *Printer) Summary(parts ...SummaryPart) {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		style := p.st.Bold
		switch part.Tone {
		case ToneGood:
			style = p.st.Success
		case ToneBad:
			style = p.st.Error
		case ToneMuted:
			style = p.st.Muted
		}
		out = append(out, style.Render(part.Value)+" "+p.st.Muted.Render(part.Label))
	}
	fmt.Fprintln(p.w, strings.Join(out, "  "))
}

// Tone picks the color of a SummaryPart.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneGood
	ToneBad
	ToneMuted
)

// SummaryPart is one count in a Summary line.
type SummaryPart struct {
	Value string
	Label string
	Tone  Tone
}
