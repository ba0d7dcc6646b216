// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package myers

import "strings"

// Row is one rendered line of a line diff.
//
// OldLine and NewLine are 1-based; zero means the line does not exist on
// that side (an insert has no OldLine, a delete has no NewLine).
type Row struct {
	Kind    Op     `json:"kind"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
	Text    string `json:"text"`
}

// Stats summarizes a line diff.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Changed reports whether the diff contains any insert or delete.
func (s Stats) Changed() bool {
	return s.Added > 0 || s.Removed > 0
}

// Result is the outcome of DiffLines.
type Result struct {
	Edits []Edit `json:"-"`
	Rows  []Row  `json:"rows"`
	Stats Stats  `json:"stats"`
}

// Lines splits text into lines.
//
// CRLF line endings are normalized to LF. A trailing newline does not
// produce an empty final line, and the empty string has no lines.
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// DiffLines computes a line diff between two texts.
func DiffLines(oldText, newText string) Result {
	a, b := Lines(oldText), Lines(newText)
	edits := Diff(a, b)
	return Result{
		Edits: edits,
		Rows:  rows(a, b, edits),
		Stats: stats(edits),
	}
}

func rows(a, b []string, edits []Edit) []Row {
	out := make([]Row, 0, len(edits))
	for _, e := range edits {
		switch e.Op {
		case Equal:
			out = append(out, Row{Kind: Equal, OldLine: e.OldIndex + 1, NewLine: e.NewIndex + 1, Text: a[e.OldIndex]})
		case Delete:
			out = append(out, Row{Kind: Delete, OldLine: e.OldIndex + 1, Text: a[e.OldIndex]})
		case Insert:
			out = append(out, Row{Kind: Insert, NewLine: e.NewIndex + 1, Text: b[e.NewIndex]})
		}
	}
	return out
}

func stats(edits []Edit) Stats {
	var s Stats
	for _, e := range edits {
		switch e.Op {
		case Equal:
			s.Unchanged++
		case Delete:
			s.Removed++
		case Insert:
			s.Added++
		}
	}
	return s
}
