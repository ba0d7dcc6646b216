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

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"
)

// DefaultContext is the number of unchanged lines kept around each change.
const DefaultContext = 3

// Hunk is a group of nearby changes with surrounding context.
//
// Start lines are 1-based. When a side has zero lines the start is the line
// after which the change applies, following the unified diff convention.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Edits    []Edit `json:"-"`
}

// Hunks groups an edit script into hunks.
//
// Changes separated by at most 2*context unchanged elements share a hunk.
// A negative context is treated as zero. An edit script without changes
// yields no hunks.
func Hunks(edits []Edit, context int) []Hunk {
	if context < 0 {
		context = 0
	}
	n := len(edits)

	// oldBefore[i]/newBefore[i] count elements consumed before edits[i].
	oldBefore := make([]int, n+1)
	newBefore := make([]int, n+1)
	for i, e := range edits {
		oldBefore[i+1] = oldBefore[i]
		newBefore[i+1] = newBefore[i]
		if e.Op != Insert {
			oldBefore[i+1]++
		}
		if e.Op != Delete {
			newBefore[i+1]++
		}
	}

	var hunks []Hunk
	i, prevEnd := 0, 0
	for i < n {
		for i < n && edits[i].Op == Equal {
			i++
		}
		if i == n {
			break
		}

		start := i - context
		if start < prevEnd {
			start = prevEnd
		}

		end := i
		for {
			for end < n && edits[end].Op != Equal {
				end++
			}
			j := end
			for j < n && edits[j].Op == Equal {
				j++
			}
			if j < n && j-end <= 2*context {
				end = j
				continue
			}
			end += context
			if end > n {
				end = n
			}
			break
		}

		h := Hunk{
			OldLines: oldBefore[end] - oldBefore[start],
			NewLines: newBefore[end] - newBefore[start],
			Edits:    edits[start:end],
		}
		h.OldStart = oldBefore[start] + 1
		if h.OldLines == 0 {
			h.OldStart = oldBefore[start]
		}
		h.NewStart = newBefore[start] + 1
		if h.NewLines == 0 {
			h.NewStart = newBefore[start]
		}
		hunks = append(hunks, h)

		i = end
		prevEnd = end
	}
	return hunks
}

// RenderUnified prints hunks of a line diff in unified format.
//
// The header and hunk framing are produced by sourcegraph/go-diff so the
// output round-trips through standard patch tooling. Returns an empty string
// when there are no hunks.
func RenderUnified(oldName, newName string, a, b []string, hunks []Hunk) (string, error) {
	if len(hunks) == 0 {
		return "", nil
	}

	fd := &diff.FileDiff{
		OrigName: oldName,
		NewName:  newName,
		Hunks:    make([]*diff.Hunk, 0, len(hunks)),
	}
	for _, h := range hunks {
		var body bytes.Buffer
		for _, e := range h.Edits {
			switch e.Op {
			case Equal:
				body.WriteString(" " + a[e.OldIndex] + "\n")
			case Delete:
				body.WriteString("-" + a[e.OldIndex] + "\n")
			case Insert:
				body.WriteString("+" + b[e.NewIndex] + "\n")
			}
		}
		fd.Hunks = append(fd.Hunks, &diff.Hunk{
			OrigStartLine: int32(h.OldStart),
			OrigLines:     int32(h.OldLines),
			NewStartLine:  int32(h.NewStart),
			NewLines:      int32(h.NewLines),
			Body:          body.Bytes(),
		})
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("render unified diff: %w", err)
	}
	return string(out), nil
}

// Unified diffs two texts and renders the result in unified format.
func Unified(oldName, newName, oldText, newText string, context int) (string, error) {
	a, b := Lines(oldText), Lines(newText)
	return RenderUnified(oldName, newName, a, b, Hunks(Diff(a, b), context))
}
