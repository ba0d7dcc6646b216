// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianEval/pkg/myers"
	"github.com/AleutianAI/AleutianEval/services/policy_engine"
)

// ErrorResponse is the error envelope returned to the dashboard.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PolicyViolation is returned with 422 when content carries secrets.
type PolicyViolation struct {
	Success  bool                        `json:"success"`
	Error    string                      `json:"error"`
	Findings []policy_engine.ScanFinding `json:"findings"`
}

// DiffResponse is the result of a config version or ad-hoc diff.
type DiffResponse struct {
	OldName string       `json:"old_name"`
	NewName string       `json:"new_name"`
	Rows    []myers.Row  `json:"rows"`
	Stats   myers.Stats  `json:"stats"`
	Hunks   []myers.Hunk `json:"hunks"`
	Unified string       `json:"unified"`
}

// ErrDiffTooLarge is returned by NewDiffResponse when either side has more
// than MaxDiffLines lines.
var ErrDiffTooLarge = errors.New("diff input too large")

// NewDiffResponse line-diffs two texts and renders both the row view and
// the unified text with contextLines of context.
func NewDiffResponse(oldName, newName, oldText, newText string, contextLines int) (DiffResponse, error) {
	for _, side := range []struct{ name, text string }{{oldName, oldText}, {newName, newText}} {
		if n := lineCount(side.text); n > MaxDiffLines {
			return DiffResponse{}, fmt.Errorf("%w: %s has %d lines, limit is %d", ErrDiffTooLarge, side.name, n, MaxDiffLines)
		}
	}

	res := myers.DiffLines(oldText, newText)
	hunks := myers.Hunks(res.Edits, contextLines)
	unified, err := myers.RenderUnified(oldName, newName, myers.Lines(oldText), myers.Lines(newText), hunks)
	if err != nil {
		return DiffResponse{}, err
	}
	if hunks == nil {
		hunks = []myers.Hunk{}
	}
	return DiffResponse{
		OldName: oldName,
		NewName: newName,
		Rows:    res.Rows,
		Stats:   res.Stats,
		Hunks:   hunks,
		Unified: unified,
	}, nil
}

// lineCount counts lines the way myers.Lines splits them, without
// allocating the slice.
func lineCount(text string) int {
	if text == "" {
		return 0
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Count(text, "\n") + 1
}
