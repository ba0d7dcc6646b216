// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package myers computes shortest edit scripts between two sequences.
//
// The implementation is the linear-space variant of Myers' algorithm
// ("An O(ND) Difference Algorithm and Its Variations", 1986, section 4b).
// Forward and reverse searches run from both ends of the edit graph until
// their frontiers overlap on a "middle snake", and the problem is split in
// two around it. Time is O((N+M)·D) and space is O(N+M): only the two
// frontier arrays are allocated, once per call to Diff.
//
// # Layers
//
//   - Diff: generic edit script over any comparable element type
//   - DiffLines: line diff of two texts with UI rows and stats
//   - Hunks / Unified: grouped changes and unified-diff rendering
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package myers

import "sort"

// Op identifies the kind of an Edit.
type Op int

const (
	// Equal keeps an element present in both sequences.
	Equal Op = iota
	// Delete removes an element of the old sequence.
	Delete
	// Insert adds an element of the new sequence.
	Insert
)

// String returns the lowercase name used in JSON payloads.
func (o Op) String() string {
	switch o {
	case Equal:
		return "equal"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Edit is one step of an edit script.
//
// OldIndex is the 0-based position in the old sequence (-1 for Insert).
// NewIndex is the 0-based position in the new sequence (-1 for Delete).
type Edit struct {
	Op       Op  `json:"op"`
	OldIndex int `json:"old_index"`
	NewIndex int `json:"new_index"`
}

// Diff returns a minimal edit script transforming a into b.
//
// # Description
//
// Every element of a appears exactly once as Equal or Delete, and every
// element of b exactly once as Equal or Insert, in sequence order. The
// number of Delete plus Insert edits equals the edit distance D. Within a
// run of consecutive changes, deletes are ordered before inserts.
//
// # Inputs
//
//   - a: The old sequence.
//   - b: The new sequence.
//
// # Outputs
//
//   - []Edit: The edit script. Nil when both inputs are empty.
//
// # Examples
//
//	edits := myers.Diff([]string{"a", "b"}, []string{"a", "c"})
//	// equal(0,0) delete(1,-1) insert(-1,1)
func Diff[T comparable](a, b []T) []Edit {
	n, m := len(a), len(b)
	if n+m == 0 {
		return nil
	}

	size := 2*(n+m) + 3
	s := &solver[T]{
		a:      a,
		b:      b,
		fwd:    make([]int, size),
		rev:    make([]int, size),
		offset: n + m + 1,
		edits:  make([]Edit, 0, n+m),
	}
	s.compare(0, n, 0, m)
	return normalize(s.edits)
}

// solver holds the frontier arrays shared by every recursive step.
// fwd[offset+k] is the furthest x reached on diagonal k from the top-left
// corner of the current box; rev[offset+k] is the same measured from the
// bottom-right corner on the reversed sequences.
type solver[T comparable] struct {
	a, b     []T
	fwd, rev []int
	offset   int
	edits    []Edit
}

// compare appends the edit script for a[aLo:aHi] against b[bLo:bHi].
func (s *solver[T]) compare(aLo, aHi, bLo, bHi int) {
	for aLo < aHi && bLo < bHi && s.a[aLo] == s.b[bLo] {
		s.equal(aLo, bLo)
		aLo++
		bLo++
	}
	suffix := 0
	for aLo < aHi-suffix && bLo < bHi-suffix && s.a[aHi-suffix-1] == s.b[bHi-suffix-1] {
		suffix++
	}
	aEnd, bEnd := aHi-suffix, bHi-suffix

	switch {
	case aLo == aEnd:
		for j := bLo; j < bEnd; j++ {
			s.edits = append(s.edits, Edit{Op: Insert, OldIndex: -1, NewIndex: j})
		}
	case bLo == bEnd:
		for i := aLo; i < aEnd; i++ {
			s.edits = append(s.edits, Edit{Op: Delete, OldIndex: i, NewIndex: -1})
		}
	default:
		x, y, u, v := s.middleSnake(aLo, aEnd, bLo, bEnd)
		s.compare(aLo, x, bLo, y)
		for ; x < u; x, y = x+1, y+1 {
			s.equal(x, y)
		}
		s.compare(u, aEnd, v, bEnd)
	}

	for i := 0; i < suffix; i++ {
		s.equal(aEnd+i, bEnd+i)
	}
}

func (s *solver[T]) equal(i, j int) {
	s.edits = append(s.edits, Edit{Op: Equal, OldIndex: i, NewIndex: j})
}

// middleSnake finds the middle snake of an optimal path through the box
// a[aLo:aHi] x b[bLo:bHi] and returns its start (x, y) and end (u, v) in
// absolute indices. Both ranges must be non-empty and must not share a
// first or last element, so the edit distance of the box is at least 2.
func (s *solver[T]) middleSnake(aLo, aHi, bLo, bHi int) (x, y, u, v int) {
	n, m := aHi-aLo, bHi-bLo
	delta := n - m
	odd := delta&1 != 0
	off := s.offset
	fwd, rev := s.fwd, s.rev
	fwd[off+1] = 0
	rev[off+1] = 0

	for d := 0; d <= (n+m+1)/2; d++ {
		for k := -d; k <= d; k += 2 {
			var px int
			if k == -d || (k != d && fwd[off+k-1] < fwd[off+k+1]) {
				px = fwd[off+k+1]
			} else {
				px = fwd[off+k-1] + 1
			}
			py := px - k
			cx, cy := px, py
			for cx < n && cy < m && s.a[aLo+cx] == s.b[bLo+cy] {
				cx++
				cy++
			}
			fwd[off+k] = cx
			if rk := delta - k; odd && cy <= m && cx <= n && rk >= -(d-1) && rk <= d-1 && cx+rev[off+rk] >= n {
				return aLo + px, bLo + py, aLo + cx, bLo + cy
			}
		}

		for k := -d; k <= d; k += 2 {
			var px int
			if k == -d || (k != d && rev[off+k-1] < rev[off+k+1]) {
				px = rev[off+k+1]
			} else {
				px = rev[off+k-1] + 1
			}
			py := px - k
			cx, cy := px, py
			for cx < n && cy < m && s.a[aHi-1-cx] == s.b[bHi-1-cy] {
				cx++
				cy++
			}
			rev[off+k] = cx
			if fk := delta - k; !odd && cy <= m && cx <= n && fk >= -d && fk <= d && cx+fwd[off+fk] >= n {
				return aHi - cx, bHi - cy, aHi - px, bHi - py
			}
		}
	}

	// Unreachable: the frontiers overlap by d = ceil((n+m)/2). Splitting at
	// the top-right corner still yields a valid script.
	return aHi, bLo, aHi, bLo
}

// normalize orders deletes before inserts inside each run of changes.
func normalize(edits []Edit) []Edit {
	start := -1
	for i := 0; i <= len(edits); i++ {
		changed := i < len(edits) && edits[i].Op != Equal
		if changed && start < 0 {
			start = i
			continue
		}
		if !changed && start >= 0 {
			run := edits[start:i]
			sort.SliceStable(run, func(p, q int) bool {
				return run[p].Op == Delete && run[q].Op == Insert
			})
			start = -1
		}
	}
	return edits
}

// Distance returns the number of non-Equal edits in the script.
func Distance(edits []Edit) int {
	d := 0
	for _, e := range edits {
		if e.Op != Equal {
			d++
		}
	}
	return d
}

// Apply replays edits against a and returns the reconstructed new sequence.
// It needs b only for the inserted elements.
func Apply[T any](a, b []T, edits []Edit) []T {
	out := make([]T, 0, len(b))
	for _, e := range edits {
		switch e.Op {
		case Equal:
			out = append(out, a[e.OldIndex])
		case Insert:
			out = append(out, b[e.NewIndex])
		}
	}
	return out
}
