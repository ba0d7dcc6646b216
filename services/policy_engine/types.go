// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfidenceLevel is how sure a pattern is that a match is real.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Rank orders confidence levels, Low = 1 through High = 3. Unknown is 0.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

// UnmarshalYAML rejects confidence values other than low, medium and high.
func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	level := ConfidenceLevel(s)
	if level.Rank() == 0 {
		return fmt.Errorf("line %d: confidence must be low, medium or high, got %q", value.Line, s)
	}
	*c = level
	return nil
}

// patternFile is the YAML layout of a classification patterns file.
type patternFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification is a named group of patterns, e.g. "secret" or "pii".
// Higher Priority classifications are checked first.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is one regular expression within a Classification.
type Pattern struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`

	re *regexp.Regexp
}

// compile compiles every pattern in place and orders classifications by
// descending priority. Ties keep file order.
func (f *patternFile) compile() error {
	seen := make(map[string]bool)
	for i := range f.Classifications {
		class := &f.Classifications[i]
		if class.Name == "" {
			return fmt.Errorf("classification %d has no name", i)
		}
		for j := range class.Patterns {
			p := &class.Patterns[j]
			if seen[p.ID] {
				return fmt.Errorf("duplicate pattern id %q", p.ID)
			}
			seen[p.ID] = true
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("pattern %s in %s: %w", p.ID, class.Name, err)
			}
			p.re = re
		}
	}
	sort.SliceStable(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
	return nil
}

// ScanFinding is one pattern match. MatchedContent is redacted.
type ScanFinding struct {
	FilePath           string          `json:"file_path,omitempty"`
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternID          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}

// Blocking reports whether the finding alone is enough to reject content.
func (f ScanFinding) Blocking() bool {
	return f.ClassificationName == ClassificationSecret && f.Confidence == High
}
