// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine classifies text against embedded regex patterns.
//
// The gateway runs it on prompt/config versions and uploaded documents
// before they are forwarded to the evaluation backend, so credentials
// pasted into a system prompt never leave the machine.
package policy_engine

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianEval/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// ClassificationPublic is returned by ClassifyData when nothing matches.
const ClassificationPublic = "public"

// ClassificationSecret names the classification whose high-confidence
// findings block a request.
const ClassificationSecret = "secret"

// PolicyEngine holds the compiled classifications, highest priority first.
//
// Safe for concurrent use once constructed.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine loads the embedded classification file, compiles every
// pattern and sorts classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains an invalid
// regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.DataClassificationPatterns)
}

// NewPolicyEngineFromYAML builds an engine from caller-supplied patterns.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if len(file.Classifications) == 0 {
		return nil, fmt.Errorf("policy file defines no classifications")
	}
	if err := file.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile the policy file: %w", err)
	}
	return &PolicyEngine{Classifiers: file.Classifications}, nil
}

// ClassifyData returns the name of the highest priority classification with
// any matching pattern, or ClassificationPublic.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, pattern := range classifier.Patterns {
			if pattern.re.Match(data) {
				return classifier.Name
			}
		}
	}
	return ClassificationPublic
}

// ScanFileContent checks every line of content against every pattern and
// reports each match with its 1-based line number.
func (e *PolicyEngine) ScanFileContent(content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for lineNum, line := range lines {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.re.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					MatchedContent:     redact(strings.TrimSpace(match)),
					ClassificationName: classifier.Name,
					PatternID:          pattern.ID,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}

// ScanNamed scans content and stamps every finding with name, which is
// usually an uploaded file name or a config version label.
func (e *PolicyEngine) ScanNamed(name, content string) []ScanFinding {
	findings := e.ScanFileContent(content)
	for i := range findings {
		findings[i].FilePath = name
	}
	return findings
}

// HasBlockingFindings reports whether any finding is a high-confidence
// secret.
func HasBlockingFindings(findings []ScanFinding) bool {
	for _, f := range findings {
		if f.Blocking() {
			return true
		}
	}
	return false
}

// BlockingFindings filters findings down to the blocking ones.
func BlockingFindings(findings []ScanFinding) []ScanFinding {
	var out []ScanFinding
	for _, f := range findings {
		if f.Blocking() {
			out = append(out, f)
		}
	}
	return out
}

// redact keeps a short prefix of a match so findings can be shown to the
// user without echoing the secret back.
func redact(match string) string {
	const keep = 4
	if len(match) <= keep*2 {
		return strings.Repeat("*", len(match))
	}
	return match[:keep] + strings.Repeat("*", len(match)-keep)
}
