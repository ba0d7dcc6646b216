// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// Backend resource ids reach Flux queries (WER history) and object names
// (evaluation exports). Validating them against a narrow character set
// prevents Flux injection and path traversal.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds an identifier.
const MaxIdentifierLength = 128

// identifierPattern matches backend resource ids: run ids, evaluation ids,
// UUIDs and slugs such as "run-2024.06:a".
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]{0,127}$`)

// ValidateIdentifier checks that id is safe to embed in a Flux string
// literal or an object name.
//
// Valid identifiers:
//   - 1-128 characters
//   - start with a letter or digit
//   - contain only letters, digits, '_', '.', ':' and '-'
//   - are not "." or ".." path components
//
// Example:
//
//	if err := validation.ValidateIdentifier(runID); err != nil {
//	    return nil, fmt.Errorf("invalid run id: %w", err)
//	}
//	// Safe to use in a Flux query
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier %q (must be 1-%d letters, digits, '_', '.', ':' or '-')", id, MaxIdentifierLength)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("invalid identifier %q (contains \"..\")", id)
	}
	return nil
}

// ValidateIdentifiers validates several identifiers.
// Returns an error listing all invalid ones if any fail validation.
func ValidateIdentifiers(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %q", invalid)
	}
	return nil
}

// SanitizeIdentifier trims surrounding whitespace and validates the rest.
func SanitizeIdentifier(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
