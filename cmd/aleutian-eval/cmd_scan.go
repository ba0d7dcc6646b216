// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/ux"
	"github.com/AleutianAI/AleutianEval/services/policy_engine"
	"github.com/AleutianAI/AleutianEval/services/policy_engine/enforcement"
)

func newScanCmd(g *globalFlags) *cobra.Command {
	var (
		patternsPath string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "scan FILE...",
		Short: "Check files for secrets before uploading them",
		Long: `Scan files with the same patterns the gateway applies to document
uploads and config versions. Exits with status 1 when any file holds a
high-confidence secret, which would make the gateway reject it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine(patternsPath)
			if err != nil {
				return err
			}

			var findings []policy_engine.ScanFinding
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				findings = append(findings, engine.ScanNamed(path, string(data))...)
			}

			if asJSON {
				if findings == nil {
					findings = []policy_engine.ScanFinding{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(findings); err != nil {
					return err
				}
			} else {
				p := g.printer(cmd)
				if patternsPath == "" {
					p.Muted("Patterns: built-in (sha256 " + enforcement.PolicyHash()[:12] + ")")
				} else {
					p.Muted("Patterns: " + patternsPath)
				}
				printFindings(p, findings, len(args))
			}

			if policy_engine.HasBlockingFindings(findings) {
				return &exitError{code: 1, msg: "secrets found"}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&patternsPath, "patterns", "", "YAML classification patterns (default: built-in)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print findings as JSON")
	return cmd
}

func loadEngine(patternsPath string) (*policy_engine.PolicyEngine, error) {
	if patternsPath == "" {
		return policy_engine.NewPolicyEngine()
	}
	data, err := os.ReadFile(patternsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", patternsPath, err)
	}
	return policy_engine.NewPolicyEngineFromYAML(data)
}

func printFindings(p *ux.Printer, findings []policy_engine.ScanFinding, files int) {
	if len(findings) == 0 {
		p.Success(fmt.Sprintf("No findings in %d file(s)", files))
		return
	}

	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, []string{
			f.FilePath + ":" + strconv.Itoa(f.LineNumber),
			f.ClassificationName,
			string(f.Confidence),
			f.PatternDescription,
			f.MatchedContent,
		})
	}
	p.Table([]string{"LOCATION", "CLASS", "CONFIDENCE", "PATTERN", "MATCH"}, rows,
		func(row, col int) (lipgloss.Style, bool) {
			if col != 2 || row < 0 || row >= len(findings) {
				return lipgloss.Style{}, false
			}
			return p.ConfidenceStyle(string(findings[row].Confidence)), true
		})

	blocking := len(policy_engine.BlockingFindings(findings))
	if blocking > 0 {
		p.Error(fmt.Sprintf("%d blocking finding(s); the gateway would reject these files", blocking))
		return
	}
	p.Warning(fmt.Sprintf("%d finding(s), none blocking", len(findings)))
}
