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
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/myers"
	"github.com/AleutianAI/AleutianEval/services/gateway/datatypes"
)

const (
	formatUnified    = "unified"
	formatSideBySide = "side-by-side"
	formatJSON       = "json"
)

type diffOptions struct {
	format      string
	context     int
	width       int
	asJSON      bool
	exitOnDiffs bool
}

func newDiffCmd(g *globalFlags) *cobra.Command {
	opts := &diffOptions{}

	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Line diff two prompts or config files",
		Long: `Diff two files line by line using the same algorithm the gateway
uses for config versions. Use "-" to read one side from stdin.

With --canonical both files are parsed as JSON and rendered with sorted keys
first, so reordered keys do not show up as changes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, g, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.format, "format", formatUnified, "Output format: unified, side-by-side or json")
	f.IntVarP(&opts.context, "context", "U", myers.DefaultContext, "Unchanged lines of context around each change")
	f.IntVar(&opts.width, "width", 0, "Side-by-side width (default: $COLUMNS or 120)")
	f.BoolVar(&opts.asJSON, "canonical", false, "Canonicalize both inputs as JSON before diffing")
	f.BoolVar(&opts.exitOnDiffs, "exit-code", false, "Exit with status 1 when the inputs differ")
	return cmd
}

func runDiff(cmd *cobra.Command, g *globalFlags, opts *diffOptions, oldPath, newPath string) error {
	if opts.context < 0 || opts.context > datatypes.MaxDiffContext {
		return usageErrorf("--context must be between 0 and %d", datatypes.MaxDiffContext)
	}
	switch opts.format {
	case formatUnified, formatSideBySide, formatJSON:
	default:
		return usageErrorf("unknown --format %q (want unified, side-by-side or json)", opts.format)
	}
	if oldPath == "-" && newPath == "-" {
		return usageErrorf("only one side can be read from stdin")
	}

	oldText, err := readInput(cmd, oldPath, opts.asJSON)
	if err != nil {
		return err
	}
	newText, err := readInput(cmd, newPath, opts.asJSON)
	if err != nil {
		return err
	}

	res := myers.DiffLines(oldText, newText)
	out := cmd.OutOrStdout()

	switch opts.format {
	case formatJSON:
		resp, err := datatypes.NewDiffResponse(oldPath, newPath, oldText, newText, opts.context)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	case formatSideBySide:
		p := g.printer(cmd)
		p.SideBySide(oldPath, newPath, res.Rows, sideBySideWidth(opts.width))
		p.DiffStats(res.Stats)
	case formatUnified:
		unified, err := myers.Unified(oldPath, newPath, oldText, newText, opts.context)
		if err != nil {
			return err
		}
		g.printer(cmd).Unified(unified)
	}

	if opts.exitOnDiffs && res.Stats.Changed() {
		return &exitError{code: 1, msg: "inputs differ"}
	}
	return nil
}

func readInput(cmd *cobra.Command, path string, asJSON bool) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !asJSON {
		return string(data), nil
	}
	text, err := myers.CanonicalJSON(data)
	if err != nil {
		return "", fmt.Errorf("%s is not valid JSON: %w", path, err)
	}
	return text, nil
}

func sideBySideWidth(flag int) int {
	if flag > 0 {
		return flag
	}
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		return cols
	}
	return 120
}
