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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/pkg/ux"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	color      string
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "aleutian-eval",
		Short: "Dashboard gateway for the Aleutian evaluation backend",
		Long: `aleutian-eval fronts the evaluation backend for the dashboard:
it proxies collections, evaluations, STT runs and config versions,
tracks collection jobs, and diffs config versions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := logging.ParseLevel(g.logLevel); err != nil {
				return err
			}
			_, err := ux.ParseColorMode(g.color)
			return err
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to the gateway YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level override: debug, info, warn or error")
	pf.StringVar(&g.color, "color", "auto", "Color output: auto, always or never")

	rootCmd.AddCommand(
		newServeCmd(g),
		newDiffCmd(g),
		newJobsCmd(g),
		newScanCmd(g),
	)
	return rootCmd
}

// printer builds a ux.Printer for the command's stdout.
func (g *globalFlags) printer(cmd *cobra.Command) *ux.Printer {
	mode, err := ux.ParseColorMode(g.color)
	if err != nil {
		mode = ux.ColorAuto
	}
	return ux.NewPrinter(cmd.OutOrStdout(), mode)
}

func usageErrorf(format string, args ...any) error {
	return &exitError{code: 2, msg: fmt.Sprintf(format, args...)}
}
