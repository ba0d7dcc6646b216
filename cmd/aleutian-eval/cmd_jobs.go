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
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/pkg/ux"
	"github.com/AleutianAI/AleutianEval/services/gateway/jobs"
	kv "github.com/AleutianAI/AleutianEval/services/gateway/storage/badger"
)

func newJobsCmd(g *globalFlags) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect collection jobs tracked by the gateway",
	}

	var (
		dbPath  string
		apiKey  string
		asJSON  bool
		pending bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked jobs from a gateway job database",
		Long: `List the jobs stored in a gateway job database (JOBS_DB_PATH).

The database is locked while the gateway runs; stop it first or point
--db at a copy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return usageErrorf("--db is required")
			}
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("no job database at %s: %w", dbPath, err)
			}
			db, err := kv.Open(kv.Config{Path: dbPath})
			if err != nil {
				return err
			}
			defer db.Close()

			fingerprint := ""
			if apiKey != "" {
				fingerprint = extensions.Fingerprint(apiKey)
			}
			list, err := jobs.NewStore(db, 0).List(cmd.Context(), fingerprint)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if pending {
				list = onlyOptimistic(list)
			}

			if asJSON {
				if list == nil {
					list = []jobs.Job{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			printJobs(g.printer(cmd), list, time.Now())
			return nil
		},
	}
	f := listCmd.Flags()
	f.StringVar(&dbPath, "db", "", "Path to the gateway job database")
	f.StringVar(&apiKey, "api-key", "", "Only show jobs tracked under this API key")
	f.BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	f.BoolVar(&pending, "pending", false, "Only show jobs still shown as placeholder collections")

	jobsCmd.AddCommand(listCmd)
	return jobsCmd
}

func onlyOptimistic(list []jobs.Job) []jobs.Job {
	var out []jobs.Job
	for _, j := range list {
		if j.Optimistic() {
			out = append(out, j)
		}
	}
	return out
}

func printJobs(p *ux.Printer, list []jobs.Job, now time.Time) {
	if len(list) == 0 {
		p.Muted("No tracked jobs.")
		return
	}

	rows := make([][]string, 0, len(list))
	for _, j := range list {
		detail := j.CollectionID
		if j.Error != "" {
			detail = j.Error
		}
		rows = append(rows, []string{
			j.ID,
			j.Name,
			string(j.Status),
			strconv.Itoa(j.Attempts),
			now.Sub(j.CreatedAt).Round(time.Second).String(),
			detail,
		})
	}
	p.Table([]string{"ID", "NAME", "STATUS", "ATTEMPTS", "AGE", "DETAIL"}, rows,
		func(row, col int) (lipgloss.Style, bool) {
			if col != 2 || row < 0 || row >= len(list) {
				return lipgloss.Style{}, false
			}
			return p.StatusStyle(string(list[row].Status)), true
		})
	p.Summary(ux.SummaryPart{Value: strconv.Itoa(len(list)), Label: "jobs"})
}
