// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aleutian-eval runs the eval gateway and offers offline helpers
// for its data: config diffs, tracked jobs and secret scans.
//
// Usage:
//
//	aleutian-eval serve --config gateway.yaml
//	aleutian-eval diff prompt_v1.txt prompt_v2.txt --format side-by-side
//	aleutian-eval jobs list --db /var/lib/eval-gateway/jobs
//	aleutian-eval scan config.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
