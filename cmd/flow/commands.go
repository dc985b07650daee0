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
	"time"

	"github.com/spf13/cobra"
)

var (
	validateWatch bool

	runParams  []string
	runTimeout time.Duration
	runJSON    bool
	runWorkers int

	catalogFormat string

	rootCmd = &cobra.Command{
		Use:   "flow",
		Short: "Work with AleutianFlow workflows from the terminal",
		Long: `flow validates and runs workflow documents locally.

Workflows are JSON documents describing a DAG of typed nodes from the
builtin catalog. Runs execute in-process with the same scheduler the
flowd server uses and stream node results to the terminal as they
finish.

Output is styled when stdout is a terminal. Set FLOW_OUTPUT_MODE=plain
or NO_COLOR to force plain text.`,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Check a workflow document against the node catalog",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate,
	}

	runCmd = &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow locally and render its events",
		Args:  cobra.ExactArgs(1),
		Run:   runRun,
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "List the builtin node types",
		Args:  cobra.NoArgs,
		Run:   runCatalog,
	}
)

func init() {
	validateCmd.Flags().BoolVar(&validateWatch, "watch", false,
		"Re-validate whenever the file changes")

	runCmd.Flags().StringArrayVarP(&runParams, "params", "p", nil,
		"Override a global parameter as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0,
		"Abort the run after this duration (0 disables)")
	runCmd.Flags().BoolVar(&runJSON, "json", false,
		"Print a JSON report instead of live output")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0,
		"Concurrent node cap for this run (0 uses the scheduler default)")

	catalogCmd.Flags().StringVar(&catalogFormat, "format", "table",
		"Output format: table or json")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(catalogCmd)
}
