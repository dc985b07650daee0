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
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

func runCatalog(cmd *cobra.Command, args []string) {
	reg, _, err := buildLocalRuntime(cliLogger())
	if err != nil {
		ux.Error(fmt.Sprintf("initialize node catalog: %v", err))
		os.Exit(ExitInvalid)
	}
	specs := reg.List()

	switch catalogFormat {
	case "json":
		if err := OutputJSON(catalogReport{Count: len(specs), Nodes: specs}); err != nil {
			fmt.Fprintf(os.Stderr, "encode catalog: %v\n", err)
			os.Exit(ExitInvalid)
		}
	case "table":
		ux.Title(fmt.Sprintf("Builtin nodes (%d types)", len(specs)))
		renderCatalogTable(os.Stdout, specs)
	default:
		ux.Error(fmt.Sprintf("unknown format %q, want table or json", catalogFormat))
		os.Exit(ExitInvalid)
	}
	os.Exit(ExitOK)
}

// catalogReport is the Data payload for catalog --format json.
type catalogReport struct {
	Count int                `json:"count"`
	Nodes []catalog.NodeSpec `json:"nodes"`
}

// renderCatalogTable prints one row per node type. Required parameters
// carry a trailing asterisk.
func renderCatalogTable(w io.Writer, specs []catalog.NodeSpec) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tPARAMS\tRETRY\tTIMEOUT\tDESCRIPTION")
	for _, s := range specs {
		params := make([]string, 0, len(s.Params))
		for _, p := range s.Params {
			name := p.Name
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		retry := "no"
		if s.Retryable {
			retry = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Type, strings.Join(params, ","), retry, s.Timeout, s.Description)
	}
	_ = tw.Flush()
}
