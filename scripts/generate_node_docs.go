// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_node_docs generates a markdown reference for the builtin
// node catalog, including any overlay applied from a catalog file.
//
// Usage:
//
//	go run scripts/generate_node_docs.go [catalog.yaml] > docs/node_reference.md
//
// The generated documentation includes:
//   - Full node inventory grouped by category
//   - Parameter kinds, defaults, and required markers
//   - Declared outputs for reference expressions
//   - Retry and timeout behavior per node
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/nodes"
)

// nodeCategory groups related node types for the reference layout.
type nodeCategory struct {
	Name        string
	Description string
	Types       []string
}

// categories lists every builtin type exactly once, in reading order.
var categories = []nodeCategory{
	{
		Name:        "Data Shaping",
		Description: "Nodes that stage, transform, and combine values inside the run.",
		Types:       []string{"echo", "template", "text_concat", "text_replace", "add", "multiply", "sleep"},
	},
	{
		Name:        "Control Flow",
		Description: "Nodes that run embedded workflows.",
		Types:       []string{"loop_node"},
	},
	{
		Name:        "Language Model",
		Description: "Nodes that call the configured LLM client.",
		Types:       []string{"chat"},
	},
	{
		Name:        "Network",
		Description: "Nodes that reach outside the process over HTTP.",
		Types:       []string{"http_request", "web_search"},
	},
	{
		Name:        "Files",
		Description: "Nodes that read and write inside the sandboxed files directory.",
		Types:       []string{"file_write", "file_read"},
	},
	{
		Name:        "Key-Value Store",
		Description: "Nodes backed by the embedded badger store.",
		Types:       []string{"kv_put", "kv_get", "kv_delete"},
	},
	{
		Name:        "Vector Index",
		Description: "Nodes that chunk, index, and query documents in weaviate.",
		Types:       []string{"index_build", "index_query"},
	},
	{
		Name:        "Process Execution",
		Description: "Nodes that run subprocesses on the host.",
		Types:       []string{"terminal", "python_execute"},
	},
	{
		Name:        "Cloud Sinks",
		Description: "Nodes that export run data to external storage.",
		Types:       []string{"gcs_upload", "influx_write"},
	},
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Build the same registry the binaries use. Backends stay nil; the
	// docs only need the specs.
	reg := catalog.NewRegistry()
	if err := nodes.RegisterBuiltins(reg, nodes.Deps{Logger: log}); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering builtins: %v\n", err)
		os.Exit(1)
	}
	sched, err := engine.New(reg, engine.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating scheduler: %v\n", err)
		os.Exit(1)
	}
	if err := nodes.RegisterLoop(reg, sched); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering loop node: %v\n", err)
		os.Exit(1)
	}

	// Apply an optional catalog overlay so site-local amendments show
	// up in the generated reference.
	if len(os.Args) > 1 {
		file, err := catalog.LoadFile(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading catalog %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		if err := catalog.ApplyFile(reg, file); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying catalog %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
	}
	reg.Freeze()

	generateMarkdown(os.Stdout, reg)
}

func generateMarkdown(w io.Writer, reg *catalog.Registry) {
	specs := make(map[string]catalog.NodeSpec, reg.Len())
	for _, s := range reg.List() {
		specs[s.Type] = s
	}

	fmt.Fprintf(w, "# Node Reference\n\n")
	fmt.Fprintf(w, "Generated: %s\n\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(w, "%d node types. Parameters marked **required** have no default;\n", len(specs))
	fmt.Fprintf(w, "all others may be omitted. Reference expressions (`$id.path`)\n")
	fmt.Fprintf(w, "resolve against the outputs listed per node.\n\n")

	// Table of contents
	for _, cat := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(cat.Name, " ", "-"))
		fmt.Fprintf(w, "- [%s](#%s)\n", cat.Name, anchor)
	}
	fmt.Fprintln(w)

	covered := make(map[string]bool)
	for _, cat := range categories {
		fmt.Fprintf(w, "## %s\n\n%s\n\n", cat.Name, cat.Description)
		for _, typ := range cat.Types {
			spec, ok := specs[typ]
			if !ok {
				continue
			}
			covered[typ] = true
			writeNode(w, spec)
		}
	}

	// Anything registered but not categorized still gets documented.
	var orphans []catalog.NodeSpec
	for _, s := range reg.List() {
		if !covered[s.Type] {
			orphans = append(orphans, s)
		}
	}
	if len(orphans) > 0 {
		fmt.Fprintf(w, "## Other\n\nTypes added by catalog overlays.\n\n")
		for _, s := range orphans {
			writeNode(w, s)
		}
	}
}

func writeNode(w io.Writer, spec catalog.NodeSpec) {
	fmt.Fprintf(w, "### `%s`\n\n%s\n\n", spec.Type, spec.Description)

	behavior := []string{}
	if spec.Retryable {
		behavior = append(behavior, "retries on transient failure")
	}
	if spec.Isolated {
		behavior = append(behavior, "runs isolated")
	}
	if spec.Timeout > 0 {
		behavior = append(behavior, fmt.Sprintf("times out after %s", spec.Timeout))
	}
	if len(behavior) > 0 {
		fmt.Fprintf(w, "*%s*\n\n", strings.Join(behavior, "; "))
	}

	if len(spec.Params) > 0 {
		fmt.Fprintln(w, "| Parameter | Kind | Required | Default | Description |")
		fmt.Fprintln(w, "|---|---|---|---|---|")
		for _, p := range spec.Params {
			required := ""
			if p.Required {
				required = "**required**"
			}
			def := ""
			if p.Default != nil {
				def = fmt.Sprintf("`%v`", p.Default)
			}
			fmt.Fprintf(w, "| `%s` | %s | %s | %s | %s |\n",
				p.Name, p.Kind, required, def, escapePipes(p.Doc))
		}
		fmt.Fprintln(w)
	}

	if len(spec.Outputs) > 0 {
		names := make([]string, 0, len(spec.Outputs))
		for _, o := range spec.Outputs {
			names = append(names, fmt.Sprintf("`%s`", o.Name))
		}
		fmt.Fprintf(w, "Outputs: %s\n\n", strings.Join(names, ", "))
	}
}

// escapePipes keeps doc strings from breaking table cells.
func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
