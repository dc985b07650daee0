// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package e2e

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the built binary and returns its combined output and
// exit code. Output is plain because stdout is a pipe, not a terminal.
func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(cliBinary, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("run %v: %v\nOutput: %s", args, err, out)
	}
	return string(out), exitErr.ExitCode()
}

// writeWorkflow drops a workflow document into a temp dir and returns
// its path.
func writeWorkflow(t *testing.T, name, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	return path
}

const twoNodeWorkflow = `{
  "nodes": [
    {"id": "a", "type": "add", "params": {"num1": 2, "num2": 3}},
    {"id": "b", "type": "echo", "params": {"value": "$a.result"}}
  ]
}`

func TestValidateCommand(t *testing.T) {
	// 1. A valid document reports the execution order and exits 0.
	good := writeWorkflow(t, "good.json", twoNodeWorkflow)
	out, code := runCLI(t, "validate", good)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nOutput: %s", code, out)
	}
	if !strings.Contains(out, "2 nodes") || !strings.Contains(out, "a, b") {
		t.Errorf("missing order in output: %s", out)
	}

	// 2. An unknown node type exits 2 with an error line.
	bad := writeWorkflow(t, "bad.json", `{"nodes":[{"id":"x","type":"nope"}]}`)
	out, code = runCLI(t, "validate", bad)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d\nOutput: %s", code, out)
	}
	if !strings.Contains(out, "ERROR") {
		t.Errorf("expected an error line, got: %s", out)
	}

	// 3. A missing file also exits 2.
	if _, code = runCLI(t, "validate", filepath.Join(t.TempDir(), "absent.json")); code != 2 {
		t.Errorf("expected exit 2 for missing file, got %d", code)
	}
}

func TestRunCommand_Live(t *testing.T) {
	wf := writeWorkflow(t, "run.json", twoNodeWorkflow)
	out, code := runCLI(t, "run", wf)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nOutput: %s", code, out)
	}
	for _, want := range []string{"✓ a", "✓ b", "OK: 2 nodes completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunCommand_FailureExitCode(t *testing.T) {
	// kv_get has no store wired in the CLI runtime, so this fails at
	// execution time, not validation time.
	wf := writeWorkflow(t, "fail.json",
		`{"nodes":[{"id":"x","type":"kv_get","params":{"key":"q"}}]}`)
	out, code := runCLI(t, "run", wf)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d\nOutput: %s", code, out)
	}
	if !strings.Contains(out, "✗ x") {
		t.Errorf("expected the failed node line, got: %s", out)
	}
}

func TestRunCommand_JSONReport(t *testing.T) {
	wf := writeWorkflow(t, "run.json", twoNodeWorkflow)
	out, code := runCLI(t, "run", wf, "--json")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nOutput: %s", code, out)
	}

	var result struct {
		APIVersion string `json:"api_version"`
		Command    string `json:"command"`
		Success    bool   `json:"success"`
		Data       struct {
			Summary struct {
				Total     int `json:"total"`
				Completed int `json:"completed"`
			} `json:"summary"`
			Nodes map[string]struct {
				Status string `json:"status"`
			} `json:"nodes"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("parse report: %v\nOutput: %s", err, out)
	}
	if result.APIVersion != "1.0" || result.Command != "run" {
		t.Errorf("unexpected envelope: %+v", result)
	}
	if !result.Success || result.Data.Summary.Completed != 2 {
		t.Errorf("unexpected summary: %+v", result)
	}
	if result.Data.Nodes["b"].Status != "completed" {
		t.Errorf("node b not completed: %+v", result.Data.Nodes)
	}
}

func TestRunCommand_ParamOverride(t *testing.T) {
	wf := writeWorkflow(t, "params.json", `{
	  "global_params": {"name": "default"},
	  "nodes": [{"id": "greet", "type": "echo", "params": {"value": "$global.name"}}]
	}`)
	out, code := runCLI(t, "run", wf, "--json", "-p", "name=cli-e2e")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nOutput: %s", code, out)
	}

	var result struct {
		Data struct {
			Nodes map[string]struct {
				Data map[string]any `json:"data"`
			} `json:"nodes"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("parse report: %v\nOutput: %s", err, out)
	}
	if got := result.Data.Nodes["greet"].Data["value"]; got != "cli-e2e" {
		t.Errorf("override not applied, got %v", got)
	}
}

func TestCatalogCommand(t *testing.T) {
	// 1. JSON format lists every builtin type.
	out, code := runCLI(t, "catalog", "--format", "json")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nOutput: %s", code, out)
	}
	var report struct {
		Count int `json:"count"`
		Nodes []struct {
			Type string `json:"type"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("parse catalog: %v\nOutput: %s", err, out)
	}
	if report.Count < 20 {
		t.Errorf("expected at least 20 builtin types, got %d", report.Count)
	}
	types := make(map[string]bool, report.Count)
	for _, n := range report.Nodes {
		types[n.Type] = true
	}
	for _, want := range []string{"add", "echo", "loop_node", "template"} {
		if !types[want] {
			t.Errorf("catalog missing %s", want)
		}
	}

	// 2. Table format prints a header row.
	out, code = runCLI(t, "catalog")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nOutput: %s", code, out)
	}
	if !strings.Contains(out, "TYPE") || !strings.Contains(out, "loop_node") {
		t.Errorf("table output incomplete:\n%s", out)
	}

	// 3. An unknown format exits 2.
	if _, code = runCLI(t, "catalog", "--format", "xml"); code != 2 {
		t.Errorf("expected exit 2 for unknown format, got %d", code)
	}
}
