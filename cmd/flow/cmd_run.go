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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

func runRun(cmd *cobra.Command, args []string) {
	start := time.Now()
	log := cliLogger()

	data, err := os.ReadFile(args[0])
	if err != nil {
		ux.Error(fmt.Sprintf("read %s: %v", args[0], err))
		os.Exit(ExitInvalid)
	}
	wf, err := graph.Parse(data)
	if err != nil {
		ux.Error(fmt.Sprintf("parse workflow: %v", err))
		os.Exit(ExitInvalid)
	}
	overrides, err := parseParams(runParams)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(ExitInvalid)
	}
	applyOverrides(wf, overrides)

	reg, sched, err := buildLocalRuntime(log)
	if err != nil {
		ux.Error(fmt.Sprintf("initialize runtime: %v", err))
		os.Exit(ExitInvalid)
	}
	plan, err := graph.Validate(wf, reg)
	if err != nil {
		ux.Error(fmt.Sprintf("invalid workflow: %v", err))
		os.Exit(ExitInvalid)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	capture := newRunCapture()
	var sink events.Publisher = capture
	if !runJSON {
		sink = newEventRenderer(os.Stdout)
	}
	emitter := events.NewRunEmitter(sink, events.NewSessionID(), log)
	summary, runErr := sched.Run(ctx, plan, engine.RunOptions{
		Emitter: emitter,
		Workers: runWorkers,
	})

	if runJSON {
		result, code := buildRunResult(args[0], start, summary, capture.Results(), runErr)
		if err := OutputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
			os.Exit(ExitInvalid)
		}
		os.Exit(code)
	}
	os.Exit(reportRun(start, summary, runErr))
}

// parseParams turns repeated key=value flags into global parameter
// overrides. Values unmarshal as JSON when they can, so numbers, bools,
// and structured literals keep their types; anything else stays a
// string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed parameter %q, want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

// applyOverrides merges flag overrides into the workflow's global
// parameters. Flags win over values in the document.
func applyOverrides(wf *graph.Workflow, overrides map[string]any) {
	if len(overrides) == 0 {
		return
	}
	if wf.GlobalParams == nil {
		wf.GlobalParams = make(map[string]any, len(overrides))
	}
	for k, v := range overrides {
		wf.GlobalParams[k] = v
	}
}

// reportRun prints the closing line for a live run and picks the exit
// code. Skipped nodes count as failed in the summary, so Failed alone
// covers them.
func reportRun(start time.Time, summary *events.Summary, runErr error) int {
	dur := time.Since(start).Round(time.Millisecond)
	if summary == nil {
		ux.Error(fmt.Sprintf("run aborted: %v", runErr))
		return ExitRunFailed
	}
	if runErr != nil {
		ux.Error(fmt.Sprintf("run stopped after %s: %v (%d/%d nodes completed)",
			dur, runErr, summary.Completed, summary.Total))
		return ExitRunFailed
	}
	if !summary.Success() {
		ux.Error(fmt.Sprintf("%d of %d nodes did not complete (%s)",
			summary.Total-summary.Completed, summary.Total, dur))
		return ExitRunFailed
	}
	ux.Success(fmt.Sprintf("%d nodes completed in %s", summary.Completed, dur))
	return ExitOK
}

// runReport is the Data payload for run --json.
type runReport struct {
	File    string                       `json:"file"`
	Summary *events.Summary              `json:"summary,omitempty"`
	Nodes   map[string]events.NodeResult `json:"nodes,omitempty"`
}

// buildRunResult shapes the JSON report and its exit code.
func buildRunResult(
	file string,
	start time.Time,
	summary *events.Summary,
	results map[string]events.NodeResult,
	runErr error,
) (CommandResult, int) {
	res := CommandResult{
		APIVersion: "1.0",
		Command:    "run",
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    runErr == nil && summary != nil && summary.Success(),
		Data:       runReport{File: file, Summary: summary, Nodes: results},
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	if res.Success {
		return res, ExitOK
	}
	return res, ExitRunFailed
}

// runCapture collects terminal node results for the JSON report. Loop
// iteration children are folded out; the parent loop node carries the
// aggregate.
type runCapture struct {
	mu      sync.Mutex
	results map[string]events.NodeResult
}

func newRunCapture() *runCapture {
	return &runCapture{results: make(map[string]events.NodeResult)}
}

// Publish implements events.Publisher.
func (c *runCapture) Publish(_ string, kind events.Kind, data any) error {
	if kind != events.KindNodeResult {
		return nil
	}
	nr, ok := data.(events.NodeResult)
	if !ok || nr.Iteration != nil || !nr.Status.Terminal() {
		return nil
	}
	c.mu.Lock()
	c.results[nr.NodeID] = nr
	c.mu.Unlock()
	return nil
}

// Results returns a copy of the collected node results.
func (c *runCapture) Results() map[string]events.NodeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]events.NodeResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}
