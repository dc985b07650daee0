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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{
		"name=alice",
		"count=3",
		"debug=true",
		`tags=["a","b"]`,
		"note=hello world",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", got["name"])
	assert.Equal(t, float64(3), got["count"])
	assert.Equal(t, true, got["debug"])
	assert.Equal(t, []any{"a", "b"}, got["tags"])
	assert.Equal(t, "hello world", got["note"])
}

func TestParseParams_Malformed(t *testing.T) {
	_, err := parseParams([]string{"noequals"})
	require.Error(t, err)

	_, err = parseParams([]string{"=value"})
	require.Error(t, err)
}

func TestParseParams_Empty(t *testing.T) {
	got, err := parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyOverrides(t *testing.T) {
	wf := &graph.Workflow{GlobalParams: map[string]any{"region": "us", "limit": 5}}
	applyOverrides(wf, map[string]any{"region": "eu"})
	assert.Equal(t, "eu", wf.GlobalParams["region"])
	assert.Equal(t, 5, wf.GlobalParams["limit"])

	empty := &graph.Workflow{}
	applyOverrides(empty, map[string]any{"x": 1})
	assert.Equal(t, 1, empty.GlobalParams["x"])
}

func TestBuildRunResult_ExitCodes(t *testing.T) {
	start := time.Now()
	ok := &events.Summary{Total: 2, Completed: 2}
	bad := &events.Summary{Total: 2, Completed: 1, Failed: 1}

	res, code := buildRunResult("wf.json", start, ok, nil, nil)
	assert.True(t, res.Success)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "run", res.Command)

	res, code = buildRunResult("wf.json", start, bad, nil, nil)
	assert.False(t, res.Success)
	assert.Equal(t, ExitRunFailed, code)

	res, code = buildRunResult("wf.json", start, ok, nil, context.Canceled)
	assert.False(t, res.Success)
	assert.Equal(t, ExitRunFailed, code)
	assert.Equal(t, "context canceled", res.Error)

	res, code = buildRunResult("wf.json", start, nil, nil, errors.New("nil plan"))
	assert.False(t, res.Success)
	assert.Equal(t, ExitRunFailed, code)
}

func TestRunCapture_KeepsTerminalParentResults(t *testing.T) {
	c := newRunCapture()

	require.NoError(t, c.Publish("s", events.KindStatus, events.StatusData{Stage: "executing"}))
	require.NoError(t, c.Publish("s", events.KindNodeResult,
		events.NodeResult{NodeID: "a", Status: catalog.StatusRunning}))
	it := 1
	require.NoError(t, c.Publish("s", events.KindNodeResult,
		events.NodeResult{NodeID: "a", Status: catalog.StatusCompleted, Iteration: &it}))
	require.NoError(t, c.Publish("s", events.KindNodeResult,
		events.NodeResult{NodeID: "a", Status: catalog.StatusCompleted}))

	got := c.Results()
	require.Len(t, got, 1)
	assert.Equal(t, catalog.StatusCompleted, got["a"].Status)
}

func TestRunWorkflow_LocalScheduler(t *testing.T) {
	ux.SetMode(ux.ModePlain)
	log := testLogger()
	reg, sched, err := buildLocalRuntime(log)
	require.NoError(t, err)

	doc := `{
	  "nodes": [
	    {"id": "a", "type": "add", "params": {"num1": 2, "num2": 3}},
	    {"id": "b", "type": "echo", "params": {"value": "$a.result"}}
	  ]
	}`
	wf, err := graph.Parse([]byte(doc))
	require.NoError(t, err)
	plan, err := graph.Validate(wf, reg)
	require.NoError(t, err)

	var buf bytes.Buffer
	r := newEventRenderer(&buf)
	summary, err := sched.Run(context.Background(), plan, engine.RunOptions{
		Emitter: events.NewRunEmitter(r, "test-session", log),
	})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.True(t, summary.Success())

	out := buf.String()
	assert.Contains(t, out, "✓ a")
	assert.Contains(t, out, "✓ b")
}

func TestRunWorkflow_CaptureForJSONReport(t *testing.T) {
	log := testLogger()
	reg, sched, err := buildLocalRuntime(log)
	require.NoError(t, err)

	doc := `{"nodes": [{"id": "only", "type": "echo", "params": {"value": 42}}]}`
	wf, err := graph.Parse([]byte(doc))
	require.NoError(t, err)
	plan, err := graph.Validate(wf, reg)
	require.NoError(t, err)

	capture := newRunCapture()
	start := time.Now()
	summary, runErr := sched.Run(context.Background(), plan, engine.RunOptions{
		Emitter: events.NewRunEmitter(capture, "test-session", log),
	})
	require.NoError(t, runErr)

	res, code := buildRunResult("wf.json", start, summary, capture.Results(), runErr)
	assert.Equal(t, ExitOK, code)
	assert.True(t, res.Success)

	report, ok := res.Data.(runReport)
	require.True(t, ok)
	require.Contains(t, report.Nodes, "only")
	assert.Equal(t, catalog.StatusCompleted, report.Nodes["only"].Status)
}
