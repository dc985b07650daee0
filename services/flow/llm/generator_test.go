// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

func testCatalog(t *testing.T) *catalog.Registry {
	t.Helper()
	reg := catalog.NewRegistry()
	noop := catalog.FuncFactory(func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{}, nil
	})
	specs := []catalog.NodeSpec{
		{
			Type:        "add",
			Description: "Adds two numbers.",
			Params: []catalog.ParamSpec{
				{Name: "num1", Kind: catalog.KindFloat, Required: true},
				{Name: "num2", Kind: catalog.KindFloat, Required: true},
			},
			Outputs: []catalog.OutputSpec{{Name: "result"}},
		},
		{
			Type:        "multiply",
			Description: "Multiplies two numbers.",
			Params: []catalog.ParamSpec{
				{Name: "num1", Kind: catalog.KindFloat, Required: true},
				{Name: "num2", Kind: catalog.KindFloat, Required: true},
			},
			Outputs: []catalog.OutputSpec{{Name: "result"}},
		},
	}
	for _, s := range specs {
		require.NoError(t, reg.Register(s, noop))
	}
	return reg
}

func newGenerator(t *testing.T, mock *MockClient) *Generator {
	t.Helper()
	g, err := NewGenerator(mock, testCatalog(t), nil)
	require.NoError(t, err)
	return g
}

func TestNewGenerator_NilArgs(t *testing.T) {
	_, err := NewGenerator(nil, testCatalog(t), nil)
	assert.Error(t, err)

	_, err = NewGenerator(NewMockClient(), nil, nil)
	assert.Error(t, err)
}

func TestGenerateWorkflow_FencedJSON(t *testing.T) {
	mock := NewMockClient(Respond("Here is the workflow:\n```json\n" +
		`{"nodes": [{"id": "a", "type": "add", "params": {"num1": 1, "num2": 2}}]}` +
		"\n```\nLet me know if you need changes."))
	g := newGenerator(t, mock)

	wf, raw, err := g.GenerateWorkflow(context.Background(), "add 1 and 2")
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 1)
	assert.Equal(t, "a", wf.Nodes[0].ID)
	assert.Equal(t, "add", wf.Nodes[0].Type)
	assert.Contains(t, raw, "Here is the workflow")
}

func TestGenerateWorkflow_BareJSON(t *testing.T) {
	mock := NewMockClient(Respond(
		`{"nodes": [{"id": "m", "type": "multiply", "params": {"num1": 3, "num2": 4}}], "edges": []}`,
	))
	g := newGenerator(t, mock)

	wf, _, err := g.GenerateWorkflow(context.Background(), "multiply 3 by 4")
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 1)
	assert.Equal(t, "multiply", wf.Nodes[0].Type)
}

func TestGenerateWorkflow_ProseYieldsEmptyWorkflow(t *testing.T) {
	mock := NewMockClient(Respond("This question needs no workflow, it is just a greeting."))
	g := newGenerator(t, mock)

	wf, raw, err := g.GenerateWorkflow(context.Background(), "hello!")
	require.NoError(t, err, "unparseable output is a fallback, not a failure")
	assert.Empty(t, wf.Nodes)
	assert.Contains(t, raw, "no workflow")
}

func TestGenerateWorkflow_EmptyObjectYieldsEmptyWorkflow(t *testing.T) {
	mock := NewMockClient(Respond("{}"))
	g := newGenerator(t, mock)

	wf, _, err := g.GenerateWorkflow(context.Background(), "hi")
	require.NoError(t, err)
	assert.Empty(t, wf.Nodes)
}

func TestGenerateWorkflow_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := NewMockClient(FailWith(boom))
	g := newGenerator(t, mock)

	_, _, err := g.GenerateWorkflow(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
}

func TestGenerateWorkflow_PromptCarriesCatalog(t *testing.T) {
	mock := NewMockClient(Respond("{}"))
	g := newGenerator(t, mock)

	_, _, err := g.GenerateWorkflow(context.Background(), "add numbers")
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "add numbers", reqs[0].Prompt)

	system := reqs[0].Params.System
	assert.Contains(t, system, "- add: Adds two numbers.")
	assert.Contains(t, system, "- multiply: Multiplies two numbers.")
	assert.Contains(t, system, "num1 (float, required)")
	assert.Contains(t, system, `"$node_id.field"`)
}

func TestAnswer_StreamsChunks(t *testing.T) {
	mock := NewMockClient(Respond("the answer is 42"))
	g := newGenerator(t, mock)

	var chunks []string
	err := g.Answer(context.Background(), "what is the answer?", func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1, "streaming yields multiple chunks")
	assert.Equal(t, "the answer is 42", strings.Join(chunks, ""))

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, answerPersona, reqs[0].Params.System)
}

func TestExplainResults_BuildsReport(t *testing.T) {
	mock := NewMockClient(Respond("Everything worked."))
	g := newGenerator(t, mock)

	wf := &graph.Workflow{Nodes: []graph.Node{
		{ID: "a", Type: "add"},
		{ID: "m", Type: "multiply"},
		{ID: "skipped", Type: "add"},
	}}
	results := map[string]events.NodeResult{
		"a": {NodeID: "a", Status: catalog.StatusCompleted, Data: map[string]any{"result": 3}},
		"m": {NodeID: "m", Status: catalog.StatusFailed, Error: "boom"},
	}

	var out strings.Builder
	err := g.ExplainResults(context.Background(), "add then multiply", wf, results, func(c string) error {
		out.WriteString(c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Everything worked.", out.String())

	prompt := mock.Prompts()[0]
	assert.Contains(t, prompt, "User request: add then multiply")
	assert.Contains(t, prompt, `- add(a): ok, output={"result":3}`)
	assert.Contains(t, prompt, "- multiply(m): failed, error=boom")
	assert.Contains(t, prompt, "- add(skipped): not executed")
}

func TestExplainResults_NoResults(t *testing.T) {
	mock := NewMockClient()
	g := newGenerator(t, mock)

	var got string
	err := g.ExplainResults(context.Background(), "x", &graph.Workflow{}, nil, func(c string) error {
		got = c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, noResultsMessage, got)
	assert.Zero(t, mock.Calls(), "no model call when there is nothing to explain")
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced json", "text\n```json\n{\"a\": 1}\n```\ntail", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `  {"a": 1}  `, `{"a": 1}`},
		{"unclosed fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestMockClient_ScriptExhausted(t *testing.T) {
	mock := NewMockClient(Respond("one"))
	_, err := mock.Generate(context.Background(), "first", Params{})
	require.NoError(t, err)
	_, err = mock.Generate(context.Background(), "second", Params{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
}
