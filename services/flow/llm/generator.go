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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

const (
	answerPersona = "Answer the user's question concisely and accurately."

	explainPersona = "Analyze the workflow execution report and briefly " +
		"explain what ran and the final result. Lead with the outcome."

	noResultsMessage = "The workflow failed before producing any results."

	// workflowExample anchors the model on the document shape.
	workflowExample = `{
  "nodes": [
    {"id": "add1", "type": "add", "params": {"num1": 10, "num2": 20}},
    {"id": "multiply1", "type": "multiply", "params": {"num1": "$add1.result", "num2": 2}}
  ],
  "edges": [
    {"from": "add1", "to": "multiply1"}
  ]
}`
)

// Generator turns natural language into workflow documents and
// narrates run results over a streaming client.
//
// Description:
//
//	GenerateWorkflow never fails on model output it cannot parse: an
//	unparseable or deliberately empty response yields a workflow with
//	no nodes, which callers treat as "answer conversationally instead".
//	Only transport-level errors surface.
type Generator struct {
	client Client
	reg    *catalog.Registry
	logger *slog.Logger
}

// NewGenerator builds a generator over client and the node catalog.
func NewGenerator(client Client, reg *catalog.Registry, logger *slog.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("nil llm client")
	}
	if reg == nil {
		return nil, errors.New("nil node registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, reg: reg, logger: logger}, nil
}

// GenerateWorkflow asks the model to design a workflow for text.
//
// Outputs:
//   - *graph.Workflow: The parsed document; zero nodes means the model
//     judged no workflow necessary (or answered unparseably).
//   - string: The raw model response, for logging.
//   - error: Non-nil only on transport failure.
func (g *Generator) GenerateWorkflow(ctx context.Context, text string) (*graph.Workflow, string, error) {
	ctx, span := tracer.Start(ctx, "Generator.GenerateWorkflow")
	defer span.End()

	raw, err := g.client.Generate(ctx, text, Params{System: g.designerPrompt()})
	if err != nil {
		return nil, "", err
	}

	wf, perr := graph.Parse([]byte(extractJSON(raw)))
	if perr != nil || len(wf.Nodes) == 0 {
		if perr != nil {
			g.logger.Debug("model response is not a workflow document",
				slog.String("error", perr.Error()),
			)
		}
		span.SetAttributes(attribute.Int("workflow.nodes", 0))
		return &graph.Workflow{}, raw, nil
	}

	span.SetAttributes(attribute.Int("workflow.nodes", len(wf.Nodes)))
	g.logger.Info("workflow generated", slog.Int("nodes", len(wf.Nodes)))
	return wf, raw, nil
}

// Answer streams a conversational answer for text through fn.
func (g *Generator) Answer(ctx context.Context, text string, fn func(chunk string) error) error {
	ctx, span := tracer.Start(ctx, "Generator.Answer")
	defer span.End()
	return g.client.GenerateStream(ctx, text, Params{System: answerPersona}, fn)
}

// ExplainResults streams an explanation of a finished run through fn.
//
// Inputs:
//   - text: The user's original request.
//   - wf: The workflow that ran.
//   - results: Terminal node results keyed by node id.
//   - fn: Receives explanation chunks in order.
func (g *Generator) ExplainResults(
	ctx context.Context,
	text string,
	wf *graph.Workflow,
	results map[string]events.NodeResult,
	fn func(chunk string) error,
) error {
	ctx, span := tracer.Start(ctx, "Generator.ExplainResults")
	defer span.End()

	if len(results) == 0 {
		return fn(noResultsMessage)
	}

	var report strings.Builder
	for _, n := range wf.Nodes {
		r, ok := results[n.ID]
		switch {
		case ok && r.Status == catalog.StatusCompleted:
			fmt.Fprintf(&report, "- %s(%s): ok, output=%s\n", n.Type, n.ID, compact(r.Data))
		case ok:
			fmt.Fprintf(&report, "- %s(%s): %s, error=%s\n", n.Type, n.ID, r.Status, r.Error)
		default:
			fmt.Fprintf(&report, "- %s(%s): not executed\n", n.Type, n.ID)
		}
	}

	prompt := fmt.Sprintf("User request: %s\nExecution report:\n%s", text, report.String())
	return g.client.GenerateStream(ctx, prompt, Params{System: explainPersona}, fn)
}

// designerPrompt renders the system prompt from the live catalog so the
// model only ever sees node types this deployment can execute.
func (g *Generator) designerPrompt() string {
	var b strings.Builder
	b.WriteString("You are a workflow design expert. Design a workflow that fulfills the user's request.\n")
	b.WriteString("If the request needs no workflow, return an empty JSON object.\n\n")
	b.WriteString("Available node types:\n")

	for _, spec := range g.reg.List() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Type, spec.Description)
		if len(spec.Params) > 0 {
			parts := make([]string, 0, len(spec.Params))
			for _, p := range spec.Params {
				s := fmt.Sprintf("%s (%s", p.Name, p.Kind)
				if p.Required {
					s += ", required"
				}
				parts = append(parts, s+")")
			}
			fmt.Fprintf(&b, "  params: %s\n", strings.Join(parts, ", "))
		}
		if len(spec.Outputs) > 0 {
			names := make([]string, len(spec.Outputs))
			for i, o := range spec.Outputs {
				names[i] = o.Name
			}
			fmt.Fprintf(&b, "  outputs: %s\n", strings.Join(names, ", "))
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("1. Node ids must be unique.\n")
	b.WriteString("2. Reference another node's output as \"$node_id.field\"; edges are inferred from references.\n")
	b.WriteString("3. Match parameter types to their declarations.\n")
	b.WriteString("\nRespond with a JSON workflow document shaped like:\n")
	b.WriteString(workflowExample)
	b.WriteString("\n")
	return b.String()
}

// extractJSON unwraps a fenced code block when the model used one.
func extractJSON(s string) string {
	if _, after, found := strings.Cut(s, "```json"); found {
		if body, _, ok := strings.Cut(after, "```"); ok {
			return strings.TrimSpace(body)
		}
		return strings.TrimSpace(after)
	}
	if _, after, found := strings.Cut(s, "```"); found {
		if body, _, ok := strings.Cut(after, "```"); ok {
			return strings.TrimSpace(body)
		}
	}
	return strings.TrimSpace(s)
}

// compact renders node output for the explanation prompt.
func compact(v any) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
