// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

// plannerSystem frames every planner call. The per-turn prompt carries
// the tool list, the task, and the trace of prior steps.
const plannerSystem = "You are a tool-using assistant. You reason step by step " +
	"and respond with exactly one JSON object per turn."

// buildPrompt renders one planner turn: the tool catalog, the response
// contract, the task, and the scratch trace of steps taken so far.
func (a *Agent) buildPrompt(query, scratch string) string {
	var b strings.Builder

	b.WriteString("Solve the task below. You may call tools, one per turn.\n")
	if a.instruction != "" {
		b.WriteString(a.instruction)
		b.WriteString("\n")
	}
	b.WriteString("\nAvailable tools:\n")
	b.WriteString(describeTools(a.reg.List()))
	b.WriteString(fmt.Sprintf("\nValid actions: %q or one of the tool names above.\n", finalAnswerAction))

	b.WriteString(`
Respond with a single JSON object and nothing else.

To call a tool:
{
  "Thought": "one sentence on why this tool moves the task forward",
  "Action": {
    "action": "tool name",
    "action_input": {"param": "value"}
  }
}
"action_input" is always a JSON object holding the tool's parameters.

When you can answer the task:
{
  "Thought": "one sentence summarizing the reasoning",
  "Action": {
    "action": "Final Answer",
    "action_input": "the answer text"
  }
}
`)

	b.WriteString("\nTask: ")
	b.WriteString(query)
	b.WriteString("\n\nPrevious steps:\n")
	if scratch == "" {
		b.WriteString("(none yet)\n")
	} else {
		b.WriteString(scratch)
	}
	return b.String()
}

// describeTools renders the catalog for the planner: one block per tool
// with its parameters and outputs.
func describeTools(specs []catalog.NodeSpec) string {
	var b strings.Builder
	for _, spec := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Type, spec.Description)
		if len(spec.Params) > 0 {
			b.WriteString("  parameters:\n")
			for _, p := range spec.Params {
				req := "optional"
				if p.Required {
					req = "required"
				}
				fmt.Fprintf(&b, "    %s (%s, %s): %s\n", p.Name, p.Kind, req, p.Doc)
			}
		}
		if len(spec.Outputs) > 0 {
			b.WriteString("  outputs:\n")
			for _, o := range spec.Outputs {
				fmt.Fprintf(&b, "    %s: %s\n", o.Name, o.Doc)
			}
		}
	}
	return b.String()
}
