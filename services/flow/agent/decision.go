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
	"encoding/json"
	"fmt"
	"strings"
)

// finalAnswerAction is the reserved action name that ends the loop.
const finalAnswerAction = "Final Answer"

// ===== Decision =====

// decision is one parsed planner turn: either a tool call or a final
// answer. A malformed planner response degrades to a final answer
// carrying the parse error so the caller never loops on garbage.
type decision struct {
	Thought string
	Action  string
	Input   any
	Final   string
	IsFinal bool
}

// plannerTurn matches both response shapes models produce: the nested
// form {"Thought": ..., "Action": {"action": ..., "action_input": ...}}
// and the flat form {"action": ..., "action_input": ...}. Exact tag
// matches keep "Action" and "action" from colliding.
type plannerTurn struct {
	Thought    string          `json:"Thought"`
	Action     json.RawMessage `json:"Action"`
	FlatAction json.RawMessage `json:"action"`
	FlatInput  any             `json:"action_input"`
}

// parseDecision turns raw model output into a decision.
//
// Description:
//
//	Strips a surrounding markdown fence, decodes the JSON turn, and
//	normalizes the nested and flat action shapes. Output that does not
//	decode becomes a final answer with the parse error as its text, so
//	a confused model terminates the loop instead of burning iterations.
func parseDecision(raw string) decision {
	text := stripFence(raw)

	var turn plannerTurn
	if err := json.Unmarshal([]byte(text), &turn); err != nil {
		return decision{
			IsFinal: true,
			Final:   fmt.Sprintf("Error parsing response: %v", err),
		}
	}

	d := decision{Thought: turn.Thought}
	name, input := actionOf(turn)
	if name == finalAnswerAction {
		d.IsFinal = true
		d.Final = asText(input)
		return d
	}
	d.Action = name
	d.Input = input
	return d
}

// actionOf extracts the tool name and input from whichever shape the
// turn used. The nested object wins when both are present.
func actionOf(turn plannerTurn) (string, any) {
	if len(turn.Action) > 0 {
		var nested struct {
			Action string `json:"action"`
			Input  any    `json:"action_input"`
		}
		if err := json.Unmarshal(turn.Action, &nested); err == nil && nested.Action != "" {
			return nested.Action, nested.Input
		}
		// "Action" given as a bare string.
		var s string
		if err := json.Unmarshal(turn.Action, &s); err == nil && s != "" {
			return s, turn.FlatInput
		}
	}
	if len(turn.FlatAction) > 0 {
		var s string
		if err := json.Unmarshal(turn.FlatAction, &s); err == nil {
			return s, turn.FlatInput
		}
	}
	return "", nil
}

// stripFence removes a surrounding markdown code fence, preferring a
// ```json fence over a bare one.
func stripFence(raw string) string {
	if _, after, found := strings.Cut(raw, "```json"); found {
		if body, _, closed := strings.Cut(after, "```"); closed {
			return strings.TrimSpace(body)
		}
		return strings.TrimSpace(after)
	}
	if _, after, found := strings.Cut(raw, "```"); found {
		if body, _, closed := strings.Cut(after, "```"); closed {
			return strings.TrimSpace(body)
		}
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(raw)
}

// asText renders a final answer payload as plain text. Strings pass
// through; anything structured is serialized.
func asText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
