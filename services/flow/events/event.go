// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries the run lifecycle event model and the
// per-session bus that multiplexes events to subscribers. The engine
// publishes through the RunEmitter facade; transports subscribe by
// session id and forward events to clients as SSE or WebSocket frames.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

// Kind tags an event with its position in the run lifecycle.
type Kind string

const (
	// KindStatus marks a pipeline stage change (generating, executing,
	// answering) or a backpressure notice carrying a dropped count.
	KindStatus Kind = "status"

	// KindWorkflow carries the workflow document about to be executed,
	// either client-submitted or planner-generated.
	KindWorkflow Kind = "workflow"

	// KindNodeResult reports one node lifecycle transition.
	KindNodeResult Kind = "node_result"

	// KindExplanation streams one chunk of the post-run explanation.
	KindExplanation Kind = "explanation"

	// KindAnswer streams one chunk of a direct conversational answer,
	// used when no workflow was generated for the query.
	KindAnswer Kind = "answer"

	// KindToolProgress republishes an intermediate executor update.
	KindToolProgress Kind = "tool_progress"

	// KindToolRetry reports one retry attempt on a transient failure.
	KindToolRetry Kind = "tool_retry"

	// KindActionStart marks an agent tool invocation beginning.
	KindActionStart Kind = "action_start"

	// KindActionComplete marks an agent tool invocation finishing.
	KindActionComplete Kind = "action_complete"

	// KindAgentStart opens an agent run.
	KindAgentStart Kind = "agent_start"

	// KindAgentThinking carries the planner's reasoning summary for one
	// iteration. The text is opaque model output.
	KindAgentThinking Kind = "agent_thinking"

	// KindAgentError reports an agent run that gave up, typically on an
	// exhausted iteration budget.
	KindAgentError Kind = "agent_error"

	// KindAgentComplete carries the agent's final answer.
	KindAgentComplete Kind = "agent_complete"

	// KindComplete is the terminal success event with the run summary.
	KindComplete Kind = "complete"

	// KindError is the terminal failure event for fatal errors that
	// abort the run (validation failures, internal errors).
	KindError Kind = "error"
)

// Terminal reports whether the kind ends its session's stream.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// Event is one entry in a session's stream.
type Event struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewSessionID mints a short session identifier for correlation in
// logs and URLs.
func NewSessionID() string {
	return uuid.NewString()[:12]
}

// Stamp returns the current wall clock in the millisecond resolution
// events carry.
func Stamp() int64 { return time.Now().UnixMilli() }

// ===== Payloads =====

// StatusData reports a pipeline stage. Dropped is set only on the
// synthesized backpressure notice a replay begins with after queue
// overflow.
type StatusData struct {
	Stage   string `json:"stage"`
	Detail  string `json:"detail,omitempty"`
	Dropped int    `json:"dropped,omitempty"`
}

// WorkflowData wraps the workflow document announced to subscribers.
type WorkflowData struct {
	Workflow any `json:"workflow"`
}

// NodeResult is the payload of node_result events. Data is present on
// completed results, Error on failed and cancelled ones. Iteration is
// set only inside loop bodies.
type NodeResult struct {
	NodeID    string         `json:"node_id"`
	Status    catalog.Status `json:"status"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt int64          `json:"started_at,omitempty"`
	EndedAt   int64          `json:"ended_at,omitempty"`
	Iteration *int           `json:"iteration,omitempty"`
}

// ToolProgress republishes one intermediate update from a running
// executor.
type ToolProgress struct {
	NodeID    string `json:"node_id"`
	Data      any    `json:"data,omitempty"`
	Iteration *int   `json:"iteration,omitempty"`
}

// ToolRetry reports one retry attempt before it sleeps out its backoff.
type ToolRetry struct {
	NodeID     string `json:"node_id"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error"`
}

// ActionStart opens one agent tool invocation.
type ActionStart struct {
	ActionID string `json:"action_id"`
	Action   string `json:"action"`
	Input    any    `json:"input,omitempty"`
}

// ActionComplete closes one agent tool invocation. Exactly one of
// Result and Error is meaningful.
type ActionComplete struct {
	ActionID string `json:"action_id"`
	Action   string `json:"action"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AgentStart opens an agent run.
type AgentStart struct {
	Query         string `json:"query"`
	MaxIterations int    `json:"max_iterations"`
}

// AgentThinking carries the planner's per-iteration reasoning summary.
type AgentThinking struct {
	Iteration int    `json:"iteration"`
	Thought   string `json:"thought,omitempty"`
}

// AgentError reports an agent run that terminated without a final
// answer. Answer carries the best-effort partial answer when one
// exists.
type AgentError struct {
	Error  string `json:"error"`
	Answer string `json:"answer,omitempty"`
}

// AgentComplete carries the agent's final answer.
type AgentComplete struct {
	Answer     string `json:"answer"`
	Iterations int    `json:"iterations"`
}

// Summary aggregates node outcomes for the terminal complete event.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Success reports whether every node completed.
func (s Summary) Success() bool {
	return s.Total > 0 && s.Completed == s.Total
}

// ErrorData is the payload of the terminal error event.
type ErrorData struct {
	Error string `json:"error"`
}
