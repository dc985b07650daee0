// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

// Publisher is the sink side of the bus. The engine and agent depend on
// this narrow surface so tests can swap in a Collector.
type Publisher interface {
	Publish(sessionID string, kind Kind, data any) error
}

var _ Publisher = (*Bus)(nil)

// RunEmitter is the callback facade handed to the engine for one run.
//
// Description:
//
//	Wraps a Publisher with run-scoped guarantees: exactly one terminal
//	event per run (the first of Complete/Error wins), per-node status
//	monotonicity (nothing after a node's terminal result, no duplicate
//	running), and iteration stamping for events raised inside loop
//	bodies. Publish failures are logged and swallowed; observers must
//	never fail a run.
//
// Thread Safety: Safe for concurrent use by worker goroutines.
type RunEmitter struct {
	pub       Publisher
	sessionID string
	logger    *slog.Logger
	iteration *int

	terminalOnce *sync.Once

	mu         sync.Mutex
	nodeStatus map[string]catalog.Status
}

// NewRunEmitter creates the root emitter for a run.
func NewRunEmitter(pub Publisher, sessionID string, logger *slog.Logger) *RunEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunEmitter{
		pub:          pub,
		sessionID:    sessionID,
		logger:       logger.With(slog.String("component", "run_emitter")),
		terminalOnce: &sync.Once{},
		nodeStatus:   make(map[string]catalog.Status),
	}
}

// SessionID returns the run's session id.
func (e *RunEmitter) SessionID() string {
	return e.sessionID
}

// Iteration returns the loop iteration this emitter is scoped to, or
// nil on the root emitter.
func (e *RunEmitter) Iteration() *int {
	return e.iteration
}

// Child derives an emitter for one loop iteration. Node results and
// tool progress pass through stamped with the iteration index; run
// lifecycle events (status, workflow, complete, error) are suppressed
// so the parent run keeps a single terminal event. The node status
// ledger is fresh because iteration bodies reuse node ids.
func (e *RunEmitter) Child(iteration int) *RunEmitter {
	it := iteration
	return &RunEmitter{
		pub:          e.pub,
		sessionID:    e.sessionID,
		logger:       e.logger,
		iteration:    &it,
		terminalOnce: e.terminalOnce,
		nodeStatus:   make(map[string]catalog.Status),
	}
}

func (e *RunEmitter) publish(kind Kind, data any) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(e.sessionID, kind, data); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("session_id", e.sessionID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
}

// Status reports a run lifecycle stage. No-op on iteration emitters.
func (e *RunEmitter) Status(stage, detail string) {
	if e.iteration != nil {
		return
	}
	e.publish(KindStatus, StatusData{Stage: stage, Detail: detail})
}

// Workflow publishes the workflow document about to execute. No-op on
// iteration emitters.
func (e *RunEmitter) Workflow(doc any) {
	if e.iteration != nil {
		return
	}
	e.publish(KindWorkflow, WorkflowData{Workflow: doc})
}

// NodeResult publishes a node status transition, enforcing per-node
// monotonicity: once a node reports a terminal status further events
// for it are dropped, and duplicate running reports are dropped. A
// terminal report with no prior running is allowed; resolution
// failures fail nodes that never started.
func (e *RunEmitter) NodeResult(nr NodeResult) {
	e.mu.Lock()
	prev, seen := e.nodeStatus[nr.NodeID]
	if seen && prev.Terminal() {
		e.mu.Unlock()
		e.logger.Debug("node event after terminal dropped",
			slog.String("node_id", nr.NodeID),
			slog.String("status", string(nr.Status)))
		return
	}
	if seen && prev == catalog.StatusRunning && nr.Status == catalog.StatusRunning {
		e.mu.Unlock()
		return
	}
	e.nodeStatus[nr.NodeID] = nr.Status
	e.mu.Unlock()

	if nr.Iteration == nil && e.iteration != nil {
		nr.Iteration = e.iteration
	}
	e.publish(KindNodeResult, nr)
}

// ToolProgress forwards a streaming update from a running node.
func (e *RunEmitter) ToolProgress(nodeID string, data any) {
	e.publish(KindToolProgress, ToolProgress{
		NodeID:    nodeID,
		Data:      data,
		Iteration: e.iteration,
	})
}

// ToolRetry reports a retryable failure before the next attempt.
func (e *RunEmitter) ToolRetry(nodeID string, attempt, maxRetries int, errMsg string) {
	e.publish(KindToolRetry, ToolRetry{
		NodeID:     nodeID,
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Error:      errMsg,
	})
}

// Explanation streams a chunk of the post-run explanation text.
func (e *RunEmitter) Explanation(text string) {
	e.publish(KindExplanation, text)
}

// Answer streams a chunk of a direct conversational answer.
func (e *RunEmitter) Answer(text string) {
	e.publish(KindAnswer, text)
}

// ActionStart reports an agent tool invocation beginning.
func (e *RunEmitter) ActionStart(actionID, action string, input any) {
	e.publish(KindActionStart, ActionStart{ActionID: actionID, Action: action, Input: input})
}

// ActionComplete reports an agent tool invocation finishing.
func (e *RunEmitter) ActionComplete(actionID, action string, result any, errMsg string) {
	e.publish(KindActionComplete, ActionComplete{
		ActionID: actionID,
		Action:   action,
		Result:   result,
		Error:    errMsg,
	})
}

// AgentStart reports the agent loop beginning.
func (e *RunEmitter) AgentStart(query string, maxIterations int) {
	e.publish(KindAgentStart, AgentStart{Query: query, MaxIterations: maxIterations})
}

// AgentThinking reports one reasoning step.
func (e *RunEmitter) AgentThinking(iteration int, thought string) {
	e.publish(KindAgentThinking, AgentThinking{Iteration: iteration, Thought: thought})
}

// AgentError reports an agent failure, optionally with a partial
// answer.
func (e *RunEmitter) AgentError(errMsg, answer string) {
	e.publish(KindAgentError, AgentError{Error: errMsg, Answer: answer})
}

// AgentComplete reports the agent's final answer.
func (e *RunEmitter) AgentComplete(answer string, iterations int) {
	e.publish(KindAgentComplete, AgentComplete{Answer: answer, Iterations: iterations})
}

// Complete publishes the run's terminal summary. Only the first
// terminal call on a run wins; iteration emitters are no-ops.
func (e *RunEmitter) Complete(summary Summary) {
	if e.iteration != nil {
		return
	}
	e.terminalOnce.Do(func() {
		e.publish(KindComplete, summary)
	})
}

// Error publishes the run's terminal error. Only the first terminal
// call on a run wins; iteration emitters are no-ops.
func (e *RunEmitter) Error(errMsg string) {
	if e.iteration != nil {
		return
	}
	e.terminalOnce.Do(func() {
		e.publish(KindError, ErrorData{Error: errMsg})
	})
}

// Collector is an in-memory Publisher for tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Publish records the event.
func (c *Collector) Publish(sessionID string, kind Kind, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: Stamp(),
		Data:      data,
	})
	return nil
}

// Events returns a copy of everything recorded.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Kinds returns the recorded kinds in publish order.
func (c *Collector) Kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Kind, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

// ByKind returns the recorded events of one kind.
func (c *Collector) ByKind(kind Kind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

var _ Publisher = (*Collector)(nil)
