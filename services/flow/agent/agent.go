// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs a bounded reason-act loop over the node catalog.
//
// Each iteration asks the planner model for one decision: call a tool
// or give the final answer. Tool calls execute as single-node workflows
// through the scheduler, so an agent tool behaves exactly like the same
// node inside a workflow, including parameter validation, timeouts, and
// retries. Tool failures are not fatal: the error becomes the
// observation and the planner is free to recover with a different call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/llm"
	"github.com/AleutianAI/AleutianFlow/services/flow/store"
)

var tracer = otel.Tracer("aleutianflow.agent")

const (
	// DefaultMaxIterations bounds the loop when no override is given.
	DefaultMaxIterations = 5

	// DefaultPlannerTimeout bounds one planner model call.
	DefaultPlannerTimeout = 30 * time.Second
)

// ===== Agent =====

// Agent drives the reason-act loop.
//
// Thread Safety: safe for concurrent use; each Run call keeps its own
// scratch state and output store.
type Agent struct {
	sched          *engine.Scheduler
	reg            *catalog.Registry
	client         llm.Client
	maxIterations  int
	plannerTimeout time.Duration
	instruction    string
	logger         *slog.Logger
}

// Option adjusts agent construction.
type Option func(*Agent)

// WithMaxIterations overrides the iteration budget. Values below one
// keep the default.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithPlannerTimeout bounds each planner model call.
func WithPlannerTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.plannerTimeout = d
		}
	}
}

// WithInstruction prepends extra task framing to every planner prompt.
func WithInstruction(text string) Option {
	return func(a *Agent) { a.instruction = text }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New builds an Agent over a scheduler, the catalog it dispatches
// against, and a planner model.
func New(sched *engine.Scheduler, reg *catalog.Registry, client llm.Client, opts ...Option) (*Agent, error) {
	if sched == nil {
		return nil, errors.New("nil scheduler")
	}
	if reg == nil {
		return nil, errors.New("nil node registry")
	}
	if client == nil {
		return nil, errors.New("nil llm client")
	}
	a := &Agent{
		sched:          sched,
		reg:            reg,
		client:         client,
		maxIterations:  DefaultMaxIterations,
		plannerTimeout: DefaultPlannerTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ===== Run loop =====

// Run answers a query by iterating plan-act-observe until the planner
// gives a final answer or the budget runs out.
//
// Description:
//
//	Emits agent_start, then per iteration agent_thinking plus, for tool
//	calls, action_start and action_complete. A final answer emits
//	agent_complete and returns it. Budget exhaustion emits agent_error
//	and returns the last observation as a best-effort partial answer
//	alongside ErrBudgetExhausted. Node-level events from tool runs stay
//	off the session stream; subscribers see only the action pair.
//
// Outputs:
//   - string: Final answer, or the partial answer on exhaustion.
//   - error: ErrBudgetExhausted, ctx.Err(), or a planner transport error.
func (a *Agent) Run(ctx context.Context, query string, em *events.RunEmitter) (string, error) {
	ctx, span := tracer.Start(ctx, "Agent.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", em.SessionID()),
		attribute.Int("agent.max_iterations", a.maxIterations),
	)

	m := agentMetrics()
	em.AgentStart(query, a.maxIterations)
	a.logger.Info("agent run started",
		slog.String("session_id", em.SessionID()),
		slog.Int("max_iterations", a.maxIterations))

	var scratch strings.Builder
	lastObservation := ""

	for iter := 1; iter <= a.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			em.AgentError(err.Error(), lastObservation)
			m.runsTotal.WithLabelValues("cancelled").Inc()
			return "", err
		}

		raw, err := a.plan(ctx, query, scratch.String())
		if err != nil {
			msg := fmt.Sprintf("planner call failed: %v", err)
			em.AgentError(msg, lastObservation)
			m.runsTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("planner call failed: %w", err)
		}

		d := parseDecision(raw)
		em.AgentThinking(iter, d.Thought)

		if d.IsFinal {
			em.AgentComplete(d.Final, iter)
			m.runsTotal.WithLabelValues("completed").Inc()
			m.iterations.Observe(float64(iter))
			span.SetAttributes(attribute.Int("agent.iterations", iter))
			a.logger.Info("agent run completed",
				slog.String("session_id", em.SessionID()),
				slog.Int("iterations", iter))
			return d.Final, nil
		}

		actionID := uuid.NewString()
		em.ActionStart(actionID, d.Action, d.Input)
		observation, actErr := a.executeAction(ctx, em.SessionID(), d.Action, d.Input)
		if actErr != nil {
			// The error is the observation; the planner decides how to
			// recover on the next turn.
			em.ActionComplete(actionID, d.Action, nil, actErr.Error())
			m.actionsTotal.WithLabelValues(d.Action, "failed").Inc()
			observation = map[string]any{"error": actErr.Error()}
			a.logger.Warn("agent action failed",
				slog.String("session_id", em.SessionID()),
				slog.String("action", d.Action),
				slog.String("error", actErr.Error()))
		} else {
			em.ActionComplete(actionID, d.Action, observation, "")
			m.actionsTotal.WithLabelValues(d.Action, "completed").Inc()
		}

		obsText := asText(observation)
		lastObservation = obsText
		fmt.Fprintf(&scratch, "\nAction: %s\nAction Input: %s\nObservation: %s\n",
			d.Action, asText(d.Input), obsText)
	}

	if err := ctx.Err(); err != nil {
		em.AgentError(err.Error(), lastObservation)
		m.runsTotal.WithLabelValues("cancelled").Inc()
		return "", err
	}

	em.AgentError(ErrBudgetExhausted.Error(), lastObservation)
	m.runsTotal.WithLabelValues("exhausted").Inc()
	m.iterations.Observe(float64(a.maxIterations))
	a.logger.Warn("agent budget exhausted",
		slog.String("session_id", em.SessionID()),
		slog.Int("iterations", a.maxIterations))
	return lastObservation, ErrBudgetExhausted
}

// plan asks the model for the next decision, bounded by the planner
// timeout.
func (a *Agent) plan(ctx context.Context, query, scratch string) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, a.plannerTimeout)
	defer cancel()
	return a.client.Generate(pctx, a.buildPrompt(query, scratch), llm.Params{System: plannerSystem})
}

// executeAction runs one tool call as a single-node workflow.
//
// The run gets a private emitter and a private output store: the
// session stream carries the action pair, not the node's lifecycle, and
// a shared store would let one action's output shadow another's.
func (a *Agent) executeAction(ctx context.Context, sessionID, action string, input any) (any, error) {
	if action == "" {
		return nil, ErrNoAction
	}

	var params map[string]any
	switch v := input.(type) {
	case nil:
		params = map[string]any{}
	case map[string]any:
		params = v
	default:
		return nil, fmt.Errorf("action_input must be a JSON object of parameters, got %T", input)
	}

	wf := &graph.Workflow{Nodes: []graph.Node{{ID: action, Type: action, Params: params}}}
	plan, err := graph.Validate(wf, a.reg)
	if err != nil {
		return nil, err
	}

	outs := store.New()
	collector := events.NewCollector()
	private := events.NewRunEmitter(collector, sessionID, a.logger)
	summary, err := a.sched.Run(ctx, plan, engine.RunOptions{Emitter: private, Store: outs})
	if err != nil {
		return nil, err
	}
	if !summary.Success() {
		return nil, errors.New(failureOf(collector, action))
	}

	out, ok := outs.Output(action)
	if !ok {
		return nil, fmt.Errorf("tool %q produced no output", action)
	}
	return out, nil
}

// failureOf digs the node's terminal error out of a private tool run.
func failureOf(c *events.Collector, nodeID string) string {
	for _, ev := range c.ByKind(events.KindNodeResult) {
		nr, ok := ev.Data.(events.NodeResult)
		if !ok || nr.NodeID != nodeID {
			continue
		}
		if nr.Error != "" {
			return nr.Error
		}
	}
	return fmt.Sprintf("tool %q failed", nodeID)
}
