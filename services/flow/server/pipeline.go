// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/agent"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

// runWorkflow drives the designer pipeline for one chat run.
//
// Description:
//
//	Stage order is what stream subscribers expect: a generating status,
//	then either a conversational answer or the workflow document, an
//	executing status with node results, the explanation chunks, and
//	exactly one terminal event.
func (h *Handlers) runWorkflow(ctx context.Context, sessionID, text string) {
	ctx, span := tracer.Start(ctx, "server.workflowPipeline")
	defer span.End()
	log := h.logger.With(slog.String("session_id", sessionID))

	em := events.NewRunEmitter(h.bus, sessionID, h.logger)
	em.Status("generating", "designing workflow")

	wf, raw, err := h.gen.GenerateWorkflow(ctx, text)
	if err != nil {
		span.RecordError(err)
		log.Warn("workflow generation failed", slog.String("error", err.Error()))
		em.Error(fmt.Sprintf("workflow generation failed: %v", err))
		return
	}

	if len(wf.Nodes) == 0 {
		log.Debug("no workflow generated, answering directly",
			slog.Int("response_len", len(raw)))
		em.Status("answering", "no workflow needed")
		if err := h.gen.Answer(ctx, text, func(chunk string) error {
			em.Answer(chunk)
			return ctx.Err()
		}); err != nil {
			span.RecordError(err)
			em.Error(fmt.Sprintf("answer failed: %v", err))
			return
		}
		em.Complete(events.Summary{})
		return
	}

	em.Workflow(wf)

	plan, err := graph.Validate(wf, h.registry)
	if err != nil {
		log.Warn("generated workflow failed validation", slog.String("error", err.Error()))
		em.Error(fmt.Sprintf("workflow validation failed: %v", err))
		return
	}

	// The scheduler closes its run with a terminal event, but the
	// explanation still has to stream after the node results. The
	// recorder holds the terminal back and keeps the results for the
	// explanation prompt.
	rec := newRunRecorder(h.bus)
	summary, runErr := h.sched.Run(ctx, plan, engine.RunOptions{
		Emitter:         events.NewRunEmitter(rec, sessionID, h.logger),
		CancelOnFailure: h.cancelOnFailure,
	})
	if runErr != nil {
		span.RecordError(runErr)
		if summary == nil {
			em.Error(runErr.Error())
			return
		}
		// Cancelled runs skip the explanation; the summary still lands.
		em.Complete(*summary)
		return
	}

	if err := h.gen.ExplainResults(ctx, text, wf, rec.Results(), func(chunk string) error {
		em.Explanation(chunk)
		return ctx.Err()
	}); err != nil {
		// The run itself finished; a lost explanation is not fatal.
		log.Warn("explanation failed", slog.String("error", err.Error()))
	}
	em.Complete(*summary)
}

// runAgent drives the agent pipeline for one chat run.
func (h *Handlers) runAgent(ctx context.Context, sessionID, query string, iterations int) {
	ctx, span := tracer.Start(ctx, "server.agentPipeline")
	defer span.End()

	em := events.NewRunEmitter(h.bus, sessionID, h.logger)

	opts := []agent.Option{agent.WithLogger(h.logger)}
	if iterations > 0 {
		opts = append(opts, agent.WithMaxIterations(iterations))
	}
	ag, err := agent.New(h.sched, h.registry, h.client, opts...)
	if err != nil {
		em.Error(fmt.Sprintf("agent setup failed: %v", err))
		return
	}

	_, err = ag.Run(ctx, query, em)
	switch {
	case err == nil, errors.Is(err, agent.ErrBudgetExhausted):
		// agent_complete or agent_error already told the story; close
		// the stream.
		em.Complete(events.Summary{})
	default:
		span.RecordError(err)
		em.Error(err.Error())
	}
}

// runRecorder tees run events into a result table while holding back
// the run-terminal event.
//
// Description:
//
//	Forwards non-terminal events to next, swallows complete and error,
//	and keeps each top-level node's terminal result. The chat pipeline
//	wraps the bus with one so the explanation can stream between the
//	node results and the terminal; the execute handler uses one with a
//	nil next to build its synchronous response.
//
// Thread Safety: Safe for concurrent use by scheduler workers.
type runRecorder struct {
	next events.Publisher

	mu      sync.Mutex
	results map[string]events.NodeResult
}

var _ events.Publisher = (*runRecorder)(nil)

func newRunRecorder(next events.Publisher) *runRecorder {
	return &runRecorder{next: next, results: make(map[string]events.NodeResult)}
}

// Publish implements events.Publisher.
func (r *runRecorder) Publish(sessionID string, kind events.Kind, data any) error {
	if kind == events.KindNodeResult {
		if nr, ok := data.(events.NodeResult); ok && nr.Status.Terminal() && nr.Iteration == nil {
			r.mu.Lock()
			r.results[nr.NodeID] = nr
			r.mu.Unlock()
		}
	}
	if kind.Terminal() {
		return nil
	}
	if r.next == nil {
		return nil
	}
	return r.next.Publish(sessionID, kind, data)
}

// Results returns a copy of the recorded terminal node results keyed
// by node id.
func (r *runRecorder) Results() map[string]events.NodeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]events.NodeResult, len(r.results))
	for id, nr := range r.results {
		out[id] = nr
	}
	return out
}
