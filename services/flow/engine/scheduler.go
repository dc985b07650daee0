// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine schedules validated workflow plans onto a bounded
// worker pool. Nodes run as soon as their dependencies complete, fan
// out in parallel up to the pool width, and report their lifecycle
// through the run emitter. Failures skip everything downstream while
// independent branches keep running.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/refs"
	"github.com/AleutianAI/AleutianFlow/services/flow/store"
)

var tracer = otel.Tracer("aleutianflow.engine")

// DefaultMaxWorkers caps the worker pool when no override is given.
const DefaultMaxWorkers = 8

// ===== Scheduler =====

// Scheduler executes validated workflow plans.
//
// Description:
//
//	A Scheduler is bound to a node registry and reused across runs. Each
//	Run gets its own state: output store, ready queue, worker pool. The
//	pool width is min(workers, node count); nodes dispatch in ascending
//	topological rank, document order within a rank.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple runs may execute on the same
//	Scheduler at once.
type Scheduler struct {
	registry *catalog.Registry
	logger   *slog.Logger
	workers  int
	retry    RetryPolicy
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithWorkers sets the worker pool cap. Values below one are clamped.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithRetryPolicy replaces the default transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = p }
}

// New creates a scheduler over the given registry.
func New(reg *catalog.Registry, opts ...Option) (*Scheduler, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	s := &Scheduler{
		registry: reg,
		logger:   slog.Default(),
		workers:  DefaultMaxWorkers,
		retry:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s, nil
}

// RunOptions tune one run without reconfiguring the scheduler.
type RunOptions struct {
	// Emitter receives the run's lifecycle events. A nil emitter still
	// executes the plan, reporting into a discarded collector.
	Emitter *events.RunEmitter

	// Workers overrides the pool cap for this run. Zero keeps the
	// scheduler default.
	Workers int

	// CancelOnFailure cancels in-flight siblings as soon as any node
	// fails. Off by default: independent running work finishes and only
	// downstream nodes of the failure are skipped.
	CancelOnFailure bool

	// Store supplies the output store. Nil creates a fresh store seeded
	// with the workflow's global parameters under the reserved id. Loop
	// sub-runs pass a pre-seeded store here.
	Store *store.Outputs
}

// Run executes a validated plan to completion.
//
// Description:
//
//	Every node reaches exactly one terminal state: completed, failed,
//	cancelled, or skipped because an upstream dependency failed. Skipped
//	nodes surface to subscribers as failed node_result events naming the
//	dependency and count as failed in the summary. Exactly one terminal
//	event closes the run. Cancelling ctx stops dispatch, cancels running
//	nodes, marks the rest cancelled, and still emits the summary.
//
// Outputs:
//   - *events.Summary: Node outcome counts; non-nil whenever execution
//     started, including cancelled runs.
//   - error: ctx.Err() on external cancellation, ErrNilPlan before any
//     execution, ErrNoProgress on an internal dispatch defect.
func (s *Scheduler) Run(ctx context.Context, plan *graph.Plan, opts RunOptions) (*events.Summary, error) {
	if plan == nil || plan.Workflow == nil {
		return nil, ErrNilPlan
	}
	m := engineMetrics()

	em := opts.Emitter
	if em == nil {
		em = events.NewRunEmitter(&events.Collector{}, "local", s.logger)
	}

	outs := opts.Store
	if outs == nil {
		seed := map[string]any{}
		if len(plan.Workflow.GlobalParams) > 0 {
			seed[refs.ReservedGlobal] = plan.Workflow.GlobalParams
		}
		outs = store.NewSeeded(seed)
	}

	total := len(plan.Workflow.Nodes)
	ctx, span := tracer.Start(ctx, "flow.Run",
		trace.WithAttributes(
			attribute.String("flow.session_id", em.SessionID()),
			attribute.Int("flow.nodes", total),
		),
	)
	defer span.End()

	start := time.Now()
	em.Status("executing", fmt.Sprintf("%d nodes", total))
	s.logger.Info("run started",
		slog.String("session_id", em.SessionID()),
		slog.Int("nodes", total),
	)

	summary := s.dispatch(ctx, plan, outs, em, opts)

	duration := time.Since(start)
	m.runDuration.Observe(duration.Seconds())
	switch {
	case ctx.Err() != nil:
		m.runsTotal.WithLabelValues("cancelled").Inc()
	case summary.Success():
		m.runsTotal.WithLabelValues("completed").Inc()
	default:
		m.runsTotal.WithLabelValues("failed").Inc()
	}

	em.Complete(*summary)
	if summary.Success() {
		span.SetStatus(codes.Ok, "")
		s.logger.Info("run completed",
			slog.String("session_id", em.SessionID()),
			slog.Duration("duration", duration),
			slog.Int("nodes", summary.Completed),
		)
	} else {
		span.SetStatus(codes.Error, "run finished with failures")
		s.logger.Warn("run finished with failures",
			slog.String("session_id", em.SessionID()),
			slog.Duration("duration", duration),
			slog.Int("completed", summary.Completed),
			slog.Int("failed", summary.Failed),
			slog.Int("cancelled", summary.Cancelled),
		)
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return summary, err
	}
	return summary, nil
}

// nodeDone is one worker's terminal report back to the dispatch loop.
type nodeDone struct {
	id     string
	status catalog.Status
}

// dispatch drives the per-node state machine until every node is
// terminal. It owns all run state; workers only read the plan and
// write the store.
func (s *Scheduler) dispatch(
	ctx context.Context,
	plan *graph.Plan,
	outs *store.Outputs,
	em *events.RunEmitter,
	opts RunOptions,
) *events.Summary {
	m := engineMetrics()
	total := len(plan.Workflow.Nodes)
	summary := &events.Summary{Total: total}

	orderIdx := make(map[string]int, total)
	for i, id := range plan.Order {
		orderIdx[id] = i
	}

	status := make(map[string]catalog.Status, total)
	waiting := make(map[string]int, total)
	for _, n := range plan.Workflow.Nodes {
		status[n.ID] = catalog.StatusPending
		waiting[n.ID] = len(plan.Preds[n.ID])
	}

	ready := newReadyQueue(orderIdx)
	for _, id := range plan.Order {
		if waiting[id] == 0 {
			ready.push(id)
		}
	}

	workers := s.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	if workers > total {
		workers = total
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	done := make(chan nodeDone)
	inFlight := 0
	terminal := 0
	winding := false
	ctxDone := ctx.Done()

	// skipDownstream marks every pending descendant of id terminal.
	// Subscribers see them as failed with the dependency named; the
	// summary counts them as failed.
	skipDownstream := func(id string) {
		for _, desc := range plan.Descendants(id) {
			if status[desc] != catalog.StatusPending {
				continue
			}
			status[desc] = catalog.StatusSkipped
			terminal++
			summary.Failed++
			em.NodeResult(events.NodeResult{
				NodeID: desc,
				Status: catalog.StatusFailed,
				Error:  catalog.DependencyFailed(id).Error(),
			})
			m.nodesTotal.WithLabelValues(string(catalog.StatusFailed)).Inc()
		}
	}

	for terminal < total {
		if !winding {
			for inFlight < workers && ready.len() > 0 {
				id := ready.pop()
				node, _ := plan.Workflow.Node(id)
				status[id] = catalog.StatusRunning
				inFlight++
				go s.runNode(runCtx, node, outs, em, done)
			}
		}

		if inFlight == 0 {
			if !winding {
				// Unreachable on a validated acyclic plan.
				s.logger.Error("dispatch stalled",
					slog.String("session_id", em.SessionID()),
					slog.Int("terminal", terminal),
					slog.Int("total", total),
				)
			}
			break
		}

		select {
		case <-ctxDone:
			winding = true
			ctxDone = nil
			cancelRun()

		case d := <-done:
			inFlight--
			terminal++
			status[d.id] = d.status
			switch d.status {
			case catalog.StatusCompleted:
				summary.Completed++
				for _, next := range plan.Succs[d.id] {
					waiting[next]--
					if waiting[next] == 0 && status[next] == catalog.StatusPending {
						ready.push(next)
					}
				}
			case catalog.StatusCancelled:
				summary.Cancelled++
				if !winding {
					skipDownstream(d.id)
				}
			default:
				summary.Failed++
				skipDownstream(d.id)
				if opts.CancelOnFailure && !winding {
					winding = true
					ctxDone = nil
					cancelRun()
				}
			}
		}
	}

	// Nodes never dispatched when the run wound down early.
	for _, id := range plan.Order {
		if status[id].Terminal() {
			continue
		}
		status[id] = catalog.StatusCancelled
		summary.Cancelled++
		em.NodeResult(events.NodeResult{
			NodeID: id,
			Status: catalog.StatusCancelled,
			Error:  "run cancelled",
		})
		m.nodesTotal.WithLabelValues(string(catalog.StatusCancelled)).Inc()
	}

	return summary
}

// ===== Ready Queue =====

// readyQueue holds dispatchable node ids ordered by their position in
// the plan's topological order: ascending rank, document order within
// a rank.
type readyQueue struct {
	idx map[string]int
	ids []string
}

func newReadyQueue(idx map[string]int) *readyQueue {
	return &readyQueue{idx: idx}
}

func (q *readyQueue) push(id string) {
	at := sort.Search(len(q.ids), func(i int) bool { return q.idx[q.ids[i]] > q.idx[id] })
	q.ids = append(q.ids, "")
	copy(q.ids[at+1:], q.ids[at:])
	q.ids[at] = id
}

func (q *readyQueue) pop() string {
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id
}

func (q *readyQueue) len() int { return len(q.ids) }
