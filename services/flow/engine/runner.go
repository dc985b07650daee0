// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/refs"
	"github.com/AleutianAI/AleutianFlow/services/flow/store"
)

// stopGrace bounds how long the runner waits for an executor to wind
// down after its context ends. A wedged executor is abandoned rather
// than holding a worker slot forever.
const stopGrace = 3 * time.Second

// ===== Retry Policy =====

// RetryPolicy governs re-execution of transient node failures. Only
// node types marked retryable in the catalog are retried, and only on
// transient I/O failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64
}

// DefaultRetryPolicy returns the standard policy: three attempts,
// 500ms base delay doubling per attempt, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
	}
}

// Delay returns the backoff before the retry following the given
// failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ===== Node Runner =====

// runNode drives one node from parameter resolution to its terminal
// report.
//
// Description:
//
//	Resolution failures fail the node before its executor is ever
//	constructed. Otherwise the node reports running, the executor runs
//	under a per-node deadline (catalog timeout, or a timeout parameter
//	override in seconds), intermediate updates republish as tool
//	progress, and the terminal update lands in the output store when
//	the node completed. Transient failures on retryable types re-run
//	with jittered exponential backoff.
func (s *Scheduler) runNode(
	ctx context.Context,
	node graph.Node,
	outs *store.Outputs,
	em *events.RunEmitter,
	done chan<- nodeDone,
) {
	m := engineMetrics()

	ctx, span := tracer.Start(ctx, "flow.Node",
		trace.WithAttributes(
			attribute.String("flow.node_id", node.ID),
			attribute.String("flow.node_type", node.Type),
			attribute.String("flow.session_id", em.SessionID()),
		),
	)
	defer span.End()

	fatal := func(fail *catalog.Failure) {
		span.RecordError(fail)
		span.SetStatus(codes.Error, fail.Error())
		em.NodeResult(events.NodeResult{
			NodeID:  node.ID,
			Status:  catalog.StatusFailed,
			Error:   fail.Error(),
			EndedAt: events.Stamp(),
		})
		m.nodesTotal.WithLabelValues(string(catalog.StatusFailed)).Inc()
		done <- nodeDone{id: node.ID, status: catalog.StatusFailed}
	}

	spec, factory, err := s.registry.Lookup(node.Type)
	if err != nil {
		// Validation guarantees registration; a miss here means the
		// registry changed under a live run.
		fatal(catalog.Bug(err))
		return
	}

	resolved, err := refs.ResolveParams(node.Params, outs)
	if err != nil {
		fatal(catalog.Unresolved(err))
		return
	}

	timeout := spec.EffectiveTimeout()
	if v, ok := resolved["timeout"]; ok {
		if secs, cerr := catalog.Coerce(v, catalog.KindFloat); cerr == nil {
			if f := secs.(float64); f > 0 {
				timeout = time.Duration(f * float64(time.Second))
			}
		}
	}

	started := events.Stamp()
	em.NodeResult(events.NodeResult{
		NodeID:    node.ID,
		Status:    catalog.StatusRunning,
		StartedAt: started,
	})
	s.logger.Debug("node starting",
		slog.String("session_id", em.SessionID()),
		slog.String("node_id", node.ID),
		slog.String("type", node.Type),
		slog.Duration("timeout", timeout),
	)
	m.activeNodes.Inc()
	defer m.activeNodes.Dec()

	inv := catalog.Invocation{
		NodeID:    node.ID,
		Type:      node.Type,
		Params:    resolved,
		Iteration: em.Iteration(),
	}

	attempts := 1
	if spec.Retryable {
		attempts = s.retry.MaxAttempts
	}

	begin := time.Now()
	var output any
	var fail *catalog.Failure
	for attempt := 1; ; attempt++ {
		output, fail = s.invoke(ctx, factory, inv, timeout, em, outs)
		if fail == nil || !fail.Retryable() || attempt >= attempts {
			break
		}
		em.ToolRetry(node.ID, attempt, attempts, fail.Error())
		m.nodeRetries.Inc()
		s.logger.Debug("node retrying",
			slog.String("node_id", node.ID),
			slog.Int("attempt", attempt),
			slog.String("error", fail.Error()),
		)
		if err := sleepContext(ctx, s.retry.Delay(attempt)); err != nil {
			fail = catalog.Cancelled(err)
			break
		}
	}
	m.nodeDuration.WithLabelValues(node.Type).Observe(time.Since(begin).Seconds())
	ended := events.Stamp()

	if fail == nil {
		if err := outs.Put(node.ID, output); err != nil {
			fail = catalog.Bug(err)
		}
	}

	if fail == nil {
		em.NodeResult(events.NodeResult{
			NodeID:    node.ID,
			Status:    catalog.StatusCompleted,
			Data:      output,
			StartedAt: started,
			EndedAt:   ended,
		})
		m.nodesTotal.WithLabelValues(string(catalog.StatusCompleted)).Inc()
		span.SetStatus(codes.Ok, "")
		done <- nodeDone{id: node.ID, status: catalog.StatusCompleted}
		return
	}

	status := catalog.StatusFailed
	if fail.Kind == catalog.FailCancelled {
		status = catalog.StatusCancelled
	}
	em.NodeResult(events.NodeResult{
		NodeID:    node.ID,
		Status:    status,
		Error:     fail.Error(),
		StartedAt: started,
		EndedAt:   ended,
	})
	m.nodesTotal.WithLabelValues(string(status)).Inc()
	span.RecordError(fail)
	span.SetStatus(codes.Error, fail.Error())
	s.logger.Warn("node failed",
		slog.String("session_id", em.SessionID()),
		slog.String("node_id", node.ID),
		slog.String("kind", string(fail.Kind)),
		slog.String("error", fail.Error()),
	)
	done <- nodeDone{id: node.ID, status: status}
}

// invoke runs one executor attempt under the per-node deadline and
// reduces its update stream to an output or a classified failure.
func (s *Scheduler) invoke(
	ctx context.Context,
	factory catalog.Factory,
	inv catalog.Invocation,
	timeout time.Duration,
	em *events.RunEmitter,
	outs *store.Outputs,
) (any, *catalog.Failure) {
	exec, err := factory()
	if err != nil {
		return nil, catalog.Bug(fmt.Errorf("construct executor for %s: %w", inv.Type, err))
	}

	nodeCtx, cancel := context.WithTimeout(withRunScope(ctx, em, outs), timeout)
	defer cancel()

	updates := exec.Execute(nodeCtx, inv)

	var term catalog.Update
	var got bool
consume:
	for {
		select {
		case upd, ok := <-updates:
			if !ok {
				break consume
			}
			if upd.Status == catalog.StatusRunning {
				em.ToolProgress(inv.NodeID, upd.Data)
				continue
			}
			if !got {
				term, got = upd, true
			}
		case <-nodeCtx.Done():
			timer := time.NewTimer(stopGrace)
			for {
				select {
				case upd, ok := <-updates:
					if !ok {
						timer.Stop()
						break consume
					}
					if upd.Status.Terminal() && !got {
						term, got = upd, true
					}
				case <-timer.C:
					s.logger.Error("executor ignored cancellation, abandoning",
						slog.String("node_id", inv.NodeID),
						slog.String("type", inv.Type),
					)
					return nil, expiryFailure(nodeCtx, ctx, timeout)
				}
			}
		}
	}

	if !got {
		if nodeCtx.Err() != nil {
			return nil, expiryFailure(nodeCtx, ctx, timeout)
		}
		return nil, catalog.Bug(errors.New("executor closed without a terminal update"))
	}

	if term.Status == catalog.StatusCompleted {
		return term.Data, nil
	}

	fail := term.Failure
	if fail == nil {
		fail = catalog.Classify(nodeCtx, fmt.Errorf("node %s reported %s", inv.NodeID, term.Status))
	}
	// A deadline on the node context is a timeout even when the
	// executor reported it as cancellation, unless the whole run was
	// cancelled. Expiry failures are rewritten so every timeout carries
	// the same message whatever the executor wrapped ctx.Err in.
	if nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil &&
		(fail.Kind == catalog.FailCancelled || fail.Kind == catalog.FailTimeout) {
		fail = catalog.Timeout(fmt.Errorf("timed out after %s", timeout))
	}
	return nil, fail
}

// expiryFailure classifies a context expiry: run cancellation wins,
// otherwise the node deadline reports as a timeout.
func expiryFailure(nodeCtx, runCtx context.Context, timeout time.Duration) *catalog.Failure {
	if runCtx.Err() != nil {
		return catalog.Cancelled(runCtx.Err())
	}
	if nodeCtx.Err() == context.DeadlineExceeded {
		return catalog.Timeout(fmt.Errorf("timed out after %s", timeout))
	}
	return catalog.Cancelled(nodeCtx.Err())
}

// sleepContext sleeps for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
