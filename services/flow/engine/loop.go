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

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/refs"
	"github.com/AleutianAI/AleutianFlow/services/flow/store"
)

// loopExecutor runs a nested workflow once per element of its array
// parameter.
//
// Description:
//
//	Each iteration gets a fresh output store seeded with the reserved
//	loop binding {index, item, length, first, last} and the parent's
//	global parameters, then runs the body through a child scheduler
//	sharing the parent's run emitter. Node events inside the body carry
//	the iteration index. A failed iteration fails the loop unless
//	continue_on_error is set, in which case an error entry takes the
//	iteration's place in the results.
type loopExecutor struct {
	sched *Scheduler
	reg   *catalog.Registry
}

var _ catalog.Executor = (*loopExecutor)(nil)

// NewLoopFactory returns the factory to register for the loop node
// type. The scheduler and registry are shared with top-level runs so
// nested bodies see the same node catalog.
func NewLoopFactory(sched *Scheduler, reg *catalog.Registry) catalog.Factory {
	return func() (catalog.Executor, error) {
		if sched == nil || reg == nil {
			return nil, errors.New("loop executor requires a scheduler and registry")
		}
		return &loopExecutor{sched: sched, reg: reg}, nil
	}
}

// Execute iterates the loop body, streaming one running update per
// iteration start and a single terminal update.
func (l *loopExecutor) Execute(ctx context.Context, inv catalog.Invocation) <-chan catalog.Update {
	ch := make(chan catalog.Update, 1)
	go func() {
		defer close(ch)
		out, fail := l.run(ctx, inv, ch)
		if fail != nil {
			status := catalog.StatusFailed
			if fail.Kind == catalog.FailCancelled {
				status = catalog.StatusCancelled
			}
			ch <- catalog.Update{Status: status, Failure: fail}
			return
		}
		ch <- catalog.Update{Status: catalog.StatusCompleted, Data: out}
	}()
	return ch
}

func (l *loopExecutor) run(ctx context.Context, inv catalog.Invocation, ch chan<- catalog.Update) (map[string]any, *catalog.Failure) {
	items, fail := loopItems(inv.Params["array"])
	if fail != nil {
		return nil, fail
	}

	doc, ok := inv.Params["workflow_json"]
	if !ok || doc == nil {
		return nil, catalog.Invalid(ErrLoopBody)
	}
	wf, err := graph.FromDocument(doc)
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("%w: %v", ErrLoopBody, err))
	}
	plan, err := graph.Validate(wf, l.reg, graph.WithLoopScope())
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("loop body: %w", err))
	}

	continueOnError := false
	if v, ok := inv.Params["continue_on_error"]; ok {
		if b, cerr := catalog.Coerce(v, catalog.KindBoolean); cerr == nil {
			continueOnError = b.(bool)
		}
	}

	em, _ := EmitterFrom(ctx)
	if em == nil {
		em = events.NewRunEmitter(events.NewCollector(), "loop", nil)
	}
	var global any
	var hasGlobal bool
	if parent, ok := OutputsFrom(ctx); ok {
		global, hasGlobal = parent.Output(refs.ReservedGlobal)
	}

	m := engineMetrics()
	n := len(items)
	results := make([]any, 0, n)
	success := true

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, catalog.Cancelled(err)
		}
		ch <- catalog.Update{
			Status: catalog.StatusRunning,
			Data:   map[string]any{"iteration": i, "total": n},
		}
		m.loopIterations.Inc()

		seed := map[string]any{
			refs.ReservedLoop: map[string]any{
				"index":  i,
				"item":   item,
				"length": n,
				"first":  i == 0,
				"last":   i == n-1,
			},
		}
		if hasGlobal {
			seed[refs.ReservedGlobal] = global
		} else if len(wf.GlobalParams) > 0 {
			seed[refs.ReservedGlobal] = wf.GlobalParams
		}

		childStore := store.NewSeeded(seed)
		summary, runErr := l.sched.Run(ctx, plan, RunOptions{
			Emitter: em.Child(i),
			Store:   childStore,
		})
		if runErr != nil {
			return nil, catalog.Classify(ctx, runErr)
		}
		if summary.Success() {
			results = append(results, childStore.Snapshot())
			continue
		}

		success = false
		iterErr := fmt.Sprintf("iteration %d: %d of %d nodes failed", i, summary.Failed, summary.Total)
		if !continueOnError {
			return nil, catalog.Permanent(errors.New(iterErr))
		}
		results = append(results, map[string]any{"index": i, "error": iterErr})
	}

	return map[string]any{
		"results": results,
		"total":   n,
		"success": success,
	}, nil
}

// loopItems normalizes the array parameter: sequences (including JSON
// array text) iterate element-wise, anything else iterates once.
func loopItems(v any) ([]any, *catalog.Failure) {
	if v == nil {
		return nil, catalog.Invalid(ErrLoopArray)
	}
	if seq, err := catalog.Coerce(v, catalog.KindSequence); err == nil {
		return seq.([]any), nil
	}
	return []any{v}, nil
}
