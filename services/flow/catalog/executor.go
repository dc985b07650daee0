// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Status is the lifecycle state reported by an executor update.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status ends a node's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// Invocation carries everything an executor needs for one node run.
// Params arrive fully resolved: no reference strings remain by the time
// an executor sees them.
type Invocation struct {
	NodeID    string
	Type      string
	Params    map[string]any
	Iteration *int
}

// Update is one progress or terminal report from an executor. Data holds
// the node output on completion, or structured progress payloads on
// intermediate running updates. Output data is free-form: most builtin
// types produce a mapping from output field to value, but scalar
// producers such as echo surface the raw value. Failure is set only on
// failed and cancelled terminal updates.
type Update struct {
	Status  Status
	Data    any
	Failure *Failure
}

// Executor runs one node invocation and streams updates on the returned
// channel. Implementations must close the channel after sending exactly
// one terminal update, and must honor ctx cancellation promptly.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) <-chan Update
}

// Factory produces a fresh executor for one invocation. Factories are
// registered per node type and must be safe for concurrent use.
type Factory func() (Executor, error)

// ===== Function Adapter =====

// ExecutorFunc adapts a plain request/response function to the streaming
// Executor contract. The function's error is classified through the
// failure taxonomy, and panics surface as executor_bug failures instead
// of crashing the scheduler.
type ExecutorFunc func(ctx context.Context, params map[string]any) (any, error)

var _ Executor = (ExecutorFunc)(nil)

// Execute runs f on a goroutine and yields a single terminal update.
func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) <-chan Update {
	ch := make(chan Update, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				ch <- Update{
					Status:  StatusFailed,
					Failure: Bug(fmt.Errorf("executor panic: %v\n%s", r, debug.Stack())),
				}
			}
		}()
		out, err := f(ctx, inv.Params)
		if err != nil {
			fail := Classify(ctx, err)
			st := StatusFailed
			if fail.Kind == FailCancelled {
				st = StatusCancelled
			}
			ch <- Update{Status: st, Failure: fail}
			return
		}
		ch <- Update{Status: StatusCompleted, Data: out}
	}()
	return ch
}

// FuncFactory wraps f as a Factory. Convenient for the many builtin
// types that are pure functions over their parameters.
func FuncFactory(f ExecutorFunc) Factory {
	return func() (Executor, error) { return f, nil }
}
