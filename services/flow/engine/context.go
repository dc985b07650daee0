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

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/store"
)

type ctxKey int

const (
	emitterKey ctxKey = iota
	outputsKey
)

// withRunScope attaches the run emitter and output store to the context
// an executor receives. Composite executors rebuild their child run
// scope from these.
func withRunScope(ctx context.Context, em *events.RunEmitter, outs *store.Outputs) context.Context {
	ctx = context.WithValue(ctx, emitterKey, em)
	return context.WithValue(ctx, outputsKey, outs)
}

// EmitterFrom returns the run emitter attached to an executor context.
//
// Description:
//
//	Intermediate updates flow back through the executor channel and are
//	republished automatically; executors needing more than that, such
//	as the loop executor stamping per-iteration child emitters, pull the
//	emitter from here.
func EmitterFrom(ctx context.Context) (*events.RunEmitter, bool) {
	em, ok := ctx.Value(emitterKey).(*events.RunEmitter)
	return em, ok
}

// OutputsFrom returns the run's output store attached to an executor
// context. The loop executor reads the global seed through it.
func OutputsFrom(ctx context.Context) (*store.Outputs, bool) {
	outs, ok := ctx.Value(outputsKey).(*store.Outputs)
	return outs, ok
}
