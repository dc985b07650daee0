// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the per-run output store: node outputs are
// written exactly once by the worker that ran the node and read by
// downstream parameter resolution.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/refs"
)

// ErrAlreadyWritten indicates a second write for the same node id.
var ErrAlreadyWritten = errors.New("output already written")

// Outputs is a write-once mapping from node id to completed output.
//
// Thread Safety: Safe for concurrent use. Downstream reads happen after
// the upstream write because scheduler readiness requires the upstream
// terminal event, which is published after the write.
type Outputs struct {
	mu      sync.RWMutex
	entries map[string]any
}

var _ refs.Source = (*Outputs)(nil)

// New creates an empty store.
func New() *Outputs {
	return &Outputs{entries: make(map[string]any)}
}

// NewSeeded creates a store pre-populated with synthetic entries such
// as the loop iteration context or run-level global parameters. Seeds
// count as writes: they cannot be overwritten.
func NewSeeded(seed map[string]any) *Outputs {
	o := New()
	for id, data := range seed {
		o.entries[id] = data
	}
	return o
}

// Put records the output for a node id.
func (o *Outputs) Put(id string, data any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyWritten, id)
	}
	o.entries[id] = data
	return nil
}

// Output returns the stored value for id. Implements refs.Source.
func (o *Outputs) Output(id string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.entries[id]
	return v, ok
}

// Len returns the number of stored entries.
func (o *Outputs) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}

// IDs returns the stored ids, sorted.
func (o *Outputs) IDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.entries))
	for id := range o.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep copy of the whole store, excluding the
// reserved synthetic ids. Loop iteration collection uses this to read
// an iteration's results without aliasing live entries.
func (o *Outputs) Snapshot() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.entries))
	for id, v := range o.entries {
		if refs.IsReserved(id) {
			continue
		}
		out[id] = refs.Copy(v)
	}
	return out
}
