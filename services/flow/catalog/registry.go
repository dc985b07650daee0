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
	"fmt"
	"sort"
	"sync"
)

// Registry maps node type names to their specs and factories.
//
// Thread Safety: All methods are safe for concurrent use. The usual
// lifecycle is single-threaded registration at startup, Freeze, then
// concurrent lookups from scheduler workers for the process lifetime.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]regEntry
	frozen  bool
}

type regEntry struct {
	spec    NodeSpec
	factory Factory
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]regEntry)}
}

// Register adds a node type to the registry.
//
// Outputs:
//   - error: ErrFrozen after Freeze, ErrDuplicateType on a repeated
//     type name, ErrNilFactory or ErrInvalidSpec on bad inputs.
func (r *Registry) Register(spec NodeSpec, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, spec.Type)
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrFrozen, spec.Type)
	}
	if _, exists := r.entries[spec.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, spec.Type)
	}
	r.entries[spec.Type] = regEntry{spec: spec, factory: factory}
	return nil
}

// Lookup returns the spec and factory for a node type.
func (r *Registry) Lookup(nodeType string) (NodeSpec, Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	if !ok {
		return NodeSpec{}, nil, fmt.Errorf("%w: %s", ErrUnknownType, nodeType)
	}
	return e.spec, e.factory, nil
}

// Spec returns the spec for a node type without its factory.
func (r *Registry) Spec(nodeType string) (NodeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	return e.spec, ok
}

// Has reports whether the type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[nodeType]
	return ok
}

// List returns all registered specs sorted by type name.
func (r *Registry) List() []NodeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeSpec, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Amend replaces the spec of an already-registered type, keeping its
// factory. Catalog file overlays apply through this before Freeze.
func (r *Registry) Amend(spec NodeSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot amend %s", ErrFrozen, spec.Type)
	}
	e, ok := r.entries[spec.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
	}
	e.spec = spec
	r.entries[spec.Type] = e
	return nil
}

// Freeze permanently disables further registration. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
