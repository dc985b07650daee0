// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/refs"
)

// Plan is a validated workflow ready for scheduling.
//
// Description:
//
//	Workflow is a normalized deep copy of the input document: catalog
//	defaults are injected, literals are coerced to their declared kinds,
//	and reference-implied edges are materialized in Preds/Succs. Order
//	lists node ids by ascending topological rank, document order within
//	a rank; the scheduler uses it as the dequeue tie-break, not as a
//	serial execution order.
//
// Thread Safety: Immutable after Validate returns.
type Plan struct {
	Workflow *Workflow
	Order    []string
	Rank     map[string]int
	Preds    map[string][]string
	Succs    map[string][]string
}

// Descendants returns every node forward-reachable from id, excluding
// id itself. The scheduler skips this set when id fails.
func (p *Plan) Descendants(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, next := range p.Succs[cur] {
			if !seen[next] {
				seen[next] = true
				walk(next)
			}
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for _, id := range p.Order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

type options struct {
	inLoop bool
}

// Option adjusts validation scope.
type Option func(*options)

// WithLoopScope permits $loop references. The loop sub-scheduler sets
// this when validating a loop body; top-level workflows reject $loop.
func WithLoopScope() Option {
	return func(o *options) { o.inLoop = true }
}

// Validate checks a workflow document against the registry and builds
// its execution plan.
//
// Description:
//
//	Shape first: nodes non-empty, ids unique and unreserved, types
//	registered, edges between existing nodes. Then parameters: catalog
//	defaults fill missing values, required parameters without a value
//	or default fail, and pure literals are coerced leniently to their
//	declared kinds. Reference expressions in parameter values must name
//	a node of this workflow or a reserved id; each such reference adds
//	an implicit edge. Finally the combined edge set is checked for
//	cycles and ranked topologically.
//
// Outputs:
//   - *Plan: The normalized plan. The input workflow is not mutated.
//   - error: The first violation found, wrapping a package sentinel or
//     a *CycleError.
func Validate(wf *Workflow, reg *catalog.Registry, opts ...Option) (*Plan, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if wf == nil || len(wf.Nodes) == 0 {
		return nil, ErrEmptyWorkflow
	}

	docIndex := make(map[string]int, len(wf.Nodes))
	specs := make(map[string]catalog.NodeSpec, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if n.ID == "" || n.Type == "" {
			return nil, fmt.Errorf("%w: node %d needs both id and type", ErrBadNode, i)
		}
		if refs.IsReserved(n.ID) {
			return nil, fmt.Errorf("%w: %q", ErrReservedID, n.ID)
		}
		if _, dup := docIndex[n.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, n.ID)
		}
		docIndex[n.ID] = i
		spec, ok := reg.Spec(n.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %q (node %q)", ErrUnknownType, n.Type, n.ID)
		}
		specs[n.ID] = spec
	}

	normalized := &Workflow{
		Nodes:        make([]Node, len(wf.Nodes)),
		Edges:        append([]Edge(nil), wf.Edges...),
		GlobalParams: refs.Copy(wf.GlobalParams).(map[string]any),
	}

	edgeSet := make(map[Edge]struct{}, len(wf.Edges))
	addEdge := func(e Edge) {
		if _, dup := edgeSet[e]; !dup {
			edgeSet[e] = struct{}{}
		}
	}

	for _, e := range wf.Edges {
		if _, ok := docIndex[e.From]; !ok {
			return nil, fmt.Errorf("%w: %q (edge %s -> %s)", ErrUnknownEdgeNode, e.From, e.From, e.To)
		}
		if _, ok := docIndex[e.To]; !ok {
			return nil, fmt.Errorf("%w: %q (edge %s -> %s)", ErrUnknownEdgeNode, e.To, e.From, e.To)
		}
		addEdge(e)
	}

	for i, n := range wf.Nodes {
		spec := specs[n.ID]
		params, err := normalizeParams(n, spec, docIndex, o, addEdge)
		if err != nil {
			return nil, err
		}
		normalized.Nodes[i] = Node{ID: n.ID, Type: n.Type, Params: params}
	}

	preds := make(map[string][]string, len(wf.Nodes))
	succs := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		preds[n.ID] = nil
		succs[n.ID] = nil
	}
	for e := range edgeSet {
		preds[e.To] = append(preds[e.To], e.From)
		succs[e.From] = append(succs[e.From], e.To)
	}
	for id := range preds {
		sort.Strings(preds[id])
		sort.Strings(succs[id])
	}

	if cyc := findCycle(wf, succs); cyc != nil {
		return nil, cyc
	}

	rank := rankNodes(wf, preds, succs)
	order := make([]string, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		order = append(order, n.ID)
	}
	sort.SliceStable(order, func(i, j int) bool {
		ri, rj := rank[order[i]], rank[order[j]]
		if ri != rj {
			return ri < rj
		}
		return docIndex[order[i]] < docIndex[order[j]]
	})

	return &Plan{
		Workflow: normalized,
		Order:    order,
		Rank:     rank,
		Preds:    preds,
		Succs:    succs,
	}, nil
}

// ParseAndValidate is the one-call form used by transports: decode the
// raw document, then validate it.
func ParseAndValidate(data []byte, reg *catalog.Registry, opts ...Option) (*Plan, error) {
	wf, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Validate(wf, reg, opts...)
}

// normalizeParams deep-copies one node's parameters, injects catalog
// defaults, coerces pure literals, and records reference edges.
func normalizeParams(n Node, spec catalog.NodeSpec, docIndex map[string]int, o options, addEdge func(Edge)) (map[string]any, error) {
	params := make(map[string]any, len(n.Params)+len(spec.Params))
	for k, v := range n.Params {
		params[k] = refs.Copy(v)
	}

	for _, p := range spec.Params {
		if _, provided := params[p.Name]; !provided {
			if p.Default != nil {
				params[p.Name] = refs.Copy(p.Default)
				continue
			}
			if p.Required {
				return nil, fmt.Errorf("%w: node %q param %q", ErrMissingParam, n.ID, p.Name)
			}
			continue
		}
	}

	for name, value := range params {
		declared, known := spec.Param(name)
		if known && declared.Opaque {
			continue
		}

		ids := refs.ReferencedIDs(value)
		for _, id := range ids {
			switch {
			case id == refs.ReservedGlobal:
				// Resolved against seeded global params at runtime.
			case id == refs.ReservedLoop:
				if !o.inLoop {
					return nil, fmt.Errorf("%w: node %q param %q", ErrLoopScope, n.ID, name)
				}
			default:
				if _, ok := docIndex[id]; !ok {
					return nil, fmt.Errorf("%w: node %q param %q references %q", ErrBadReference, n.ID, name, id)
				}
				addEdge(Edge{From: id, To: n.ID})
			}
		}

		// Coercion applies only to pure literals of a declared kind;
		// values carrying references take their final shape at
		// resolution time.
		if known && len(ids) == 0 && declared.Kind != catalog.KindAny {
			coerced, err := catalog.Coerce(value, declared.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: node %q param %q: %v", ErrBadParam, n.ID, name, err)
			}
			params[name] = coerced
		}
	}
	return params, nil
}

// findCycle runs a depth-first search over the combined edge set and
// reconstructs the cycle path when one exists. Document order makes the
// reported cycle deterministic.
func findCycle(wf *Workflow, succs map[string][]string) *CycleError {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current stack
		black = 2 // fully explored
	)
	state := make(map[string]int, len(wf.Nodes))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		state[id] = grey
		stack = append(stack, id)
		for _, next := range succs[id] {
			switch state[next] {
			case grey:
				start := 0
				for i, v := range stack {
					if v == next {
						start = i
						break
					}
				}
				path := append(append([]string{}, stack[start:]...), next)
				return &CycleError{Path: path}
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = black
		return nil
	}

	for _, n := range wf.Nodes {
		if state[n.ID] == white {
			if cyc := visit(n.ID); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// rankNodes assigns each node its topological layer: roots are rank 0,
// every other node sits one past its deepest predecessor.
func rankNodes(wf *Workflow, preds, succs map[string][]string) map[string]int {
	rank := make(map[string]int, len(wf.Nodes))
	indegree := make(map[string]int, len(wf.Nodes))
	var queue []string
	for _, n := range wf.Nodes {
		indegree[n.ID] = len(preds[n.ID])
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
			rank[n.ID] = 0
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range succs[cur] {
			if r := rank[cur] + 1; r > rank[next] {
				rank[next] = r
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return rank
}
