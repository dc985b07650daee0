// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph turns raw workflow documents into validated execution
// plans: parsed nodes and edges, inferred reference dependencies, cycle
// rejection, and a deterministic topological order for the scheduler.
package graph

import (
	"encoding/json"
	"fmt"
)

// Node is one typed unit of work in a workflow document. Params map
// parameter names to literal values or reference expression strings.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Edge is a directed dependency between two node ids. Edges carry no
// payload; data moves through the output store.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a parsed workflow document. GlobalParams, when present,
// are exposed to references under the reserved id "global".
type Workflow struct {
	Nodes        []Node         `json:"nodes"`
	Edges        []Edge         `json:"edges,omitempty"`
	GlobalParams map[string]any `json:"global_params,omitempty"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// IDs returns all node ids in document order.
func (w *Workflow) IDs() []string {
	out := make([]string, len(w.Nodes))
	for i, n := range w.Nodes {
		out[i] = n.ID
	}
	return out
}

// Parse decodes a JSON workflow document.
//
// Outputs:
//   - *Workflow: The parsed document. Structural validity is checked by
//     Validate, not here.
//   - error: Non-nil on malformed JSON.
func Parse(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &w, nil
}

// FromDocument converts an already-decoded document value into a
// Workflow. Loop bodies arrive this way: the loop node's workflow_json
// parameter is a mapping inside the parent document.
func FromDocument(doc any) (*Workflow, error) {
	switch v := doc.(type) {
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode workflow document: %w", err)
		}
		return Parse(data)
	case string:
		return Parse([]byte(v))
	case []byte:
		return Parse(v)
	default:
		return nil, fmt.Errorf("workflow document must be a mapping or JSON string, got %T", doc)
	}
}
