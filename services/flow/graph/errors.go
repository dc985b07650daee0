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
	"errors"
	"strings"
)

var (
	// ErrEmptyWorkflow indicates a document with no nodes.
	ErrEmptyWorkflow = errors.New("workflow has no nodes")

	// ErrBadNode indicates a node missing its id or type.
	ErrBadNode = errors.New("malformed node")

	// ErrDuplicateID indicates two nodes sharing an id.
	ErrDuplicateID = errors.New("duplicate node id")

	// ErrReservedID indicates a node declared under a reserved id.
	ErrReservedID = errors.New("node id is reserved")

	// ErrUnknownType indicates a node whose type the registry never saw.
	ErrUnknownType = errors.New("unknown node type")

	// ErrUnknownEdgeNode indicates an edge endpoint naming no node.
	ErrUnknownEdgeNode = errors.New("edge references unknown node")

	// ErrMissingParam indicates a required parameter with no value and
	// no catalog default.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrBadParam indicates a literal that cannot be coerced to its
	// declared kind.
	ErrBadParam = errors.New("invalid parameter value")

	// ErrBadReference indicates a reference naming no node in scope.
	ErrBadReference = errors.New("reference to unknown node")

	// ErrLoopScope indicates a $loop reference outside a loop body.
	ErrLoopScope = errors.New("loop reference outside loop body")
)

// CycleError reports a dependency cycle. Path holds the node ids along
// the cycle, first id repeated at the end.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "workflow contains a cycle: " + strings.Join(e.Path, " -> ")
}
