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

import "errors"

var (
	// ErrNilPlan indicates Run was called without a validated plan.
	ErrNilPlan = errors.New("nil execution plan")

	// ErrNilRegistry indicates a scheduler constructed without a catalog.
	ErrNilRegistry = errors.New("nil node registry")

	// ErrNoProgress indicates the dispatch loop found pending nodes but
	// nothing ready and nothing running. A validated acyclic plan cannot
	// reach this state; it guards against state-machine defects.
	ErrNoProgress = errors.New("no runnable nodes but work remains")

	// ErrLoopArray indicates a loop node whose array parameter is not a
	// sequence and could not be treated as a single element.
	ErrLoopArray = errors.New("loop array must be a sequence or scalar")

	// ErrLoopBody indicates a loop node whose workflow_json parameter is
	// missing or not a workflow document.
	ErrLoopBody = errors.New("loop body must be a workflow document")
)
