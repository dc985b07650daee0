// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/pkg/ux"
	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
)

// eventRenderer prints run events as terminal lines. It implements
// events.Publisher so a RunEmitter can feed it directly, no bus
// in between. Loop iteration results render indented under their
// parent node.
//
// Thread Safety: Safe for concurrent use; worker goroutines publish
// concurrently and lines must not interleave.
type eventRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func newEventRenderer(out io.Writer) *eventRenderer {
	return &eventRenderer{out: out}
}

// Publish implements events.Publisher. Kinds the terminal has no line
// for are dropped; the run summary is printed by the caller once Run
// returns.
func (r *eventRenderer) Publish(_ string, kind events.Kind, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case events.KindStatus:
		if sd, ok := data.(events.StatusData); ok {
			line := sd.Stage
			if sd.Detail != "" {
				line += ": " + sd.Detail
			}
			fmt.Fprintf(r.out, "%s %s\n", ux.IconBullet.Render(), line)
		}
	case events.KindNodeResult:
		if nr, ok := data.(events.NodeResult); ok {
			r.nodeLine(nr)
		}
	case events.KindToolRetry:
		if tr, ok := data.(events.ToolRetry); ok {
			fmt.Fprintf(r.out, "%s %s attempt %d/%d: %s\n",
				ux.IconRetry.Render(), tr.NodeID, tr.Attempt, tr.MaxRetries, tr.Error)
		}
	case events.KindError:
		if ed, ok := data.(events.ErrorData); ok {
			fmt.Fprintf(r.out, "%s %s\n", ux.IconFailure.Render(), ed.Error)
		}
	}
	return nil
}

func (r *eventRenderer) nodeLine(nr events.NodeResult) {
	indent := ""
	id := nr.NodeID
	if nr.Iteration != nil {
		indent = "  "
		id = fmt.Sprintf("%s[%d]", nr.NodeID, *nr.Iteration)
	}
	switch nr.Status {
	case catalog.StatusRunning:
		fmt.Fprintf(r.out, "%s%s %s\n", indent, ux.IconRunning.Render(), id)
	case catalog.StatusCompleted:
		fmt.Fprintf(r.out, "%s%s %s (%s)\n", indent, ux.IconSuccess.Render(), id, elapsed(nr))
	case catalog.StatusFailed:
		fmt.Fprintf(r.out, "%s%s %s: %s\n", indent, ux.IconFailure.Render(), id, nr.Error)
	case catalog.StatusCancelled:
		fmt.Fprintf(r.out, "%s%s %s cancelled\n", indent, ux.IconPending.Render(), id)
	}
}

// elapsed formats the wall time between the result's millisecond
// stamps. Skipped nodes carry no stamps and read as 0s.
func elapsed(nr events.NodeResult) string {
	if nr.EndedAt <= nr.StartedAt {
		return time.Duration(0).String()
	}
	return (time.Duration(nr.EndedAt-nr.StartedAt) * time.Millisecond).String()
}
