// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refs implements the parameter reference language used to wire
// node outputs into downstream parameters: strings of the form
// $id(.field | [index] | [*])* are parsed and evaluated against the
// run's output store.
package refs

import (
	"strconv"
	"strings"
)

// Reserved ids resolvable without a producing node. "loop" carries the
// synthesized per-iteration bindings inside a loop subgraph; "global"
// carries run-level parameters supplied at admission.
const (
	ReservedLoop   = "loop"
	ReservedGlobal = "global"
)

// IsReserved reports whether id is one of the synthetic store ids.
func IsReserved(id string) bool {
	return id == ReservedLoop || id == ReservedGlobal
}

// StepKind discriminates the path step variants.
type StepKind int

const (
	StepField StepKind = iota
	StepIndex
	StepWildcard
)

// Step is one path step applied during resolution.
type Step struct {
	Kind  StepKind
	Field string
	Index int
}

// Ref is a parsed reference expression.
type Ref struct {
	ID    string
	Steps []Step
	raw   string
}

// String returns the original expression text.
func (r *Ref) String() string { return r.raw }

// Parse decides whether s is a reference and parses it.
//
// Description:
//
//	A string is a reference iff the entire string matches
//	$id(.field | [index] | [*])* starting at position zero. Anything
//	else, including strings that merely contain a $, is a literal.
//	Ids and fields start with a letter or underscore; indexes are
//	signed integers, negatives counting from the end of the sequence.
//
// Outputs:
//   - *Ref: The parsed reference, nil when s is a literal.
//   - bool: True iff s is a reference.
func Parse(s string) (*Ref, bool) {
	if len(s) < 2 || s[0] != '$' {
		return nil, false
	}
	pos := 1
	id, n := scanIdent(s[pos:])
	if n == 0 {
		return nil, false
	}
	pos += n

	var steps []Step
	for pos < len(s) {
		switch s[pos] {
		case '.':
			field, n := scanIdent(s[pos+1:])
			if n == 0 {
				return nil, false
			}
			steps = append(steps, Step{Kind: StepField, Field: field})
			pos += 1 + n
		case '[':
			end := strings.IndexByte(s[pos:], ']')
			if end < 0 {
				return nil, false
			}
			inner := s[pos+1 : pos+end]
			if inner == "*" {
				steps = append(steps, Step{Kind: StepWildcard})
			} else {
				idx, err := strconv.Atoi(inner)
				if err != nil {
					return nil, false
				}
				steps = append(steps, Step{Kind: StepIndex, Index: idx})
			}
			pos += end + 1
		default:
			return nil, false
		}
	}
	return &Ref{ID: id, Steps: steps, raw: s}, true
}

// scanIdent consumes a leading identifier and returns it with the
// number of bytes consumed. Identifiers are [A-Za-z_][A-Za-z0-9_]*.
func scanIdent(s string) (string, int) {
	n := 0
	for n < len(s) {
		c := s[n]
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			n++
		case c >= '0' && c <= '9':
			if n == 0 {
				return "", 0
			}
			n++
		default:
			return s[:n], n
		}
	}
	return s[:n], n
}
