// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the node type catalog: parameter schemas, output
// declarations, execution policy flags, and the factories that produce
// node executors. The registry is populated once at startup and frozen
// before the first workflow is admitted.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies the declared type of a node parameter.
type Kind string

const (
	KindString   Kind = "string"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindBoolean  Kind = "boolean"
	KindMapping  Kind = "mapping"
	KindSequence Kind = "sequence"
	KindTuple    Kind = "tuple"
	KindAny      Kind = "any"
)

// Valid reports whether k is one of the declared parameter kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindInteger, KindFloat, KindBoolean,
		KindMapping, KindSequence, KindTuple, KindAny:
		return true
	default:
		return false
	}
}

// DefaultTimeout is the per-node execution deadline applied when the
// catalog entry does not declare one. Isolated interpreter nodes get the
// shorter DefaultIsolatedTimeout instead.
const (
	DefaultTimeout         = 60 * time.Second
	DefaultIsolatedTimeout = 30 * time.Second
)

// ParamSpec declares one parameter of a node type.
//
// Opaque marks document parameters whose values embed a nested workflow
// definition (loop bodies). Reference scanning and resolution skip
// opaque values entirely; the node executor interprets them in its own
// scope.
type ParamSpec struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
	Opaque   bool   `json:"opaque,omitempty"`
	Doc      string `json:"doc,omitempty"`
}

// OutputSpec declares one output field of a node type.
type OutputSpec struct {
	Name string `json:"name"`
	Doc  string `json:"doc,omitempty"`
}

// NodeSpec is an immutable catalog entry describing one node type.
//
// Retryable marks types whose transient failures are retried by the
// engine (network I/O, LLM chat, storage). Isolated marks types that run
// in a separate process group and are force-killed on timeout.
type NodeSpec struct {
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Params      []ParamSpec   `json:"params,omitempty"`
	Outputs     []OutputSpec  `json:"outputs,omitempty"`
	Retryable   bool          `json:"retryable"`
	Isolated    bool          `json:"isolated"`
	Timeout     time.Duration `json:"timeout"`
}

// Param returns the declared parameter with the given name.
func (s NodeSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// EffectiveTimeout returns the declared timeout, falling back to the
// kind-appropriate default when the entry declares none.
func (s NodeSpec) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	if s.Isolated {
		return DefaultIsolatedTimeout
	}
	return DefaultTimeout
}

// Validate checks internal consistency of the spec.
//
// Outputs:
//   - error: Non-nil if the type is empty, a kind is unknown, or a
//     parameter name is declared twice.
func (s NodeSpec) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidSpec)
	}
	seen := make(map[string]struct{}, len(s.Params))
	for _, p := range s.Params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: %s declares a parameter with no name", ErrInvalidSpec, s.Type)
		}
		if !p.Kind.Valid() {
			return fmt.Errorf("%w: %s param %q has unknown kind %q", ErrInvalidSpec, s.Type, p.Name, p.Kind)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %s declares param %q twice", ErrInvalidSpec, s.Type, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Digest renders the specs as the compact tool description block fed to
// planner prompts. One entry per type, parameters and outputs inline.
func Digest(specs []NodeSpec) string {
	sorted := make([]NodeSpec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Type < sorted[j].Type })

	var b strings.Builder
	for _, s := range sorted {
		fmt.Fprintf(&b, "- %s: %s\n", s.Type, s.Description)
		if len(s.Params) > 0 {
			b.WriteString("  params:")
			for i, p := range s.Params {
				if i > 0 {
					b.WriteString(";")
				}
				fmt.Fprintf(&b, " %s (%s", p.Name, p.Kind)
				if p.Required {
					b.WriteString(", required")
				}
				b.WriteString(")")
				if p.Doc != "" {
					fmt.Fprintf(&b, " %s", p.Doc)
				}
			}
			b.WriteString("\n")
		}
		if len(s.Outputs) > 0 {
			b.WriteString("  outputs:")
			for i, o := range s.Outputs {
				if i > 0 {
					b.WriteString(";")
				}
				fmt.Fprintf(&b, " %s", o.Name)
				if o.Doc != "" {
					fmt.Fprintf(&b, " - %s", o.Doc)
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
