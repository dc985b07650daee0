// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refs

import (
	"errors"
	"fmt"
	"sort"
)

// ===== Sentinel Errors =====

var (
	// ErrUnknownID indicates a reference to an id the store never saw.
	ErrUnknownID = errors.New("unknown node id")

	// ErrMissingField indicates a field absent from a mapping.
	ErrMissingField = errors.New("missing field")

	// ErrNotMapping indicates field access on a non-mapping value.
	ErrNotMapping = errors.New("field access on non-mapping")

	// ErrNotSequence indicates index or wildcard access on a
	// non-sequence value.
	ErrNotSequence = errors.New("index access on non-sequence")

	// ErrIndexRange indicates an index outside the sequence bounds.
	ErrIndexRange = errors.New("index out of range")
)

// Source provides read access to upstream node outputs during
// resolution. The run's output store implements it.
type Source interface {
	Output(id string) (any, bool)
}

// SourceFunc adapts a lookup function to the Source interface.
type SourceFunc func(id string) (any, bool)

func (f SourceFunc) Output(id string) (any, bool) { return f(id) }

var _ Source = (SourceFunc)(nil)

// Resolve evaluates a parsed reference against src.
//
// Description:
//
//	The root id selects the upstream output object; path steps then
//	navigate it. Field steps require a mapping, index steps a sequence
//	with the index in bounds (negative indexes count from the end), and
//	wildcard steps flat-map the remaining path over a sequence: element
//	results that are themselves sequences splice in, scalars append.
//	Each wildcard flattens exactly one level.
//
// Outputs:
//   - any: The resolved value. Callers that retain it across executor
//     boundaries should deep-copy via Copy.
//   - error: A resolution failure naming the reference and the step
//     that failed.
func Resolve(r *Ref, src Source) (any, error) {
	root, ok := src.Output(r.ID)
	if !ok {
		return nil, fmt.Errorf("%s: %w %q", r.raw, ErrUnknownID, r.ID)
	}
	v, err := walk(root, r.Steps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.raw, err)
	}
	return v, nil
}

func walk(cur any, steps []Step) (any, error) {
	for k, st := range steps {
		switch st.Kind {
		case StepField:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: .%s on %T", ErrNotMapping, st.Field, cur)
			}
			v, ok := m[st.Field]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingField, st.Field)
			}
			cur = v
		case StepIndex:
			seq, ok := asSequence(cur)
			if !ok {
				return nil, fmt.Errorf("%w: [%d] on %T", ErrNotSequence, st.Index, cur)
			}
			i := st.Index
			if i < 0 {
				i += len(seq)
			}
			if i < 0 || i >= len(seq) {
				return nil, fmt.Errorf("%w: [%d] with length %d", ErrIndexRange, st.Index, len(seq))
			}
			cur = seq[i]
		case StepWildcard:
			seq, ok := asSequence(cur)
			if !ok {
				return nil, fmt.Errorf("%w: [*] on %T", ErrNotSequence, cur)
			}
			out := make([]any, 0, len(seq))
			for _, elem := range seq {
				v, err := walk(elem, steps[k+1:])
				if err != nil {
					return nil, err
				}
				if vs, ok := v.([]any); ok {
					out = append(out, vs...)
				} else {
					out = append(out, v)
				}
			}
			return out, nil
		}
	}
	return cur, nil
}

func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// ResolveValue walks an arbitrary parameter value, substituting every
// reference string and recursing into mappings and sequences. Literals
// pass through unchanged. Substituted values are deep copies, so
// executors can never alias upstream store entries.
func ResolveValue(v any, src Source) (any, error) {
	switch tv := v.(type) {
	case string:
		ref, ok := Parse(tv)
		if !ok {
			return tv, nil
		}
		resolved, err := Resolve(ref, src)
		if err != nil {
			return nil, err
		}
		return Copy(resolved), nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, elem := range tv {
			r, err := ResolveValue(elem, src)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			r, err := ResolveValue(elem, src)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveParams resolves a full parameter mapping into a fresh frame.
func ResolveParams(params map[string]any, src Source) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, v := range params {
		r, err := ResolveValue(v, src)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		out[name] = r
	}
	return out, nil
}

// ReferencedIDs collects the distinct root ids referenced anywhere in
// v, sorted. The validator uses this for implicit edge inference.
func ReferencedIDs(v any) []string {
	set := make(map[string]struct{})
	collectIDs(v, set)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func collectIDs(v any, set map[string]struct{}) {
	switch tv := v.(type) {
	case string:
		if ref, ok := Parse(tv); ok {
			set[ref.ID] = struct{}{}
		}
	case map[string]any:
		for _, elem := range tv {
			collectIDs(elem, set)
		}
	case []any:
		for _, elem := range tv {
			collectIDs(elem, set)
		}
	}
}

// Copy deep-copies the JSON-shaped value graph. Mappings and sequences
// are cloned recursively; scalars are returned as-is.
func Copy(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, elem := range tv {
			out[k] = Copy(elem)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = Copy(elem)
		}
		return out
	case []string:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = elem
		}
		return out
	default:
		return v
	}
}
