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
	"reflect"
	"testing"
)

func TestParse_References(t *testing.T) {
	tests := []struct {
		in    string
		id    string
		steps []Step
	}{
		{"$a", "a", nil},
		{"$node_1", "node_1", nil},
		{"$a.result", "a", []Step{{Kind: StepField, Field: "result"}}},
		{"$a.b.c", "a", []Step{
			{Kind: StepField, Field: "b"},
			{Kind: StepField, Field: "c"},
		}},
		{"$a.items[0]", "a", []Step{
			{Kind: StepField, Field: "items"},
			{Kind: StepIndex, Index: 0},
		}},
		{"$a.items[-1]", "a", []Step{
			{Kind: StepField, Field: "items"},
			{Kind: StepIndex, Index: -1},
		}},
		{"$search.results[*].link", "search", []Step{
			{Kind: StepField, Field: "results"},
			{Kind: StepWildcard},
			{Kind: StepField, Field: "link"},
		}},
		{"$a[2].name", "a", []Step{
			{Kind: StepIndex, Index: 2},
			{Kind: StepField, Field: "name"},
		}},
		{"$loop.item", "loop", []Step{{Kind: StepField, Field: "item"}}},
		{"$a.b[*][*]", "a", []Step{
			{Kind: StepField, Field: "b"},
			{Kind: StepWildcard},
			{Kind: StepWildcard},
		}},
	}
	for _, tc := range tests {
		ref, ok := Parse(tc.in)
		if !ok {
			t.Fatalf("Parse(%q) = not a reference, want reference", tc.in)
		}
		if ref.ID != tc.id {
			t.Errorf("Parse(%q).ID = %q, want %q", tc.in, ref.ID, tc.id)
		}
		if !reflect.DeepEqual(ref.Steps, tc.steps) {
			t.Errorf("Parse(%q).Steps = %+v, want %+v", tc.in, ref.Steps, tc.steps)
		}
		if ref.String() != tc.in {
			t.Errorf("Parse(%q).String() = %q", tc.in, ref.String())
		}
	}
}

func TestParse_Literals(t *testing.T) {
	literals := []string{
		"",
		"$",
		"plain text",
		"a$b",
		"$ a",
		"$a hello",
		"price is $5.50",
		"$5.50",
		"$a.",
		"$a..b",
		"$a.b[",
		"$a.b[1",
		"$a.b[x]",
		"$a.b[1.5]",
		"$a.b[**]",
		"$a-b",
		"$a.b c",
	}
	for _, in := range literals {
		if ref, ok := Parse(in); ok {
			t.Errorf("Parse(%q) = %+v, want literal", in, ref)
		}
	}
}
