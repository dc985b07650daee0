// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodes

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
)

// testRegistry builds a frozen-style registry with every builtin
// registered against the given dependencies.
func testRegistry(t *testing.T, deps Deps) *catalog.Registry {
	t.Helper()
	if deps.FilesRoot == "" {
		deps.FilesRoot = t.TempDir()
	}
	reg := catalog.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, deps))
	return reg
}

// executeNode drives one invocation through the registered factory and
// returns the terminal update.
func executeNode(t *testing.T, reg *catalog.Registry, nodeType string, params map[string]any) catalog.Update {
	t.Helper()
	return executeNodeCtx(t, context.Background(), reg, nodeType, params)
}

func executeNodeCtx(t *testing.T, ctx context.Context, reg *catalog.Registry, nodeType string, params map[string]any) catalog.Update {
	t.Helper()
	_, factory, err := reg.Lookup(nodeType)
	require.NoError(t, err)
	ex, err := factory()
	require.NoError(t, err)

	var last catalog.Update
	for u := range ex.Execute(ctx, catalog.Invocation{NodeID: "n1", Type: nodeType, Params: params}) {
		last = u
	}
	require.True(t, last.Status.Terminal(), "executor must end on a terminal update")
	return last
}

// outputMap asserts the update completed and returns its output mapping.
func outputMap(t *testing.T, u catalog.Update) map[string]any {
	t.Helper()
	require.Equal(t, catalog.StatusCompleted, u.Status, "failure: %v", u.Failure)
	out, ok := u.Data.(map[string]any)
	require.True(t, ok, "output is %T, want map", u.Data)
	return out
}

// failureKind asserts the update failed and returns the failure kind.
func failureKind(t *testing.T, u catalog.Update) catalog.ErrorKind {
	t.Helper()
	require.Equal(t, catalog.StatusFailed, u.Status)
	require.NotNil(t, u.Failure)
	return u.Failure.Kind
}

func TestRegisterBuiltins_CatalogComplete(t *testing.T) {
	reg := testRegistry(t, Deps{})

	want := []string{
		"add", "chat", "echo", "file_read", "file_write", "gcs_upload",
		"http_request", "index_build", "index_query", "influx_write",
		"kv_delete", "kv_get", "kv_put", "multiply", "python_execute",
		"sleep", "template", "terminal", "text_concat", "text_replace",
		"web_search",
	}
	got := make([]string, 0, reg.Len())
	for _, spec := range reg.List() {
		got = append(got, spec.Type)
	}
	assert.Equal(t, want, got)
}

func TestRegisterBuiltins_PolicyFlags(t *testing.T) {
	reg := testRegistry(t, Deps{})

	for _, retryable := range []string{"http_request", "web_search", "chat", "index_build", "index_query", "gcs_upload", "influx_write"} {
		spec, ok := reg.Spec(retryable)
		require.True(t, ok, retryable)
		assert.True(t, spec.Retryable, "%s should be retryable", retryable)
		assert.False(t, spec.Isolated, "%s should not be isolated", retryable)
	}
	for _, isolated := range []string{"terminal", "python_execute"} {
		spec, ok := reg.Spec(isolated)
		require.True(t, ok, isolated)
		assert.True(t, spec.Isolated, "%s should be isolated", isolated)
		assert.False(t, spec.Retryable, "%s should not be retryable", isolated)
	}
}

func TestRegisterBuiltins_SpecsSelfValidate(t *testing.T) {
	reg := testRegistry(t, Deps{})
	for _, spec := range reg.List() {
		assert.NoError(t, spec.Validate(), spec.Type)
	}
}

func TestRegisterBuiltins_NilRegistry(t *testing.T) {
	require.Error(t, RegisterBuiltins(nil, Deps{}))
}

func TestLoopSpec(t *testing.T) {
	spec := LoopSpec()
	require.NoError(t, spec.Validate())
	assert.Equal(t, "loop_node", spec.Type)

	body, ok := spec.Param("workflow_json")
	require.True(t, ok)
	assert.True(t, body.Opaque, "the loop body must be opaque to reference scanning")
	assert.True(t, body.Required)
}

func TestStringParam(t *testing.T) {
	got, err := stringParam(map[string]any{"name": "hello"}, "name")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = stringParam(map[string]any{"name": 42}, "name")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	_, err = stringParam(map[string]any{}, "name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `param "name"`)

	_, err = stringParam(map[string]any{"name": map[string]any{}}, "name")
	require.Error(t, err)
}

func TestOptionalParams(t *testing.T) {
	s, err := optionalString(map[string]any{}, "sep", "-")
	require.NoError(t, err)
	assert.Equal(t, "-", s)

	f, err := optionalFloat(map[string]any{}, "temperature", 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.7, f)

	f, err = optionalFloat(map[string]any{"temperature": "0.2"}, "temperature", 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.2, f)

	n, err := intParam(map[string]any{}, "limit", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = intParam(map[string]any{"limit": float64(9)}, "limit", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	b, err := boolParam(map[string]any{}, "flag", true)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = intParam(map[string]any{"limit": "many"}, "limit", 5)
	require.Error(t, err)
}

func TestMappingParam(t *testing.T) {
	m, err := mappingParam(map[string]any{}, "values")
	require.NoError(t, err)
	assert.Empty(t, m)

	m, err = mappingParam(map[string]any{"values": map[string]any{"a": 1}}, "values")
	require.NoError(t, err)
	assert.Equal(t, 1, m["a"])

	_, err = mappingParam(map[string]any{"values": "not a map"}, "values")
	require.Error(t, err)
}

func TestContentText(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "plain", "plain"},
		{"number", float64(42), "42"},
		{"bool", true, "true"},
		{"nil", nil, ""},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
		{"slice", []any{"x", "y"}, `["x","y"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := contentText(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSandboxPath(t *testing.T) {
	root := t.TempDir()

	got, err := sandboxPath(root, "notes/report.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "notes", "report.txt"), got)

	for _, escape := range []string{"../evil", "/etc/passwd", "a/../../b", ".."} {
		_, err := sandboxPath(root, escape)
		require.Error(t, err, escape)

		var fail *catalog.Failure
		require.True(t, errors.As(err, &fail), escape)
		assert.Equal(t, catalog.FailValidation, fail.Kind, escape)
	}
}
