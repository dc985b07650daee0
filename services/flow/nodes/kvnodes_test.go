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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/kv"
)

func kvRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return testRegistry(t, Deps{KV: store})
}

func TestKVPut_ThenGet(t *testing.T) {
	reg := kvRegistry(t)

	put := outputMap(t, executeNode(t, reg, "kv_put", map[string]any{
		"key": "answer", "value": map[string]any{"n": float64(42)},
	}))
	assert.Equal(t, "answer", put["key"])
	assert.Equal(t, true, put["stored"])

	got := outputMap(t, executeNode(t, reg, "kv_get", map[string]any{"key": "answer"}))
	assert.Equal(t, true, got["found"])
	assert.Equal(t, map[string]any{"n": float64(42)}, got["value"])
}

func TestKVGet_MissingWithDefault(t *testing.T) {
	reg := kvRegistry(t)

	got := outputMap(t, executeNode(t, reg, "kv_get", map[string]any{
		"key": "absent", "default": "fallback",
	}))
	assert.Equal(t, false, got["found"])
	assert.Equal(t, "fallback", got["value"])
}

func TestKVGet_MissingWithoutDefaultFails(t *testing.T) {
	reg := kvRegistry(t)

	u := executeNode(t, reg, "kv_get", map[string]any{"key": "absent"})
	assert.Equal(t, catalog.FailPermanentIO, failureKind(t, u))
	assert.Contains(t, u.Failure.Error(), "absent")
}

func TestKVDelete(t *testing.T) {
	reg := kvRegistry(t)

	outputMap(t, executeNode(t, reg, "kv_put", map[string]any{"key": "k", "value": "v"}))
	del := outputMap(t, executeNode(t, reg, "kv_delete", map[string]any{"key": "k"}))
	assert.Equal(t, true, del["deleted"])

	u := executeNode(t, reg, "kv_get", map[string]any{"key": "k"})
	assert.Equal(t, catalog.StatusFailed, u.Status)
}

func TestKVDelete_AbsentKeyIsNoop(t *testing.T) {
	reg := kvRegistry(t)

	del := outputMap(t, executeNode(t, reg, "kv_delete", map[string]any{"key": "never-stored"}))
	assert.Equal(t, true, del["deleted"])
}

func TestKVPut_NegativeTTLRejected(t *testing.T) {
	reg := kvRegistry(t)

	u := executeNode(t, reg, "kv_put", map[string]any{
		"key": "k", "value": "v", "ttl_seconds": -1,
	})
	assert.Equal(t, catalog.FailValidation, failureKind(t, u))
}

func TestKVNodes_NotConfigured(t *testing.T) {
	reg := testRegistry(t, Deps{})

	for _, nodeType := range []string{"kv_put", "kv_get", "kv_delete"} {
		params := map[string]any{"key": "k"}
		if nodeType == "kv_put" {
			params["value"] = "v"
		}
		u := executeNode(t, reg, nodeType, params)
		assert.Equal(t, catalog.FailPermanentIO, failureKind(t, u), nodeType)
		assert.Contains(t, u.Failure.Error(), "not configured", nodeType)
	}
}
