// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
version: "1.2.0"
nodes:
  - type: chat
    name: Chat
    description: Sends a prompt to the configured language model.
    retryable: true
    timeout_seconds: 90
    params:
      - name: prompt
        kind: string
        required: true
        doc: prompt text
      - name: temperature
        kind: float
        default: 0.2
    outputs:
      - name: response
        doc: model reply text
  - type: echo
    params:
      - name: value
        kind: any
        required: true
`

func TestParse_ValidCatalog(t *testing.T) {
	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", f.Version)
	require.Len(t, f.Nodes, 2)

	chat, ok := f.Entry("chat")
	require.True(t, ok)
	require.NotNil(t, chat.Retryable)
	assert.True(t, *chat.Retryable)
	assert.Equal(t, 90, chat.TimeoutSecs)
	require.Len(t, chat.Params, 2)
	assert.Equal(t, 0.2, chat.Params[1].Default)

	_, ok = f.Entry("terminal")
	assert.False(t, ok)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing version", "nodes:\n  - type: echo\n"},
		{"bad semver", "version: \"one point two\"\nnodes:\n  - type: echo\n"},
		{"no nodes", "version: \"1.0.0\"\nnodes: []\n"},
		{"missing type", "version: \"1.0.0\"\nnodes:\n  - name: Echo\n"},
		{"unknown kind", "version: \"1.0.0\"\nnodes:\n  - type: echo\n    params:\n      - name: v\n        kind: blob\n"},
		{"duplicate type", "version: \"1.0.0\"\nnodes:\n  - type: echo\n  - type: echo\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_AcceptsVPrefixedVersion(t *testing.T) {
	_, err := Parse([]byte("version: \"v2.0.0\"\nnodes:\n  - type: echo\n"))
	assert.NoError(t, err)
}

func TestMerge_OverlaysOntoBase(t *testing.T) {
	base := NodeSpec{
		Type:        "chat",
		Name:        "Chat",
		Description: "builtin description",
		Retryable:   true,
		Params:      []ParamSpec{{Name: "prompt", Kind: KindString, Required: true}},
	}
	retryable := false
	merged := Merge(base, Entry{
		Description: "site override",
		Retryable:   &retryable,
		TimeoutSecs: 120,
	})
	assert.Equal(t, "site override", merged.Description)
	assert.False(t, merged.Retryable)
	assert.Equal(t, 120*time.Second, merged.Timeout)
	assert.Equal(t, "Chat", merged.Name)
	require.Len(t, merged.Params, 1)
	assert.Equal(t, "prompt", merged.Params[0].Name)
}

func TestMerge_ZeroEntryKeepsBase(t *testing.T) {
	base := NodeSpec{Type: "echo", Name: "Echo", Timeout: 5 * time.Second}
	merged := Merge(base, Entry{Type: "echo"})
	assert.Equal(t, base, merged)
}

func TestApplyFile_OverlaysRegisteredTypes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NodeSpec{
		Type: "chat",
		Params: []ParamSpec{
			{Name: "prompt", Kind: KindString, Required: true},
			{Name: "temperature", Kind: KindFloat},
		},
	}, noopFactory))
	require.NoError(t, reg.Register(NodeSpec{
		Type:   "echo",
		Params: []ParamSpec{{Name: "value", Kind: KindAny, Required: true}},
	}, noopFactory))

	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.NoError(t, ApplyFile(reg, f))

	chat, ok := reg.Spec("chat")
	require.True(t, ok)
	assert.True(t, chat.Retryable)
	assert.Equal(t, 90*time.Second, chat.Timeout)
	assert.Equal(t, "Sends a prompt to the configured language model.", chat.Description)

	// The factory survives the overlay.
	_, factory, err := reg.Lookup("chat")
	require.NoError(t, err)
	assert.NotNil(t, factory)
}

func TestApplyFile_UnknownTypeRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NodeSpec{Type: "echo"}, noopFactory))

	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	err = ApplyFile(reg, f)
	require.ErrorIs(t, err, ErrUnknownType)
	assert.Contains(t, err.Error(), "chat")
}

func TestApplyFile_FrozenRegistryRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NodeSpec{Type: "echo"}, noopFactory))
	require.NoError(t, reg.Register(NodeSpec{Type: "chat"}, noopFactory))
	reg.Freeze()

	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	assert.ErrorIs(t, ApplyFile(reg, f), ErrFrozen)
}
