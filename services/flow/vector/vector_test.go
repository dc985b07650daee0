// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew_Defaults(t *testing.T) {
	ix, err := New(Config{URL: "http://localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, defaultClass, ix.Class())
}

func TestNilIndex_Degrades(t *testing.T) {
	var ix *Index
	ctx := context.Background()

	assert.Equal(t, "", ix.Class())
	assert.ErrorIs(t, ix.Health(ctx), ErrNotConfigured)
	assert.ErrorIs(t, ix.EnsureClass(ctx), ErrNotConfigured)

	_, err := ix.IndexChunks(ctx, "src", []string{"a"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = ix.Query(ctx, "q", 5)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIndexChunks_EmptyIsNoop(t *testing.T) {
	ix, err := New(Config{URL: "http://localhost:8080"})
	require.NoError(t, err)

	// No network call happens for an empty batch.
	n, err := ix.IndexChunks(context.Background(), "src", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseMatches(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"FlowChunk": []interface{}{
					map[string]interface{}{
						"content": "first chunk",
						"source":  "doc.md",
						"_additional": map[string]interface{}{
							"certainty": 0.91,
						},
					},
					map[string]interface{}{
						"content": "second chunk",
						"source":  "doc.md",
					},
					"malformed entry",
				},
			},
		},
	}

	matches := parseMatches(resp, "FlowChunk")
	require.Len(t, matches, 2)
	assert.Equal(t, Match{Content: "first chunk", Source: "doc.md", Score: 0.91}, matches[0])
	assert.Equal(t, Match{Content: "second chunk", Source: "doc.md"}, matches[1])
}

func TestParseMatches_EmptyResponse(t *testing.T) {
	assert.Empty(t, parseMatches(&models.GraphQLResponse{}, "FlowChunk"))
}

func TestClassify(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.ErrorIs(t, classify(opErr), ErrUnavailable)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), ErrUnavailable)

	appErr := errors.New("class already exists")
	assert.NotErrorIs(t, classify(appErr), ErrUnavailable)
	assert.NoError(t, classify(nil))
}
