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
	"net"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/llm"
)

func TestChat(t *testing.T) {
	mock := llm.NewMockClient(llm.Respond("Paris."))
	reg := testRegistry(t, Deps{LLM: mock})

	out := outputMap(t, executeNode(t, reg, "chat", map[string]any{
		"user_question": "What is the capital of France?",
	}))
	assert.Equal(t, "Paris.", out["response"])

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "What is the capital of France?", reqs[0].Prompt)
	require.NotNil(t, reqs[0].Params.Temperature)
	assert.InDelta(t, defaultChatTemperature, float64(*reqs[0].Params.Temperature), 1e-6)
}

func TestChat_SystemPromptAndTemperature(t *testing.T) {
	mock := llm.NewMockClient(llm.Respond("aye"))
	reg := testRegistry(t, Deps{LLM: mock})

	outputMap(t, executeNode(t, reg, "chat", map[string]any{
		"user_question": "hello",
		"system_prompt": "You are a pirate.",
		"temperature":   0.1,
	}))

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are a pirate.", reqs[0].Params.System)
	require.NotNil(t, reqs[0].Params.Temperature)
	assert.InDelta(t, 0.1, float64(*reqs[0].Params.Temperature), 1e-6)
}

func TestChat_NotConfigured(t *testing.T) {
	reg := testRegistry(t, Deps{})

	u := executeNode(t, reg, "chat", map[string]any{"user_question": "hello"})
	assert.Equal(t, catalog.FailPermanentIO, failureKind(t, u))
	assert.Contains(t, u.Failure.Error(), "not configured")
}

func TestChat_MissingQuestion(t *testing.T) {
	mock := llm.NewMockClient()
	reg := testRegistry(t, Deps{LLM: mock})

	u := executeNode(t, reg, "chat", map[string]any{})
	assert.Equal(t, catalog.FailValidation, failureKind(t, u))
	assert.Zero(t, mock.Calls())
}

func TestClassifyLLM(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want catalog.ErrorKind
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, catalog.FailTransientIO},
		{"backend down", &openai.APIError{HTTPStatusCode: 503}, catalog.FailTransientIO},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, catalog.FailPermanentIO},
		{"auth rejected", &openai.APIError{HTTPStatusCode: 401}, catalog.FailPermanentIO},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, catalog.FailTransientIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyLLM(tt.err)

			var fail *catalog.Failure
			require.True(t, errors.As(got, &fail))
			assert.Equal(t, tt.want, fail.Kind)
		})
	}
}

func TestClassifyLLM_ContextErrorsPassThrough(t *testing.T) {
	assert.Equal(t, context.Canceled, classifyLLM(context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, classifyLLM(context.DeadlineExceeded))
}
