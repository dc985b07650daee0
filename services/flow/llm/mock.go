// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"strings"
	"sync"
)

// ScriptStep is one scripted turn of a MockClient. Exactly one of
// Response and Err is consumed per call.
type ScriptStep struct {
	Response string
	Err      error
}

// Respond builds a successful script step.
func Respond(text string) ScriptStep { return ScriptStep{Response: text} }

// FailWith builds a failing script step.
func FailWith(err error) ScriptStep { return ScriptStep{Err: err} }

// MockRequest records one request a MockClient served.
type MockRequest struct {
	Prompt string
	Params Params
}

// MockClient replays a fixed script of responses. Tests drive the
// generator, agent, and chat node against it without a live backend.
//
// Thread Safety:
//   - Safe for concurrent use; steps are consumed in call order.
type MockClient struct {
	mu       sync.Mutex
	script   []ScriptStep
	pos      int
	requests []MockRequest
}

var _ Client = (*MockClient)(nil)

// NewMockClient builds a client that answers with steps in order and
// returns ErrScriptExhausted once they run out.
func NewMockClient(steps ...ScriptStep) *MockClient {
	return &MockClient{script: steps}
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	step, err := m.next(prompt, p)
	if err != nil {
		return "", err
	}
	if step.Err != nil {
		return "", step.Err
	}
	return step.Response, nil
}

// GenerateStream implements Client, splitting the scripted response
// into word-sized chunks.
func (m *MockClient) GenerateStream(ctx context.Context, prompt string, p Params, fn func(chunk string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	step, err := m.next(prompt, p)
	if err != nil {
		return err
	}
	if step.Err != nil {
		return step.Err
	}
	for _, chunk := range strings.SplitAfter(step.Response, " ") {
		if chunk == "" {
			continue
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Requests returns every request the client has seen, in call order.
func (m *MockClient) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// Prompts returns every prompt the client has seen, in call order.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Prompt
	}
	return out
}

// Calls returns how many requests the client has served.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockClient) next(prompt string, p Params) (ScriptStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, MockRequest{Prompt: prompt, Params: p})
	if m.pos >= len(m.script) {
		return ScriptStep{}, ErrScriptExhausted
	}
	step := m.script[m.pos]
	m.pos++
	return step, nil
}
