// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm abstracts chat-completion backends behind a small client
// interface and builds the workflow generator on top of it: natural
// language in, workflow documents and streamed narration out.
package llm

import "context"

// Params tunes one generation request. Nil pointer fields leave the
// backend default in place.
type Params struct {
	System      string   `json:"system,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Client is the interface any chat-completion backend implements.
//
// Thread Safety:
//   - Implementations must be safe for concurrent use; the server runs
//     many sessions against one client.
type Client interface {
	// Generate returns the complete response for prompt.
	Generate(ctx context.Context, prompt string, p Params) (string, error)

	// GenerateStream invokes fn once per response chunk, in order. A
	// non-nil error from fn aborts the stream and is returned as-is.
	GenerateStream(ctx context.Context, prompt string, p Params, fn func(chunk string) error) error
}
