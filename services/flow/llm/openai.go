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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFlow/services/flow/secrets"
)

var tracer = otel.Tracer("aleutianflow.llm")

const (
	// DefaultModel is used when neither configuration nor OPENAI_MODEL
	// names one.
	DefaultModel = "gpt-4o-mini"

	// APIKeySecret is the canonical secret name the client resolves:
	// OPENAI_API_KEY in the environment or openai_api_key under the
	// secrets directory.
	APIKeySecret = "openai_api_key"

	defaultPersona = "You are a helpful assistant."
)

// OpenAIClient implements Client against the OpenAI chat completion
// API. A token-bucket limiter gates outbound calls so parallel chat
// nodes inside one workflow cannot trip the account rate limit.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Client = (*OpenAIClient)(nil)

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithModel overrides the model name.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAIClient) {
		if model != "" {
			o.model = model
		}
	}
}

// WithRateLimit replaces the default limiter (2 requests/s, burst 4).
func WithRateLimit(rps float64, burst int) OpenAIOption {
	return func(o *OpenAIClient) { o.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(o *OpenAIClient) { o.logger = logger }
}

// NewOpenAIClient builds a client with the API key resolved through the
// secret store.
//
// Outputs:
//   - *OpenAIClient: Ready for requests.
//   - error: Non-nil when the key cannot be resolved.
func NewOpenAIClient(store *secrets.Store, opts ...OpenAIOption) (*OpenAIClient, error) {
	key, err := store.Reveal(APIKeySecret)
	if err != nil {
		return nil, fmt.Errorf("resolve openai api key: %w", err)
	}

	c := &OpenAIClient{
		model:   os.Getenv("OPENAI_MODEL"),
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		c.model = DefaultModel
		c.logger.Warn("no model configured, using default", slog.String("model", DefaultModel))
	}
	c.client = openai.NewClient(key)
	c.logger.Info("initialized OpenAI client", slog.String("model", c.model))
	return c, nil
}

// Generate implements Client.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(prompt, p, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("openai call failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	o.logger.Debug("openai response received",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements Client.
func (o *OpenAIClient) GenerateStream(ctx context.Context, prompt string, p Params, fn func(chunk string) error) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(prompt, p, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("openai chat stream: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("openai stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return err
		}
	}
}

func (o *OpenAIClient) buildRequest(prompt string, p Params, stream bool) openai.ChatCompletionRequest {
	system := p.System
	if system == "" {
		system = defaultPersona
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: stream,
	}
	if p.Temperature != nil {
		req.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		req.MaxCompletionTokens = *p.MaxTokens
	}
	if p.TopP != nil {
		req.TopP = *p.TopP
	}
	if len(p.Stop) > 0 {
		req.Stop = p.Stop
	}
	return req
}
