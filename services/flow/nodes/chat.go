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
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/llm"
)

const defaultChatTemperature = 0.7

func registerChat(reg *catalog.Registry, deps Deps) error {
	chat := func(ctx context.Context, params map[string]any) (any, error) {
		return runChat(ctx, deps.LLM, params)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "chat",
		Name:        "Chat",
		Description: "Sends a question to the language model and returns its response.",
		Params: []catalog.ParamSpec{
			{Name: "user_question", Kind: catalog.KindString, Required: true, Doc: "Question or instruction for the model."},
			{Name: "system_prompt", Kind: catalog.KindString, Doc: "Overrides the model persona."},
			{Name: "temperature", Kind: catalog.KindFloat, Default: defaultChatTemperature, Doc: "Sampling temperature."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "response", Doc: "Model response text."},
		},
		Retryable: true,
	}, catalog.FuncFactory(chat))
}

func runChat(ctx context.Context, client llm.Client, params map[string]any) (any, error) {
	if client == nil {
		return nil, catalog.Permanent(fmt.Errorf("chat is not configured: no llm client"))
	}
	question, err := stringParam(params, "user_question")
	if err != nil {
		return nil, err
	}
	system, err := optionalString(params, "system_prompt", "")
	if err != nil {
		return nil, err
	}
	temperature, err := optionalFloat(params, "temperature", defaultChatTemperature)
	if err != nil {
		return nil, err
	}

	temp := float32(temperature)
	response, err := client.Generate(ctx, question, llm.Params{
		System:      system,
		Temperature: &temp,
	})
	if err != nil {
		return nil, classifyLLM(err)
	}
	return map[string]any{"response": response}, nil
}

// classifyLLM maps backend failures onto retry classes: rate limits,
// 5xx, and transport errors retry; other API rejections do not.
func classifyLLM(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return catalog.Transient(err)
		}
		return catalog.Permanent(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return catalog.Transient(err)
}
