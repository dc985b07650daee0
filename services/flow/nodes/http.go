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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/secrets"
)

const (
	// SerperKeySecret is the secrets-store name for the serper.dev key.
	SerperKeySecret = "serper_api_key"

	serperEndpoint = "https://google.serper.dev/search"

	// maxResponseBytes caps how much of a response body a node will
	// buffer into the output store.
	maxResponseBytes = 4 << 20
)

func registerHTTP(reg *catalog.Registry, deps Deps) error {
	request := func(ctx context.Context, params map[string]any) (any, error) {
		return runHTTPRequest(ctx, deps.HTTP, params)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "http_request",
		Name:        "HTTP Request",
		Description: "Performs an HTTP request and returns the status, body, and decoded JSON when the response carries any.",
		Params: []catalog.ParamSpec{
			{Name: "url", Kind: catalog.KindString, Required: true, Doc: "Request URL."},
			{Name: "method", Kind: catalog.KindString, Default: "GET", Doc: "HTTP method."},
			{Name: "headers", Kind: catalog.KindMapping, Doc: "Request headers by name."},
			{Name: "body", Kind: catalog.KindAny, Doc: "Request body. Objects and arrays send as JSON."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "status", Doc: "HTTP status code."},
			{Name: "body", Doc: "Response body text."},
			{Name: "json", Doc: "Decoded body when the response is JSON."},
		},
		Retryable: true,
	}, catalog.FuncFactory(request)); err != nil {
		return err
	}

	search := func(ctx context.Context, params map[string]any) (any, error) {
		return runWebSearch(ctx, deps.HTTP, deps.Secrets, params)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "web_search",
		Name:        "Web Search",
		Description: "Searches the web and returns result titles, links, and snippets.",
		Params: []catalog.ParamSpec{
			{Name: "query", Kind: catalog.KindString, Required: true, Doc: "Search terms."},
			{Name: "max_results", Kind: catalog.KindInteger, Default: 10, Doc: "Result cap."},
			{Name: "country", Kind: catalog.KindString, Default: "us", Doc: "Country code for result ranking."},
			{Name: "language", Kind: catalog.KindString, Default: "en", Doc: "Result language code."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "results", Doc: "Search hits: {title, link, snippet}."},
			{Name: "count", Doc: "Number of hits returned."},
		},
		Retryable: true,
	}, catalog.FuncFactory(search))
}

// runHTTPRequest executes one request. Network failures and 5xx
// responses classify as transient so retryable workflows ride out
// flaky upstreams; 4xx responses are permanent.
func runHTTPRequest(ctx context.Context, client *http.Client, params map[string]any) (any, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}
	method, err := optionalString(params, "method", "GET")
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))

	var bodyReader io.Reader
	if raw, ok := params["body"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			bodyReader = strings.NewReader(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, catalog.Invalid(fmt.Errorf("param \"body\": %w", err))
			}
			bodyReader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("build request: %w", err))
	}
	headers, err := mappingParam(params, "headers")
	if err != nil {
		return nil, err
	}
	for name, value := range headers {
		req.Header.Set(name, renderValue(value))
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, catalog.Transient(fmt.Errorf("request %s %s: %w", method, url, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, catalog.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return nil, catalog.Transient(fmt.Errorf("%s %s returned status %s", method, url, resp.Status))
	}
	if resp.StatusCode >= 400 {
		return nil, catalog.Permanent(fmt.Errorf("%s %s returned status %s", method, url, resp.Status))
	}

	out := map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			out["json"] = decoded
		}
	}
	return out, nil
}

// serperResponse is the slice of the serper.dev payload the node uses.
type serperResponse struct {
	AnswerBox *struct {
		Title  string `json:"title"`
		Answer string `json:"answer"`
	} `json:"answerBox"`
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// runWebSearch queries serper.dev. The answer box, when present, leads
// the results with an empty link.
func runWebSearch(ctx context.Context, client *http.Client, store *secrets.Store, params map[string]any) (any, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, catalog.Invalid(fmt.Errorf("param \"query\": must not be empty"))
	}
	if store == nil {
		return nil, catalog.Permanent(fmt.Errorf("web search is not configured: no secrets store"))
	}
	apiKey, err := store.Reveal(SerperKeySecret)
	if err != nil {
		return nil, catalog.Permanent(fmt.Errorf("web search needs the %s secret: %w", SerperKeySecret, err))
	}

	maxResults, err := intParam(params, "max_results", 10)
	if err != nil {
		return nil, err
	}
	country, err := optionalString(params, "country", "us")
	if err != nil {
		return nil, err
	}
	language, err := optionalString(params, "language", "en")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"q": query, "gl": country, "hl": language, "num": maxResults,
	})
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("encode search payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("build search request: %w", err))
	}
	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, catalog.Transient(fmt.Errorf("search request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, catalog.Transient(fmt.Errorf("search returned status %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, catalog.Permanent(fmt.Errorf("search returned status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var data serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, catalog.Transient(fmt.Errorf("decode search response: %w", err))
	}

	results := make([]any, 0, len(data.Organic)+1)
	if data.AnswerBox != nil {
		results = append(results, map[string]any{
			"title":         data.AnswerBox.Title,
			"link":          "",
			"snippet":       data.AnswerBox.Answer,
			"is_answer_box": true,
		})
	}
	for _, hit := range data.Organic {
		results = append(results, map[string]any{
			"title":   hit.Title,
			"link":    hit.Link,
			"snippet": hit.Snippet,
		})
	}
	return map[string]any{"results": results, "count": len(results)}, nil
}
