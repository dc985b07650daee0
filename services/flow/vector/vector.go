// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector wraps the Weaviate client behind the index_build and
// index_query nodes.
//
// A nil *Index degrades every operation to ErrNotConfigured, so
// deployments without a vector store still register the index nodes
// and fail them with a typed, explainable error instead of panicking.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutianflow.vector")

var (
	// ErrNotConfigured is returned when no vector store was configured.
	ErrNotConfigured = errors.New("vector store not configured")

	// ErrUnavailable is returned when Weaviate is not reachable.
	// Callers treat it as transient.
	ErrUnavailable = errors.New("vector store unavailable")
)

// Config configures the index.
type Config struct {
	// URL is the Weaviate server URL (e.g. "http://localhost:8080").
	URL string

	// Class is the Weaviate class holding indexed chunks.
	Class string

	// Vectorizer is the Weaviate vectorizer module for the class.
	Vectorizer string

	// Timeout bounds each Weaviate operation.
	Timeout time.Duration

	// Logger for index operations.
	Logger *slog.Logger
}

const (
	defaultClass      = "FlowChunk"
	defaultVectorizer = "text2vec-transformers"
	defaultTimeout    = 10 * time.Second
)

// Match is one query hit.
type Match struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Index is a thin, typed facade over one Weaviate class.
//
// Thread Safety: safe for concurrent use.
type Index struct {
	client     *weaviate.Client
	class      string
	vectorizer string
	timeout    time.Duration
	logger     *slog.Logger
}

// New builds an Index against the configured Weaviate server. It does
// not touch the network; call Health or EnsureClass for that.
func New(cfg Config) (*Index, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Class == "" {
		cfg.Class = defaultClass
	}
	if cfg.Vectorizer == "" {
		cfg.Vectorizer = defaultVectorizer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wcfg := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	if rest, ok := strings.CutPrefix(cfg.URL, "https://"); ok {
		wcfg.Scheme = "https"
		wcfg.Host = rest
	} else if rest, ok := strings.CutPrefix(cfg.URL, "http://"); ok {
		wcfg.Host = rest
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Index{
		client:     client,
		class:      cfg.Class,
		vectorizer: cfg.Vectorizer,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger.With(slog.String("component", "vector_index")),
	}, nil
}

// Class returns the Weaviate class this index writes to.
func (ix *Index) Class() string {
	if ix == nil {
		return ""
	}
	return ix.class
}

// Health reports whether Weaviate answers its ready check.
func (ix *Index) Health(ctx context.Context) error {
	if ix == nil {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	ready, err := ix.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return classify(err)
	}
	if !ready {
		return ErrUnavailable
	}
	return nil
}

// EnsureClass creates the chunk class if it does not exist yet.
//
// Description:
//
//	The class getter errors for missing classes; on error the class is
//	created with a content property (word tokenization, searched) and a
//	source property (field tokenization, filterable).
func (ix *Index) EnsureClass(ctx context.Context) error {
	if ix == nil {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	_, err := ix.client.Schema().ClassGetter().WithClassName(ix.class).Do(ctx)
	if err == nil {
		return nil
	}

	indexFilterable := new(bool)
	*indexFilterable = true
	class := &models.Class{
		Class:       ix.class,
		Description: "A chunk of text indexed by the index_build node.",
		Vectorizer:  ix.vectorizer,
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Where the chunk came from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
	if err := ix.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return classify(fmt.Errorf("create class %s: %w", ix.class, err))
	}
	ix.logger.Info("created weaviate class", slog.String("class", ix.class))
	return nil
}

// IndexChunks batch-imports chunks under one source label.
//
// Outputs:
//   - int: Number of chunks Weaviate accepted.
//   - error: ErrNotConfigured, ErrUnavailable, or a batch failure.
func (ix *Index) IndexChunks(ctx context.Context, source string, chunks []string) (int, error) {
	if ix == nil {
		return 0, ErrNotConfigured
	}
	ctx, span := tracer.Start(ctx, "Index.IndexChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("vector.class", ix.class),
		attribute.Int("vector.chunks", len(chunks)),
	)
	if len(chunks) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class: ix.class,
			Properties: map[string]interface{}{
				"content": chunk,
				"source":  source,
			},
		}
	}

	result, err := ix.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return 0, classify(fmt.Errorf("batch import: %w", err))
	}

	indexed := 0
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors == nil {
			indexed++
		}
	}
	ix.logger.Debug("indexed chunks",
		slog.String("class", ix.class),
		slog.String("source", source),
		slog.Int("indexed", indexed))
	return indexed, nil
}

// Query runs a nearText search over the chunk class.
//
// Outputs:
//   - []Match: Hits with certainty as the score, best first.
//   - error: ErrNotConfigured, ErrUnavailable, or a GraphQL failure.
func (ix *Index) Query(ctx context.Context, query string, limit int) ([]Match, error) {
	if ix == nil {
		return nil, ErrNotConfigured
	}
	ctx, span := tracer.Start(ctx, "Index.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("vector.class", ix.class),
		attribute.Int("vector.limit", limit),
	)
	if limit <= 0 {
		limit = 5
	}

	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	nearText := ix.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { certainty }"},
	}

	result, err := ix.client.GraphQL().Get().
		WithClassName(ix.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, classify(fmt.Errorf("near-text query: %w", err))
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("near-text query: %s", result.Errors[0].Message)
	}

	return parseMatches(result, ix.class), nil
}

// parseMatches unpacks the untyped GraphQL response. Malformed objects
// are skipped rather than failing the whole query.
func parseMatches(result *models.GraphQLResponse, class string) []Match {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Match{}
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return []Match{}
	}

	matches := make([]Match, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		match := Match{}
		if content, ok := m["content"].(string); ok {
			match.Content = content
		}
		if source, ok := m["source"].(string); ok {
			match.Source = source
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				match.Score = certainty
			}
		}
		matches = append(matches, match)
	}
	return matches
}

// classify maps connection-level failures to ErrUnavailable so callers
// can retry them, leaving application errors untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
