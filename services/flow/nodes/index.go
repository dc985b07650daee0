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

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/vector"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

func registerIndex(reg *catalog.Registry, deps Deps) error {
	build := func(ctx context.Context, params map[string]any) (any, error) {
		return runIndexBuild(ctx, deps.Vector, params)
	}
	if err := reg.Register(catalog.NodeSpec{
		Type:        "index_build",
		Name:        "Index Build",
		Description: "Splits text into chunks and indexes them in the vector store.",
		Params: []catalog.ParamSpec{
			{Name: "text", Kind: catalog.KindString, Required: true, Doc: "Text to index."},
			{Name: "source", Kind: catalog.KindString, Default: "inline", Doc: "Source label stored with each chunk."},
			{Name: "chunk_size", Kind: catalog.KindInteger, Default: defaultChunkSize, Doc: "Target characters per chunk."},
			{Name: "chunk_overlap", Kind: catalog.KindInteger, Default: defaultChunkOverlap, Doc: "Characters shared between adjacent chunks."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "indexed", Doc: "Number of chunks stored."},
			{Name: "chunks", Doc: "Number of chunks produced by the splitter."},
			{Name: "class", Doc: "Vector class the chunks went into."},
		},
		Retryable: true,
	}, catalog.FuncFactory(build)); err != nil {
		return err
	}

	query := func(ctx context.Context, params map[string]any) (any, error) {
		return runIndexQuery(ctx, deps.Vector, params)
	}
	return reg.Register(catalog.NodeSpec{
		Type:        "index_query",
		Name:        "Index Query",
		Description: "Finds the chunks most similar to a query in the vector store.",
		Params: []catalog.ParamSpec{
			{Name: "query", Kind: catalog.KindString, Required: true, Doc: "Search text."},
			{Name: "limit", Kind: catalog.KindInteger, Default: 5, Doc: "Maximum matches to return."},
		},
		Outputs: []catalog.OutputSpec{
			{Name: "matches", Doc: "Matches: {content, source, score}."},
			{Name: "count", Doc: "Number of matches returned."},
		},
		Retryable: true,
	}, catalog.FuncFactory(query))
}

func runIndexBuild(ctx context.Context, idx *vector.Index, params map[string]any) (any, error) {
	text, err := stringParam(params, "text")
	if err != nil {
		return nil, err
	}
	source, err := optionalString(params, "source", "inline")
	if err != nil {
		return nil, err
	}
	chunkSize, err := intParam(params, "chunk_size", defaultChunkSize)
	if err != nil {
		return nil, err
	}
	chunkOverlap, err := intParam(params, "chunk_overlap", defaultChunkOverlap)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, catalog.Invalid(fmt.Errorf("chunk_overlap %d must be smaller than chunk_size %d, both positive", chunkOverlap, chunkSize))
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(int(chunkSize)),
		textsplitter.WithChunkOverlap(int(chunkOverlap)),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, catalog.Invalid(fmt.Errorf("split text: %w", err))
	}

	if err := idx.EnsureClass(ctx); err != nil {
		return nil, classifyVector(err)
	}
	indexed, err := idx.IndexChunks(ctx, source, chunks)
	if err != nil {
		return nil, classifyVector(err)
	}
	return map[string]any{
		"indexed": indexed,
		"chunks":  len(chunks),
		"class":   idx.Class(),
	}, nil
}

func runIndexQuery(ctx context.Context, idx *vector.Index, params map[string]any) (any, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(params, "limit", 5)
	if err != nil {
		return nil, err
	}

	found, err := idx.Query(ctx, query, int(limit))
	if err != nil {
		return nil, classifyVector(err)
	}

	// Matches convert to plain maps so downstream references can walk
	// into them by path.
	matches := make([]any, 0, len(found))
	for _, m := range found {
		matches = append(matches, map[string]any{
			"content": m.Content,
			"source":  m.Source,
			"score":   m.Score,
		})
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}

// classifyVector keeps transient store outages retryable while
// configuration gaps fail the node outright.
func classifyVector(err error) error {
	switch {
	case errors.Is(err, vector.ErrUnavailable):
		return catalog.Transient(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return catalog.Permanent(err)
	}
}
