// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the workflow runtime over HTTP: chat admission
// with asynchronous pipelines, SSE and WebSocket event streaming,
// synchronous execution and validation, and the catalog listing. One
// Handlers value carries the shared runtime; RegisterRoutes mounts it
// on a gin router.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/llm"
)

var tracer = otel.Tracer("aleutianflow.server")

// DefaultMaxConcurrentRuns bounds admitted runs when Options does not
// say otherwise.
const DefaultMaxConcurrentRuns = 16

// Model names accepted by POST /v1/flow/chat.
const (
	// ModelWorkflow runs the one-shot designer pipeline.
	ModelWorkflow = "workflow"

	// ModelAgent runs the iterative plan-act-observe loop.
	ModelAgent = "agent"
)

// Options wires the runtime into the HTTP surface.
type Options struct {
	// Registry is the node catalog, frozen before serving.
	Registry *catalog.Registry

	// Scheduler executes validated plans.
	Scheduler *engine.Scheduler

	// Bus multiplexes run events to stream subscribers.
	Bus *events.Bus

	// Client is the language model backend. Nil disables the chat
	// pipelines; execution and validation keep working.
	Client llm.Client

	// MaxConcurrentRuns bounds runs admitted across chat and execute.
	// Zero or negative selects DefaultMaxConcurrentRuns.
	MaxConcurrentRuns int64

	// CancelOnFailure is passed through to every run.
	CancelOnFailure bool

	Logger *slog.Logger
}

// Handlers serves the flow API. Build with NewHandlers, mount with
// RegisterRoutes.
//
// Thread Safety: Safe for concurrent use; gin invokes handlers from
// many goroutines.
type Handlers struct {
	registry        *catalog.Registry
	sched           *engine.Scheduler
	bus             *events.Bus
	client          llm.Client
	gen             *llm.Generator
	sem             *semaphore.Weighted
	cancelOnFailure bool
	logger          *slog.Logger
}

// NewHandlers validates the wiring and builds the handler set.
func NewHandlers(opts Options) (*Handlers, error) {
	if opts.Registry == nil {
		return nil, errors.New("nil registry")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("nil scheduler")
	}
	if opts.Bus == nil {
		return nil, errors.New("nil event bus")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	maxRuns := opts.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = DefaultMaxConcurrentRuns
	}

	h := &Handlers{
		registry:        opts.Registry,
		sched:           opts.Scheduler,
		bus:             opts.Bus,
		client:          opts.Client,
		sem:             semaphore.NewWeighted(maxRuns),
		cancelOnFailure: opts.CancelOnFailure,
		logger:          logger,
	}
	if opts.Client != nil {
		gen, err := llm.NewGenerator(opts.Client, opts.Registry, logger)
		if err != nil {
			return nil, fmt.Errorf("build generator: %w", err)
		}
		h.gen = gen
	}
	return h, nil
}

// RegisterRoutes mounts the API on router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1/flow")
	{
		v1.POST("/chat", h.Chat)
		v1.GET("/stream/:chat_id", h.Stream)
		v1.GET("/stream/:chat_id/ws", h.StreamWS)
		v1.POST("/execute", h.Execute)
		v1.POST("/validate", h.ValidateWorkflow)
		v1.GET("/catalog", h.Catalog)
		v1.GET("/health", h.Health)
		v1.GET("/ready", h.Ready)
	}
}

// Catalog handles GET /v1/flow/catalog: the registered node specs,
// sorted by type name.
func (h *Handlers) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count": h.registry.Len(),
		"nodes": h.registry.List(),
	})
}

// Health handles GET /v1/flow/health: process liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready handles GET /v1/flow/ready: the catalog is loaded and frozen,
// so runs can be admitted.
func (h *Handlers) Ready(c *gin.Context) {
	if !h.registry.Frozen() || h.registry.Len() == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"nodes":  h.registry.Len(),
	})
}
