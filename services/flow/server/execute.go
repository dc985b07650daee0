// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
)

// ExecuteRequest is the body of POST /v1/flow/execute and
// /v1/flow/validate. GlobalParams, when present, override same-named
// keys in the document's own global_params.
type ExecuteRequest struct {
	Workflow     json.RawMessage `json:"workflow" binding:"required"`
	GlobalParams map[string]any  `json:"global_params,omitempty"`
}

// ExecuteResponse reports a synchronous run.
type ExecuteResponse struct {
	Success bool                         `json:"success"`
	Summary events.Summary               `json:"summary"`
	Results map[string]events.NodeResult `json:"results"`
}

// ValidateResponse reports validation without execution.
type ValidateResponse struct {
	Valid bool     `json:"valid"`
	Order []string `json:"order,omitempty"`
	Error string   `json:"error,omitempty"`
}

// parseRequestWorkflow decodes the request document and folds
// request-level global parameters over the document's own.
func parseRequestWorkflow(req ExecuteRequest) (*graph.Workflow, error) {
	wf, err := graph.Parse(req.Workflow)
	if err != nil {
		return nil, err
	}
	if len(req.GlobalParams) > 0 {
		if wf.GlobalParams == nil {
			wf.GlobalParams = make(map[string]any, len(req.GlobalParams))
		}
		for k, v := range req.GlobalParams {
			wf.GlobalParams[k] = v
		}
	}
	return wf, nil
}

// Execute handles POST /v1/flow/execute: run a client-supplied
// workflow synchronously and return the summary with every node's
// terminal result. A run with failed nodes is still a 200; Success
// carries the verdict.
func (h *Handlers) Execute(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "server.Execute")
	defer span.End()

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := parseRequestWorkflow(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plan, err := graph.Validate(wf, h.registry)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	m := serverMetrics()
	if !h.sem.TryAcquire(1) {
		m.admissionRejects.Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity"})
		return
	}
	defer h.sem.Release(1)
	m.executeRequests.Inc()
	m.activeRuns.Inc()
	defer m.activeRuns.Dec()

	rec := newRunRecorder(nil)
	summary, runErr := h.sched.Run(ctx, plan, engine.RunOptions{
		Emitter:         events.NewRunEmitter(rec, events.NewSessionID(), h.logger),
		CancelOnFailure: h.cancelOnFailure,
	})
	if runErr != nil && summary == nil {
		span.RecordError(runErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": runErr.Error()})
		return
	}

	c.JSON(http.StatusOK, ExecuteResponse{
		Success: summary.Success(),
		Summary: *summary,
		Results: rec.Results(),
	})
}

// ValidateWorkflow handles POST /v1/flow/validate: full validation
// with no execution. Semantic rejections are a 200 with Valid false;
// only a body that is not a workflow document is a 400.
func (h *Handlers) ValidateWorkflow(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := parseRequestWorkflow(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plan, err := graph.Validate(wf, h.registry)
	if err != nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{Valid: true, Order: plan.Order})
}
