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
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
)

// ChatRequest is the body of POST /v1/flow/chat.
type ChatRequest struct {
	// Text is the natural-language request.
	Text string `json:"text" binding:"required"`

	// Model selects the pipeline; empty means workflow.
	Model string `json:"model" binding:"omitempty,oneof=workflow agent"`

	// IteCount overrides the agent iteration budget.
	IteCount int `json:"itecount" binding:"omitempty,min=1"`
}

// ChatResponse acknowledges an admitted chat run.
type ChatResponse struct {
	Success bool   `json:"success"`
	ChatID  string `json:"chat_id"`
}

// Chat handles POST /v1/flow/chat.
//
// Description:
//
//	Admits a run under the concurrency bound, opens a bus session, and
//	starts the pipeline on a detached context so it outlives this
//	request. The response carries only the chat id; clients follow the
//	run on the stream endpoints.
func (h *Handlers) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.gen == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "language model not configured"})
		return
	}
	model := req.Model
	if model == "" {
		model = ModelWorkflow
	}

	m := serverMetrics()
	if !h.sem.TryAcquire(1) {
		m.admissionRejects.Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity"})
		return
	}

	sessionID := events.NewSessionID()
	if err := h.bus.Open(sessionID); err != nil {
		h.sem.Release(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The run outlives this request; cancellation comes from the run
	// finishing or the bus janitor reclaiming an unwatched session.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	if err := h.bus.BindCancel(sessionID, cancel); err != nil {
		h.logger.Warn("bind cancel failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}

	h.logger.Info("chat admitted",
		slog.String("session_id", sessionID),
		slog.String("model", model))
	m.chatRequests.WithLabelValues(model).Inc()
	m.activeRuns.Inc()
	go func() {
		defer cancel()
		defer h.sem.Release(1)
		defer m.activeRuns.Dec()
		if model == ModelAgent {
			h.runAgent(runCtx, sessionID, req.Text, req.IteCount)
		} else {
			h.runWorkflow(runCtx, sessionID, req.Text)
		}
	}()

	c.JSON(http.StatusOK, ChatResponse{Success: true, ChatID: sessionID})
}
