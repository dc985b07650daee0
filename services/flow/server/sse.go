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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
)

// heartbeatInterval paces keep-alive traffic so idle streams survive
// proxy timeouts.
const heartbeatInterval = 15 * time.Second

// sseWriter serializes events onto one SSE response.
//
// Thread Safety: WriteEvent and WriteKeepAlive may race between the
// stream loop and a heartbeat; the mutex keeps frames whole.
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// newSSEWriter wraps w, failing when the writer cannot flush
// incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent emits one event: kind on the event line, JSON payload on
// the data line.
func (s *sseWriter) writeEvent(ev events.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Kind, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Kind, err)
	}
	s.flusher.Flush()
	return nil
}

// writeKeepAlive emits an SSE comment that clients ignore.
func (s *sseWriter) writeKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// setSSEHeaders marks the response as an event stream and disables
// intermediary buffering.
func setSSEHeaders(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
}

// Stream handles GET /v1/flow/stream/:chat_id.
//
// Description:
//
//	Replays the session's retained events, then relays live ones until
//	the terminal event closes the stream. Keep-alive comments go out
//	every heartbeat interval. Unknown chat ids are a 404 before any
//	stream bytes are written.
func (h *Handlers) Stream(c *gin.Context) {
	chatID := c.Param("chat_id")
	ch, cancelSub, err := h.bus.Subscribe(chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chat id"})
		return
	}
	defer cancelSub()

	w, err := newSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	setSSEHeaders(c.Writer)
	c.Writer.WriteHeader(http.StatusOK)
	w.flusher.Flush()

	m := serverMetrics()
	m.streamClients.WithLabelValues("sse").Inc()
	defer m.streamClients.WithLabelValues("sse").Dec()

	ctx := c.Request.Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := w.writeEvent(ev); err != nil {
				h.logger.Debug("sse write failed",
					slog.String("chat_id", chatID),
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := w.writeKeepAlive(); err != nil {
				return
			}
		}
	}
}
