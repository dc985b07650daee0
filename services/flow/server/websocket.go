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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
)

const (
	// wsWriteWait bounds each outbound frame write.
	wsWriteWait = 10 * time.Second

	// wsReadLimit caps inbound frames; clients only send control
	// traffic on this endpoint.
	wsReadLimit = 4096
)

// upgrader accepts any origin: the stream only carries events the
// caller could read over SSE with the same chat id.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamWS handles GET /v1/flow/stream/:chat_id/ws.
//
// Description:
//
//	WebSocket variant of Stream for clients behind SSE-hostile proxies.
//	Each event goes out as one JSON text frame carrying the full
//	envelope (id, kind, timestamp, data). The subscription is taken
//	before the upgrade so unknown chat ids still get a plain 404.
func (h *Handlers) StreamWS(c *gin.Context) {
	chatID := c.Param("chat_id")
	ch, cancelSub, err := h.bus.Subscribe(chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chat id"})
		return
	}
	defer cancelSub()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request.
		h.logger.Debug("websocket upgrade failed",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()))
		return
	}

	m := serverMetrics()
	m.streamClients.WithLabelValues("ws").Inc()
	defer m.streamClients.WithLabelValues("ws").Dec()

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error { return wsWritePump(ctx, ws, ch) })
	g.Go(func() error { return wsReadPump(ws) })
	if err := g.Wait(); err != nil && !isClosedConn(err) {
		h.logger.Debug("websocket stream ended",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()))
	}
}

// wsWritePump relays events and pings until the stream terminates.
// Closing the socket on the way out unblocks the read pump.
func wsWritePump(ctx context.Context, ws *websocket.Conn, ch <-chan events.Event) error {
	defer ws.Close()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				deadline := time.Now().Add(wsWriteWait)
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"),
					deadline)
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// wsReadPump drains inbound frames so close handshakes and pongs are
// processed. Payloads are ignored.
func wsReadPump(ws *websocket.Conn) error {
	ws.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}

// isClosedConn reports errors that just mean one side hung up.
func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure)
}
