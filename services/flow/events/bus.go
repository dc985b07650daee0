// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultQueueSize bounds each session's replay log and each
	// subscriber's delivery channel.
	DefaultQueueSize = 1024

	// DefaultRetention keeps a terminated session's log available for
	// late subscribers before the janitor reclaims it.
	DefaultRetention = 2 * time.Minute

	// DefaultIdleTimeout cancels a run whose session has had no
	// subscriber and no publish activity for this long.
	DefaultIdleTimeout = 5 * time.Minute

	janitorInterval = 15 * time.Second
)

// Bus is the process-wide session event bus.
//
// Description:
//
//	Each session holds a bounded replay log plus a set of live
//	subscriber channels. Publish appends to the log and tees to every
//	subscriber without blocking: when the log is full the oldest entry
//	is discarded and later replays begin with a synthesized
//	status{dropped:n} notice; when a subscriber channel is full its
//	oldest undelivered event is evicted so terminal events always land.
//	Terminal events close all subscriber channels; a janitor reclaims
//	terminated sessions after a retention window and cancels runs whose
//	sessions have gone idle with no consumers.
//
// Thread Safety: All methods are safe for concurrent use.
type Bus struct {
	logger      *slog.Logger
	queueSize   int
	retention   time.Duration
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	shutdownCh chan struct{}
	janitorWg  sync.WaitGroup
}

type session struct {
	id        string
	createdAt time.Time

	mu          sync.Mutex
	log         []Event
	dropped     int
	terminal    bool
	terminalAt  time.Time
	lastStamp   int64
	lastActive  time.Time
	subscribers map[string]chan Event
	cancelRun   context.CancelFunc
}

// BusOption adjusts bus construction.
type BusOption func(*Bus)

// WithQueueSize overrides the per-session queue capacity.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithRetention overrides how long terminated sessions stay
// subscribable.
func WithRetention(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.retention = d
		}
	}
}

// WithIdleTimeout overrides the consumerless-run cancellation window.
func WithIdleTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.idleTimeout = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a bus and starts its janitor goroutine. Call Close to
// stop it.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		logger:      slog.Default(),
		queueSize:   DefaultQueueSize,
		retention:   DefaultRetention,
		idleTimeout: DefaultIdleTimeout,
		sessions:    make(map[string]*session),
		shutdownCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("component", "event_bus"))

	b.janitorWg.Add(1)
	go b.janitor()
	return b
}

// Open registers a new session.
func (b *Bus) Open(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.sessions[sessionID]; exists {
		return ErrSessionExists
	}
	now := time.Now()
	b.sessions[sessionID] = &session{
		id:          sessionID,
		createdAt:   now,
		lastActive:  now,
		subscribers: make(map[string]chan Event),
	}
	m := busMetrics()
	m.sessionsOpened.Inc()
	m.activeSessions.Inc()
	b.logger.Debug("session opened", slog.String("session_id", sessionID))
	return nil
}

// Has reports whether a session exists (live or retained).
func (b *Bus) Has(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.sessions[sessionID]
	return ok
}

// BindCancel attaches the run's cancel function so the janitor can
// stop work nobody is watching.
func (b *Bus) BindCancel(sessionID string, cancel context.CancelFunc) error {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()
	return nil
}

// Publish appends an event to the session stream and delivers it to
// live subscribers. Never blocks. Events published after the terminal
// event are discarded.
func (b *Bus) Publish(sessionID string, kind Kind, data any) error {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	closed := b.closed
	b.mu.RUnlock()
	if !ok {
		if closed {
			return ErrBusClosed
		}
		return ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		b.logger.Debug("event after terminal discarded",
			slog.String("session_id", sessionID),
			slog.String("kind", string(kind)))
		return nil
	}

	// Timestamps are non-decreasing within a session.
	stamp := time.Now().UnixMilli()
	if stamp < s.lastStamp {
		stamp = s.lastStamp
	}
	s.lastStamp = stamp
	s.lastActive = time.Now()

	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: stamp,
		Data:      data,
	}

	if len(s.log) >= b.queueSize {
		s.dropOldest()
		busMetrics().eventsDropped.Inc()
		b.logger.Warn("session queue full, oldest event dropped",
			slog.String("session_id", sessionID),
			slog.Int("dropped_total", s.dropped))
	}
	s.log = append(s.log, ev)
	busMetrics().eventsPublished.WithLabelValues(string(kind)).Inc()

	for _, ch := range s.subscribers {
		deliver(ch, ev)
	}

	if kind.Terminal() {
		s.terminal = true
		s.terminalAt = time.Now()
		for id, ch := range s.subscribers {
			delete(s.subscribers, id)
			close(ch)
			busMetrics().activeSubscribers.Dec()
		}
		b.logger.Debug("session terminated",
			slog.String("session_id", sessionID),
			slog.String("kind", string(kind)))
	}
	return nil
}

// deliver sends without blocking, evicting the subscriber's oldest
// undelivered event when its channel is full. Terminal events therefore
// always reach slow consumers, at the price of an earlier gap.
func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
		busMetrics().subscriberEvictions.Inc()
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// dropOldest removes the oldest log entry to make room. Terminal events
// only ever sit at the tail, so the head is always droppable.
func (s *session) dropOldest() {
	if len(s.log) == 0 {
		return
	}
	s.dropped++
	s.log = s.log[1:]
}

// CancelFunc detaches a subscriber. Safe to call more than once and
// after the session terminates.
type CancelFunc func()

// Subscribe attaches to a session's stream.
//
// Description:
//
//	The returned channel first replays the retained log (preceded by a
//	status{dropped:n} notice when overflow already discarded events),
//	then carries live events until the terminal event, after which it
//	is closed. Each subscriber gets an independent channel; a slow
//	consumer only loses its own events.
//
// Outputs:
//   - <-chan Event: The event stream.
//   - CancelFunc: Detaches the subscriber and closes the channel.
//   - error: ErrUnknownSession when the id is not held.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, CancelFunc, error) {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, ErrUnknownSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, len(s.log)+b.queueSize+1)

	if s.dropped > 0 {
		notice := Event{
			ID:        uuid.NewString(),
			Kind:      KindStatus,
			SessionID: sessionID,
			Timestamp: s.replayStamp(),
			Data:      StatusData{Stage: "backpressure", Dropped: s.dropped},
		}
		ch <- notice
	}
	for _, ev := range s.log {
		ch <- ev
	}

	if s.terminal {
		close(ch)
		return ch, func() {}, nil
	}

	s.lastActive = time.Now()
	subID := uuid.NewString()
	s.subscribers[subID] = ch
	busMetrics().activeSubscribers.Inc()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, live := s.subscribers[subID]; live {
			delete(s.subscribers, subID)
			close(c)
			busMetrics().activeSubscribers.Dec()
			s.lastActive = time.Now()
		}
	}
	return ch, cancel, nil
}

// replayStamp picks a timestamp for the synthesized overflow notice
// that keeps the replayed stream non-decreasing.
func (s *session) replayStamp() int64 {
	if len(s.log) > 0 {
		return s.log[0].Timestamp
	}
	return s.createdAt.UnixMilli()
}

// SubscriberCount returns the number of live subscribers on a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// janitor reclaims terminated sessions after the retention window and
// cancels runs whose sessions sit idle with no consumers.
func (b *Bus) janitor() {
	defer b.janitorWg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdownCh:
			return
		case <-ticker.C:
			b.sweep(time.Now())
		}
	}
}

func (b *Bus) sweep(now time.Time) {
	b.mu.Lock()
	var expired []string
	var idle []*session
	for id, s := range b.sessions {
		s.mu.Lock()
		switch {
		case s.terminal && now.Sub(s.terminalAt) > b.retention:
			expired = append(expired, id)
		case !s.terminal && len(s.subscribers) == 0 && now.Sub(s.lastActive) > b.idleTimeout:
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	for _, id := range expired {
		delete(b.sessions, id)
		busMetrics().activeSessions.Dec()
	}
	b.mu.Unlock()

	for _, id := range expired {
		b.logger.Debug("session reclaimed", slog.String("session_id", id))
	}
	for _, s := range idle {
		s.mu.Lock()
		cancel := s.cancelRun
		s.lastActive = now
		s.mu.Unlock()
		if cancel != nil {
			b.logger.Warn("cancelling idle run with no subscribers",
				slog.String("session_id", s.id))
			busMetrics().idleCancels.Inc()
			cancel()
		}
	}
}

// Close shuts the bus down: cancels every live run, waits up to the
// context deadline for sessions to terminate, then force-closes any
// remaining subscriber channels.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	live := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		live = append(live, s)
	}
	b.mu.Unlock()

	close(b.shutdownCh)
	b.janitorWg.Wait()

	for _, s := range live {
		s.mu.Lock()
		cancel := s.cancelRun
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	// Grace phase: let cancelled runs publish their terminal events.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.allTerminal(live) {
			return nil
		}
		select {
		case <-ctx.Done():
			b.forceClose(live)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bus) allTerminal(sessions []*session) bool {
	for _, s := range sessions {
		s.mu.Lock()
		terminal := s.terminal
		s.mu.Unlock()
		if !terminal {
			return false
		}
	}
	return true
}

func (b *Bus) forceClose(sessions []*session) {
	for _, s := range sessions {
		s.mu.Lock()
		if !s.terminal {
			s.terminal = true
			s.terminalAt = time.Now()
			for id, ch := range s.subscribers {
				delete(s.subscribers, id)
				close(ch)
				busMetrics().activeSubscribers.Dec()
			}
			b.logger.Warn("session force-closed at shutdown",
				slog.String("session_id", s.id))
		}
		s.mu.Unlock()
	}
}
