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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, opts ...BusOption) *Bus {
	t.Helper()
	b := NewBus(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

// drain reads every event until the channel closes or the deadline
// passes.
func drain(t *testing.T, ch <-chan Event, deadline time.Duration) []Event {
	t.Helper()
	var out []Event
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timer.C:
			t.Fatalf("channel did not close within %v (got %d events)", deadline, len(out))
		}
	}
}

// =============================================================================
// Test: Session Lifecycle
// =============================================================================

func TestBus_OpenAndHas(t *testing.T) {
	b := newTestBus(t)

	require.NoError(t, b.Open("sess-1"), "first open should succeed")
	assert.True(t, b.Has("sess-1"))
	assert.False(t, b.Has("sess-2"))

	err := b.Open("sess-1")
	assert.ErrorIs(t, err, ErrSessionExists, "duplicate open should be rejected")
}

func TestBus_PublishUnknownSession(t *testing.T) {
	b := newTestBus(t)

	err := b.Publish("ghost", KindStatus, StatusData{Stage: "x"})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestBus_SubscribeUnknownSession(t *testing.T) {
	b := newTestBus(t)

	_, _, err := b.Subscribe("ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	assert.Len(t, id, 12, "session ids are truncated uuids")
	assert.NotEqual(t, id, NewSessionID(), "ids should be unique")
}

// =============================================================================
// Test: Publish / Subscribe
// =============================================================================

// TestBus_SubscribeReplaysLog verifies late subscribers see earlier
// events.
//
// # Description
//
// Events published before Subscribe must be replayed in publish order
// with non-decreasing timestamps.
func TestBus_SubscribeReplaysLog(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	require.NoError(t, b.Publish("s", KindStatus, StatusData{Stage: "generating"}))
	require.NoError(t, b.Publish("s", KindWorkflow, WorkflowData{Workflow: "doc"}))
	require.NoError(t, b.Publish("s", KindComplete, Summary{Total: 1, Completed: 1}))

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	got := drain(t, ch, time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, KindStatus, got[0].Kind)
	assert.Equal(t, KindWorkflow, got[1].Kind)
	assert.Equal(t, KindComplete, got[2].Kind)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Timestamp, got[i-1].Timestamp,
			"timestamps must never decrease within a session")
	}
	for _, ev := range got {
		assert.Equal(t, "s", ev.SessionID)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestBus_LiveDelivery(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish("s", KindAnswer, "hello"))
	require.NoError(t, b.Publish("s", KindComplete, Summary{}))

	got := drain(t, ch, time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, KindAnswer, got[0].Kind)
	assert.Equal(t, "hello", got[0].Data)
	assert.Equal(t, KindComplete, got[1].Kind)
}

// TestBus_TerminalClosesSubscribers verifies the stream ends at the
// terminal event.
func TestBus_TerminalClosesSubscribers(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish("s", KindError, ErrorData{Error: "boom"}))

	got := drain(t, ch, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, KindError, got[0].Kind)
	assert.Equal(t, 0, b.SubscriberCount("s"), "terminal should unregister subscribers")
}

func TestBus_PublishAfterTerminalDiscarded(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	require.NoError(t, b.Publish("s", KindComplete, Summary{Total: 2, Completed: 2}))
	require.NoError(t, b.Publish("s", KindStatus, StatusData{Stage: "late"}),
		"post-terminal publish is silently discarded, not an error")

	ch, _, err := b.Subscribe("s")
	require.NoError(t, err)
	got := drain(t, ch, time.Second)
	require.Len(t, got, 1, "only the terminal event should be retained")
	assert.Equal(t, KindComplete, got[0].Kind)
}

// TestBus_SubscribeAfterTerminal verifies replay still works once the
// session has finished: the channel delivers the full log and closes
// immediately.
func TestBus_SubscribeAfterTerminal(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))
	require.NoError(t, b.Publish("s", KindStatus, StatusData{Stage: "executing"}))
	require.NoError(t, b.Publish("s", KindComplete, Summary{Total: 1, Completed: 1}))

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	cancel() // no-op on an already-terminal subscription

	got := drain(t, ch, time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, KindComplete, got[1].Kind)
}

func TestBus_CancelDetachesSubscriber(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("s"))

	cancel()
	cancel() // idempotent
	assert.Equal(t, 0, b.SubscriberCount("s"))

	_, open := <-ch
	assert.False(t, open, "cancelled subscriber channel should be closed")

	require.NoError(t, b.Publish("s", KindStatus, StatusData{Stage: "after"}),
		"publish after detach must not panic")
}

func TestBus_IndependentSubscribers(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	ch1, cancel1, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, b.Publish("s", KindComplete, Summary{}))

	got1 := drain(t, ch1, time.Second)
	got2 := drain(t, ch2, time.Second)
	assert.Len(t, got1, 1)
	assert.Len(t, got2, 1)
}

// =============================================================================
// Test: Backpressure
// =============================================================================

// TestBus_OverflowSynthesizesDropNotice verifies bounded-log behavior.
//
// # Description
//
// With a queue of four, publishing six events discards the two oldest.
// A later subscriber must first see a status event carrying the drop
// count, stamped no later than the oldest surviving event.
func TestBus_OverflowSynthesizesDropNotice(t *testing.T) {
	b := newTestBus(t, WithQueueSize(4))
	require.NoError(t, b.Open("s"))

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Publish("s", KindToolProgress, ToolProgress{NodeID: "n", Data: i}))
	}

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	require.Equal(t, KindStatus, first.Kind, "replay should open with the drop notice")
	status, ok := first.Data.(StatusData)
	require.True(t, ok)
	assert.Equal(t, 2, status.Dropped)

	second := <-ch
	assert.GreaterOrEqual(t, second.Timestamp, first.Timestamp,
		"notice must not break timestamp ordering")
	progress, ok := second.Data.(ToolProgress)
	require.True(t, ok)
	assert.Equal(t, 2, progress.Data, "oldest two events should be gone")
}

// TestBus_SlowSubscriberKeepsTerminal verifies eviction never loses the
// terminal event.
//
// # Description
//
// A subscriber that reads nothing while more events arrive than its
// channel holds loses its oldest undelivered events, but draining
// afterwards must still end with the terminal event.
func TestBus_SlowSubscriberKeepsTerminal(t *testing.T) {
	b := newTestBus(t, WithQueueSize(2))
	require.NoError(t, b.Open("s"))

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish("s", KindToolProgress, ToolProgress{NodeID: "n", Data: i}))
	}
	require.NoError(t, b.Publish("s", KindComplete, Summary{Total: 1, Completed: 1}))

	got := drain(t, ch, time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, KindComplete, got[len(got)-1].Kind,
		"terminal event must survive eviction")
	assert.Less(t, len(got), 6, "some events should have been evicted")
}

// =============================================================================
// Test: Janitor
// =============================================================================

func TestBus_SweepReclaimsTerminalSessions(t *testing.T) {
	b := newTestBus(t, WithRetention(time.Minute))
	require.NoError(t, b.Open("s"))
	require.NoError(t, b.Publish("s", KindComplete, Summary{}))

	b.sweep(time.Now())
	assert.True(t, b.Has("s"), "recently terminated session stays within retention")

	b.sweep(time.Now().Add(2 * time.Minute))
	assert.False(t, b.Has("s"), "session should be reclaimed after retention")
}

func TestBus_SweepCancelsIdleRuns(t *testing.T) {
	b := newTestBus(t, WithIdleTimeout(time.Minute))
	require.NoError(t, b.Open("s"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.BindCancel("s", cancel))

	b.sweep(time.Now())
	select {
	case <-ctx.Done():
		t.Fatal("active session must not be cancelled")
	default:
	}

	b.sweep(time.Now().Add(2 * time.Minute))
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("idle session's run should have been cancelled")
	}
}

func TestBus_SweepSkipsWatchedRuns(t *testing.T) {
	b := newTestBus(t, WithIdleTimeout(time.Minute))
	require.NoError(t, b.Open("s"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.BindCancel("s", cancel))

	_, unsub, err := b.Subscribe("s")
	require.NoError(t, err)
	defer unsub()

	b.sweep(time.Now().Add(2 * time.Minute))
	select {
	case <-ctx.Done():
		t.Fatal("run with a live subscriber must not be cancelled")
	default:
	}
}

func TestBus_BindCancelUnknownSession(t *testing.T) {
	b := newTestBus(t)
	err := b.BindCancel("ghost", func() {})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

// =============================================================================
// Test: Shutdown
// =============================================================================

// TestBus_CloseWaitsForTerminal verifies the grace phase.
//
// # Description
//
// Close cancels each live run and waits for its terminal event. Here
// the bound cancel publishes the error terminally, so Close must return
// nil before the deadline.
func TestBus_CloseWaitsForTerminal(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Open("s"))
	require.NoError(t, b.BindCancel("s", func() {
		_ = b.Publish("s", KindError, ErrorData{Error: "shutdown"})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, b.Close(ctx))
}

func TestBus_CloseForcesAfterDeadline(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Open("s"))

	ch, unsub, err := b.Subscribe("s")
	require.NoError(t, err)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = b.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, open := <-ch
	assert.False(t, open, "force close should close subscriber channels")
}

func TestBus_ClosedRejectsOpen(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	assert.ErrorIs(t, b.Open("s"), ErrBusClosed)
	assert.NoError(t, b.Close(ctx), "double close is a no-op")
}

// =============================================================================
// Test: Concurrency
// =============================================================================

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	require.NoError(t, b.Open("s"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = b.Publish("s", KindToolProgress, ToolProgress{NodeID: "n", Data: i})
		}
		_ = b.Publish("s", KindComplete, Summary{Total: 1, Completed: 1})
	}()

	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	defer cancel()

	got := drain(t, ch, 2*time.Second)
	<-done

	require.NotEmpty(t, got)
	assert.Equal(t, KindComplete, got[len(got)-1].Kind)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Timestamp, got[i-1].Timestamp)
	}
}
