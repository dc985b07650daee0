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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "flow"
	metricsSubsystem = "events"
)

// metrics collects bus-level counters and gauges.
type metrics struct {
	sessionsOpened      prometheus.Counter
	activeSessions      prometheus.Gauge
	activeSubscribers   prometheus.Gauge
	eventsPublished     *prometheus.CounterVec
	eventsDropped       prometheus.Counter
	subscriberEvictions prometheus.Counter
	idleCancels         prometheus.Counter
}

var (
	metricsOnce sync.Once
	busMetric   *metrics
)

// busMetrics lazily registers the event metrics exactly once per
// process so tests sharing the default registry do not collide.
func busMetrics() *metrics {
	metricsOnce.Do(func() {
		busMetric = &metrics{
			sessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "sessions_opened_total",
				Help:      "Total sessions opened on the bus.",
			}),
			activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_sessions",
				Help:      "Sessions currently held, including retained terminal ones.",
			}),
			activeSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_subscribers",
				Help:      "Live subscriber channels across all sessions.",
			}),
			eventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "published_total",
				Help:      "Events published, by kind.",
			}, []string{"kind"}),
			eventsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "dropped_total",
				Help:      "Events discarded from full session queues.",
			}),
			subscriberEvictions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "subscriber_evictions_total",
				Help:      "Events evicted from slow subscriber channels.",
			}),
			idleCancels: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "idle_cancels_total",
				Help:      "Runs cancelled because their session went idle.",
			}),
		}
	})
	return busMetric
}
