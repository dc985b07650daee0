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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "flow"
	metricsSubsystem = "server"
)

// metrics collects HTTP surface counters and gauges.
type metrics struct {
	chatRequests     *prometheus.CounterVec
	executeRequests  prometheus.Counter
	admissionRejects prometheus.Counter
	activeRuns       prometheus.Gauge
	streamClients    *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	srvMetric   *metrics
)

// serverMetrics lazily registers the server metrics exactly once per
// process so tests sharing the default registry do not collide.
func serverMetrics() *metrics {
	metricsOnce.Do(func() {
		srvMetric = &metrics{
			chatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "chat_requests_total",
				Help:      "Admitted chat runs, by model.",
			}, []string{"model"}),
			executeRequests: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "execute_requests_total",
				Help:      "Synchronous execute runs admitted.",
			}),
			admissionRejects: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "admission_rejects_total",
				Help:      "Requests turned away at the concurrency bound.",
			}),
			activeRuns: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_runs",
				Help:      "Runs currently holding an admission slot.",
			}),
			streamClients: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "stream_clients",
				Help:      "Connected stream subscribers, by transport.",
			}, []string{"transport"}),
		}
	})
	return srvMetric
}
