// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "flow"
	metricsSubsystem = "engine"
)

// metrics collects scheduler-level counters and histograms.
type metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	nodesTotal     *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	nodeRetries    prometheus.Counter
	activeNodes    prometheus.Gauge
	loopIterations prometheus.Counter
}

var (
	metricsOnce sync.Once
	engMetric   *metrics
)

// engineMetrics lazily registers the scheduler metrics exactly once per
// process so tests sharing the default registry do not collide.
func engineMetrics() *metrics {
	metricsOnce.Do(func() {
		engMetric = &metrics{
			runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "runs_total",
				Help:      "Workflow runs, by outcome.",
			}, []string{"outcome"}),
			runDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of one workflow run.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			}),
			nodesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "node_executions_total",
				Help:      "Node executions, by terminal status.",
			}, []string{"status"}),
			nodeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "node_duration_seconds",
				Help:      "Wall-clock duration of one node execution.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			}, []string{"type"}),
			nodeRetries: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "node_retries_total",
				Help:      "Retry attempts on transient node failures.",
			}),
			activeNodes: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_nodes",
				Help:      "Nodes currently executing.",
			}),
			loopIterations: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "loop_iterations_total",
				Help:      "Loop body iterations run by sub-schedulers.",
			}),
		}
	})
	return engMetric
}
