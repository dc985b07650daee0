// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics collects agent loop counters.
type metrics struct {
	runsTotal    *prometheus.CounterVec
	iterations   prometheus.Histogram
	actionsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	agentMetric *metrics
)

// agentMetrics lazily registers the agent metrics exactly once per
// process so tests sharing the default registry do not collide.
func agentMetrics() *metrics {
	metricsOnce.Do(func() {
		agentMetric = &metrics{
			runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flow",
				Subsystem: "agent",
				Name:      "runs_total",
				Help:      "Agent runs, by outcome.",
			}, []string{"outcome"}),
			iterations: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "flow",
				Subsystem: "agent",
				Name:      "iterations",
				Help:      "Planner iterations consumed by one run.",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			}),
			actionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flow",
				Subsystem: "agent",
				Name:      "actions_total",
				Help:      "Tool invocations, by tool and outcome.",
			}, []string{"tool", "outcome"}),
		}
	})
	return agentMetric
}
