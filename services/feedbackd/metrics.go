// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedbackd

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	metricsSubsystem = "feedback"
)

// Metrics holds the service's Prometheus metrics.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// RequestsTotal counts HTTP requests.
	// Labels: route, method, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration measures HTTP request latency.
	// Labels: route, method
	RequestDuration *prometheus.HistogramVec

	// MutationsTotal counts completed ledger mutations.
	// Labels: op (update, clear, reduce)
	MutationsTotal *prometheus.CounterVec

	// QueryErrorsTotal counts rejected queries and bodies.
	// Labels: reason (bad_pattern, bad_regex, bad_body, bad_query, bad_scope, rate_limited)
	QueryErrorsTotal *prometheus.CounterVec

	// ActiveScopes is the number of loaded ledgers.
	ActiveScopes prometheus.Gauge

	// ActiveWatchers is the number of open websocket watchers.
	ActiveWatchers prometheus.Gauge

	// WatchDropsTotal counts change notifications dropped for slow watchers.
	WatchDropsTotal prometheus.Counter

	// SnapshotFailures counts failed snapshot saves.
	SnapshotFailures prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
//
// # Limitations
//
//   - Panics if the metrics are already registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and method",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"route", "method"},
		),
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "mutations_total",
				Help:      "Completed ledger mutations by operation",
			},
			[]string{"op"},
		),
		QueryErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "request_errors_total",
				Help:      "Rejected requests by reason",
			},
			[]string{"reason"},
		),
		ActiveScopes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_scopes",
			Help:      "Number of ledgers loaded in memory",
		}),
		ActiveWatchers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_watchers",
			Help:      "Number of open websocket watchers",
		}),
		WatchDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "watch_dropped_changes_total",
			Help:      "Change notifications dropped because a watcher fell behind",
		}),
		SnapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "snapshot_failures_total",
			Help:      "Snapshot saves that returned an error",
		}),
	}
}

// RecordQueryError counts a rejected request. Safe on a nil receiver.
func (m *Metrics) RecordQueryError(reason string) {
	if m == nil {
		return
	}
	m.QueryErrorsTotal.WithLabelValues(reason).Inc()
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// RecordWatcher adjusts the open watcher gauge. Safe on a nil receiver.
func (m *Metrics) RecordWatcher(delta float64) {
	if m == nil {
		return
	}
	m.ActiveWatchers.Add(delta)
}

// RecordWatchDrop counts a change a watcher could not keep up with.
// Safe on a nil receiver.
func (m *Metrics) RecordWatchDrop() {
	if m == nil {
		return
	}
	m.WatchDropsTotal.Inc()
}
