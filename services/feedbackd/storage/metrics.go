// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for snapshot storage.
var (
	tracer = otel.Tracer("aleutian.feedback.storage")
	meter  = otel.Meter("aleutian.feedback.storage")
)

const (
	storeAttrScope = attribute.Key("feedback.scope")
	storeAttrSaved = attribute.Key("feedback.snapshot.saved")
)

var (
	storeOpLatency metric.Float64Histogram
	storeOpTotal   metric.Int64Counter
	snapshotBytes  metric.Int64Histogram
	staleSnapshots metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		storeOpLatency, err = meter.Float64Histogram(
			"feedback_snapshot_op_duration_seconds",
			metric.WithDescription("Duration of snapshot store operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeOpTotal, err = meter.Int64Counter(
			"feedback_snapshot_op_total",
			metric.WithDescription("Total snapshot store operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotBytes, err = meter.Int64Histogram(
			"feedback_snapshot_bytes",
			metric.WithDescription("Encoded size of written snapshots"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		staleSnapshots, err = meter.Int64Counter(
			"feedback_snapshot_stale_total",
			metric.WithDescription("Snapshots dropped because a newer version was stored"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startStoreSpan creates a span for a store operation. scope may be empty.
func startStoreSpan(ctx context.Context, name, scope string) (context.Context, trace.Span) {
	var opts []trace.SpanStartOption
	if scope != "" {
		opts = append(opts, trace.WithAttributes(storeAttrScope.String(scope)))
	}
	return tracer.Start(ctx, name, opts...)
}

// setStoreSpanResult marks the span failed when err is non-nil.
func setStoreSpanResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func recordStoreOp(ctx context.Context, op string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	)
	storeOpLatency.Record(ctx, duration.Seconds(), attrs)
	storeOpTotal.Add(ctx, 1, attrs)
}

func recordSnapshotBytes(ctx context.Context, n int) {
	if initMetrics() != nil {
		return
	}
	snapshotBytes.Record(ctx, int64(n))
}

func recordStaleSnapshot(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	staleSnapshots.Add(ctx, 1)
}
