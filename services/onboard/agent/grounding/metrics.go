// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for grounding operations.
var (
	tracer = otel.Tracer("onboard.grounding")
	meter  = otel.Meter("onboard.grounding")
)

var (
	citationsTotal     metric.Int64Counter
	precisionHistogram metric.Float64Histogram
	filteredTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		citationsTotal, err = meter.Int64Counter(
			"onboard_citations_total",
			metric.WithDescription("Citations verified by outcome reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		precisionHistogram, err = meter.Float64Histogram(
			"onboard_citation_precision",
			metric.WithDescription("Per-answer citation precision"),
			metric.WithExplicitBucketBoundaries(0, 0.25, 0.5, 0.75, 0.9, 1),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filteredTotal, err = meter.Int64Counter(
			"onboard_citations_filtered_total",
			metric.WithDescription("Ungrounded citations rewritten by mode"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// RecordReport records the outcome of a VerifyAll run.
func RecordReport(ctx context.Context, rep Report) {
	if err := initMetrics(); err != nil {
		return
	}
	for _, d := range rep.Details {
		citationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(d.Reason))))
	}
	if rep.Total > 0 {
		precisionHistogram.Record(ctx, rep.Precision)
	}
}

// RecordFiltered records citations rewritten by the post-processor.
func RecordFiltered(ctx context.Context, mode FilterMode, count int) {
	if err := initMetrics(); err != nil || count == 0 {
		return
	}
	filteredTotal.Add(ctx, int64(count), metric.WithAttributes(attribute.String("mode", mode.String())))
}

// StartVerifySpan starts a span around answer verification.
func StartVerifySpan(ctx context.Context, answerLen, outputCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "grounding.VerifyAll",
		trace.WithAttributes(
			attribute.Int("answer_len", answerLen),
			attribute.Int("output_count", outputCount),
		),
	)
}

// SetVerifySpanResult annotates the span with the report totals.
func SetVerifySpanResult(span trace.Span, rep Report) {
	span.SetAttributes(
		attribute.Int("citations_total", rep.Total),
		attribute.Int("citations_verified", rep.Verified),
		attribute.Float64("precision", rep.Precision),
	)
}
