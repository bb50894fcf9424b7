// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package control

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

var meter = otel.Meter("onboard.control")

var (
	callsTotal metric.Int64Counter
	tripsTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callsTotal, err = meter.Int64Counter(
			"onboard_tool_calls_total",
			metric.WithDescription("Tool calls recorded by tool and novelty"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		tripsTotal, err = meter.Int64Counter(
			"onboard_breaker_trips_total",
			metric.WithDescription("Circuit breaker trips by rule"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCallMetric(ctx context.Context, kind tools.Kind, novel bool) {
	if err := initMetrics(); err != nil {
		return
	}
	callsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", string(kind)),
		attribute.Bool("novel", novel),
	))
}

// recordTripMetric labels by rule rather than the full reason to keep
// tool names out of the rule attribute.
func recordTripMetric(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	tripsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", ruleOf(reason))))
}

func ruleOf(reason string) string {
	switch {
	case reason == ReasonBudgetExhausted:
		return "budget"
	case reason == ReasonNoNewInfo:
		return "no_new_info"
	case strings.HasPrefix(reason, "repetitive use of"):
		return "repetition"
	case strings.HasSuffix(reason, "call limit exceeded"):
		return "tool_cap"
	default:
		return "unknown"
	}
}
