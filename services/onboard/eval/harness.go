// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/onboard/services/onboard/agent"
	"github.com/AleutianAI/onboard/services/onboard/agent/control"
	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// Result is the evaluation of one transcript.
type Result struct {
	TranscriptID    string                 `json:"transcript_id"`
	Category        string                 `json:"category"`
	Passed          bool                   `json:"passed"`
	Tools           ToolUsageMetrics       `json:"tools"`
	Claims          grounding.ClaimMetrics `json:"claims"`
	Report          grounding.Report       `json:"report"`
	Breaker         control.BreakerState   `json:"breaker"`
	RoutingWarnings []string               `json:"routing_warnings,omitempty"`

	// ReplayedCalls were recorded. SkippedCalls came after the trip.
	// InvalidCalls failed their schema check and were not recorded.
	ReplayedCalls int `json:"replayed_calls"`
	SkippedCalls  int `json:"skipped_calls"`
	InvalidCalls  int `json:"invalid_calls"`

	// Graceful is true when the transcript had no answer and the graceful
	// exit message stood in for it.
	Graceful bool `json:"graceful"`

	FinalAnswer string        `json:"final_answer"`
	Memory      MemorySummary `json:"memory"`
}

// MemorySummary is what working memory held at the end of a replay.
type MemorySummary struct {
	FilesRead    int    `json:"files_read"`
	Searches     int    `json:"searches"`
	Architecture string `json:"architecture,omitempty"`
}

// Run is one evaluation over a set of transcripts.
type Run struct {
	ID         string                     `json:"id"`
	StartedAt  time.Time                  `json:"started_at"`
	Duration   time.Duration              `json:"duration"`
	Results    []Result                   `json:"results"`
	Aggregate  AggregateMetrics           `json:"aggregate"`
	Categories map[string]CategoryMetrics `json:"categories"`
}

// Harness replays transcripts through fresh sessions.
//
// Thread Safety:
//
//	Safe for concurrent use. Every transcript gets its own session.
type Harness struct {
	config      agent.Config
	registry    *routing.Registry
	concurrency int
	logger      *slog.Logger
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithConcurrency bounds parallel transcript evaluation (0 = GOMAXPROCS).
func WithConcurrency(n int) HarnessOption {
	return func(h *Harness) {
		h.concurrency = n
	}
}

// WithLogger sets the harness logger.
func WithLogger(logger *slog.Logger) HarnessOption {
	return func(h *Harness) {
		h.logger = logger
	}
}

// NewHarness creates a harness.
func NewHarness(config agent.Config, registry *routing.Registry, opts ...HarnessOption) (*Harness, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	h := &Harness{
		config:   config,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.concurrency <= 0 {
		h.concurrency = runtime.GOMAXPROCS(0)
	}
	return h, nil
}

// Evaluate replays one transcript.
//
// Description:
//
//	Each recorded call is reported to a fresh session in order. Calls after
//	the breaker trips are skipped, as a live loop would never issue them.
//	Calls that fail their schema check are counted and skipped.
//	The recorded answer, or the graceful exit message when it is empty, is
//	then verified and post-processed. A transcript passes when it has an
//	answer, every cited file was read and every citation verifies.
func (h *Harness) Evaluate(ctx context.Context, t Transcript) (Result, error) {
	calls, err := t.ToolCalls()
	if err != nil {
		return Result{}, err
	}
	s, err := agent.NewSession(h.config, h.registry, "", t.Question)
	if err != nil {
		return Result{}, fmt.Errorf("transcript %s: %w", t.ID, err)
	}

	res := Result{TranscriptID: t.ID, Category: t.Category}
	replayed := make([]tools.Call, 0, len(calls))
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		obs, err := s.RecordToolCall(ctx, call, t.Calls[i].Output)
		if errors.Is(err, agent.ErrSessionTripped) {
			res.SkippedCalls += len(calls) - i
			break
		}
		if errors.Is(err, agent.ErrInvalidCall) {
			res.InvalidCalls++
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("transcript %s call %d: %w", t.ID, i, err)
		}
		replayed = append(replayed, call)
		if obs.RoutingWarning != "" {
			res.RoutingWarnings = append(res.RoutingWarnings, obs.RoutingWarning)
		}
	}
	res.ReplayedCalls = len(replayed)

	answer := t.Answer
	if strings.TrimSpace(answer) == "" {
		answer = s.GracefulExitMessage()
		res.Graceful = true
	}
	if err := s.SubmitAnswer(answer); err != nil {
		return Result{}, fmt.Errorf("transcript %s: %w", t.ID, err)
	}
	rep, err := s.Verify(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("transcript %s: %w", t.ID, err)
	}
	final, err := s.Finalize(ctx, s.FilterMode())
	if err != nil {
		return Result{}, fmt.Errorf("transcript %s: %w", t.ID, err)
	}

	res.Tools = ExtractToolMetrics(t.ID, replayed, answer)
	res.Claims = grounding.ComputeClaimMetrics(answer, s.CapturedOutputs())
	res.Report = rep
	res.Breaker = s.Breaker()
	res.FinalAnswer = final
	res.Passed = !res.Graceful && res.Tools.GroundingValid() && rep.Unverified == 0

	snap := s.Memory()
	res.Memory = MemorySummary{
		FilesRead:    len(snap.FilesRead),
		Searches:     len(snap.Searches),
		Architecture: snap.ArchitectureLabel,
	}
	return res, nil
}

// Run evaluates transcripts concurrently and aggregates the results.
// Results keep the input order. The first error cancels the run.
func (h *Harness) Run(ctx context.Context, transcripts []Transcript) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Results:   make([]Result, len(transcripts)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, t := range transcripts {
		g.Go(func() error {
			res, err := h.Evaluate(gctx, t)
			if err != nil {
				return err
			}
			run.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	run.Duration = time.Since(run.StartedAt)
	run.Aggregate = Aggregate(run.Results)
	run.Categories = ByCategory(run.Results)

	h.logger.Info("evaluation complete",
		slog.String("run_id", run.ID),
		slog.Int("transcripts", len(transcripts)),
		slog.Float64("grounding_rate", run.Aggregate.GroundingRate),
		slog.Float64("citation_precision", run.Aggregate.CitationPrecision),
		slog.Float64("pass_rate", run.Aggregate.PassRate),
		slog.Duration("duration", run.Duration),
	)
	return run, nil
}
