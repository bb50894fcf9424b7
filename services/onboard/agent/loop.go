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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/onboard/services/onboard/agent/control"
	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// StepInput is what the reasoner sees before each decision.
type StepInput struct {
	// Question is the user question.
	Question string

	// Context is the rendered working memory.
	Context string

	// Step is the zero-based reasoning step.
	Step int

	// LastOutput is the previous tool output, or the rejection message
	// when the previous call was invalid.
	LastOutput string

	// RoutingWarning is a new routing warning raised by the previous call.
	RoutingWarning string

	// Recommendation is the suggested next tool, if any.
	Recommendation tools.Kind
}

// Decision is the reasoner's choice for one step. Exactly one of Call and
// Answer is expected; a decision with neither is treated as giving up.
type Decision struct {
	Call   *tools.Call
	Answer string
}

// Reasoner decides the next step of an exploration.
type Reasoner interface {
	// Next returns the next tool call or the final answer.
	Next(ctx context.Context, in StepInput) (Decision, error)

	// ForceAnswer asks for an answer from what has been gathered, once
	// exploration has stopped.
	ForceAnswer(ctx context.Context, in StepInput) (string, error)
}

// Executor runs tool calls against the repository.
type Executor interface {
	Execute(ctx context.Context, call tools.Call) (string, error)
}

// RunResult contains the outcome of Loop.Run.
type RunResult struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// State is the session state after the run.
	State SessionState `json:"state"`

	// Answer is the post-processed answer.
	Answer string `json:"answer"`

	// RawAnswer is the answer before post-processing.
	RawAnswer string `json:"raw_answer"`

	// Report is the citation verification report.
	Report grounding.Report `json:"report"`

	// Breaker is the final circuit breaker state.
	Breaker control.BreakerState `json:"breaker"`

	// Forced is true when the answer came from ForceAnswer or the graceful exit.
	Forced bool `json:"forced"`

	// Steps counts reasoning steps.
	Steps int `json:"steps"`

	// Error holds the reasoner failure, if any.
	Error string `json:"error,omitempty"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// Loop drives a session with a reasoner and an executor.
//
// Thread Safety:
//
//	Loop is safe for concurrent use across different sessions.
type Loop struct {
	reasoner Reasoner
	executor Executor
	logger   *slog.Logger
	maxSteps int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithMaxSteps bounds reasoning steps, overriding the session config.
//
// Inputs:
//
//	n - Maximum steps (0 = derive from the session config).
func WithMaxSteps(n int) LoopOption {
	return func(l *Loop) {
		l.maxSteps = n
	}
}

// NewLoop creates a loop.
func NewLoop(reasoner Reasoner, executor Executor, opts ...LoopOption) *Loop {
	l := &Loop{
		reasoner: reasoner,
		executor: executor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run explores until the reasoner answers or the breaker trips, then
// verifies and finalizes the answer.
//
// Description:
//
//	Once the breaker trips no further calls are issued. The reasoner is
//	asked once for a forced answer; if that fails or is empty the graceful
//	exit message is used. A reasoner failure during exploration becomes a
//	friendly message answer and is reported in RunResult.Error.
//
// Inputs:
//
//	ctx - Cancellation aborts the run with ctx.Err().
//	s - A session in INIT or EXPLORING.
//
// Outputs:
//
//	*RunResult - The outcome, with the session in DONE.
//	error - Context cancellation or session lifecycle misuse.
func (l *Loop) Run(ctx context.Context, s *Session) (*RunResult, error) {
	start := time.Now()
	if !s.State().AcceptsToolCalls() {
		return nil, fmt.Errorf("%w: run in state %s", ErrSessionClosed, s.State())
	}

	maxSteps := l.maxSteps
	if maxSteps <= 0 {
		maxSteps = s.config.maxSteps()
	}

	result := &RunResult{SessionID: s.ID()}
	in := StepInput{Question: s.Question()}
	if next, ok := s.Recommend(); ok {
		in.Recommendation = next
	}

	answered := false
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tripped, _ := s.CheckThrashing(); tripped {
			break
		}

		in.Step = step
		in.Context = s.RenderContext()
		result.Steps = step + 1

		decision, err := l.reasoner.Next(ctx, in)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.logger.Warn("reasoner failed",
				slog.String("session_id", s.ID()),
				slog.String("class", ErrorClass(err)),
				slog.Bool("retryable", IsRetryable(err)),
				slog.String("error", err.Error()),
			)
			result.Error = err.Error()
			if err := s.SubmitAnswer(FriendlyError(err)); err != nil {
				return nil, err
			}
			answered = true
			break
		}

		if decision.Call == nil {
			if strings.TrimSpace(decision.Answer) == "" {
				break
			}
			if err := s.SubmitAnswer(decision.Answer); err != nil {
				return nil, err
			}
			answered = true
			break
		}

		in = l.execute(ctx, s, *decision.Call, in)
	}

	if !answered {
		if err := l.forceAnswer(ctx, s, in, result); err != nil {
			return nil, err
		}
	}

	rep, err := s.Verify(ctx)
	if err != nil {
		return nil, err
	}
	final, err := s.Finalize(ctx, s.FilterMode())
	if err != nil {
		return nil, err
	}

	result.State = s.State()
	result.Answer = final
	result.RawAnswer = s.Answer()
	result.Report = rep
	result.Breaker = s.Breaker()
	result.Duration = time.Since(start)

	l.logger.Info("session run complete",
		slog.String("session_id", s.ID()),
		slog.Int("steps", result.Steps),
		slog.Int("tool_calls", result.Breaker.TotalCalls),
		slog.Bool("tripped", result.Breaker.Tripped),
		slog.Bool("forced", result.Forced),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// execute runs one call and records it, returning the next step input.
func (l *Loop) execute(ctx context.Context, s *Session, call tools.Call, in StepInput) StepInput {
	next := StepInput{Question: in.Question}

	if err := call.Validate(); err != nil {
		next.LastOutput = fmt.Sprintf("Error: %v", err)
		return next
	}

	output, err := l.executor.Execute(ctx, call)
	if err != nil {
		output = fmt.Sprintf("Error: %v", err)
	}

	obs, err := s.RecordToolCall(ctx, call, output)
	if err != nil {
		next.LastOutput = fmt.Sprintf("Error: %v", err)
		return next
	}

	next.LastOutput = output
	next.RoutingWarning = obs.RoutingWarning
	next.Recommendation = obs.Recommendation
	return next
}

// forceAnswer obtains an answer once exploration stopped without one.
func (l *Loop) forceAnswer(ctx context.Context, s *Session, in StepInput, result *RunResult) error {
	result.Forced = true
	in.Context = s.RenderContext()

	answer, err := l.reasoner.ForceAnswer(ctx, in)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.logger.Warn("forced answer failed",
			slog.String("session_id", s.ID()),
			slog.String("error", err.Error()),
		)
		answer = s.GracefulExitMessage()
	case strings.TrimSpace(answer) == "":
		answer = s.GracefulExitMessage()
	}

	if err := s.SubmitAnswer(answer); err != nil {
		return fmt.Errorf("submit forced answer: %w", err)
	}
	return nil
}
