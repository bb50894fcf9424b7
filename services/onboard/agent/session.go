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

	"github.com/google/uuid"

	"github.com/AleutianAI/onboard/services/onboard/agent/control"
	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/memory"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// Session is one question-answering exploration over one repository.
//
// Description:
//
//	Session owns the working memory, the exploration tracker, the routing
//	advisor and the captured tool outputs (held by the tracker). All of
//	them are created with the session and discarded with it or on Reset.
//
// Thread Safety:
//
//	Not safe for concurrent use. Use Manager to share sessions.
type Session struct {
	id        string
	repoPath  string
	question  string
	createdAt time.Time

	config   Config
	registry *routing.Registry
	logger   *slog.Logger

	state   SessionState
	memory  *memory.WorkingMemory
	tracker *control.Tracker
	advisor *routing.Advisor

	answer string
	report *grounding.Report
	final  string
}

// NewSession creates a session in INIT.
//
// Inputs:
//
//	config - Session configuration. Zero thresholds take defaults.
//	registry - Routing rules. Nil disables routing advice.
//	repoPath - The repository being explored. Informational.
//	question - The user question. Must not be blank.
//
// Outputs:
//
//	*Session - The new session.
//	error - ErrEmptyQuestion or ErrInvalidConfig.
func NewSession(config Config, registry *routing.Registry, repoPath, question string) (*Session, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:        uuid.NewString(),
		repoPath:  repoPath,
		question:  question,
		createdAt: time.Now(),
		config:    config,
		registry:  registry,
		logger:    config.logger(),
	}
	s.reset()
	return s, nil
}

func (s *Session) reset() {
	trackerConfig := s.config.Tracker
	if trackerConfig.Logger == nil {
		trackerConfig.Logger = s.logger
	}
	s.state = StateInit
	s.memory = memory.New(s.config.Memory)
	s.tracker = control.NewTracker(trackerConfig)
	s.advisor = routing.NewAdvisor(s.registry, s.tracker, s.logger)
	s.answer = ""
	s.report = nil
	s.final = ""
}

// Reset discards everything the session learned and returns it to INIT.
// The ID, repository and question are kept.
func (s *Session) Reset() {
	s.reset()
	s.logger.Debug("session reset", slog.String("session_id", s.id))
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// RepoPath returns the repository path.
func (s *Session) RepoPath() string { return s.repoPath }

// Question returns the user question.
func (s *Session) Question() string { return s.question }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current state.
func (s *Session) State() SessionState { return s.state }

func (s *Session) transition(to SessionState) error {
	next, err := defaultStateMachine.Transition(s.state, to)
	if err != nil {
		return err
	}
	if next != s.state {
		s.logger.Debug("session transition",
			slog.String("session_id", s.id),
			slog.String("from", s.state.String()),
			slog.String("to", next.String()),
			slog.String("reason", defaultStateMachine.TransitionReason(s.state, next)),
		)
	}
	s.state = next
	return nil
}

// RecordToolCall reports one tool call and its output.
//
// Description:
//
//	Checks routing for the call, then records it with the tracker and
//	updates working memory from its output. The returned Observation
//	carries novelty, any new routing warning, the next recommendation and
//	the trip signal. A trip moves the session to TRIPPED.
//
// Outputs:
//
//	Observation - What the reasoning step should see next.
//	error - ErrInvalidCall, ErrSessionTripped or ErrSessionClosed.
func (s *Session) RecordToolCall(ctx context.Context, call tools.Call, output string) (Observation, error) {
	switch {
	case s.state == StateTripped:
		return Observation{}, ErrSessionTripped
	case !s.state.AcceptsToolCalls():
		return Observation{}, fmt.Errorf("%w: state %s", ErrSessionClosed, s.state)
	}
	if err := call.Validate(); err != nil {
		return Observation{}, fmt.Errorf("%w: %w", ErrInvalidCall, err)
	}
	if s.state == StateInit {
		if err := s.transition(StateExploring); err != nil {
			return Observation{}, err
		}
	}

	ok, warning := s.advisor.CheckRouting(call.Kind)
	rec := s.tracker.RecordCall(ctx, call, output)
	observe(s.memory, call, output)

	tripped, reason := s.tracker.CheckThrashing()
	if tripped {
		if err := s.transition(StateTripped); err != nil {
			return Observation{}, err
		}
	} else if err := s.transition(StateExploring); err != nil {
		return Observation{}, err
	}

	obs := Observation{
		Record:         rec,
		RoutingOK:      ok,
		RoutingWarning: warning,
		Tripped:        tripped,
		TripReason:     reason,
		State:          s.state,
	}
	if !tripped {
		if next, found := s.advisor.Recommend(); found {
			obs.Recommendation = next
		}
	}
	return obs, nil
}

// RenderContext renders working memory for the next reasoning step.
func (s *Session) RenderContext() string {
	return s.memory.RenderContext(s.config.MaxFacts)
}

// CheckThrashing returns the breaker state.
func (s *Session) CheckThrashing() (bool, string) {
	return s.tracker.CheckThrashing()
}

// Recommend returns the suggested next tool, if any.
func (s *Session) Recommend() (tools.Kind, bool) {
	return s.advisor.Recommend()
}

// RecordFact records a confirmed fact. Ignored once the session is DONE.
func (s *Session) RecordFact(fact, citation string) {
	if s.state.IsTerminal() {
		return
	}
	s.memory.RecordFact(fact, citation)
}

// AppendPlan appends exploration plan steps.
func (s *Session) AppendPlan(steps ...string) {
	s.memory.AppendPlan(steps...)
}

// SubmitAnswer stores the final answer.
//
// Description:
//
//	From INIT or EXPLORING the session moves to ANSWER_READY. In TRIPPED
//	the answer is stored and the state is kept, so Verify still follows
//	the TRIPPED → VERIFIED edge. Any later state is an invalid transition.
func (s *Session) SubmitAnswer(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyAnswer
	}
	switch s.state {
	case StateTripped:
		if s.answer != "" {
			return fmt.Errorf("%w: answer already submitted", ErrInvalidTransition)
		}
	case StateInit:
		if err := s.transition(StateExploring); err != nil {
			return err
		}
		fallthrough
	default:
		if err := s.transition(StateAnswerReady); err != nil {
			return err
		}
	}
	s.answer = text
	return nil
}

// Answer returns the submitted answer.
func (s *Session) Answer() string { return s.answer }

// Verify checks every citation in the answer against the captured outputs.
//
// Description:
//
//	Runs once and moves the session to VERIFIED. Later calls return the
//	stored report.
//
// Outputs:
//
//	grounding.Report - The verification report.
//	error - ErrNoAnswer before SubmitAnswer, ErrInvalidTransition otherwise.
func (s *Session) Verify(ctx context.Context) (grounding.Report, error) {
	if s.report != nil {
		return *s.report, nil
	}
	if s.answer == "" {
		return grounding.Report{}, ErrNoAnswer
	}
	if err := s.transition(StateVerified); err != nil {
		return grounding.Report{}, err
	}

	outputs := s.tracker.CapturedOutputs()
	ctx, span := grounding.StartVerifySpan(ctx, len(s.answer), len(outputs))
	defer span.End()

	rep := grounding.VerifyAll(s.answer, outputs)
	grounding.SetVerifySpanResult(span, rep)
	grounding.RecordReport(ctx, rep)
	s.report = &rep

	s.logger.Info("answer verified",
		slog.String("session_id", s.id),
		slog.Int("citations", rep.Total),
		slog.Int("verified", rep.Verified),
		slog.Float64("precision", rep.Precision),
	)
	return rep, nil
}

// Report returns the verification report, if Verify ran.
func (s *Session) Report() (grounding.Report, bool) {
	if s.report == nil {
		return grounding.Report{}, false
	}
	return *s.report, true
}

// Finalize post-processes the verified answer and moves the session to DONE.
// Later calls return the stored result.
func (s *Session) Finalize(ctx context.Context, mode grounding.FilterMode) (string, error) {
	if s.state == StateDone {
		return s.final, nil
	}
	if s.report == nil {
		return "", fmt.Errorf("%w: finalize before verify", ErrInvalidTransition)
	}
	if err := s.transition(StateDone); err != nil {
		return "", err
	}
	final, n := grounding.FilterUngrounded(s.answer, s.tracker.CapturedOutputs(), mode)
	grounding.RecordFiltered(ctx, mode, n)
	s.final = final
	return final, nil
}

// FinalAnswer returns the post-processed answer after Finalize.
func (s *Session) FinalAnswer() string { return s.final }

// FilterMode returns the configured post-processing mode.
func (s *Session) FilterMode() grounding.FilterMode { return s.config.filterMode() }

// GracefulExitMessage returns the fallback answer for a tripped session.
func (s *Session) GracefulExitMessage() string {
	return s.tracker.GracefulExitMessage(s.question)
}

// Memory returns a snapshot of working memory.
func (s *Session) Memory() memory.Snapshot { return s.memory.Snapshot() }

// Breaker returns the tracker state.
func (s *Session) Breaker() control.BreakerState { return s.tracker.State() }

// Records returns the invocation history.
func (s *Session) Records() []control.InvocationRecord { return s.tracker.Records() }

// CapturedOutputs returns the raw tool outputs in call order.
func (s *Session) CapturedOutputs() []string { return s.tracker.CapturedOutputs() }

// TrackerStats returns tracker totals.
func (s *Session) TrackerStats() control.Stats { return s.tracker.Stats() }
