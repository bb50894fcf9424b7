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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// scriptedReasoner replays fixed decisions, then gives up.
type scriptedReasoner struct {
	steps     []Decision
	repeat    *Decision
	failAt    int
	failErr   error
	forced    string
	forcedErr error

	inputs      []StepInput
	forcedCalls int
}

func (r *scriptedReasoner) Next(_ context.Context, in StepInput) (Decision, error) {
	r.inputs = append(r.inputs, in)
	i := len(r.inputs) - 1
	if r.failErr != nil && i == r.failAt {
		return Decision{}, r.failErr
	}
	if i < len(r.steps) {
		return r.steps[i], nil
	}
	if r.repeat != nil {
		return *r.repeat, nil
	}
	return Decision{}, nil
}

func (r *scriptedReasoner) ForceAnswer(_ context.Context, _ StepInput) (string, error) {
	r.forcedCalls++
	return r.forced, r.forcedErr
}

type executorFunc func(ctx context.Context, call tools.Call) (string, error)

func (f executorFunc) Execute(ctx context.Context, call tools.Call) (string, error) {
	return f(ctx, call)
}

// repoExecutor serves canned outputs for a tiny repository.
var repoExecutor = executorFunc(func(_ context.Context, call tools.Call) (string, error) {
	switch call.Kind {
	case tools.KindImportantFiles:
		return "Important files:\nArchitecture: single script\nLanguage: Python\n- app.py", nil
	case tools.KindSearchCode:
		return "Results:\napp.py:1: import os\n(1 result)\n", nil
	case tools.KindReadFile:
		if call.Get(tools.FieldFilePath) == "app.py" {
			return appReadOutput, nil
		}
		return "", errors.New("file not found")
	default:
		return "", nil
	}
})

func callDecision(c tools.Call) Decision {
	return Decision{Call: &c}
}

func TestLoop_AnswersAfterExploring(t *testing.T) {
	s := newTestSession(t)
	r := &scriptedReasoner{steps: []Decision{
		callDecision(tools.NewCall(tools.KindImportantFiles, tools.FieldRepoPath, "/repo")),
		callDecision(searchCall("os")),
		callDecision(readCall("app.py")),
		{Answer: "It imports os (app.py:1) and prints x at app.py:3, see ghost.py:9."},
	}}

	res, err := NewLoop(r, repoExecutor).Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.False(t, res.Forced)
	assert.Equal(t, 4, res.Steps)
	assert.Equal(t, 3, res.Breaker.TotalCalls)
	assert.Equal(t, 3, res.Report.Total)
	assert.Equal(t, 2, res.Report.Verified)
	assert.Equal(t, "It imports os (app.py:1) and prints x at app.py:3, see `ghost.py`.", res.Answer)
	assert.Contains(t, res.RawAnswer, "ghost.py:9")
	assert.Equal(t, "single script", s.Memory().ArchitectureLabel)

	require.Len(t, r.inputs, 4)
	assert.Equal(t, tools.KindImportantFiles, r.inputs[0].Recommendation)
	assert.Contains(t, r.inputs[0].Context, "NO FILES READ YET")
	assert.Equal(t, tools.KindReadFile, r.inputs[2].Recommendation)
	assert.Contains(t, r.inputs[3].Context, "- app.py (lines 1-3)")
	assert.Equal(t, appReadOutput, r.inputs[3].LastOutput)
}

func TestLoop_TripForcesAnswer(t *testing.T) {
	s := newTestSession(t)
	repeat := callDecision(readCall("app.py"))
	r := &scriptedReasoner{repeat: &repeat, forced: "It imports os at app.py:1."}

	res, err := NewLoop(r, repoExecutor).Run(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, res.Forced)
	assert.True(t, res.Breaker.Tripped)
	assert.Equal(t, "repetitive use of read_file", res.Breaker.TripReason)
	assert.Equal(t, 5, res.Breaker.TotalCalls, "no call is issued after the trip")
	assert.Equal(t, 1, r.forcedCalls)
	assert.Equal(t, "It imports os at app.py:1.", res.Answer)
	assert.Equal(t, 1, res.Report.Verified)
	assert.Equal(t, StateDone, res.State)
}

func TestLoop_GracefulExitWhenForcedAnswerFails(t *testing.T) {
	for name, r := range map[string]*scriptedReasoner{
		"error": {forcedErr: errors.New("boom")},
		"empty": {forced: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			repeat := callDecision(readCall("app.py"))
			r.repeat = &repeat
			s := newTestSession(t)

			res, err := NewLoop(r, repoExecutor).Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, res.Forced)
			assert.Contains(t, res.Answer, "explored extensively")
			assert.Contains(t, res.Answer, "5 tool calls")
			assert.Zero(t, res.Report.Total)
		})
	}
}

func TestLoop_ReasonerErrorBecomesFriendlyAnswer(t *testing.T) {
	s := newTestSession(t)
	r := &scriptedReasoner{
		steps:   []Decision{callDecision(searchCall("os"))},
		failAt:  1,
		failErr: errors.New("upstream returned 429 Too Many Requests"),
	}

	res, err := NewLoop(r, repoExecutor).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.False(t, res.Forced)
	assert.Contains(t, res.Error, "429")
	assert.True(t, strings.HasPrefix(res.Answer, "**Error:** The AI service is busy"))
	assert.Zero(t, r.forcedCalls)
}

func TestLoop_InvalidCallIsFedBack(t *testing.T) {
	s := newTestSession(t)
	r := &scriptedReasoner{steps: []Decision{
		callDecision(tools.Call{Kind: tools.KindReadFile}),
		{Answer: "No citations here."},
	}}

	res, err := NewLoop(r, repoExecutor).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Zero(t, res.Breaker.TotalCalls)
	require.Len(t, r.inputs, 2)
	assert.True(t, strings.HasPrefix(r.inputs[1].LastOutput, "Error: "), r.inputs[1].LastOutput)
	assert.Equal(t, "No citations here.", res.Answer)
}

func TestLoop_ExecutorErrorIsRecordedAsOutput(t *testing.T) {
	s := newTestSession(t)
	r := &scriptedReasoner{steps: []Decision{
		callDecision(searchCall("os")),
		callDecision(readCall("missing.py")),
		{Answer: "done"},
	}}

	_, err := NewLoop(r, repoExecutor).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Error: file not found", r.inputs[2].LastOutput)
	assert.Len(t, s.Records(), 2)
}

func TestLoop_MaxSteps(t *testing.T) {
	n := 0
	exec := executorFunc(func(context.Context, tools.Call) (string, error) {
		n++
		return strings.Repeat("distinct ", n), nil
	})
	repeat := callDecision(tools.NewCall(tools.KindListDirectory, tools.FieldRepoPath, "/repo"))
	r := &scriptedReasoner{repeat: &repeat, forced: "Stopped."}

	cfg := DefaultConfig()
	cfg.Tracker.WindowThreshold = 100
	s, err := NewSession(cfg, nil, "/repo", "q")
	require.NoError(t, err)

	res, err := NewLoop(r, exec, WithMaxSteps(3)).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 3, res.Breaker.TotalCalls)
	assert.False(t, res.Breaker.Tripped)
	assert.True(t, res.Forced)
	assert.Equal(t, "Stopped.", res.Answer)
}

func TestLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoop(&scriptedReasoner{}, repoExecutor).Run(ctx, newTestSession(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_RejectsClosedSession(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.SubmitAnswer("early"))

	_, err := NewLoop(&scriptedReasoner{}, repoExecutor).Run(context.Background(), s)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
