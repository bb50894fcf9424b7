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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

func testRegistry(t *testing.T) *routing.Registry {
	t.Helper()
	reg, err := routing.LoadRegistry(context.Background(), "")
	require.NoError(t, err)
	return reg
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(DefaultConfig(), testRegistry(t), "/repo", "How does app.py start?")
	require.NoError(t, err)
	return s
}

func readCall(path string) tools.Call {
	return tools.NewCall(tools.KindReadFile, tools.FieldFilePath, path)
}

func searchCall(pattern string) tools.Call {
	return tools.NewCall(tools.KindSearchCode, tools.FieldRepoPath, "/repo", tools.FieldPattern, pattern)
}

func TestNewSession(t *testing.T) {
	_, err := NewSession(DefaultConfig(), nil, "/repo", "  ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	bad := DefaultConfig()
	bad.FilterMode = "delete"
	_, err = NewSession(bad, nil, "/repo", "q")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s := newTestSession(t)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, StateInit, s.State())
	assert.Equal(t, "/repo", s.RepoPath())
	assert.Contains(t, s.RenderContext(), "NO FILES READ YET")
}

func TestSession_RecordToolCall(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	obs, err := s.RecordToolCall(ctx, searchCall("main"), "Results:\napp.py:1: import os\n(1 result)\n")
	require.NoError(t, err)
	assert.Equal(t, StateExploring, obs.State)
	assert.True(t, obs.Record.Novel)
	assert.True(t, obs.RoutingOK)
	assert.Equal(t, tools.KindReadFile, obs.Recommendation)

	obs, err = s.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)
	assert.True(t, obs.RoutingOK, "search satisfies the read prerequisite")
	assert.False(t, obs.Tripped)

	assert.Contains(t, s.RenderContext(), "- app.py (lines 1-3)")
	assert.Len(t, s.CapturedOutputs(), 2)
	assert.Equal(t, 2, s.Breaker().TotalCalls)
}

func TestSession_RoutingWarning(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	obs, err := s.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)
	assert.False(t, obs.RoutingOK)
	assert.Equal(t, "Consider searching for relevant files before reading directly.", obs.RoutingWarning)

	obs, err = s.RecordToolCall(ctx, readCall("lib.py"), "lib.py (1 line)\n----\n   1 | pass")
	require.NoError(t, err)
	assert.True(t, obs.RoutingOK, "a rule warns once per session")
	assert.Empty(t, obs.RoutingWarning)
}

func TestSession_InvalidCall(t *testing.T) {
	s := newTestSession(t)

	_, err := s.RecordToolCall(context.Background(), tools.Call{Kind: tools.KindReadFile}, "x")
	assert.ErrorIs(t, err, ErrInvalidCall)
	assert.ErrorIs(t, err, tools.ErrMissingField)
	assert.Equal(t, StateInit, s.State())
	assert.Zero(t, s.Breaker().TotalCalls)
}

func TestSession_TripStopsExploration(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	var tripped bool
	for i := 0; i < 6 && !tripped; i++ {
		obs, err := s.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
		require.NoError(t, err)
		tripped = obs.Tripped
		if tripped {
			assert.Equal(t, StateTripped, obs.State)
			assert.Equal(t, "repetitive use of read_file", obs.TripReason)
			assert.Empty(t, obs.Recommendation)
		}
	}
	require.True(t, tripped)

	_, err := s.RecordToolCall(ctx, searchCall("x"), "")
	assert.ErrorIs(t, err, ErrSessionTripped)

	require.NoError(t, s.SubmitAnswer("It imports os at app.py:1."))
	assert.Equal(t, StateTripped, s.State(), "answer in TRIPPED keeps the state")
	assert.ErrorIs(t, s.SubmitAnswer("again"), ErrInvalidTransition)

	rep, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, s.State())
	assert.Equal(t, 1, rep.Verified)
}

func TestSession_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)

	_, err := s.Verify(ctx)
	assert.ErrorIs(t, err, ErrNoAnswer)

	_, err = s.RecordToolCall(ctx, searchCall("os"), "Results:\napp.py:1: import os\n(1 result)\n")
	require.NoError(t, err)
	_, err = s.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)
	s.RecordFact("app.py imports os", "app.py:1")

	assert.ErrorIs(t, s.SubmitAnswer(""), ErrEmptyAnswer)
	require.NoError(t, s.SubmitAnswer("Imports os at app.py:1 and loads config at missing.py:4."))
	assert.Equal(t, StateAnswerReady, s.State())

	_, err = s.RecordToolCall(ctx, searchCall("late"), "")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.Finalize(ctx, grounding.ModeStrip)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	rep, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 1, rep.Verified)
	assert.Equal(t, 0.5, rep.Precision)

	again, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, rep, again, "verification runs once")

	final, err := s.Finalize(ctx, grounding.ModeStrip)
	require.NoError(t, err)
	assert.Equal(t, "Imports os at app.py:1 and loads config at `missing.py`.", final)
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, final, s.FinalAnswer())

	s.RecordFact("ignored", "")
	assert.Len(t, s.Memory().Facts, 1)
}

func TestSession_SubmitFromInit(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.SubmitAnswer("Nothing to explore."))
	assert.Equal(t, StateAnswerReady, s.State())
}

func TestSession_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	id := s.ID()

	_, err := s.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)
	require.NoError(t, s.SubmitAnswer("done"))

	s.Reset()
	assert.Equal(t, id, s.ID())
	assert.Equal(t, StateInit, s.State())
	assert.Empty(t, s.Answer())
	assert.Empty(t, s.Records())
	assert.Empty(t, s.Memory().FilesRead)

	obs, err := s.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)
	assert.False(t, obs.RoutingOK, "warnings are per session lifetime and reset with it")
}

func TestSession_Isolation(t *testing.T) {
	ctx := context.Background()
	a := newTestSession(t)
	b := newTestSession(t)
	assert.NotEqual(t, a.ID(), b.ID())

	_, err := a.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)

	assert.Len(t, a.Records(), 1)
	assert.Empty(t, b.Records())
	assert.Contains(t, b.RenderContext(), "NO FILES READ YET")

	obs, err := b.RecordToolCall(ctx, readCall("app.py"), appReadOutput)
	require.NoError(t, err)
	assert.True(t, obs.Record.Novel, "novelty is tracked per session")
	assert.False(t, obs.RoutingOK, "routing warnings are tracked per session")
}

func TestSession_NilRegistry(t *testing.T) {
	s, err := NewSession(DefaultConfig(), nil, "", "q")
	require.NoError(t, err)

	obs, err := s.RecordToolCall(context.Background(), readCall("a.go"), "")
	require.NoError(t, err)
	assert.True(t, obs.RoutingOK)
	assert.Empty(t, obs.Recommendation)
}
