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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/onboard/services/onboard/agent"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

func loadTestdata(t *testing.T) []Transcript {
	t.Helper()
	ts, err := LoadTranscripts("testdata")
	require.NoError(t, err)
	return ts
}

func newTestHarness(t *testing.T, opts ...HarnessOption) *Harness {
	t.Helper()
	reg, err := routing.LoadRegistry(context.Background(), "")
	require.NoError(t, err)
	h, err := NewHarness(agent.DefaultConfig(), reg, opts...)
	require.NoError(t, err)
	return h
}

func TestLoadTranscripts(t *testing.T) {
	ts := loadTestdata(t)
	require.Len(t, ts, 3)
	assert.Equal(t, "grounded", ts[0].ID)
	assert.Equal(t, "hallucinated", ts[1].ID)
	assert.Equal(t, "looping", ts[2].ID)
	assert.Equal(t, filepath.Join("testdata", "grounded.yaml"), ts[0].Source)

	calls, err := ts[0].ToolCalls()
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, tools.KindReadFile, calls[2].Kind)
	assert.Equal(t, "app.py", calls[2].Get(tools.FieldFilePath))
}

func TestParseTranscript_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "id: [unclosed"},
		{"missing id", "question: q"},
		{"missing question", "id: a"},
		{"unknown tool", "id: a\nquestion: q\ncalls:\n  - tool: rm_rf\n"},
		{"empty tool", "id: a\nquestion: q\ncalls:\n  - output: x\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTranscript([]byte(tc.yaml))
			assert.ErrorIs(t, err, ErrInvalidTranscript)
		})
	}
}

func TestLoadTranscripts_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	body := []byte("id: same\nquestion: q\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), body, 0o600))

	_, err := LoadTranscripts(dir)
	assert.ErrorIs(t, err, ErrInvalidTranscript)
}

func TestExtractToolMetrics(t *testing.T) {
	calls := []tools.Call{
		tools.NewCall(tools.KindSearchCode, tools.FieldRepoPath, "/r", tools.FieldPattern, "x"),
		tools.NewCall(tools.KindReadFile, tools.FieldFilePath, "./src/app.py"),
		tools.NewCall(tools.KindListDirectory, tools.FieldRepoPath, "/r"),
	}
	m := ExtractToolMetrics("q1", calls, "See app.py:1, src/app.py:2 and lib/util.py:4.")

	assert.Equal(t, 3, m.TotalToolCalls)
	assert.Equal(t, 1, m.ReadFileCalls)
	assert.Equal(t, 1, m.SearchCodeCalls)
	assert.Equal(t, 1, m.OtherToolCalls)
	assert.Equal(t, 3, m.CitationsCount)
	assert.Equal(t, []string{"src/app.py"}, m.FilesRead)
	assert.Equal(t, []string{"app.py", "lib/util.py", "src/app.py"}, m.FilesCited)
	assert.Equal(t, []string{"lib/util.py"}, m.UngroundedFiles)
	assert.False(t, m.GroundingValid())

	none := ExtractToolMetrics("q2", nil, "cites main.go:3")
	assert.True(t, none.CitationsWithoutRead)
	assert.False(t, none.GroundingValid())

	clean := ExtractToolMetrics("q3", nil, "no citations")
	assert.True(t, clean.GroundingValid())
}

func TestAggregate_Empty(t *testing.T) {
	a := Aggregate(nil)
	assert.Zero(t, a.TotalQuestions)
	assert.Equal(t, 100.0, a.GroundingRate, "no citations means no violations")
	assert.Zero(t, a.CitationPrecision)
	assert.Zero(t, a.ReadFileRate)
}

func TestHarness_Evaluate(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)
	results := make(map[string]Result)
	for _, tr := range loadTestdata(t) {
		res, err := h.Evaluate(ctx, tr)
		require.NoError(t, err)
		results[tr.ID] = res
	}

	g := results["grounded"]
	assert.True(t, g.Passed)
	assert.Equal(t, 3, g.Report.Total)
	assert.Equal(t, 3, g.Report.Verified)
	assert.Equal(t, 3, g.ReplayedCalls)
	assert.Empty(t, g.RoutingWarnings)
	assert.Equal(t, "single script", g.Memory.Architecture)
	assert.Equal(t, 100.0, g.Claims.Precision)

	hl := results["hallucinated"]
	assert.False(t, hl.Passed)
	assert.Equal(t, 2, hl.Report.Total)
	assert.Zero(t, hl.Report.Verified)
	assert.True(t, hl.Tools.CitationsWithoutRead)
	assert.Equal(t, "The server is started in `server.go` after loading `settings.py`.", hl.FinalAnswer)

	lp := results["looping"]
	assert.False(t, lp.Passed)
	assert.True(t, lp.Graceful)
	assert.True(t, lp.Breaker.Tripped)
	assert.Equal(t, 5, lp.ReplayedCalls)
	assert.Equal(t, 2, lp.SkippedCalls)
	assert.Len(t, lp.RoutingWarnings, 1)
	assert.Contains(t, lp.FinalAnswer, "explored extensively")
}

func TestHarness_InvalidCallsAreSkipped(t *testing.T) {
	tr := Transcript{
		ID:       "partial",
		Question: "q",
		Answer:   "nothing cited",
		Calls: []TranscriptCall{
			{Tool: "read_file", Input: map[string]string{}},
			{Tool: "list_directory_structure", Input: map[string]string{"repo_path": "/r"}, Output: "a.go"},
		},
	}
	res, err := newTestHarness(t).Evaluate(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvalidCalls)
	assert.Equal(t, 1, res.ReplayedCalls)
	assert.True(t, res.Passed)
}

func TestHarness_RunConcurrent(t *testing.T) {
	ts := loadTestdata(t)
	var many []Transcript
	for i := 0; i < 8; i++ {
		for _, tr := range ts {
			tr.ID = tr.ID + "-" + string(rune('a'+i))
			many = append(many, tr)
		}
	}

	run, err := newTestHarness(t, WithConcurrency(4)).Run(context.Background(), many)
	require.NoError(t, err)
	require.Len(t, run.Results, len(many))
	assert.NotEmpty(t, run.ID)

	for i, r := range run.Results {
		assert.Equal(t, many[i].ID, r.TranscriptID, "results keep input order")
	}

	a := run.Aggregate
	assert.Equal(t, 24, a.TotalQuestions)
	assert.Equal(t, 8, a.Passed)
	assert.InDelta(t, 33.33, a.PassRate, 0.01)
	assert.InDelta(t, 66.67, a.ReadFileRate, 0.01)
	assert.InDelta(t, 50.0, a.GroundingRate, 0.01)
	assert.InDelta(t, 60.0, a.CitationPrecision, 0.01)
	assert.Equal(t, 8, a.TrippedSessions)

	assert.InDelta(t, 50.0, run.Categories["specific_file"].PassRate, 0.01)
	assert.Zero(t, run.Categories["code_flow"].PassRate)
}

func TestHarness_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestHarness(t).Run(ctx, loadTestdata(t))
	assert.ErrorIs(t, err, context.Canceled)
}
