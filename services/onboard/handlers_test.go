// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package onboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/onboard/services/onboard/agent"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
)

const appRead = "app.py (3 lines)\n----\n   1 | import os\n   2 | x = 1\n   3 | print(x)"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T, mutate func(*agent.Config)) *gin.Engine {
	t.Helper()
	reg, err := routing.LoadRegistry(context.Background(), "")
	require.NoError(t, err)

	cfg := agent.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}
	manager, err := agent.NewManager(cfg, agent.StaticRegistry(reg))
	require.NoError(t, err)
	return NewRouter(NewHandlers(manager, cfg.Logger), false)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createSession(t *testing.T, router http.Handler) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/onboard/sessions", CreateSessionRequest{
		RepoPath: "/repo",
		Question: "What does app.py do?",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[CreateSessionResponse](t, w).SessionID
}

func sessionPath(id, suffix string) string {
	return "/v1/onboard/sessions/" + id + suffix
}

func TestHandlers_Health(t *testing.T) {
	router := setupTestRouter(t, nil)
	createSession(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/onboard/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 1, resp.Sessions)
}

func TestHandlers_Metrics(t *testing.T) {
	router := setupTestRouter(t, nil)
	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_CreateSession(t *testing.T) {
	router := setupTestRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/onboard/sessions", CreateSessionRequest{
		Question: "Where is main?",
		Plan:     []string{"find entry points"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	resp := decode[CreateSessionResponse](t, w)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, agent.StateInit.String(), resp.State)
	assert.Equal(t, "get_important_files", resp.Recommendation)

	w = doJSON(t, router, http.MethodPost, "/v1/onboard/sessions", map[string]string{"repo_path": "/r"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_SessionLimit(t *testing.T) {
	router := setupTestRouter(t, func(c *agent.Config) { c.MaxSessions = 1 })
	createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/onboard/sessions", CreateSessionRequest{Question: "q"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "TOO_MANY_SESSIONS", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_GroundedFlow(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), ToolCallRequest{
		Tool:   "search_code",
		Input:  map[string]string{"repo_path": "/repo", "pattern": "os"},
		Output: "Results:\napp.py:1: import os\n(1 result)\n",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	call := decode[ToolCallResponse](t, w)
	assert.Equal(t, 1, call.Sequence)
	assert.True(t, call.Novel)
	assert.True(t, call.RoutingOK)
	assert.Equal(t, "read_file", call.Recommendation)
	assert.Equal(t, agent.StateExploring.String(), call.State)

	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), ToolCallRequest{
		Tool:   "read_file",
		Input:  map[string]string{"file_path": "app.py"},
		Output: appRead,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/facts"), FactRequest{
		Fact: "app.py imports os", Citation: "app.py:1",
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, sessionPath(id, "/context"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	ctxResp := decode[ContextResponse](t, w)
	assert.Contains(t, ctxResp.Context, "app.py (lines 1-3)")
	assert.Contains(t, ctxResp.Context, "app.py imports os")
	require.Len(t, ctxResp.Memory.FilesRead, 1)

	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/answer"), AnswerRequest{
		Answer: "It imports os at app.py:1 and prints x at app.py:9.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ans := decode[AnswerResponse](t, w)
	assert.Equal(t, agent.StateDone.String(), ans.State)
	assert.Equal(t, "strip", ans.FilterMode)
	assert.Equal(t, 2, ans.Report.Total)
	assert.Equal(t, 1, ans.Report.Verified)
	assert.Equal(t, "It imports os at app.py:1 and prints x at `app.py`.", ans.FinalAnswer)

	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/answer"), AnswerRequest{Answer: "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), ToolCallRequest{
		Tool: "read_file", Input: map[string]string{"file_path": "app.py"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_CLOSED", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_FilterModeOverride(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, sessionPath(id, "/answer"), AnswerRequest{
		Answer: "See main.go:10.", FilterMode: "keep",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ans := decode[AnswerResponse](t, w)
	assert.Equal(t, "keep", ans.FilterMode)
	assert.Equal(t, "See main.go:10.", ans.FinalAnswer)
	assert.Zero(t, ans.Report.Verified)

	id = createSession(t, router)
	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/answer"), AnswerRequest{
		Answer: "x", FilterMode: "shout",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_TripAndGracefulExit(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	read := ToolCallRequest{
		Tool:   "read_file",
		Input:  map[string]string{"file_path": "app.py"},
		Output: "app.py (1 line)\n   1 | pass",
	}
	var last ToolCallResponse
	for i := 0; i < 5; i++ {
		w := doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), read)
		require.Equal(t, http.StatusOK, w.Code)
		last = decode[ToolCallResponse](t, w)
	}
	assert.True(t, last.Tripped)
	assert.Contains(t, last.TripReason, "read_file")
	assert.Equal(t, agent.StateTripped.String(), last.State)
	assert.Contains(t, last.GracefulExit, "explored extensively")
	assert.Empty(t, last.Recommendation)

	w := doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), read)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_TRIPPED", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, sessionPath(id, "/thrashing"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	th := decode[ThrashingResponse](t, w)
	assert.True(t, th.Tripped)
	assert.True(t, th.Breaker.Tripped)
	assert.Equal(t, 5, th.Breaker.TotalCalls)
	assert.Equal(t, 1, th.Stats.FilesRead)

	w = doJSON(t, router, http.MethodPost, sessionPath(id, "/answer"), AnswerRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ans := decode[AnswerResponse](t, w)
	assert.Contains(t, ans.FinalAnswer, "explored extensively")
	assert.Equal(t, agent.StateDone.String(), ans.State)
}

func TestHandlers_EmptyAnswerOnLiveSession(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodPost, sessionPath(id, "/answer"), AnswerRequest{Answer: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_InvalidCalls(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"unknown tool", ToolCallRequest{Tool: "delete_repo"}, http.StatusBadRequest},
		{"missing field", ToolCallRequest{Tool: "read_file", Input: map[string]string{}}, http.StatusBadRequest},
		{"missing tool", map[string]string{"output": "x"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}

	w := doJSON(t, router, http.MethodGet, sessionPath(id, "/thrashing"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[ThrashingResponse](t, w).Breaker.TotalCalls, "rejected calls are not recorded")
}

func TestHandlers_Recommendation(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodGet, sessionPath(id, "/recommendation"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[RecommendationResponse](t, w)
	assert.True(t, rec.Found)
	assert.Equal(t, "get_important_files", rec.Tool)

	doJSON(t, router, http.MethodPost, sessionPath(id, "/calls"), ToolCallRequest{
		Tool: "list_directory_structure", Input: map[string]string{"repo_path": "/repo"}, Output: "app.py",
	})
	w = doJSON(t, router, http.MethodGet, sessionPath(id, "/recommendation"), nil)
	assert.Equal(t, "search_code", decode[RecommendationResponse](t, w).Tool)
}

func TestHandlers_UnknownSession(t *testing.T) {
	router := setupTestRouter(t, nil)

	for _, path := range []string{"/context", "/thrashing", "/recommendation"} {
		w := doJSON(t, router, http.MethodGet, sessionPath("nope", path), nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := doJSON(t, router, http.MethodDelete, sessionPath("nope", ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_DeleteSession(t *testing.T) {
	router := setupTestRouter(t, nil)
	id := createSession(t, router)

	w := doJSON(t, router, http.MethodDelete, sessionPath(id, ""), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, sessionPath(id, "/context"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_RequestIDEcho(t *testing.T) {
	router := setupTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/onboard/sessions/x/context", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestHandlers_RateLimit(t *testing.T) {
	reg, err := routing.LoadRegistry(context.Background(), "")
	require.NoError(t, err)
	cfg := agent.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := agent.NewManager(cfg, agent.StaticRegistry(reg))
	require.NoError(t, err)
	router := NewRouter(NewHandlers(manager, cfg.Logger, WithRateLimit(0.01, 1)), false)

	createSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/onboard/sessions", CreateSessionRequest{Question: "again?"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = doJSON(t, router, http.MethodGet, "/v1/onboard/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, "unthrottled routes are unaffected")
}

func TestWithRateLimit_Disabled(t *testing.T) {
	h := NewHandlers(nil, nil, WithRateLimit(0, 5))
	assert.Nil(t, h.limiter)

	h = NewHandlers(nil, nil, WithRateLimit(2.5, 0))
	require.NotNil(t, h.limiter)
	assert.Equal(t, 3, h.limiter.Burst())
}

func TestHandlers_CreateSessionExpiredBeforeReply(t *testing.T) {
	reg, err := routing.LoadRegistry(context.Background(), "")
	require.NoError(t, err)
	cfg := agent.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.SessionTTL = time.Minute

	// Every clock read lands an hour later, so the session is idle-expired
	// by the time the handler reads it back.
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Hour)
		return now
	}
	manager, err := agent.NewManager(cfg, agent.StaticRegistry(reg), agent.WithClock(clock))
	require.NoError(t, err)
	router := NewRouter(NewHandlers(manager, cfg.Logger), false)

	w := doJSON(t, router, http.MethodPost, "/v1/onboard/sessions", CreateSessionRequest{Question: "q"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}
