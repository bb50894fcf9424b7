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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "strip", cfg.Agent.FilterMode)
	assert.Equal(t, 25, cfg.Agent.Tracker.MaxTotalCalls)
	assert.Equal(t, 3, cfg.Eval.Gate.HistoryWindow)
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := writeFile(t, "onboard.yaml", `
server:
  addr: "127.0.0.1:9000"
  shutdown_timeout: 3s
agent:
  filter_mode: flag
  tracker:
    max_total_calls: 40
eval:
  db_path: /var/lib/onboard
  gate:
    overall_threshold: 15
log:
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "flag", cfg.Agent.FilterMode)
	assert.Equal(t, 40, cfg.Agent.Tracker.MaxTotalCalls)
	assert.Equal(t, 5, cfg.Agent.Tracker.WindowSize, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/onboard", cfg.Eval.DBPath)
	assert.Equal(t, 15.0, cfg.Eval.Gate.OverallThreshold)
	assert.Equal(t, 10.0, cfg.Eval.Gate.CategoryThreshold)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	path := writeFile(t, "env.yaml", "server:\n  addr: \":7070\"\n")
	t.Setenv(EnvConfigPath, path)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [1, 2"},
		{"bad filter mode", "agent:\n  filter_mode: loud\n"},
		{"bad exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"empty addr", "server:\n  addr: \"\"\n"},
		{"negative concurrency", "eval:\n  concurrency: -1\n"},
		{"bad log level", "log:\n  level: chatty\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "c.yaml", tc.body))
			assert.ErrorIs(t, err, ErrInvalidAppConfig)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Server.ShutdownTimeout = time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := NewServer(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, srv.Handler())
	assert.Zero(t, srv.Manager().Len())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/v1/onboard/health", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_WatchedRegistry(t *testing.T) {
	path := writeFile(t, "routing.yaml", "start: search_code\n")
	cfg := DefaultAppConfig()
	cfg.Routing = RoutingConfig{Path: path, Watch: true}

	srv, err := NewServer(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NotNil(t, srv.watcher)
	t.Cleanup(func() { _ = srv.watcher.Stop() })

	id, err := srv.Manager().Create("/repo", "q")
	require.NoError(t, err)
	w := doJSON(t, srv.Handler(), http.MethodGet, sessionPath(id, "/recommendation"), nil)
	assert.Equal(t, "search_code", decode[RecommendationResponse](t, w).Tool)
}
