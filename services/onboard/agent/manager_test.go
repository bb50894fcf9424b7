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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateWithDelete(t *testing.T) {
	m, err := NewManager(DefaultConfig(), StaticRegistry(testRegistry(t)))
	require.NoError(t, err)

	id, err := m.Create("/repo", "What is app.py?")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, m.List())

	err = m.With(id, func(s *Session) error {
		_, err := s.RecordToolCall(context.Background(), readCall("app.py"), appReadOutput)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, m.With(id, func(s *Session) error {
		assert.Equal(t, "app.py", s.Memory().FilesRead[0].Path)
		return nil
	}))

	require.NoError(t, m.Delete(id))
	assert.Zero(t, m.Len())
	assert.ErrorIs(t, m.Delete(id), ErrSessionNotFound)
	assert.ErrorIs(t, m.With(id, func(*Session) error { return nil }), ErrSessionNotFound)
}

func TestManager_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	_, err = m.Create("/repo", "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = m.Create("/repo", "one")
	require.NoError(t, err)
	_, err = m.Create("/repo", "two")
	assert.ErrorIs(t, err, ErrTooManySessions)

	bad := DefaultConfig()
	bad.MaxFacts = -1
	_, err = NewManager(bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManager_SerializesSessionAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracker.MaxTotalCalls = 1000
	cfg.Tracker.MaxCallsPerTool = 1000
	cfg.Tracker.WindowThreshold = 1000
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	const sessions, callsEach = 4, 20
	ids := make([]string, sessions)
	for i := range ids {
		ids[i], err = m.Create("/repo", fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for c := 0; c < callsEach; c++ {
			wg.Add(1)
			go func(id string, c int) {
				defer wg.Done()
				_ = m.With(id, func(s *Session) error {
					_, err := s.RecordToolCall(context.Background(),
						searchCall(fmt.Sprintf("p%d", c)), fmt.Sprintf("Results:\nf%d.go:1: x\n", c))
					return err
				})
			}(id, c)
		}
	}
	wg.Wait()

	for _, id := range ids {
		require.NoError(t, m.With(id, func(s *Session) error {
			assert.Equal(t, callsEach, s.Breaker().TotalCalls)
			assert.False(t, s.Breaker().Tripped)
			assert.Len(t, s.Memory().Searches, callsEach)
			return nil
		}))
	}
}

// finish drives a session to DONE.
func finish(t *testing.T, m *Manager, id string) {
	t.Helper()
	require.NoError(t, m.With(id, func(s *Session) error {
		ctx := context.Background()
		if err := s.SubmitAnswer("done"); err != nil {
			return err
		}
		if _, err := s.Verify(ctx); err != nil {
			return err
		}
		_, err := s.Finalize(ctx, s.FilterMode())
		return err
	}))
}

func TestManager_FinishedSessionsFreeCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)

	first, err := m.Create("/repo", "one")
	require.NoError(t, err)
	second, err := m.Create("/repo", "two")
	require.NoError(t, err)
	finish(t, m, first)
	finish(t, m, second)

	require.NoError(t, m.With(first, func(s *Session) error {
		assert.Equal(t, StateDone, s.State(), "finished sessions stay readable until eviction")
		return nil
	}))

	third, err := m.Create("/repo", "three")
	require.NoError(t, err)
	assert.Equal(t, []string{third}, m.List())
	assert.ErrorIs(t, m.With(first, func(*Session) error { return nil }), ErrSessionNotFound)
}

func TestManager_IdleSessionsExpire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	cfg.SessionTTL = time.Minute
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m, err := NewManager(cfg, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	idle, err := m.Create("/repo", "idle")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	require.NoError(t, m.With(idle, func(*Session) error { return nil }))
	_, err = m.Create("/repo", "blocked")
	assert.ErrorIs(t, err, ErrTooManySessions, "use refreshes the idle clock")

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, m.With(idle, func(*Session) error { return nil }), ErrSessionNotFound)
	assert.Zero(t, m.Len())

	id, err := m.Create("/repo", "fresh")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.ErrorIs(t, m.With(id, func(*Session) error { return nil }), ErrSessionNotFound)
}

func TestManager_ZeroTTLKeepsIdleSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTTL = 0
	now := time.Now()
	m, err := NewManager(cfg, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	id, err := m.Create("/repo", "q")
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	assert.Zero(t, m.Sweep())
	assert.NoError(t, m.With(id, func(*Session) error { return nil }))
}
