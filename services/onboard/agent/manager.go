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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
)

// RegistrySource returns the routing registry for new sessions. It lets a
// hot-reloading watcher supply the current registry.
type RegistrySource func() *routing.Registry

// StaticRegistry returns a source that always yields r.
func StaticRegistry(r *routing.Registry) RegistrySource {
	return func() *routing.Registry { return r }
}

type managedSession struct {
	mu      sync.Mutex
	session *Session

	// lastUsed is unix nanoseconds of the last With; done is set once the
	// session reaches DONE. Both are read by eviction without mu.
	lastUsed atomic.Int64
	done     atomic.Bool
}

// Manager isolates sessions by ID.
//
// Thread Safety:
//
//	Safe for concurrent use. The map is guarded by a RWMutex and each
//	session by its own mutex, so calls on one session are serialized while
//	different sessions proceed in parallel.
//
// Sessions that reached DONE, and sessions idle longer than SessionTTL, are
// evicted on the next Create or Sweep.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession
	config   Config
	registry RegistrySource
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager.
func NewManager(config Config, registry RegistrySource, opts ...ManagerOption) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = StaticRegistry(nil)
	}
	m := &Manager{
		sessions: make(map[string]*managedSession),
		config:   config,
		registry: registry,
		logger:   config.logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create starts a new session and returns its ID.
//
// Outputs:
//
//	string - The session ID.
//	error - ErrEmptyQuestion or ErrTooManySessions.
func (m *Manager) Create(repoPath, question string) (string, error) {
	s, err := NewSession(m.config, m.registry(), repoPath, question)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return "", fmt.Errorf("%w: limit %d", ErrTooManySessions, m.config.MaxSessions)
	}
	entry := &managedSession{session: s}
	entry.lastUsed.Store(m.now().UnixNano())
	m.sessions[s.ID()] = entry

	m.logger.Info("session created",
		slog.String("session_id", s.ID()),
		slog.String("repo_path", repoPath),
	)
	return s.ID(), nil
}

// With runs fn with exclusive access to a session.
//
// Description:
//
//	A session idle past SessionTTL is removed and reported as not found.
//	A session stays reachable after reaching DONE until the next eviction,
//	so the caller can still read its final answer.
//
// Outputs:
//
//	error - ErrSessionNotFound, or the error returned by fn.
func (m *Manager) With(id string, fn func(*Session) error) error {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok && m.expired(entry, m.now()) {
		m.mu.Lock()
		if m.sessions[id] == entry {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.logger.Info("session expired", slog.String("session_id", id))
		ok = false
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	err := fn(entry.session)
	entry.lastUsed.Store(m.now().UnixNano())
	if entry.session.State() == StateDone {
		entry.done.Store(true)
	}
	return err
}

// Sweep evicts finished and idle sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked()
}

// evictLocked removes DONE sessions and sessions idle past SessionTTL.
// Caller must hold the write lock.
func (m *Manager) evictLocked() int {
	now := m.now()
	evicted := 0
	for id, entry := range m.sessions {
		if !entry.done.Load() && !m.expired(entry, now) {
			continue
		}
		delete(m.sessions, id)
		evicted++
		m.logger.Debug("session evicted",
			slog.String("session_id", id),
			slog.Bool("done", entry.done.Load()),
		)
	}
	return evicted
}

func (m *Manager) expired(entry *managedSession, now time.Time) bool {
	if m.config.SessionTTL <= 0 {
		return false
	}
	return now.Sub(time.Unix(0, entry.lastUsed.Load())) > m.config.SessionTTL
}

// Delete removes a session. Deleting an unknown ID returns ErrSessionNotFound.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.logger.Info("session deleted", slog.String("session_id", id))
	return nil
}

// List returns the active session IDs, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
