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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/onboard/services/onboard/storage/badger"
)

const (
	runKeyPrefix = "eval/run/"
	baselineKey  = "eval/baseline"
)

// ErrNoBaseline is returned when no baseline run was recorded.
var ErrNoBaseline = errors.New("no baseline run")

// Store persists evaluation runs.
//
// Runs are keyed by start time so prefix scans return them oldest first.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// NewStore wraps an opened database. The caller owns db.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func runKey(r *Run) string {
	return fmt.Sprintf("%s%020d/%s", runKeyPrefix, r.StartedAt.UnixNano(), r.ID)
}

// SaveRun stores a run.
func (s *Store) SaveRun(ctx context.Context, r *Run) error {
	if err := s.db.PutJSON(ctx, runKey(r), r); err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// History returns up to limit most recent runs, oldest first.
// A non-positive limit returns every run.
func (s *Store) History(ctx context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.ScanPrefix(ctx, runKeyPrefix, func(_ string, value []byte) error {
		var r Run
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		runs = append(runs, &r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}
	return runs, nil
}

// Run returns the stored run with id.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	var found *Run
	err := s.db.ScanPrefix(ctx, runKeyPrefix, func(_ string, value []byte) error {
		var r Run
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		if r.ID == id {
			found = &r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if found == nil {
		return nil, fmt.Errorf("run %s: %w", id, badger.ErrNotFound)
	}
	return found, nil
}

// SetBaseline marks r as the baseline for later gates.
func (s *Store) SetBaseline(ctx context.Context, r *Run) error {
	if err := s.db.PutJSON(ctx, baselineKey, r); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

// Baseline returns the baseline run.
//
// Outputs:
//
//	error - ErrNoBaseline when none was set.
func (s *Store) Baseline(ctx context.Context) (*Run, error) {
	var r Run
	err := s.db.GetJSON(ctx, baselineKey, &r)
	if errors.Is(err, badger.ErrNotFound) {
		return nil, ErrNoBaseline
	}
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	return &r, nil
}
