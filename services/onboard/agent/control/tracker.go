// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control implements the exploration tracker: the session-scoped
// circuit breaker that detects budget exhaustion and thrashing.
package control

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/onboard/services/onboard/agent/memory"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// Trip reasons. Per-tool reasons are built with the tool name.
const (
	ReasonBudgetExhausted = "budget exhausted"
	ReasonNoNewInfo       = "no new information"
	reasonRepetitiveFmt   = "repetitive use of %s"
	reasonToolLimitFmt    = "%s call limit exceeded"
)

// TrackerConfig configures the circuit breaker thresholds.
type TrackerConfig struct {
	// MaxTotalCalls trips the breaker when reached (default: 25).
	MaxTotalCalls int `yaml:"max_total_calls" json:"max_total_calls" validate:"gte=0"`

	// WindowSize is the sliding window length for repetition (default: 5).
	WindowSize int `yaml:"window_size" json:"window_size" validate:"gte=0"`

	// WindowThreshold is the per-tool count inside the window that trips (default: 3).
	WindowThreshold int `yaml:"window_threshold" json:"window_threshold" validate:"gte=0"`

	// NoNewInfoLimit trips after this many consecutive non-novel calls (default: 5).
	NoNewInfoLimit int `yaml:"no_new_info_limit" json:"no_new_info_limit" validate:"gte=0"`

	// MaxCallsPerTool trips when any tool's cumulative count exceeds it (default: 10).
	MaxCallsPerTool int `yaml:"max_calls_per_tool" json:"max_calls_per_tool" validate:"gte=0"`

	// NoveltyPrefixBytes bounds the digested output prefix. Zero digests
	// the whole output (default: 500).
	NoveltyPrefixBytes int `yaml:"novelty_prefix_bytes" json:"novelty_prefix_bytes" validate:"gte=0"`

	// Logger receives trip events. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultTrackerConfig returns production defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxTotalCalls:      25,
		WindowSize:         5,
		WindowThreshold:    3,
		NoNewInfoLimit:     5,
		MaxCallsPerTool:    10,
		NoveltyPrefixBytes: 500,
	}
}

// InvocationRecord is one recorded tool call. Records are append-only.
type InvocationRecord struct {
	// Sequence is the 1-based position of the call in the session.
	Sequence int `json:"sequence"`

	// Tool is the tool kind.
	Tool tools.Kind `json:"tool"`

	// InputSummary is the deterministic input rendering.
	InputSummary string `json:"input_summary"`

	// Target is the normalized file path for read_file calls, otherwise empty.
	Target string `json:"target,omitempty"`

	// OutputDigest is the hex sha256 of the digested output prefix.
	OutputDigest string `json:"output_digest"`

	// Novel is true when the digest was not seen before in the session.
	Novel bool `json:"novel"`

	// CapturedOutput is the full raw output.
	CapturedOutput string `json:"captured_output"`
}

// BreakerState is the read model of the circuit breaker.
type BreakerState struct {
	TotalCalls          int    `json:"total_calls"`
	CallsWithoutNewInfo int    `json:"calls_without_new_info"`
	Tripped             bool   `json:"tripped"`
	TripReason          string `json:"trip_reason,omitempty"`

	// FirstTripReason is the reason recorded when the breaker first tripped.
	FirstTripReason string `json:"first_trip_reason,omitempty"`
}

// Tracker records tool invocations for one session and evaluates the
// circuit breaker rules after every call.
//
// Description:
//
//	Four rules are evaluated after each RecordCall, in priority order:
//	budget, no new information, sliding-window repetition, per-tool cap.
//	When several rules hold, the reason reported is the highest-priority
//	one holding as of the latest call. Once tripped the breaker never resets.
//
// Thread Safety:
//
//	Not safe for concurrent use. A session records calls sequentially.
type Tracker struct {
	config TrackerConfig
	logger *slog.Logger

	records []InvocationRecord
	seen    map[string]struct{}
	counts  map[tools.Kind]int
	novel   int

	callsWithoutNewInfo int
	tripped             bool
	tripReason          string
	firstTripReason     string
}

// NewTracker creates a tracker. Non-positive thresholds fall back to defaults,
// except NoveltyPrefixBytes where zero means the full output.
//
// Inputs:
//
//	config - Breaker thresholds.
//
// Outputs:
//
//	*Tracker - Tracker in the NORMAL state.
func NewTracker(config TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if config.MaxTotalCalls <= 0 {
		config.MaxTotalCalls = def.MaxTotalCalls
	}
	if config.WindowSize <= 0 {
		config.WindowSize = def.WindowSize
	}
	if config.WindowThreshold <= 0 {
		config.WindowThreshold = def.WindowThreshold
	}
	if config.NoNewInfoLimit <= 0 {
		config.NoNewInfoLimit = def.NoNewInfoLimit
	}
	if config.MaxCallsPerTool <= 0 {
		config.MaxCallsPerTool = def.MaxCallsPerTool
	}
	if config.NoveltyPrefixBytes < 0 {
		config.NoveltyPrefixBytes = def.NoveltyPrefixBytes
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		config: config,
		logger: logger,
		seen:   make(map[string]struct{}),
		counts: make(map[tools.Kind]int),
	}
}

// RecordCall records a tool call and re-evaluates the breaker.
//
// Description:
//
//	Digests a prefix of the output, decides novelty by set membership,
//	appends the record, updates the no-new-info counter (reset on novel,
//	incremented otherwise) and evaluates the trip rules. Calls recorded
//	after a trip are still counted.
//
// Inputs:
//
//	ctx - Used only for metrics.
//	call - The invocation request.
//	output - The raw tool output.
//
// Outputs:
//
//	InvocationRecord - The appended record.
func (t *Tracker) RecordCall(ctx context.Context, call tools.Call, output string) InvocationRecord {
	digest := t.digest(output)
	_, dup := t.seen[digest]
	novel := !dup
	if novel {
		t.seen[digest] = struct{}{}
		t.novel++
		t.callsWithoutNewInfo = 0
	} else {
		t.callsWithoutNewInfo++
	}

	rec := InvocationRecord{
		Sequence:       len(t.records) + 1,
		Tool:           call.Kind,
		InputSummary:   call.Summary(),
		OutputDigest:   digest,
		Novel:          novel,
		CapturedOutput: output,
	}
	if call.Kind == tools.KindReadFile {
		rec.Target = memory.NormalizePath(call.Get(tools.FieldFilePath))
	}
	t.records = append(t.records, rec)
	t.counts[call.Kind]++

	recordCallMetric(ctx, call.Kind, novel)

	if reason, fired := t.evaluate(); fired {
		if !t.tripped {
			t.tripped = true
			t.firstTripReason = reason
			t.logger.Info("circuit breaker tripped",
				slog.String("reason", reason),
				slog.Int("total_calls", len(t.records)),
				slog.Int("calls_without_new_info", t.callsWithoutNewInfo),
			)
			recordTripMetric(ctx, reason)
		}
		t.tripReason = reason
	}
	return rec
}

// evaluate returns the highest-priority rule holding for the current history.
func (t *Tracker) evaluate() (string, bool) {
	if len(t.records) >= t.config.MaxTotalCalls {
		return ReasonBudgetExhausted, true
	}
	if t.callsWithoutNewInfo >= t.config.NoNewInfoLimit {
		return ReasonNoNewInfo, true
	}
	if kind, ok := t.repeatedInWindow(); ok {
		return fmt.Sprintf(reasonRepetitiveFmt, kind), true
	}
	if kind, ok := t.overToolCap(); ok {
		return fmt.Sprintf(reasonToolLimitFmt, kind), true
	}
	return "", false
}

// repeatedInWindow checks the last WindowSize calls. The rule only applies
// once the window is full.
func (t *Tracker) repeatedInWindow() (tools.Kind, bool) {
	n := len(t.records)
	if n < t.config.WindowSize {
		return "", false
	}
	window := make(map[tools.Kind]int, t.config.WindowSize)
	for _, r := range t.records[n-t.config.WindowSize:] {
		window[r.Tool]++
	}
	return firstOver(window, t.config.WindowThreshold-1)
}

func (t *Tracker) overToolCap() (tools.Kind, bool) {
	return firstOver(t.counts, t.config.MaxCallsPerTool)
}

// firstOver returns the alphabetically first kind whose count exceeds limit.
func firstOver(counts map[tools.Kind]int, limit int) (tools.Kind, bool) {
	var hits []string
	for k, c := range counts {
		if c > limit {
			hits = append(hits, string(k))
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	sort.Strings(hits)
	return tools.Kind(hits[0]), true
}

func (t *Tracker) digest(output string) string {
	b := []byte(output)
	if n := t.config.NoveltyPrefixBytes; n > 0 && len(b) > n {
		b = b[:n]
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CheckThrashing reports whether the breaker has tripped and why.
// It is a pure read and may be called any number of times.
func (t *Tracker) CheckThrashing() (bool, string) {
	return t.tripped, t.tripReason
}

// State returns the current breaker state.
func (t *Tracker) State() BreakerState {
	return BreakerState{
		TotalCalls:          len(t.records),
		CallsWithoutNewInfo: t.callsWithoutNewInfo,
		Tripped:             t.tripped,
		TripReason:          t.tripReason,
		FirstTripReason:     t.firstTripReason,
	}
}

// Records returns a copy of the invocation history.
func (t *Tracker) Records() []InvocationRecord {
	out := make([]InvocationRecord, len(t.records))
	copy(out, t.records)
	return out
}

// CapturedOutputs returns the raw outputs in call order.
func (t *Tracker) CapturedOutputs() []string {
	out := make([]string, len(t.records))
	for i, r := range t.records {
		out[i] = r.CapturedOutput
	}
	return out
}

// Kinds returns the tool kinds in call order.
func (t *Tracker) Kinds() []tools.Kind {
	out := make([]tools.Kind, len(t.records))
	for i, r := range t.records {
		out[i] = r.Tool
	}
	return out
}

// Count returns how many times a kind was called.
func (t *Tracker) Count(kind tools.Kind) int {
	return t.counts[kind]
}

// Counts returns a copy of the per-kind call counts.
func (t *Tracker) Counts() map[tools.Kind]int {
	out := make(map[tools.Kind]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Stats summarizes the recorded history.
type Stats struct {
	TotalCalls  int `json:"total_calls"`
	NovelCalls  int `json:"novel_calls"`
	UniqueTools int `json:"unique_tools"`
	FilesRead   int `json:"files_read"`
}

// Stats returns totals derived from the recorded history.
func (t *Tracker) Stats() Stats {
	return Stats{
		TotalCalls:  len(t.records),
		NovelCalls:  t.novel,
		UniqueTools: len(t.counts),
		FilesRead:   len(t.distinctFiles()),
	}
}

func (t *Tracker) distinctFiles() map[string]struct{} {
	files := make(map[string]struct{})
	for _, r := range t.records {
		if r.Target != "" {
			files[r.Target] = struct{}{}
		}
	}
	return files
}

// GracefulExitMessage renders the deterministic message shown when the
// session stops on a trip. It depends only on recorded state.
//
// Inputs:
//
//	question - The user question. Empty renders a generic subject.
//
// Outputs:
//
//	string - The message.
func (t *Tracker) GracefulExitMessage(question string) string {
	s := t.Stats()
	subject := "a complete answer"
	if question != "" {
		subject = fmt.Sprintf("a complete answer to %q", question)
	}
	return fmt.Sprintf(
		"I explored extensively but could not find %s (%d tool calls, %d distinct files read, "+
			"%d novel results). Try a narrower question, for example about a specific file, "+
			"function, or component.",
		subject, s.TotalCalls, s.FilesRead, s.NovelCalls,
	)
}
