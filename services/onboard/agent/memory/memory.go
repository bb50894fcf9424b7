// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements the session-scoped working memory of an
// exploration session: files read, confirmed facts, searches performed and
// the current exploration plan.
//
// Working memory only grows. Every mutation is an append or a set union, and
// nothing is persisted beyond the owning session.
//
// Thread Safety:
//
//	WorkingMemory is not safe for concurrent use. A session issues one tool
//	call at a time and mutates its memory synchronously between calls.
package memory

import (
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Default rendering caps.
const (
	// DefaultMaxFacts is used when RenderContext receives a non-positive cap.
	DefaultMaxFacts = 10

	// DefaultMaxRenderedFiles caps the citable file list in RenderContext.
	DefaultMaxRenderedFiles = 20

	// MaxSummaryLength caps stored file summaries.
	MaxSummaryLength = 100

	// MaxMatchedFiles caps the matched files kept per search.
	MaxMatchedFiles = 5
)

// Fact is a discovered statement with its supporting citation.
type Fact struct {
	Fact       string    `json:"fact"`
	Citation   string    `json:"citation"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Search records one search the session performed.
type Search struct {
	Pattern      string    `json:"pattern"`
	ResultCount  int       `json:"result_count"`
	MatchedFiles []string  `json:"matched_files"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// FileRead describes a file that was read during the session.
type FileRead struct {
	// Path is the normalized path.
	Path string `json:"path"`

	// LineCount is the highest line count reported for the file.
	LineCount int `json:"line_count"`

	// Summary is the latest summary, capped at MaxSummaryLength.
	Summary string `json:"summary"`

	// Reads counts how many times the file was recorded.
	Reads int `json:"reads"`
}

// Config tunes rendering.
type Config struct {
	// MaxRenderedFiles caps the file list in RenderContext (default: 20).
	MaxRenderedFiles int `yaml:"max_rendered_files" json:"max_rendered_files" validate:"gte=0"`
}

// DefaultConfig returns the default rendering configuration.
func DefaultConfig() Config {
	return Config{MaxRenderedFiles: DefaultMaxRenderedFiles}
}

// WorkingMemory accumulates what a session has discovered.
type WorkingMemory struct {
	config Config

	architecture string
	language     string

	files  map[string]*FileRead
	facts  []Fact
	search []Search
	plan   []string
}

// New creates an empty working memory.
//
// Inputs:
//
//	config - Rendering configuration. Zero values use defaults.
//
// Outputs:
//
//	*WorkingMemory - Empty memory ready for use.
func New(config Config) *WorkingMemory {
	if config.MaxRenderedFiles <= 0 {
		config.MaxRenderedFiles = DefaultMaxRenderedFiles
	}
	return &WorkingMemory{
		config: config,
		files:  make(map[string]*FileRead),
	}
}

// RecordFileRead records that a file was read.
//
// Description:
//
//	Membership is idempotent: recording the same path again updates its
//	summary and keeps the larger line count without adding a second entry.
//	Empty paths are ignored.
//
// Inputs:
//
//	filePath - Path as given to the read tool. Normalized before storage.
//	lineCount - Number of lines the read covered (0 if unknown).
//	summary - Short description of the content. Empty keeps the previous one.
func (m *WorkingMemory) RecordFileRead(filePath string, lineCount int, summary string) {
	p := NormalizePath(filePath)
	if p == "" {
		return
	}
	summary = Truncate(strings.TrimSpace(summary), MaxSummaryLength)

	fr, ok := m.files[p]
	if !ok {
		fr = &FileRead{Path: p}
		m.files[p] = fr
	}
	fr.Reads++
	if lineCount > fr.LineCount {
		fr.LineCount = lineCount
	}
	if summary != "" {
		fr.Summary = summary
	}
}

// RecordFact appends a confirmed fact.
func (m *WorkingMemory) RecordFact(fact, citation string) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return
	}
	m.facts = append(m.facts, Fact{
		Fact:       fact,
		Citation:   strings.TrimSpace(citation),
		RecordedAt: time.Now(),
	})
}

// RecordSearch appends a performed search. Negative counts are stored as 0.
func (m *WorkingMemory) RecordSearch(pattern string, resultCount int, matchedFiles []string) {
	if resultCount < 0 {
		resultCount = 0
	}
	files := make([]string, 0, len(matchedFiles))
	for _, f := range matchedFiles {
		if len(files) == MaxMatchedFiles {
			break
		}
		if n := NormalizePath(f); n != "" {
			files = append(files, n)
		}
	}
	m.search = append(m.search, Search{
		Pattern:      pattern,
		ResultCount:  resultCount,
		MatchedFiles: files,
		RecordedAt:   time.Now(),
	})
}

// SetArchitecture sets the architecture label. Empty labels are ignored so
// a known label is never cleared.
func (m *WorkingMemory) SetArchitecture(label string) {
	if label = strings.TrimSpace(label); label != "" {
		m.architecture = label
	}
}

// SetLanguage sets the primary language label. Empty labels are ignored.
func (m *WorkingMemory) SetLanguage(label string) {
	if label = strings.TrimSpace(label); label != "" {
		m.language = label
	}
}

// AppendPlan appends steps to the exploration plan, skipping blanks.
func (m *WorkingMemory) AppendPlan(steps ...string) {
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			m.plan = append(m.plan, s)
		}
	}
}

// WasFileRead reports whether a file was read in this session.
//
// Description:
//
//	Matches the normalized path exactly, or when one path is a
//	segment-aligned suffix of the other ("app.py" matches "src/app.py").
func (m *WorkingMemory) WasFileRead(filePath string) bool {
	_, ok := m.lookup(filePath)
	return ok
}

// FileInfo returns the read record for a path using WasFileRead matching.
func (m *WorkingMemory) FileInfo(filePath string) (FileRead, bool) {
	fr, ok := m.lookup(filePath)
	if !ok {
		return FileRead{}, false
	}
	return *fr, true
}

func (m *WorkingMemory) lookup(filePath string) (*FileRead, bool) {
	p := NormalizePath(filePath)
	if p == "" {
		return nil, false
	}
	if fr, ok := m.files[p]; ok {
		return fr, true
	}
	// Deterministic pick when several read paths share the suffix.
	for _, read := range m.sortedPaths() {
		if segmentSuffix(read, p) || segmentSuffix(p, read) {
			return m.files[read], true
		}
	}
	return nil, false
}

// FilesRead returns the normalized read paths in sorted order.
func (m *WorkingMemory) FilesRead() []string {
	return m.sortedPaths()
}

// Facts returns a copy of the confirmed facts, oldest first.
func (m *WorkingMemory) Facts() []Fact {
	out := make([]Fact, len(m.facts))
	copy(out, m.facts)
	return out
}

// Searches returns a copy of the performed searches, oldest first.
func (m *WorkingMemory) Searches() []Search {
	out := make([]Search, len(m.search))
	copy(out, m.search)
	return out
}

// Stats summarizes memory size.
type Stats struct {
	FilesRead      int `json:"files_read"`
	FactsConfirmed int `json:"facts_confirmed"`
	SearchesDone   int `json:"searches_done"`
}

// Stats returns counts of files, facts and searches.
func (m *WorkingMemory) Stats() Stats {
	return Stats{
		FilesRead:      len(m.files),
		FactsConfirmed: len(m.facts),
		SearchesDone:   len(m.search),
	}
}

// Snapshot is an immutable copy of the working memory state.
type Snapshot struct {
	ArchitectureLabel string     `json:"architecture_label,omitempty"`
	PrimaryLanguage   string     `json:"primary_language,omitempty"`
	FilesRead         []FileRead `json:"files_read"`
	Facts             []Fact     `json:"confirmed_facts"`
	Searches          []Search   `json:"searches_performed"`
	Plan              []string   `json:"exploration_plan"`
}

// Snapshot copies the current state.
func (m *WorkingMemory) Snapshot() Snapshot {
	files := make([]FileRead, 0, len(m.files))
	for _, p := range m.sortedPaths() {
		files = append(files, *m.files[p])
	}
	plan := make([]string, len(m.plan))
	copy(plan, m.plan)
	return Snapshot{
		ArchitectureLabel: m.architecture,
		PrimaryLanguage:   m.language,
		FilesRead:         files,
		Facts:             m.Facts(),
		Searches:          m.Searches(),
		Plan:              plan,
	}
}

func (m *WorkingMemory) sortedPaths() []string {
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// NormalizePath strips leading "./" and "/" and cleans the path.
// Backslashes are treated as separators.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// segmentSuffix reports whether suffix equals full or ends it at a "/" boundary.
func segmentSuffix(full, suffix string) bool {
	if full == suffix {
		return true
	}
	return strings.HasSuffix(full, "/"+suffix)
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
