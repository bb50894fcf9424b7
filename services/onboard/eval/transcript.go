// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval replays recorded exploration transcripts through fresh
// sessions and scores how well their answers are grounded.
package eval

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// MaxTranscriptSize bounds a transcript file (4MB).
const MaxTranscriptSize = 4 * 1024 * 1024

// ErrInvalidTranscript indicates a transcript failed to parse or validate.
var ErrInvalidTranscript = errors.New("invalid transcript")

var transcriptValidate = validator.New()

// TranscriptCall is one recorded tool call.
type TranscriptCall struct {
	Tool   string            `yaml:"tool" json:"tool" validate:"required"`
	Input  map[string]string `yaml:"input" json:"input"`
	Output string            `yaml:"output" json:"output"`
}

// Transcript is one recorded question, its tool calls and final answer.
type Transcript struct {
	ID       string           `yaml:"id" json:"id" validate:"required"`
	Question string           `yaml:"question" json:"question" validate:"required"`
	Category string           `yaml:"category" json:"category"`
	Answer   string           `yaml:"answer" json:"answer"`
	Calls    []TranscriptCall `yaml:"calls" json:"calls" validate:"dive"`

	// Source is the file the transcript was loaded from.
	Source string `yaml:"-" json:"source,omitempty"`
}

// ToolCalls converts the recorded calls. Unknown tool names are an error.
func (t Transcript) ToolCalls() ([]tools.Call, error) {
	calls := make([]tools.Call, 0, len(t.Calls))
	for i, c := range t.Calls {
		kind, err := tools.ParseKind(c.Tool)
		if err != nil {
			return nil, fmt.Errorf("%w: %s call %d: %w", ErrInvalidTranscript, t.ID, i, err)
		}
		calls = append(calls, tools.Call{Kind: kind, Input: c.Input})
	}
	return calls, nil
}

// ParseTranscript decodes and validates one YAML transcript.
func ParseTranscript(data []byte) (Transcript, error) {
	var t Transcript
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
	}
	if err := transcriptValidate.Struct(t); err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
	}
	if _, err := t.ToolCalls(); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

// LoadTranscript reads a transcript file.
func LoadTranscript(path string) (Transcript, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() > MaxTranscriptSize {
		return Transcript{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidTranscript, path, info.Size(), MaxTranscriptSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	t, err := ParseTranscript(data)
	if err != nil {
		return Transcript{}, fmt.Errorf("%s: %w", path, err)
	}
	t.Source = path
	return t, nil
}

// LoadTranscripts loads every .yaml and .yml file in dir, sorted by name.
// Duplicate IDs are rejected.
func LoadTranscripts(dir string) ([]Transcript, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read transcript dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	out := make([]Transcript, 0, len(names))
	for _, name := range names {
		t, err := LoadTranscript(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[t.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate id %q in %s and %s", ErrInvalidTranscript, t.ID, prev, name)
		}
		seen[t.ID] = name
		out = append(out, t)
	}
	return out, nil
}
