// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Input field names shared by the tool schemas.
const (
	FieldRepoPath      = "repo_path"
	FieldPattern       = "pattern"
	FieldFilePath      = "file_path"
	FieldFileExtension = "file_extension"
	FieldMaxResults    = "max_results"
	FieldMaxLines      = "max_lines"
)

// MaxSummaryLength caps Call.Summary output.
const MaxSummaryLength = 100

// ErrMissingField indicates a call lacks a field its kind requires.
var ErrMissingField = errors.New("missing required tool input field")

// Call is one tool invocation request.
type Call struct {
	// Kind selects the tool.
	Kind Kind `json:"tool" yaml:"tool"`

	// Input holds the tool arguments keyed by field name.
	Input map[string]string `json:"input" yaml:"input"`
}

// NewCall builds a Call from alternating key/value pairs.
//
// A trailing key without a value is ignored.
func NewCall(kind Kind, kv ...string) Call {
	input := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		input[kv[i]] = kv[i+1]
	}
	return Call{Kind: kind, Input: input}
}

// Validate checks the kind and its required fields.
func (c Call) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(c.Kind))
	}
	for _, field := range c.Kind.RequiredFields() {
		if strings.TrimSpace(c.Input[field]) == "" {
			return fmt.Errorf("%w: %s requires %s", ErrMissingField, c.Kind, field)
		}
	}
	return nil
}

// Get returns an input field, or "" when absent.
func (c Call) Get(field string) string {
	if c.Input == nil {
		return ""
	}
	return c.Input[field]
}

// Summary renders the input deterministically as sorted key=value pairs,
// truncated to MaxSummaryLength bytes.
func (c Call) Summary() string {
	if len(c.Input) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.Input))
	for k := range c.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(c.Input[k])
	}
	s := b.String()
	if len(s) <= MaxSummaryLength {
		return s
	}
	n := MaxSummaryLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
