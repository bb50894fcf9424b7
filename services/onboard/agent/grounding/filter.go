// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"fmt"
	"strings"
)

// FilterMode selects how ungrounded citations are rewritten.
type FilterMode int

const (
	// ModeStrip removes the line number and keeps the file name.
	ModeStrip FilterMode = iota

	// ModeFlag keeps the citation and appends UnverifiedMarker.
	ModeFlag

	// ModeKeep leaves the text untouched.
	ModeKeep
)

// UnverifiedMarker is appended to flagged citations.
const UnverifiedMarker = " [unverified]"

// String returns the mode name.
func (m FilterMode) String() string {
	switch m {
	case ModeStrip:
		return "strip"
	case ModeFlag:
		return "flag"
	case ModeKeep:
		return "keep"
	default:
		return "unknown"
	}
}

// ParseFilterMode parses "strip", "flag" or "keep".
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strip", "":
		return ModeStrip, nil
	case "flag":
		return ModeFlag, nil
	case "keep":
		return ModeKeep, nil
	default:
		return ModeStrip, fmt.Errorf("unknown filter mode %q", s)
	}
}

// FilterUngrounded rewrites citations that fail verification.
//
// Description:
//
//	ModeStrip replaces "path:line" with "`path`" (or "path" when already
//	inside backticks) so the reader keeps the file reference without an
//	unbacked line number. ModeFlag appends UnverifiedMarker after the
//	citation and any closing bracket or backtick. Verified citations are
//	never touched.
//
// Inputs:
//
//	text - Answer text.
//	outputs - Captured tool outputs.
//	mode - Rewrite mode.
//
// Outputs:
//
//	string - Rewritten text.
//	int - Number of citations rewritten.
func FilterUngrounded(text string, outputs []string, mode FilterMode) (string, int) {
	if mode == ModeKeep {
		return text, 0
	}
	matches := ExtractMatches(text)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	rewritten := 0
	for _, m := range matches {
		if Verify(m.Citation, outputs).Valid {
			continue
		}
		rewritten++
		switch mode {
		case ModeFlag:
			end := m.End
			if end < len(text) && strings.IndexByte("`])", text[end]) >= 0 {
				end++
			}
			b.WriteString(text[last:end])
			b.WriteString(UnverifiedMarker)
			last = end
		default:
			b.WriteString(text[last:m.Start])
			if inBackticks(text, m.Start, m.End) {
				b.WriteString(m.FilePath)
			} else {
				b.WriteString("`" + m.FilePath + "`")
			}
			last = m.End
		}
	}
	b.WriteString(text[last:])
	return b.String(), rewritten
}

func inBackticks(text string, start, end int) bool {
	return start > 0 && end < len(text) && text[start-1] == '`' && text[end] == '`'
}
