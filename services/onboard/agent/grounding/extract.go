// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding extracts file:line citations from generated text and
// verifies them against the tool outputs captured during a session.
//
// Everything in this package is pure: no I/O, no shared state beyond
// metrics instruments.
package grounding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxLineDigits bounds the digits accepted as a line number.
const MaxLineDigits = 9

// Citation is a file:line reference asserted by generated text.
type Citation struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
}

// String renders the citation as path:line.
func (c Citation) String() string {
	return fmt.Sprintf("%s:%d", c.FilePath, c.Line)
}

// Match is an extracted citation with its location in the source text.
type Match struct {
	Citation

	// Raw is the matched text, including any range suffix.
	Raw string `json:"raw"`

	// Start and End are byte offsets of Raw in the text.
	Start int `json:"start"`
	End   int `json:"end"`
}

// sourceSuffixes are the extensions that make a slash-free token path-like.
var sourceSuffixes = map[string]struct{}{
	"go": {}, "py": {}, "ts": {}, "tsx": {}, "js": {}, "jsx": {}, "mjs": {}, "rs": {},
	"java": {}, "kt": {}, "scala": {}, "rb": {}, "php": {}, "swift": {}, "cs": {},
	"c": {}, "cc": {}, "cpp": {}, "h": {}, "hpp": {}, "m": {}, "sh": {}, "sql": {},
	"proto": {}, "toml": {}, "json": {}, "yaml": {}, "yml": {}, "md": {}, "txt": {},
	"html": {}, "css": {}, "vue": {}, "svelte": {}, "cfg": {}, "ini": {}, "mod": {},
}

// bareFilenames are extensionless names recognized as files.
var bareFilenames = map[string]struct{}{
	"Makefile": {}, "Dockerfile": {}, "Gemfile": {}, "Rakefile": {}, "Procfile": {},
}

var versionSegment = regexp.MustCompile(`^[vV]?\d+(\.\d+)+$`)

// Extract returns the citations in text, left to right, duplicates kept.
//
// Description:
//
//	Recognizes plain (app.py:42), backticked, bracketed, parenthesized and
//	range (app.py:10-20, start line kept) forms. A path token must contain
//	a "/" or end in a recognized source suffix, must contain a letter, and
//	must not directly follow ':', '#' or '@'. Version strings, IP-like
//	tokens, URLs, markdown anchors and zero or oversized line numbers are
//	rejected.
//
// Inputs:
//
//	text - Generated answer text.
//
// Outputs:
//
//	[]Citation - Extracted citations. Empty (not nil) when none.
func Extract(text string) []Citation {
	matches := ExtractMatches(text)
	out := make([]Citation, len(matches))
	for i, m := range matches {
		out[i] = m.Citation
	}
	return out
}

// ExtractMatches is Extract with source offsets for rewriting.
func ExtractMatches(text string) []Match {
	out := []Match{}
	for i := 0; i < len(text); i++ {
		if text[i] != ':' || i+1 >= len(text) || !isDigit(text[i+1]) {
			continue
		}
		if m, ok := matchAt(text, i); ok {
			out = append(out, m)
		}
	}
	return out
}

// matchAt tries to read a citation whose colon is at index colon.
func matchAt(text string, colon int) (Match, bool) {
	start := colon
	for start > 0 && isPathChar(text[start-1]) {
		start--
	}
	if start == colon {
		return Match{}, false
	}
	if start > 0 {
		switch text[start-1] {
		case ':', '#', '@':
			return Match{}, false
		}
	}

	token := text[start:colon]
	if !pathLike(token) {
		return Match{}, false
	}

	digitsEnd := colon + 1
	for digitsEnd < len(text) && isDigit(text[digitsEnd]) {
		digitsEnd++
	}
	digits := text[colon+1 : digitsEnd]
	if len(digits) > MaxLineDigits {
		return Match{}, false
	}
	line, err := strconv.Atoi(digits)
	if err != nil || line <= 0 {
		return Match{}, false
	}

	end := digitsEnd
	if end < len(text) {
		c := text[end]
		if isLetter(c) || c == '_' {
			return Match{}, false
		}
		if c == '.' && end+1 < len(text) && isDigit(text[end+1]) {
			return Match{}, false
		}
		// Range form: keep the start line, consume the end of the range.
		if c == '-' && end+1 < len(text) && isDigit(text[end+1]) {
			end++
			for end < len(text) && isDigit(text[end]) {
				end++
			}
		}
	}

	return Match{
		Citation: Citation{FilePath: token, Line: line},
		Raw:      text[start:end],
		Start:    start,
		End:      end,
	}, true
}

// pathLike reports whether a token can name a file.
func pathLike(token string) bool {
	if !strings.ContainsFunc(token, func(r rune) bool { return r < 128 && isLetter(byte(r)) }) {
		return false
	}
	base := token
	if i := strings.LastIndexByte(token, '/'); i >= 0 {
		base = token[i+1:]
	}
	if base == "" || strings.Trim(base, ".") == "" {
		return false
	}
	if hasSourceSuffix(base) {
		return true
	}
	if !strings.Contains(token, "/") {
		return false
	}
	return !versionSegment.MatchString(base)
}

func hasSourceSuffix(base string) bool {
	if _, ok := bareFilenames[base]; ok {
		return true
	}
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return false
	}
	_, ok := sourceSuffixes[strings.ToLower(base[dot+1:])]
	return ok
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isPathChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == '.' || c == '-' || c == '/'
}
