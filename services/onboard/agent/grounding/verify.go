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
	"regexp"
	"strconv"
	"strings"
)

// Reason explains a verification outcome.
type Reason string

const (
	// ReasonVerified means the file was read and the cited row exists.
	ReasonVerified Reason = "verified"

	// ReasonFileNotRead means no captured output identifies the file.
	ReasonFileNotRead Reason = "file_not_read"

	// ReasonLineNotFound means the file was read but no output that
	// identifies it carries the cited numbered row.
	ReasonLineNotFound Reason = "line_not_found"
)

// VerificationResult is the outcome of verifying one citation.
type VerificationResult struct {
	Citation    Citation `json:"citation"`
	Valid       bool     `json:"valid"`
	FileWasRead bool     `json:"file_was_read"`
	LineExists  bool     `json:"line_exists"`
	Reason      Reason   `json:"reason"`
}

// Report aggregates verification over an answer.
type Report struct {
	Total      int                  `json:"total"`
	Verified   int                  `json:"verified"`
	Unverified int                  `json:"unverified"`
	Precision  float64              `json:"precision"`
	Details    []VerificationResult `json:"details"`
}

// numberedRow matches the "<n> | content" row convention of file reads.
var numberedRow = regexp.MustCompile(`(?m)^[ \t]*(\d+)[ \t]*\|`)

// Verify checks one citation against the captured outputs.
//
// Description:
//
//	An output identifies the file when it contains the cited path, or its
//	final segment, as a delimited token. The line exists when an output
//	that identifies the file has a numbered row equal to the cited line.
//	Outputs without numbered rows never confirm a line. There is no
//	fallback acceptance: anything unmatched is invalid.
//
// Inputs:
//
//	c - The citation.
//	outputs - Captured tool outputs in call order. May be empty.
//
// Outputs:
//
//	VerificationResult - Always well formed.
func Verify(c Citation, outputs []string) VerificationResult {
	res := VerificationResult{Citation: c, Reason: ReasonFileNotRead}

	full := normalizePath(c.FilePath)
	if full == "" || c.Line <= 0 {
		return res
	}
	base := full
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		base = full[i+1:]
	}

	for _, out := range outputs {
		if !containsToken(out, full) && (base == full || !containsToken(out, base)) {
			continue
		}
		res.FileWasRead = true
		if hasRow(out, c.Line) {
			res.LineExists = true
			break
		}
	}

	switch {
	case !res.FileWasRead:
		res.Reason = ReasonFileNotRead
	case !res.LineExists:
		res.Reason = ReasonLineNotFound
	default:
		res.Valid = true
		res.Reason = ReasonVerified
	}
	return res
}

// VerifyAll extracts and verifies every citation in text.
//
// Description:
//
//	Precision is verified/total, 0 when there are no citations, and so
//	always within [0, 1]. Duplicated citations count separately.
func VerifyAll(text string, outputs []string) Report {
	cites := Extract(text)
	rep := Report{
		Total:   len(cites),
		Details: make([]VerificationResult, 0, len(cites)),
	}
	for _, c := range cites {
		r := Verify(c, outputs)
		if r.Valid {
			rep.Verified++
		}
		rep.Details = append(rep.Details, r)
	}
	rep.Unverified = rep.Total - rep.Verified
	if rep.Total > 0 {
		rep.Precision = float64(rep.Verified) / float64(rep.Total)
	}
	return rep
}

// hasRow reports whether output has a numbered row for line.
func hasRow(output string, line int) bool {
	for _, m := range numberedRow.FindAllStringSubmatch(output, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n == line {
			return true
		}
	}
	return false
}

// containsToken reports whether tok occurs in s with path-token delimiters
// on both sides. A '/' may precede tok so that a basename matches inside a
// longer path.
func containsToken(s, tok string) bool {
	if tok == "" {
		return false
	}
	for from := 0; from <= len(s)-len(tok); {
		i := strings.Index(s[from:], tok)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(tok)
		if leftDelimited(s, i) && rightDelimited(s, end) {
			return true
		}
		from = i + 1
	}
	return false
}

func leftDelimited(s string, i int) bool {
	if i == 0 {
		return true
	}
	c := s[i-1]
	return c == '/' || !isPathChar(c)
}

func rightDelimited(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	c := s[end]
	if c == '.' {
		// Sentence punctuation, not an extension.
		return end+1 >= len(s) || !isPathChar(s[end+1])
	}
	return !isPathChar(c)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.TrimLeft(p, "/")
}
