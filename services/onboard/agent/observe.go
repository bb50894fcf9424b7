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
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/onboard/services/onboard/agent/memory"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

var (
	lineCountHeader = regexp.MustCompile(`\((\d+) lines?\)`)
	numberedRowNum  = regexp.MustCompile(`(?m)^\s*(\d+)\s*\|`)
	matchFilePrefix = regexp.MustCompile(`(?m)^([^:\s]+):`)
)

const (
	architectureMarker = "Architecture:"
	languageMarker     = "Language:"
)

// observe updates working memory from one tool result.
func observe(m *memory.WorkingMemory, call tools.Call, output string) {
	switch call.Kind {
	case tools.KindReadFile:
		path := call.Get(tools.FieldFilePath)
		m.RecordFileRead(path, readLineCount(output), readSummary(output))
	case tools.KindSearchCode:
		m.RecordSearch(call.Get(tools.FieldPattern), searchResultCount(output), matchedFiles(output))
	case tools.KindImportantFiles:
		if label := labelAfter(output, architectureMarker); label != "" {
			m.SetArchitecture(label)
		}
		if label := labelAfter(output, languageMarker); label != "" {
			m.SetLanguage(label)
		}
	}
}

// readLineCount prefers the "(N lines)" header, else the largest row number.
func readLineCount(output string) int {
	if m := lineCountHeader.FindStringSubmatch(output); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	maxLine := 0
	for _, m := range numberedRowNum.FindAllStringSubmatch(output, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxLine {
			maxLine = n
		}
	}
	return maxLine
}

// readSummary returns the third output line, which follows the header and
// separator in read_file output.
func readSummary(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) < 3 {
		return ""
	}
	return memory.Truncate(strings.TrimSpace(lines[2]), memory.MaxSummaryLength)
}

// searchResultCount counts output lines minus the header and trailer.
func searchResultCount(output string) int {
	n := strings.Count(output, "\n") - 2
	if n < 0 {
		return 0
	}
	return n
}

func matchedFiles(output string) []string {
	var files []string
	seen := make(map[string]struct{})
	for _, m := range matchFilePrefix.FindAllStringSubmatch(output, -1) {
		f := m[1]
		if !strings.ContainsAny(f, "./") {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		files = append(files, f)
		if len(files) == memory.MaxMatchedFiles {
			break
		}
	}
	return files
}

func labelAfter(output, marker string) string {
	for _, line := range strings.Split(output, "\n") {
		if i := strings.Index(line, marker); i >= 0 {
			return strings.TrimSpace(line[i+len(marker):])
		}
	}
	return ""
}
