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
	"path"
	"sort"

	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/memory"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// ToolUsageMetrics describes tool usage and citation grounding for one
// transcript.
type ToolUsageMetrics struct {
	TranscriptID         string   `json:"transcript_id"`
	ReadFileCalls        int      `json:"read_file_calls"`
	SearchCodeCalls      int      `json:"search_code_calls"`
	OtherToolCalls       int      `json:"other_tool_calls"`
	TotalToolCalls       int      `json:"total_tool_calls"`
	CitationsCount       int      `json:"citations_count"`
	CitationsWithoutRead bool     `json:"citations_without_read"`
	FilesRead            []string `json:"files_read"`
	FilesCited           []string `json:"files_cited"`
	UngroundedFiles      []string `json:"ungrounded_files"`
}

// GroundingValid reports whether every cited file was read.
func (m ToolUsageMetrics) GroundingValid() bool {
	return !m.CitationsWithoutRead && len(m.UngroundedFiles) == 0
}

// ExtractToolMetrics counts tool usage in calls and checks that each file
// cited in answer was read by some read_file call.
func ExtractToolMetrics(id string, calls []tools.Call, answer string) ToolUsageMetrics {
	m := ToolUsageMetrics{TranscriptID: id}

	read := make(map[string]struct{})
	for _, c := range calls {
		m.TotalToolCalls++
		switch c.Kind {
		case tools.KindReadFile:
			m.ReadFileCalls++
			if p := memory.NormalizePath(c.Get(tools.FieldFilePath)); p != "" {
				read[p] = struct{}{}
			}
		case tools.KindSearchCode:
			m.SearchCodeCalls++
		default:
			m.OtherToolCalls++
		}
	}
	m.FilesRead = sortedKeys(read)

	citations := grounding.Extract(answer)
	m.CitationsCount = len(citations)
	cited := make(map[string]struct{})
	for _, c := range citations {
		if p := memory.NormalizePath(c.FilePath); p != "" {
			cited[p] = struct{}{}
		}
	}
	m.FilesCited = sortedKeys(cited)
	m.CitationsWithoutRead = m.CitationsCount > 0 && m.ReadFileCalls == 0

	for _, c := range m.FilesCited {
		if !readMatches(c, m.FilesRead) {
			m.UngroundedFiles = append(m.UngroundedFiles, c)
		}
	}
	return m
}

// readMatches accepts an exact path, a suffix either way, or a shared basename.
func readMatches(cited string, read []string) bool {
	base := path.Base(cited)
	for _, r := range read {
		if r == cited || hasPathSuffix(r, cited) || hasPathSuffix(cited, r) || path.Base(r) == base {
			return true
		}
	}
	return false
}

func hasPathSuffix(full, suffix string) bool {
	return len(full) > len(suffix) && full[len(full)-len(suffix)-1] == '/' && full[len(full)-len(suffix):] == suffix
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AggregateMetrics summarizes a whole run.
type AggregateMetrics struct {
	TotalQuestions           int     `json:"total_questions"`
	QuestionsWithReadFile    int     `json:"questions_with_read_file"`
	QuestionsWithCitations   int     `json:"questions_with_citations"`
	QuestionsWithUngrounded  int     `json:"questions_with_ungrounded_citations"`
	TotalReadFileCalls       int     `json:"total_read_file_calls"`
	TotalSearchCodeCalls     int     `json:"total_search_code_calls"`
	TotalToolCalls           int     `json:"total_tool_calls"`
	TotalCitations           int     `json:"total_citations"`
	VerifiedCitations        int     `json:"verified_citations"`
	TrippedSessions          int     `json:"tripped_sessions"`
	ReadFileRate             float64 `json:"read_file_rate"`
	GroundingRate            float64 `json:"grounding_rate"`
	CitationPrecision        float64 `json:"citation_precision"`
	AvgReadFilePerQuestion   float64 `json:"avg_read_file_per_question"`
	AvgSearchCodePerQuestion float64 `json:"avg_search_code_per_question"`
	PassRate                 float64 `json:"pass_rate"`
	Passed                   int     `json:"passed"`
}

// CategoryMetrics summarizes one question category.
type CategoryMetrics struct {
	Category          string  `json:"category"`
	Total             int     `json:"total"`
	Passed            int     `json:"passed"`
	TotalCitations    int     `json:"total_citations"`
	VerifiedCitations int     `json:"verified_citations"`
	PassRate          float64 `json:"pass_rate"`
	CitationAccuracy  float64 `json:"citation_accuracy"`
}

// Aggregate combines per-transcript results.
//
// Description:
//
//	Rates are percentages. GroundingRate is 100 when no answer cites
//	anything. CitationPrecision is 0 when there are no citations.
func Aggregate(results []Result) AggregateMetrics {
	var a AggregateMetrics
	a.TotalQuestions = len(results)
	for _, r := range results {
		u := r.Tools
		a.TotalReadFileCalls += u.ReadFileCalls
		a.TotalSearchCodeCalls += u.SearchCodeCalls
		a.TotalToolCalls += u.TotalToolCalls
		a.TotalCitations += r.Report.Total
		a.VerifiedCitations += r.Report.Verified
		if u.ReadFileCalls > 0 {
			a.QuestionsWithReadFile++
		}
		if u.CitationsCount > 0 {
			a.QuestionsWithCitations++
		}
		if !u.GroundingValid() {
			a.QuestionsWithUngrounded++
		}
		if r.Breaker.Tripped {
			a.TrippedSessions++
		}
		if r.Passed {
			a.Passed++
		}
	}

	a.ReadFileRate = percent(a.QuestionsWithReadFile, a.TotalQuestions)
	a.GroundingRate = 100
	if a.QuestionsWithCitations > 0 {
		a.GroundingRate = percent(a.QuestionsWithCitations-a.QuestionsWithUngrounded, a.QuestionsWithCitations)
	}
	a.CitationPrecision = percent(a.VerifiedCitations, a.TotalCitations)
	a.PassRate = percent(a.Passed, a.TotalQuestions)
	if a.TotalQuestions > 0 {
		a.AvgReadFilePerQuestion = float64(a.TotalReadFileCalls) / float64(a.TotalQuestions)
		a.AvgSearchCodePerQuestion = float64(a.TotalSearchCodeCalls) / float64(a.TotalQuestions)
	}
	return a
}

// ByCategory groups results by category. Uncategorized results use "unknown".
func ByCategory(results []Result) map[string]CategoryMetrics {
	out := make(map[string]CategoryMetrics)
	for _, r := range results {
		cat := r.Category
		if cat == "" {
			cat = "unknown"
		}
		c := out[cat]
		c.Category = cat
		c.Total++
		if r.Passed {
			c.Passed++
		}
		c.TotalCitations += r.Report.Total
		c.VerifiedCitations += r.Report.Verified
		out[cat] = c
	}
	for cat, c := range out {
		c.PassRate = percent(c.Passed, c.Total)
		c.CitationAccuracy = percent(c.VerifiedCitations, c.TotalCitations)
		out[cat] = c
	}
	return out
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}
