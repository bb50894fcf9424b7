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
	"math"
	"regexp"
	"strings"
)

// minClaimLength skips fragments too short to assert anything.
const minClaimLength = 30

var (
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
	fileRefBullet    = regexp.MustCompile("^[-*]\\s*`[^`]+`\\s*$")
	claimVerbs       = regexp.MustCompile(`(?i)\b(is|are|uses?|contains?|has|have|provides?|implements?|` +
		`handles?|supports?|includes?|defines?|exports?|imports?|` +
		`calls?|returns?|takes?|accepts?|creates?|initializes?|` +
		`located|found|defined|declared|written)\b`)
)

// ClaimMetrics combines citation precision with claim recall.
// Percentages are in [0, 100], rounded to one decimal.
type ClaimMetrics struct {
	Precision          float64 `json:"precision"`
	Recall             float64 `json:"recall"`
	F1                 float64 `json:"f1"`
	TotalCitations     int     `json:"total_citations"`
	VerifiedCitations  int     `json:"verified_citations"`
	TotalClaims        int     `json:"total_claims"`
	CitedClaims        int     `json:"cited_claims"`
	VerificationReport Report  `json:"verification"`
}

// CountTechnicalClaims counts sentences that assert something about code.
// Headers, code fences, short fragments and bare file bullets are skipped.
func CountTechnicalClaims(text string) int {
	n := 0
	for _, s := range splitSentences(text) {
		if isClaim(s) {
			n++
		}
	}
	return n
}

// CountCitedClaims counts claims in paragraphs that carry a citation.
func CountCitedClaims(text string) int {
	n := 0
	for _, para := range strings.Split(text, "\n\n") {
		if len(ExtractMatches(para)) == 0 {
			continue
		}
		n += CountTechnicalClaims(para)
	}
	return n
}

// ComputeClaimMetrics verifies citations and relates them to claims.
//
// Description:
//
//	Precision is the verified share of citations. Recall is the cited share
//	of claims, clamped to 100. F1 is their harmonic mean. Every ratio is 0
//	when its denominator is 0.
func ComputeClaimMetrics(text string, outputs []string) ClaimMetrics {
	rep := VerifyAll(text, outputs)
	total := CountTechnicalClaims(text)
	cited := CountCitedClaims(text)
	if cited > total {
		cited = total
	}

	precision := rep.Precision * 100
	recall := 0.0
	if total > 0 {
		recall = float64(cited) / float64(total) * 100
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return ClaimMetrics{
		Precision:          round1(precision),
		Recall:             round1(recall),
		F1:                 round1(f1),
		TotalCitations:     rep.Total,
		VerifiedCitations:  rep.Verified,
		TotalClaims:        total,
		CitedClaims:        cited,
		VerificationReport: rep,
	}
}

// splitSentences splits per line, then at sentence punctuation. Sentences
// never span lines so markdown headers and bullets stay separate.
func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		last := 0
		for _, loc := range sentenceBoundary.FindAllStringIndex(line, -1) {
			out = append(out, line[last:loc[0]+1])
			last = loc[1]
		}
		if last < len(line) {
			out = append(out, line[last:])
		}
	}
	return out
}

func isClaim(sentence string) bool {
	s := strings.TrimSpace(sentence)
	if len(s) < minClaimLength || strings.HasPrefix(s, "#") || strings.Contains(s, "```") {
		return false
	}
	if fileRefBullet.MatchString(s) {
		return false
	}
	return claimVerbs.MatchString(s)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
