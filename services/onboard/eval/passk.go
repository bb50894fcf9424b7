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
	"math"
	"sort"
)

// TranscriptTrials summarizes repeated evaluations of one transcript.
type TranscriptTrials struct {
	TranscriptID string `json:"transcript_id"`
	Category     string `json:"category,omitempty"`
	K            int    `json:"k"`
	Passes       int    `json:"passes"`
	Failures     int    `json:"failures"`

	// PassRate is pass@1 as a percentage.
	PassRate float64 `json:"pass_rate"`

	// PassAtK is the chance, as a percentage, that at least one of K
	// independent trials passes: 1 - (1 - p)^K.
	PassAtK float64 `json:"pass_at_k"`

	// Consistency is 100 when every trial agrees, else 100 * (1 - stddev).
	Consistency float64 `json:"consistency"`

	// FlakinessScore is 0 for stable outcomes and 1 for an even split.
	FlakinessScore float64 `json:"flakiness_score"`
}

// Flaky reports whether the transcript both passed and failed.
func (t TranscriptTrials) Flaky() bool {
	return t.Passes > 0 && t.Passes < t.K
}

// PassAtKReport summarizes repeated trials across transcripts.
type PassAtKReport struct {
	// K is the largest number of trials seen for any transcript.
	K int `json:"k"`

	Transcripts     int     `json:"transcripts"`
	TotalTrials     int     `json:"total_trials"`
	TotalPasses     int     `json:"total_passes"`
	PassRate        float64 `json:"pass_rate"`
	MeanPassAt1     float64 `json:"mean_pass_at_1"`
	MeanPassAtK     float64 `json:"mean_pass_at_k"`
	MeanConsistency float64 `json:"mean_consistency"`

	// Trials is sorted by transcript ID.
	Trials []TranscriptTrials `json:"trials"`

	// Flaky is sorted by flakiness score, highest first.
	Flaky      []TranscriptTrials `json:"flaky"`
	AlwaysPass []string           `json:"always_pass"`
	AlwaysFail []string           `json:"always_fail"`
}

// ComputePassAtK groups results by transcript ID, one trial per result.
//
// Description:
//
//	Results sharing an ID are trials of the same question, whether they
//	come from repeated recordings in one run or from stored runs. A
//	transcript is flaky when 0 < passes < k. Rates are percentages.
//
// Inputs:
//
//	results - Trials in any order.
//
// Outputs:
//
//	PassAtKReport - Zero value for no results.
func ComputePassAtK(results []Result) PassAtKReport {
	var rep PassAtKReport
	if len(results) == 0 {
		return rep
	}

	byID := make(map[string]*TranscriptTrials)
	for _, r := range results {
		t, ok := byID[r.TranscriptID]
		if !ok {
			t = &TranscriptTrials{TranscriptID: r.TranscriptID, Category: r.Category}
			byID[r.TranscriptID] = t
		}
		t.K++
		if r.Passed {
			t.Passes++
		} else {
			t.Failures++
		}
	}

	rep.Trials = make([]TranscriptTrials, 0, len(byID))
	for _, t := range byID {
		t.score()
		rep.Trials = append(rep.Trials, *t)
	}
	sort.Slice(rep.Trials, func(i, j int) bool {
		return rep.Trials[i].TranscriptID < rep.Trials[j].TranscriptID
	})

	var sumAt1, sumAtK, sumCons float64
	for _, t := range rep.Trials {
		rep.TotalTrials += t.K
		rep.TotalPasses += t.Passes
		if t.K > rep.K {
			rep.K = t.K
		}
		sumAt1 += t.PassRate
		sumAtK += t.PassAtK
		sumCons += t.Consistency
		switch {
		case t.Flaky():
			rep.Flaky = append(rep.Flaky, t)
		case t.Passes == t.K:
			rep.AlwaysPass = append(rep.AlwaysPass, t.TranscriptID)
		default:
			rep.AlwaysFail = append(rep.AlwaysFail, t.TranscriptID)
		}
	}
	n := float64(len(rep.Trials))
	rep.Transcripts = len(rep.Trials)
	rep.PassRate = percent(rep.TotalPasses, rep.TotalTrials)
	rep.MeanPassAt1 = sumAt1 / n
	rep.MeanPassAtK = sumAtK / n
	rep.MeanConsistency = sumCons / n

	sort.SliceStable(rep.Flaky, func(i, j int) bool {
		return rep.Flaky[i].FlakinessScore > rep.Flaky[j].FlakinessScore
	})
	return rep
}

// PassAtKFromRuns treats each run as one trial of every transcript it holds.
func PassAtKFromRuns(runs []*Run) PassAtKReport {
	var results []Result
	for _, r := range runs {
		if r != nil {
			results = append(results, r.Results...)
		}
	}
	return ComputePassAtK(results)
}

func (t *TranscriptTrials) score() {
	if t.K == 0 {
		return
	}
	p := float64(t.Passes) / float64(t.K)
	t.PassRate = p * 100
	t.PassAtK = (1 - math.Pow(1-p, float64(t.K))) * 100
	t.FlakinessScore = 2 * math.Min(p, 1-p)

	t.Consistency = 100
	if t.Flaky() {
		// Sample standard deviation of the 0/1 outcomes.
		k := float64(t.K)
		sd := math.Sqrt(float64(t.Passes) * float64(t.Failures) / (k * (k - 1)))
		t.Consistency = (1 - sd) * 100
	}
}
