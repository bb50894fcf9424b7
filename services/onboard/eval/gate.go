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
	"fmt"
	"sort"
)

// Regression levels.
const (
	LevelCategory = "category"
	LevelOverall  = "overall"
)

// GateConfig sets the regression thresholds, as percent drops.
type GateConfig struct {
	// CategoryThreshold flags a category whose pass rate falls more than
	// this far below its average over the last HistoryWindow runs (default: 10).
	// Zero flags any drop.
	CategoryThreshold float64 `yaml:"category_threshold" json:"category_threshold" validate:"gte=0,lte=100"`

	// OverallThreshold flags an overall metric that falls more than this
	// far below the previous run or baseline (default: 20). Zero flags any drop.
	OverallThreshold float64 `yaml:"overall_threshold" json:"overall_threshold" validate:"gte=0,lte=100"`

	// HistoryWindow is how many recent runs form the category average
	// (default: 3). Zero averages over all stored runs.
	HistoryWindow int `yaml:"history_window" json:"history_window" validate:"gte=0"`
}

// DefaultGateConfig returns the default thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		CategoryThreshold: 10,
		OverallThreshold:  20,
		HistoryWindow:     3,
	}
}

// Regression is one metric that dropped past its threshold.
type Regression struct {
	Level       string  `json:"level"`
	Name        string  `json:"name"`
	Current     float64 `json:"current"`
	Baseline    float64 `json:"baseline"`
	DropPercent float64 `json:"drop_percent"`
	Message     string  `json:"message"`
}

// DetectRegressions compares current with history, oldest first.
//
// Description:
//
//	Category pass rates are compared with their average over the last
//	HistoryWindow runs. Overall pass rate, grounding rate and citation
//	precision are compared with the most recent run. Drops are relative to
//	the baseline value; a zero baseline never regresses. Thresholds are
//	used as given, so a zero threshold flags any drop. The result is
//	sorted by drop, largest first.
func DetectRegressions(current *Run, history []*Run, cfg GateConfig) []Regression {
	if current == nil || len(history) == 0 {
		return nil
	}

	var out []Regression

	recent := history
	if cfg.HistoryWindow > 0 && len(recent) > cfg.HistoryWindow {
		recent = recent[len(recent)-cfg.HistoryWindow:]
	}
	averages := categoryAverages(recent)
	for name, cat := range current.Categories {
		avg, ok := averages[name]
		if !ok {
			continue
		}
		if r, ok := compare(LevelCategory, name, cat.PassRate, avg, cfg.CategoryThreshold); ok {
			r.Message = fmt.Sprintf("category %q dropped %.1f%% (from avg %.1f%% to %.1f%%)",
				name, r.DropPercent, avg, cat.PassRate)
			out = append(out, r)
		}
	}

	prev := history[len(history)-1].Aggregate
	cur := current.Aggregate
	for _, m := range []struct {
		name      string
		cur, prev float64
	}{
		{"pass_rate", cur.PassRate, prev.PassRate},
		{"grounding_rate", cur.GroundingRate, prev.GroundingRate},
		{"citation_precision", cur.CitationPrecision, prev.CitationPrecision},
	} {
		if r, ok := compare(LevelOverall, m.name, m.cur, m.prev, cfg.OverallThreshold); ok {
			r.Message = fmt.Sprintf("%s dropped %.1f%% from previous run (from %.1f%% to %.1f%%)",
				m.name, r.DropPercent, m.prev, m.cur)
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DropPercent != out[j].DropPercent {
			return out[i].DropPercent > out[j].DropPercent
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func compare(level, name string, current, baseline, threshold float64) (Regression, bool) {
	if baseline <= 0 {
		return Regression{}, false
	}
	drop := (baseline - current) / baseline * 100
	if drop <= threshold {
		return Regression{}, false
	}
	return Regression{
		Level:       level,
		Name:        name,
		Current:     current,
		Baseline:    baseline,
		DropPercent: drop,
	}, true
}

func categoryAverages(runs []*Run) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range runs {
		for name, c := range r.Categories {
			sums[name] += c.PassRate
			counts[name]++
		}
	}
	out := make(map[string]float64, len(sums))
	for name, sum := range sums {
		out[name] = sum / float64(counts[name])
	}
	return out
}
