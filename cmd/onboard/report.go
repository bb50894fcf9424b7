// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/eval"
)

// report writes human-readable summaries. Styles are plain unless the
// writer is a terminal and NO_COLOR is unset.
type report struct {
	w io.Writer

	title lipgloss.Style
	label lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
}

func newReport(w io.Writer) *report {
	return newStyledReport(w, colorEnabled(w))
}

func newStyledReport(w io.Writer, color bool) *report {
	r := &report{
		w:     w,
		title: lipgloss.NewStyle(),
		label: lipgloss.NewStyle(),
		good:  lipgloss.NewStyle(),
		bad:   lipgloss.NewStyle(),
		warn:  lipgloss.NewStyle(),
		muted: lipgloss.NewStyle(),
	}
	if color {
		r.title = r.title.Bold(true).Foreground(lipgloss.Color("39"))
		r.label = r.label.Foreground(lipgloss.Color("250"))
		r.good = r.good.Foreground(lipgloss.Color("42"))
		r.bad = r.bad.Bold(true).Foreground(lipgloss.Color("196"))
		r.warn = r.warn.Foreground(lipgloss.Color("214"))
		r.muted = r.muted.Foreground(lipgloss.Color("241"))
	}
	return r
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *report) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

// rate styles a percentage against a pass threshold.
func (r *report) rate(v, threshold float64) string {
	s := fmt.Sprintf("%.1f%%", v)
	if v >= threshold {
		return r.good.Render(s)
	}
	return r.bad.Render(s)
}

// Render prints an evaluation run and its regressions.
func (r *report) Render(run *eval.Run, regressions []eval.Regression) {
	a := run.Aggregate
	r.printf("%s\n", r.title.Render("Grounding evaluation"))
	r.printf("%s %s  %s %s\n\n",
		r.label.Render("run:"), run.ID,
		r.label.Render("duration:"), run.Duration.Round(time.Millisecond))

	r.printf("%s %d/%d passed (%s)\n", r.label.Render("transcripts:"), a.Passed, a.TotalQuestions, r.rate(a.PassRate, 80))
	r.printf("%s %s\n", r.label.Render("grounding rate:"), r.rate(a.GroundingRate, 95))
	r.printf("%s %s (%d/%d verified)\n", r.label.Render("citation precision:"),
		r.rate(a.CitationPrecision, 90), a.VerifiedCitations, a.TotalCitations)
	r.printf("%s %.1f%%\n", r.label.Render("read_file usage:"), a.ReadFileRate)
	r.printf("%s %d\n", r.label.Render("tripped sessions:"), a.TrippedSessions)

	if len(run.Categories) > 0 {
		r.printf("\n%s\n", r.title.Render("By category"))
		names := make([]string, 0, len(run.Categories))
		for name := range run.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := run.Categories[name]
			r.printf("  %-20s %d/%d  %s\n", name, c.Passed, c.Total, r.rate(c.PassRate, 80))
		}
	}

	var failed []eval.Result
	for _, res := range run.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		r.printf("\n%s\n", r.title.Render("Failed transcripts"))
		for _, res := range failed {
			r.printf("  %s %s\n", r.bad.Render("✗"), res.TranscriptID)
			for _, reason := range failureReasons(res) {
				r.printf("      %s\n", r.muted.Render(reason))
			}
		}
	}

	if len(regressions) > 0 {
		r.printf("\n%s\n", r.bad.Render("Regressions"))
		for _, reg := range regressions {
			r.printf("  %s %s\n", r.warn.Render("!"), reg.Message)
		}
	}
}

// RenderPassAtK prints repeated-trial consistency and flaky transcripts.
func (r *report) RenderPassAtK(rep eval.PassAtKReport) {
	r.printf("\n%s\n", r.title.Render(fmt.Sprintf("Pass@%d", rep.K)))
	r.printf("%s %d/%d trials passed (%.1f%%)\n", r.label.Render("overall:"), rep.TotalPasses, rep.TotalTrials, rep.PassRate)
	r.printf("%s %.1f%%\n", r.label.Render("pass@1:"), rep.MeanPassAt1)
	r.printf("%s %.1f%%\n", r.label.Render(fmt.Sprintf("pass@%d:", rep.K)), rep.MeanPassAtK)
	r.printf("%s %.1f%%\n", r.label.Render("consistency:"), rep.MeanConsistency)

	if len(rep.Flaky) == 0 {
		r.printf("%s\n", r.good.Render("no flaky transcripts"))
		return
	}
	r.printf("\n%s\n", r.warn.Render(fmt.Sprintf("Flaky transcripts (%d)", len(rep.Flaky))))
	for _, f := range rep.Flaky {
		r.printf("  %s %s %d/%d passed (flakiness %.2f)\n",
			r.warn.Render("~"), f.TranscriptID, f.Passes, f.K, f.FlakinessScore)
	}
}

func failureReasons(res eval.Result) []string {
	var out []string
	if res.Graceful {
		out = append(out, "no answer; graceful exit message used")
	}
	if res.Breaker.Tripped {
		out = append(out, "breaker tripped: "+res.Breaker.TripReason)
	}
	if res.Tools.CitationsWithoutRead {
		out = append(out, "cites files without any read_file call")
	}
	if len(res.Tools.UngroundedFiles) > 0 {
		out = append(out, "cited but never read: "+strings.Join(res.Tools.UngroundedFiles, ", "))
	}
	for _, d := range res.Report.Details {
		if !d.Valid {
			out = append(out, fmt.Sprintf("%s: %s", d.Citation, d.Reason))
		}
	}
	return out
}

// RenderVerification prints a verification report and the rewritten answer.
func (r *report) RenderVerification(rep grounding.Report, final string, rewritten int) {
	r.printf("%s\n", r.title.Render("Citation verification"))
	for _, d := range rep.Details {
		mark := r.good.Render("✓")
		if !d.Valid {
			mark = r.bad.Render("✗")
		}
		r.printf("  %s %-40s %s\n", mark, d.Citation, r.muted.Render(string(d.Reason)))
	}
	r.printf("\n%s %d/%d verified (%s)\n", r.label.Render("precision:"),
		rep.Verified, rep.Total, r.rate(rep.Precision*100, 100))
	if rewritten > 0 {
		r.printf("%s %d\n", r.label.Render("rewritten citations:"), rewritten)
	}
	r.printf("\n%s\n%s\n", r.title.Render("Answer"), final)
}
