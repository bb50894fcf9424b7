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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/onboard/services/onboard"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
	"github.com/AleutianAI/onboard/services/onboard/eval"
	"github.com/AleutianAI/onboard/services/onboard/storage/badger"
)

// errRegressed is returned when the gate finds regressions.
var errRegressed = errors.New("evaluation regressed")

type evalOptions struct {
	transcripts []string
	passAtK     int
	dbPath      string
	baseline    bool
	jsonOut     bool
	noGate      bool
	concurrency int
}

func newEvalCmd(st *cliState) *cobra.Command {
	opts := &evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Replay recorded transcripts and score answer grounding",
		Long: `eval replays every transcript in a directory through a fresh session,
verifies the recorded answers and reports grounding metrics. With --db the run is
stored and compared with earlier runs; a regression exits non-zero.

--transcripts may be repeated. Transcripts sharing an ID across directories are
repeated trials of one question. --pass-at-k N groups trials from this run and
the last N-1 stored runs and reports pass@k and flaky transcripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd.Context(), cmd.OutOrStdout(), st.config, st.logger, opts)
		},
	}
	cmd.Flags().StringArrayVar(&opts.transcripts, "transcripts", nil, "directory of YAML transcripts (required, repeatable)")
	cmd.Flags().IntVar(&opts.passAtK, "pass-at-k", 0, "report pass@k over this run and the last N-1 stored runs (0 = off)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Badger directory for run history (overrides eval.db_path)")
	cmd.Flags().BoolVar(&opts.baseline, "baseline", false, "store this run as the baseline")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the run as JSON")
	cmd.Flags().BoolVar(&opts.noGate, "no-gate", false, "report regressions without failing")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "parallel replays (overrides eval.concurrency)")
	_ = cmd.MarkFlagRequired("transcripts")
	return cmd
}

func runEval(ctx context.Context, out io.Writer, cfg onboard.AppConfig, logger *slog.Logger, opts *evalOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.passAtK < 0 {
		return fmt.Errorf("--pass-at-k must be >= 0, got %d", opts.passAtK)
	}
	var transcripts []eval.Transcript
	for _, dir := range opts.transcripts {
		ts, err := eval.LoadTranscripts(dir)
		if err != nil {
			return err
		}
		transcripts = append(transcripts, ts...)
	}
	if len(transcripts) == 0 {
		return fmt.Errorf("no transcripts in %s", strings.Join(opts.transcripts, ", "))
	}

	reg, err := routing.LoadRegistry(ctx, cfg.Routing.Path)
	if err != nil {
		return fmt.Errorf("load routing registry: %w", err)
	}

	concurrency := cfg.Eval.Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}
	agentCfg := cfg.Agent
	agentCfg.Logger = logger
	harness, err := eval.NewHarness(agentCfg, reg,
		eval.WithConcurrency(concurrency),
		eval.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	run, err := harness.Run(ctx, transcripts)
	if err != nil {
		return err
	}

	dbPath := cfg.Eval.DBPath
	if opts.dbPath != "" {
		dbPath = opts.dbPath
	}
	regressions, history, err := gateRun(ctx, run, dbPath, cfg.Eval.Gate, opts.baseline, logger)
	if err != nil {
		return err
	}

	var passK *eval.PassAtKReport
	if opts.passAtK > 0 {
		rep := eval.PassAtKFromRuns(trialRuns(run, history, opts.passAtK))
		passK = &rep
		logger.Info("pass@k computed",
			slog.Int("k", rep.K),
			slog.Float64("mean_pass_at_k", rep.MeanPassAtK),
			slog.Int("flaky", len(rep.Flaky)),
		)
	}

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Run         *eval.Run           `json:"run"`
			Regressions []eval.Regression   `json:"regressions"`
			PassAtK     *eval.PassAtKReport `json:"pass_at_k,omitempty"`
		}{run, regressions, passK}); err != nil {
			return err
		}
	} else {
		rpt := newReport(out)
		rpt.Render(run, regressions)
		if passK != nil {
			rpt.RenderPassAtK(*passK)
		}
	}

	if len(regressions) > 0 && !opts.noGate {
		return fmt.Errorf("%w: %d metric(s) dropped past threshold", errRegressed, len(regressions))
	}
	return nil
}

// trialRuns returns run preceded by at most k-1 of the most recent stored runs.
func trialRuns(run *eval.Run, history []*eval.Run, k int) []*eval.Run {
	if k-1 < len(history) {
		history = history[len(history)-(k-1):]
	}
	out := make([]*eval.Run, 0, len(history)+1)
	out = append(out, history...)
	return append(out, run)
}

// gateRun compares run with stored history, then saves it. The returned
// history holds the stored runs from before this one, oldest first.
//
// Description:
//
//	The baseline run, when set, is appended after the history so overall
//	metrics compare with it rather than with the previous run. Without a
//	db path the store lives in memory and the gate has nothing to compare.
func gateRun(ctx context.Context, run *eval.Run, dbPath string, gate eval.GateConfig, setBaseline bool, logger *slog.Logger) ([]eval.Regression, []*eval.Run, error) {
	var db *badger.DB
	var err error
	if dbPath == "" {
		db, err = badger.OpenInMemory()
	} else {
		bcfg := badger.DefaultConfig(dbPath)
		bcfg.GCInterval = 0
		bcfg.Logger = logger
		db, err = badger.Open(bcfg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open eval store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("eval store close failed", slog.String("error", err.Error()))
		}
	}()

	store := eval.NewStore(db)
	stored, err := store.History(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	history := append([]*eval.Run(nil), stored...)
	baseline, err := store.Baseline(ctx)
	switch {
	case errors.Is(err, eval.ErrNoBaseline):
	case err != nil:
		return nil, nil, err
	default:
		history = append(history, baseline)
	}

	regressions := eval.DetectRegressions(run, history, gate)
	for _, r := range regressions {
		logger.Warn("regression detected",
			slog.String("level", r.Level),
			slog.String("name", r.Name),
			slog.Float64("drop_percent", r.DropPercent),
		)
	}

	if err := store.SaveRun(ctx, run); err != nil {
		return nil, nil, err
	}
	if setBaseline {
		if err := store.SetBaseline(ctx, run); err != nil {
			return nil, nil, err
		}
		logger.Info("baseline updated", slog.String("run_id", run.ID))
	}
	return regressions, stored, nil
}
