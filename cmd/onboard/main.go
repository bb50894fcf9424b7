// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command onboard runs the grounded code-exploration control plane.
//
// Usage:
//
//	onboard serve --config onboard.yaml
//	onboard eval --transcripts ./transcripts --db ./evaldb
//	onboard eval --transcripts ./run1 --transcripts ./run2 --db ./evaldb --pass-at-k 3
//	onboard verify --answer answer.md --output read_app.txt --output search.txt
//
// Example requests against a running server:
//
//	curl -X POST http://localhost:8080/v1/onboard/sessions \
//	  -H "Content-Type: application/json" \
//	  -d '{"repo_path": "/repo", "question": "Where is the config loaded?"}'
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/onboard/services/onboard"
	"github.com/AleutianAI/onboard/services/onboard/telemetry"
)

// cliState is shared by every subcommand after PersistentPreRunE.
type cliState struct {
	configPath string
	logLevel   string
	logFormat  string

	config onboard.AppConfig
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:   "onboard",
		Short: "Grounded code-exploration control plane",
		Long: `onboard tracks what an exploration agent has discovered, stops it when it
loops, and verifies every file:line citation in its answers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := onboard.LoadConfig(st.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") || cfg.Log.Level == "" {
				cfg.Log.Level = st.logLevel
			}
			if cmd.Flags().Changed("log-format") || cfg.Log.Format == "" {
				cfg.Log.Format = st.logFormat
			}
			logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			st.config = cfg
			st.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&st.configPath, "config", "", "config file (default $"+onboard.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&st.logFormat, "log-format", telemetry.LogFormatText, "log format: text or json")

	root.AddCommand(
		newServeCmd(st),
		newEvalCmd(st),
		newVerifyCmd(st),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
