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
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/onboard/services/onboard"
	"github.com/AleutianAI/onboard/services/onboard/telemetry"
)

func newServeCmd(st *cliState) *cobra.Command {
	var addr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve exploration sessions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := st.config
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if debug {
				cfg.Server.Debug = true
			}
			return runServe(cmd.Context(), cfg, st.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable gin debug mode")
	return cmd
}

func runServe(parent context.Context, cfg onboard.AppConfig, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := onboard.NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting onboard server",
		slog.String("address", cfg.Server.Addr),
		slog.String("filter_mode", cfg.Agent.FilterMode),
		slog.String("routing", routingSource(cfg.Routing)),
	)
	return srv.Run(ctx)
}

func routingSource(r onboard.RoutingConfig) string {
	switch {
	case r.Path == "":
		return "embedded"
	case r.Watch:
		return r.Path + " (watched)"
	default:
		return r.Path
	}
}
