// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/onboard/services/onboard/agent"
	"github.com/AleutianAI/onboard/services/onboard/agent/routing"
)

// Server serves exploration sessions over HTTP.
//
// Thread Safety: Run should be called once.
type Server struct {
	config  AppConfig
	logger  *slog.Logger
	manager *agent.Manager
	watcher *routing.RegistryWatcher
	router  *gin.Engine
}

// NewServer builds the session manager, the routing registry source and the
// router.
//
// Description:
//
//	With Routing.Path and Routing.Watch set, the registry is hot-reloaded
//	and each new session captures the latest version. Otherwise the
//	registry is loaded once.
func NewServer(ctx context.Context, config AppConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Agent.Logger == nil {
		config.Agent.Logger = logger
	}

	s := &Server{config: config, logger: logger}

	var source agent.RegistrySource
	if config.Routing.Path != "" && config.Routing.Watch {
		w, err := routing.NewRegistryWatcher(ctx, config.Routing.Path, func(r *routing.Registry) {
			logger.Info("routing registry swapped", slog.Int("rules", len(r.Rules())))
		})
		if err != nil {
			return nil, fmt.Errorf("watch routing registry: %w", err)
		}
		s.watcher = w
		source = w.Current
	} else {
		reg, err := routing.LoadRegistry(ctx, config.Routing.Path)
		if err != nil {
			return nil, fmt.Errorf("load routing registry: %w", err)
		}
		source = agent.StaticRegistry(reg)
	}

	manager, err := agent.NewManager(config.Agent, source)
	if err != nil {
		if s.watcher != nil {
			_ = s.watcher.Stop()
		}
		return nil, err
	}
	s.manager = manager

	if config.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers := NewHandlers(manager, logger,
		WithRateLimit(config.Server.RateLimit, config.Server.RateBurst),
	)
	s.router = NewRouter(handlers, config.Server.Debug)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Manager returns the session manager.
func (s *Server) Manager() *agent.Manager { return s.manager }

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if s.watcher != nil {
		go s.watcher.Start(watchCtx)
		defer func() {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn("routing watcher stop failed", slog.String("error", err.Error()))
			}
		}()
	}

	go s.sweepSessions(watchCtx)

	srv := &http.Server{Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("onboard server listening", slog.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down onboard server")
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultAppConfig().Server.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepSessions evicts finished and idle sessions until ctx is done. The
// interval is half the session TTL, capped at one minute.
func (s *Server) sweepSessions(ctx context.Context) {
	interval := time.Minute
	if ttl := s.config.Agent.SessionTTL; ttl > 0 && ttl/2 < interval {
		interval = max(ttl/2, time.Second)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.manager.Sweep(); n > 0 {
				s.logger.Info("sessions evicted", slog.Int("count", n))
			}
		}
	}
}
