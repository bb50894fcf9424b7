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
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/onboard/services/onboard/agent"
	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
	"github.com/AleutianAI/onboard/services/onboard/telemetry"
)

// Handlers contains the HTTP handlers for exploration sessions.
type Handlers struct {
	manager *agent.Manager
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewHandlers creates handlers over a session manager. A nil logger uses
// slog.Default().
func NewHandlers(manager *agent.Manager, logger *slog.Logger, opts ...HandlersOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{manager: manager, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// HandleCreateSession handles POST /v1/onboard/sessions.
//
// Response:
//
//	201 Created: CreateSessionResponse
//	400 Bad Request: missing question
//	429 Too Many Requests: session limit reached
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateSession")

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}

	id, err := h.manager.Create(req.RepoPath, req.Question)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := CreateSessionResponse{SessionID: id}
	err = h.manager.With(id, func(s *agent.Session) error {
		if len(req.Plan) > 0 {
			s.AppendPlan(req.Plan...)
		}
		if next, ok := s.Recommend(); ok {
			resp.Recommendation = string(next)
		}
		resp.State = s.State().String()
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleRecordCall handles POST /v1/onboard/sessions/:id/calls.
//
// Description:
//
//	Reports a completed tool call. Routing warnings and trips are part of
//	a 200 reply; only lifecycle misuse is an error.
//
// Response:
//
//	200 OK: ToolCallResponse
//	400 Bad Request: unknown tool or missing input field
//	404 Not Found: unknown session
//	409 Conflict: session tripped or closed
func (h *Handlers) HandleRecordCall(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRecordCall")

	var req ToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	kind, err := tools.ParseKind(req.Tool)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	call := tools.Call{Kind: kind, Input: req.Input}

	var resp ToolCallResponse
	err = h.manager.With(c.Param("id"), func(s *agent.Session) error {
		obs, err := s.RecordToolCall(c.Request.Context(), call, req.Output)
		if err != nil {
			return err
		}
		resp = ToolCallResponse{
			Sequence:       obs.Record.Sequence,
			Novel:          obs.Record.Novel,
			RoutingOK:      obs.RoutingOK,
			RoutingWarning: obs.RoutingWarning,
			Recommendation: string(obs.Recommendation),
			Tripped:        obs.Tripped,
			TripReason:     obs.TripReason,
			State:          obs.State.String(),
		}
		if obs.Tripped {
			resp.GracefulExit = s.GracefulExitMessage()
		}
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRecordFact handles POST /v1/onboard/sessions/:id/facts.
func (h *Handlers) HandleRecordFact(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRecordFact")

	var req FactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}
	err := h.manager.With(c.Param("id"), func(s *agent.Session) error {
		s.RecordFact(req.Fact, req.Citation)
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleContext handles GET /v1/onboard/sessions/:id/context.
func (h *Handlers) HandleContext(c *gin.Context) {
	logger := h.requestLogger(c, "HandleContext")

	var resp ContextResponse
	err := h.manager.With(c.Param("id"), func(s *agent.Session) error {
		resp = ContextResponse{
			SessionID: s.ID(),
			Context:   s.RenderContext(),
			Memory:    s.Memory(),
		}
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleThrashing handles GET /v1/onboard/sessions/:id/thrashing.
func (h *Handlers) HandleThrashing(c *gin.Context) {
	logger := h.requestLogger(c, "HandleThrashing")

	var resp ThrashingResponse
	err := h.manager.With(c.Param("id"), func(s *agent.Session) error {
		tripped, reason := s.CheckThrashing()
		resp = ThrashingResponse{
			Tripped: tripped,
			Reason:  reason,
			Breaker: s.Breaker(),
			Stats:   s.TrackerStats(),
		}
		if tripped {
			resp.GracefulExit = s.GracefulExitMessage()
		}
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRecommendation handles GET /v1/onboard/sessions/:id/recommendation.
func (h *Handlers) HandleRecommendation(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRecommendation")

	var resp RecommendationResponse
	err := h.manager.With(c.Param("id"), func(s *agent.Session) error {
		next, ok := s.Recommend()
		resp = RecommendationResponse{Tool: string(next), Found: ok}
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleAnswer handles POST /v1/onboard/sessions/:id/answer.
//
// Description:
//
//	Submits the answer, verifies every citation against the session's
//	captured outputs and returns the post-processed text. A tripped
//	session may omit the answer to finish with the graceful exit message.
//
// Response:
//
//	200 OK: AnswerResponse
//	400 Bad Request: empty answer on a live session
//	404 Not Found: unknown session
//	409 Conflict: answer already submitted
func (h *Handlers) HandleAnswer(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAnswer")

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, err)
		return
	}

	var resp AnswerResponse
	err := h.manager.With(c.Param("id"), func(s *agent.Session) error {
		ctx := c.Request.Context()

		answer := req.Answer
		if strings.TrimSpace(answer) == "" && s.State() == agent.StateTripped {
			answer = s.GracefulExitMessage()
		}
		if err := s.SubmitAnswer(answer); err != nil {
			return err
		}
		rep, err := s.Verify(ctx)
		if err != nil {
			return err
		}
		mode := s.FilterMode()
		if req.FilterMode != "" {
			if mode, err = grounding.ParseFilterMode(req.FilterMode); err != nil {
				return err
			}
		}
		final, err := s.Finalize(ctx, mode)
		if err != nil {
			return err
		}

		resp = AnswerResponse{
			SessionID:   s.ID(),
			State:       s.State().String(),
			FinalAnswer: final,
			FilterMode:  mode.String(),
			Report:      rep,
			Claims:      grounding.ComputeClaimMetrics(answer, s.CapturedOutputs()),
			Breaker:     s.Breaker(),
		}
		return nil
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("answer verified",
		slog.String("session_id", resp.SessionID),
		slog.Int("citations", resp.Report.Total),
		slog.Int("verified", resp.Report.Verified),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteSession handles DELETE /v1/onboard/sessions/:id.
func (h *Handlers) HandleDeleteSession(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDeleteSession")
	if err := h.manager.Delete(c.Param("id")); err != nil {
		h.fail(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /v1/onboard/health. Always 200 while running.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Version:  ServiceVersion,
		Sessions: h.manager.Len(),
	})
}

// errorStatus maps an error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, agent.ErrTooManySessions):
		return http.StatusTooManyRequests, "TOO_MANY_SESSIONS"
	case errors.Is(err, agent.ErrSessionTripped):
		return http.StatusConflict, "SESSION_TRIPPED"
	case errors.Is(err, agent.ErrSessionClosed):
		return http.StatusConflict, "SESSION_CLOSED"
	case errors.Is(err, agent.ErrInvalidTransition), errors.Is(err, agent.ErrNoAnswer):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, agent.ErrInvalidCall), errors.Is(err, tools.ErrUnknownKind),
		errors.Is(err, tools.ErrMissingField):
		return http.StatusBadRequest, "INVALID_CALL"
	case errors.Is(err, agent.ErrEmptyQuestion), errors.Is(err, agent.ErrEmptyAnswer):
		return http.StatusBadRequest, "INVALID_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("invalid request body", slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: "invalid request body: " + err.Error(),
		Code:  "INVALID_REQUEST",
	})
}

// getOrCreateRequestID echoes X-Request-ID, generating one when absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
