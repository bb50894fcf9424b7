// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package onboard exposes exploration sessions over HTTP so a remote
// orchestrator can report tool calls and have its answers verified.
package onboard

import (
	"github.com/AleutianAI/onboard/services/onboard/agent/control"
	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/memory"
)

// ServiceVersion is the onboard service version.
const ServiceVersion = "0.1.0"

// CreateSessionRequest is the body of POST /v1/onboard/sessions.
type CreateSessionRequest struct {
	// RepoPath is the repository under exploration.
	RepoPath string `json:"repo_path"`

	// Question is the user's question. Required.
	Question string `json:"question" binding:"required"`

	// Plan seeds the exploration plan.
	Plan []string `json:"plan,omitempty"`
}

// CreateSessionResponse describes a new session.
type CreateSessionResponse struct {
	SessionID      string `json:"session_id"`
	State          string `json:"state"`
	Recommendation string `json:"recommendation,omitempty"`
}

// ToolCallRequest reports one completed tool call.
type ToolCallRequest struct {
	Tool   string            `json:"tool" binding:"required"`
	Input  map[string]string `json:"input"`
	Output string            `json:"output"`
}

// ToolCallResponse is what the control plane observed about a call.
type ToolCallResponse struct {
	Sequence       int    `json:"sequence"`
	Novel          bool   `json:"novel"`
	RoutingOK      bool   `json:"routing_ok"`
	RoutingWarning string `json:"routing_warning,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
	Tripped        bool   `json:"tripped"`
	TripReason     string `json:"trip_reason,omitempty"`
	State          string `json:"state"`

	// GracefulExit is the fallback answer, set once the breaker trips.
	GracefulExit string `json:"graceful_exit,omitempty"`
}

// FactRequest records a confirmed fact.
type FactRequest struct {
	Fact     string `json:"fact" binding:"required"`
	Citation string `json:"citation"`
}

// ContextResponse carries the rendered working memory.
type ContextResponse struct {
	SessionID string          `json:"session_id"`
	Context   string          `json:"context"`
	Memory    memory.Snapshot `json:"memory"`
}

// ThrashingResponse reports the breaker.
type ThrashingResponse struct {
	Tripped      bool                 `json:"tripped"`
	Reason       string               `json:"reason,omitempty"`
	Breaker      control.BreakerState `json:"breaker"`
	Stats        control.Stats        `json:"stats"`
	GracefulExit string               `json:"graceful_exit,omitempty"`
}

// RecommendationResponse suggests the next tool.
type RecommendationResponse struct {
	Tool  string `json:"tool,omitempty"`
	Found bool   `json:"found"`
}

// AnswerRequest submits the final answer for verification.
type AnswerRequest struct {
	// Answer is the generated answer. It may be empty only for a tripped
	// session, in which case the graceful exit message is verified instead.
	Answer string `json:"answer"`

	// FilterMode overrides the configured post-processing: strip, flag or keep.
	FilterMode string `json:"filter_mode" binding:"omitempty,oneof=strip flag keep"`
}

// AnswerResponse is the verified, post-processed answer.
type AnswerResponse struct {
	SessionID   string                 `json:"session_id"`
	State       string                 `json:"state"`
	FinalAnswer string                 `json:"final_answer"`
	FilterMode  string                 `json:"filter_mode"`
	Report      grounding.Report       `json:"report"`
	Claims      grounding.ClaimMetrics `json:"claims"`
	Breaker     control.BreakerState   `json:"breaker"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`
}
