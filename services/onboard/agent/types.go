// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent ties the control plane together into exploration sessions.
//
// A Session owns one working memory, one exploration tracker, one routing
// advisor and the captured tool outputs. Sessions move through the states
// INIT, EXPLORING, TRIPPED or ANSWER_READY, VERIFIED and DONE.
//
// Thread Safety:
//
//	A Session is single-threaded by contract and carries no locks. Manager
//	serializes access to each session it holds.
package agent

import (
	"github.com/AleutianAI/onboard/services/onboard/agent/control"
	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// SessionState represents a state in the session state machine.
//
// Valid state transitions are enforced by the state machine. Invalid
// transitions return ErrInvalidTransition.
type SessionState string

const (
	// StateInit is the state of a fresh session before any tool call.
	StateInit SessionState = "INIT"

	// StateExploring means tool calls are being recorded.
	StateExploring SessionState = "EXPLORING"

	// StateTripped means the circuit breaker stopped exploration.
	StateTripped SessionState = "TRIPPED"

	// StateAnswerReady means the reasoning step produced a final answer.
	StateAnswerReady SessionState = "ANSWER_READY"

	// StateVerified means citations in the answer were verified.
	StateVerified SessionState = "VERIFIED"

	// StateDone means the post-processed answer was produced.
	StateDone SessionState = "DONE"
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	return string(s)
}

// IsTerminal returns true for DONE.
func (s SessionState) IsTerminal() bool {
	return s == StateDone
}

// AcceptsToolCalls returns true while exploration may continue.
func (s SessionState) AcceptsToolCalls() bool {
	return s == StateInit || s == StateExploring
}

// AllStates returns all valid session states.
func AllStates() []SessionState {
	return []SessionState{
		StateInit,
		StateExploring,
		StateTripped,
		StateAnswerReady,
		StateVerified,
		StateDone,
	}
}

// Observation is what the reasoning step learns from one recorded call.
type Observation struct {
	// Record is the tracker record for the call.
	Record control.InvocationRecord `json:"record"`

	// RoutingOK is false when the call drew a new routing warning.
	RoutingOK bool `json:"routing_ok"`

	// RoutingWarning is the advisory message, if any.
	RoutingWarning string `json:"routing_warning,omitempty"`

	// Recommendation is the suggested next tool, if any.
	Recommendation tools.Kind `json:"recommendation,omitempty"`

	// Tripped reports whether the breaker is now tripped.
	Tripped bool `json:"tripped"`

	// TripReason explains the trip.
	TripReason string `json:"trip_reason,omitempty"`

	// State is the session state after the call.
	State SessionState `json:"state"`
}
