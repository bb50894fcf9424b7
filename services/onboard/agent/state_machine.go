// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"
	"sort"
)

// StateMachine manages valid state transitions for a session.
//
// The state machine enforces the following transition graph:
//
//	INIT → EXPLORING             : First tool call recorded
//	EXPLORING → EXPLORING        : Further tool call recorded
//	EXPLORING → TRIPPED          : Circuit breaker tripped
//	EXPLORING → ANSWER_READY     : Reasoning step produced an answer
//	TRIPPED → VERIFIED           : Forced or graceful answer verified
//	ANSWER_READY → VERIFIED      : Answer verified
//	VERIFIED → DONE              : Post-processed answer produced
//
// TRIPPED is reachable only from EXPLORING.
//
// Thread Safety:
//
//	StateMachine is immutable after construction and safe for concurrent use.
type StateMachine struct {
	transitions map[SessionState]map[SessionState]bool
}

// defaultStateMachine is shared by all sessions.
var defaultStateMachine = NewStateMachine()

// NewStateMachine creates a new state machine with all valid transitions.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[SessionState]map[SessionState]bool),
	}
	for _, state := range AllStates() {
		sm.transitions[state] = make(map[SessionState]bool)
	}

	sm.addTransition(StateInit, StateExploring)

	sm.addTransition(StateExploring, StateExploring)
	sm.addTransition(StateExploring, StateTripped)
	sm.addTransition(StateExploring, StateAnswerReady)

	sm.addTransition(StateTripped, StateVerified)
	sm.addTransition(StateAnswerReady, StateVerified)

	sm.addTransition(StateVerified, StateDone)

	return sm
}

func (sm *StateMachine) addTransition(from, to SessionState) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one state to another is valid.
func (sm *StateMachine) CanTransition(from, to SessionState) bool {
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition validates a transition and returns the target state.
//
// Outputs:
//
//	SessionState - to, when valid.
//	error - ErrInvalidTransition if transition not allowed.
func (sm *StateMachine) Transition(from, to SessionState) (SessionState, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// ValidTransitionsFrom returns all valid targets from a state, sorted.
func (sm *StateMachine) ValidTransitionsFrom(from SessionState) []SessionState {
	var result []SessionState
	for state, valid := range sm.transitions[from] {
		if valid {
			result = append(result, state)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// TransitionReason provides a human-readable description of a transition.
func (sm *StateMachine) TransitionReason(from, to SessionState) string {
	switch from.String() + "->" + to.String() {
	case "INIT->EXPLORING":
		return "First tool call recorded"
	case "EXPLORING->EXPLORING":
		return "Tool call recorded"
	case "EXPLORING->TRIPPED":
		return "Circuit breaker tripped"
	case "EXPLORING->ANSWER_READY":
		return "Answer submitted"
	case "TRIPPED->VERIFIED", "ANSWER_READY->VERIFIED":
		return "Citations verified"
	case "VERIFIED->DONE":
		return "Answer finalized"
	default:
		return "Unknown transition"
	}
}
