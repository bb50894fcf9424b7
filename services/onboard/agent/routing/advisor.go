// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"log/slog"

	"github.com/AleutianAI/onboard/services/onboard/agent/tools"
)

// History is the read-only view of session call history the advisor needs.
// The exploration tracker satisfies it.
type History interface {
	// Kinds returns the called kinds in call order.
	Kinds() []tools.Kind

	// Count returns how many times kind was called.
	Count(kind tools.Kind) int
}

// Advisor produces advisory ordering warnings and next-step suggestions.
//
// Description:
//
//	Warnings never block a call. Each rule warns at most once per advisor,
//	and an advisor lives exactly as long as its session.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Advisor struct {
	registry *Registry
	history  History
	logger   *slog.Logger
	warned   map[string]struct{}
}

// NewAdvisor creates an advisor over a session history.
//
// Inputs:
//
//	registry - Routing rules. Nil disables all rules and recommendations.
//	history - The session call history. Must not be nil.
//	logger - Nil uses slog.Default().
func NewAdvisor(registry *Registry, history History, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{
		registry: registry,
		history:  history,
		logger:   logger,
		warned:   make(map[string]struct{}),
	}
}

// CheckRouting checks a prospective call against the prerequisite rules.
//
// Description:
//
//	A rule is violated when fewer than MinPrerequisites calls to its
//	required kinds appear in history. The first violation of a rule returns
//	(false, warning); later violations of the same rule return (true, "").
//
// Inputs:
//
//	kind - The tool about to be called (not yet in history).
//
// Outputs:
//
//	bool - False only when a new warning is issued.
//	string - The warning, or "".
func (a *Advisor) CheckRouting(kind tools.Kind) (bool, string) {
	for _, rule := range a.registry.RulesFor(kind) {
		if a.satisfied(rule) {
			continue
		}
		if _, seen := a.warned[rule.ID]; seen {
			continue
		}
		a.warned[rule.ID] = struct{}{}
		routingWarnings.WithLabelValues(rule.ID).Inc()
		a.logger.Warn("tool routing advisory",
			slog.String("rule", rule.ID),
			slog.String("tool", string(kind)),
			slog.String("warning", rule.Warning),
		)
		return false, rule.Warning
	}
	return true, ""
}

func (a *Advisor) satisfied(rule Rule) bool {
	n := 0
	for _, k := range rule.Requires {
		n += a.history.Count(k)
	}
	return n >= rule.MinPrerequisites
}

// Warned reports whether a rule has already issued its warning.
func (a *Advisor) Warned(ruleID string) bool {
	_, ok := a.warned[ruleID]
	return ok
}

// Recommend suggests the next tool for the advisor's own history.
func (a *Advisor) Recommend() (tools.Kind, bool) {
	return a.RecommendNext(a.history.Kinds())
}

// RecommendNext suggests a next tool from a fixed table keyed on the most
// recent call. An empty history yields the registry's start tool.
//
// Inputs:
//
//	history - Called kinds in call order.
//
// Outputs:
//
//	tools.Kind - The suggestion.
//	bool - False when the table has no entry.
func (a *Advisor) RecommendNext(history []tools.Kind) (tools.Kind, bool) {
	if len(history) == 0 {
		return a.registry.Start()
	}
	return a.registry.Next(history[len(history)-1])
}
