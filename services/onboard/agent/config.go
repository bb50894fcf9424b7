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
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/onboard/services/onboard/agent/control"
	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
	"github.com/AleutianAI/onboard/services/onboard/agent/memory"
)

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Config configures sessions, the loop and the session manager.
type Config struct {
	// Tracker holds the circuit breaker thresholds.
	Tracker control.TrackerConfig `yaml:"tracker" json:"tracker"`

	// Memory tunes context rendering.
	Memory memory.Config `yaml:"memory" json:"memory"`

	// MaxFacts caps facts in the rendered context (default: 10).
	MaxFacts int `yaml:"max_facts" json:"max_facts" validate:"gte=0,lte=1000"`

	// FilterMode selects how ungrounded citations are handled: strip, flag or keep.
	FilterMode string `yaml:"filter_mode" json:"filter_mode" validate:"omitempty,oneof=strip flag keep"`

	// MaxSteps bounds reasoning steps in Loop.Run, including rejected calls.
	// Zero derives it from the tracker budget.
	MaxSteps int `yaml:"max_steps" json:"max_steps" validate:"gte=0"`

	// MaxSessions caps concurrent sessions in a Manager. Zero is unlimited.
	MaxSessions int `yaml:"max_sessions" json:"max_sessions" validate:"gte=0"`

	// SessionTTL evicts sessions idle longer than this. Zero keeps idle
	// sessions until they finish or are deleted (default: 30m).
	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl" validate:"gte=0"`

	// Logger receives session events. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Tracker:     control.DefaultTrackerConfig(),
		Memory:      memory.DefaultConfig(),
		MaxFacts:    memory.DefaultMaxFacts,
		FilterMode:  "strip",
		MaxSessions: 256,
		SessionTTL:  30 * time.Minute,
	}
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// filterMode parses FilterMode, falling back to strip.
func (c Config) filterMode() grounding.FilterMode {
	m, err := grounding.ParseFilterMode(c.FilterMode)
	if err != nil {
		return grounding.ModeStrip
	}
	return m
}

// maxSteps returns MaxSteps or twice the effective tracker budget.
func (c Config) maxSteps() int {
	if c.MaxSteps > 0 {
		return c.MaxSteps
	}
	budget := c.Tracker.MaxTotalCalls
	if budget <= 0 {
		budget = control.DefaultTrackerConfig().MaxTotalCalls
	}
	return 2 * budget
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
