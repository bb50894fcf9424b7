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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the agent package.
var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTripped indicates a tool call was reported after the circuit breaker tripped.
	ErrSessionTripped = errors.New("session circuit breaker tripped")

	// ErrSessionClosed indicates the session no longer accepts tool calls.
	ErrSessionClosed = errors.New("session closed for exploration")

	// ErrEmptyQuestion indicates the session question is empty.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrEmptyAnswer indicates an empty answer was submitted.
	ErrEmptyAnswer = errors.New("answer must not be empty")

	// ErrNoAnswer indicates verification was requested before an answer was submitted.
	ErrNoAnswer = errors.New("no answer submitted")

	// ErrInvalidCall indicates a tool call failed its schema check.
	ErrInvalidCall = errors.New("invalid tool call")

	// ErrInvalidConfig indicates the configuration failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTooManySessions indicates the session limit was reached.
	ErrTooManySessions = errors.New("too many concurrent sessions")
)

// maxErrorDetail bounds the raw error text in the generic friendly message.
const maxErrorDetail = 300

// errorClass maps raw error text to a user-facing explanation.
type errorClass struct {
	name      string
	patterns  []string
	message   string
	action    string
	retryable bool
}

// errorClasses are checked in order; the first matching class wins.
var errorClasses = []errorClass{
	{
		name:      "rate_limit",
		patterns:  []string{"rate limit", "429", "too many requests", "quota exceeded"},
		message:   "The AI service is busy right now.",
		action:    "Wait 30-60 seconds and try again.",
		retryable: true,
	},
	{
		name:     "context_length",
		patterns: []string{"context length", "maximum context", "too long", "token limit", "context window"},
		message:  "This repository is too large for a complete analysis.",
		action:   "Try asking about a specific component or file instead of the whole codebase.",
	},
	{
		name:     "auth",
		patterns: []string{"invalid api key", "unauthorized", "401", "authentication", "invalid_api_key"},
		message:  "Your API key appears to be invalid or expired.",
		action:   "Check that the key is still active.",
	},
	{
		name:      "timeout",
		patterns:  []string{"timeout", "timed out", "deadline exceeded"},
		message:   "The request took too long to complete.",
		action:    "Try a simpler question, or check if the AI service is experiencing issues.",
		retryable: true,
	},
	{
		name:     "model_not_found",
		patterns: []string{"model not found", "invalid model", "model_not_found", "no such model"},
		message:  "The selected model is not available.",
		action:   "Try a different model.",
	},
	{
		name:      "service_unavailable",
		patterns:  []string{"502", "503", "504", "service unavailable", "temporarily unavailable", "overloaded", "capacity"},
		message:   "The AI service is temporarily unavailable.",
		action:    "The service may be experiencing high load. Wait a minute and try again.",
		retryable: true,
	},
	{
		name:     "network",
		patterns: []string{"connection", "network", "unreachable", "dns", "ssl", "certificate"},
		message:  "Network connection issue.",
		action:   "Check your connection and try again.",
	},
	{
		name:     "insufficient_quota",
		patterns: []string{"insufficient", "quota", "credits", "balance", "payment"},
		message:  "Your API account may have insufficient credits.",
		action:   "Check your account balance.",
	},
}

func classify(err error) (errorClass, bool) {
	text := strings.ToLower(err.Error())
	for _, c := range errorClasses {
		for _, p := range c.patterns {
			if strings.Contains(text, p) {
				return c, true
			}
		}
	}
	return errorClass{}, false
}

// FriendlyError converts a reasoning-step failure into a user-facing message
// with a suggested action. Nil returns "".
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := classify(err); ok {
		return fmt.Sprintf("**Error:** %s\n\n**Suggestion:** %s", c.message, c.action)
	}
	detail := err.Error()
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail] + "..."
	}
	return fmt.Sprintf("**Error:** Something went wrong.\n\n**Details:** %s\n\n**Suggestion:** Try again or ask a simpler question.", detail)
}

// ErrorClass returns the class name of err, or "unknown".
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := classify(err); ok {
		return c.name
	}
	return "unknown"
}

// IsRetryable reports whether err looks transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	c, ok := classify(err)
	return ok && c.retryable
}
