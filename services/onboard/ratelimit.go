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
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithRateLimit throttles session creation and answer verification to
// perSecond requests with the given burst. A non-positive rate disables
// throttling.
func WithRateLimit(perSecond float64, burst int) HandlersOption {
	return func(h *Handlers) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(math.Max(1, math.Ceil(perSecond)))
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// throttle rejects requests beyond the shared limiter with 429 and a
// Retry-After hint in whole seconds.
func (h *Handlers) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil || h.limiter.Allow() {
			c.Next()
			return
		}

		r := h.limiter.Reserve()
		wait := r.Delay()
		r.Cancel()
		retry := int(math.Ceil(wait.Seconds()))
		if retry < 1 {
			retry = 1
		}

		h.requestLogger(c, "throttle").Warn("request rate limited",
			slog.String("path", c.FullPath()),
			slog.Int("retry_after_seconds", retry),
		)
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}
