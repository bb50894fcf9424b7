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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/onboard/services/onboard/telemetry"
)

// RegisterRoutes registers the /v1/onboard endpoints.
//
// Endpoints:
//
//	POST   /v1/onboard/sessions - Create a session
//	POST   /v1/onboard/sessions/:id/calls - Report a tool call
//	POST   /v1/onboard/sessions/:id/facts - Record a confirmed fact
//	GET    /v1/onboard/sessions/:id/context - Rendered working memory
//	GET    /v1/onboard/sessions/:id/thrashing - Breaker state
//	GET    /v1/onboard/sessions/:id/recommendation - Next tool suggestion
//	POST   /v1/onboard/sessions/:id/answer - Verify and post-process the answer
//	DELETE /v1/onboard/sessions/:id - Drop a session
//	GET    /v1/onboard/health - Health check
//
// Session creation and answer verification share the handlers' rate limit.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	onboard := rg.Group("/onboard")
	{
		onboard.POST("/sessions", handlers.throttle(), handlers.HandleCreateSession)
		onboard.POST("/sessions/:id/calls", handlers.HandleRecordCall)
		onboard.POST("/sessions/:id/facts", handlers.HandleRecordFact)
		onboard.GET("/sessions/:id/context", handlers.HandleContext)
		onboard.GET("/sessions/:id/thrashing", handlers.HandleThrashing)
		onboard.GET("/sessions/:id/recommendation", handlers.HandleRecommendation)
		onboard.POST("/sessions/:id/answer", handlers.throttle(), handlers.HandleAnswer)
		onboard.DELETE("/sessions/:id", handlers.HandleDeleteSession)

		onboard.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the gin engine with recovery, tracing and /metrics.
func NewRouter(handlers *Handlers, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("onboard"))
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}
