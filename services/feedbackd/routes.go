// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedbackd

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the API on router. metricsHandler serves /metrics
// and may be nil. Scope mutations go through h's limiter when it has one.
func SetupRoutes(router *gin.Engine, h *Handlers, metricsHandler http.Handler) {
	router.GET("/health", HealthCheck)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/scopes", h.ListScopes)
		v1.GET("/audit", h.ListAudit)

		scope := v1.Group("/scopes/:scope")
		if h.limiter != nil {
			scope.Use(h.limiter.Middleware(h.metrics))
		}
		{
			scope.GET("/feedback", h.Find)
			scope.POST("/feedback", h.Update)
			scope.DELETE("/feedback", h.Clear)
			scope.POST("/compact", h.Compact)
			scope.GET("/status", h.Status)
			scope.GET("/watch", h.Watch)
			scope.DELETE("", h.DropScope)
		}
	}
}
