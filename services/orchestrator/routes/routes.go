// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/AleutianAI/FieldAssist/pkg/extensions"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/handlers"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the routes serve.
type Deps struct {
	Turner      handlers.Turner
	Sessions    handlers.SessionStore
	Options     extensions.ServiceOptions
	TurnTimeout time.Duration
}

// SetupRoutes registers the health, metrics and /v1 routes on router.
//
// /v1 is authenticated with Options.AuthProvider. Session inspection and
// reset additionally require the "admin" role.
func SetupRoutes(router *gin.Engine, deps Deps) {
	opts := deps.Options.Normalize()

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", handlers.Metrics())

	chat := handlers.NewChatHandler(deps.Turner, opts.AuditLogger, deps.TurnTimeout)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v1.POST("/chat", chat.HandleChat)

		sessions := v1.Group("/sessions", middleware.RequireRole("admin"))
		{
			sessions.GET("/:userId", handlers.GetSession(deps.Sessions, opts.AuditLogger))
			sessions.DELETE("/:userId", handlers.DeleteSession(deps.Sessions, opts.AuditLogger))
		}
	}
}
