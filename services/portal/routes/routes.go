// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
	"github.com/MeridianWorks/MeridianPortal/services/portal/handlers"
	"github.com/MeridianWorks/MeridianPortal/services/portal/middleware"
	"github.com/MeridianWorks/MeridianPortal/services/portal/session"
	"github.com/MeridianWorks/MeridianPortal/services/portal/telemetry"
)

func SetupRoutes(router *gin.Engine, chat handlers.ChatHandler, tokens handlers.TokenHandler,
	store session.Store, datasets *dataset.Store, chatRateLimitRPS float64) {

	router.Use(middleware.CORS())

	// Token proxy endpoints are deliberately not rate limited.
	router.POST("/auth-token", tokens.HandleAuthToken)
	router.POST("/embed-token", tokens.HandleEmbedToken)

	router.POST("/chat", middleware.ChatRateLimit(chatRateLimitRPS), chat.HandleChat)

	router.GET("/health", handlers.HandleHealth(datasets))
	router.GET("/metrics", func(c *gin.Context) {
		if h := telemetry.MetricsHandler(); h != nil {
			h.ServeHTTP(c.Writer, c.Request)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics exporter not enabled"})
	})

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/chat/ws", chat.HandleChatWS)
		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(store))
			sessions.GET("/:sessionId/history", handlers.SessionHistory(store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
	}
}
