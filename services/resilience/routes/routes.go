// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/apm"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/fallback"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/handlers"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/shutdown"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/telemetry"
)

// SetupRoutes registers the resilience service's HTTP surface. A nil logger
// falls back to slog.Default() inside the handlers that log.
func SetupRoutes(router *gin.Engine, coord *shutdown.Coordinator,
	monitor *apm.Monitor, controller *fallback.Controller, logger *slog.Logger) {

	router.GET("/health", handlers.HandleHealthCheck(coord, controller))

	// /metrics serves the default prometheus registry (apm families plus the
	// OTel prometheus exporter) when telemetry enabled it.
	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	} else {
		router.GET("/metrics", func(c *gin.Context) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "metrics exporter disabled"})
		})
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/apm/status", handlers.HandleAPMStatus(monitor))
		v1.POST("/detect", handlers.HandleDetect(controller))

		fb := v1.Group("/fallback")
		{
			fb.GET("/status", handlers.HandleFallbackStatus(controller))
			fb.GET("/transitions", handlers.HandleFallbackTransitions(controller))
			fb.POST("/mode", handlers.HandleSetFallbackMode(controller, logger))
			fb.POST("/cascade", handlers.HandleCascade(controller))
		}
	}
}
