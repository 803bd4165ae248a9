// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/fallback"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/telemetry"
)

// defaultTransitionLimit caps the transition log page when no limit is given.
const defaultTransitionLimit = 50

// HandleFallbackStatus returns the controller's current mode and degradation
// flags.
func HandleFallbackStatus(controller *fallback.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"mode":     controller.Mode().String(),
			"degraded": controller.IsDegraded(),
			"safe":     controller.IsSafe(),
		})
	}
}

// HandleFallbackTransitions returns the most recent mode transitions, oldest
// first. The page size comes from the "limit" query parameter (default 50).
func HandleFallbackTransitions(controller *fallback.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultTransitionLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		transitions := controller.Transitions(limit)
		c.JSON(http.StatusOK, gin.H{
			"transitions": transitions,
			"count":       len(transitions),
		})
	}
}

// HandleSetFallbackMode applies an external mode override.
//
// Body: {"mode": "primary" | "heuristic" | "safe"} (case-insensitive).
// An unknown mode yields 400 with no state change. Overrides are logged with
// trace correlation so an operator action can be joined to its request trace.
func HandleSetFallbackMode(controller *fallback.Controller, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "fallback_handlers"))

	return func(c *gin.Context) {
		var req datatypes.SetModeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if !controller.SetMode(c.Request.Context(), req.Mode) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unknown mode, valid values: primary, heuristic, safe",
			})
			return
		}

		telemetry.LoggerWithTrace(c.Request.Context(), logger).Info(
			"fallback mode override applied", slog.String("mode", req.Mode))
		c.JSON(http.StatusOK, datatypes.SetModeResponse{
			Status: "ok",
			Mode:   controller.Mode().String(),
		})
	}
}

// HandleCascade evaluates a health snapshot and returns the resulting mode.
//
// Body: a HealthState snapshot from the health aggregator. Missing sections
// decode to their zero values, which the cascade treats as healthy.
func HandleCascade(controller *fallback.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var health datatypes.HealthState
		if err := c.ShouldBindJSON(&health); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		mode := controller.Cascade(c.Request.Context(), health)
		c.JSON(http.StatusOK, datatypes.CascadeResponse{
			Mode:     mode.String(),
			Degraded: mode != fallback.ModePrimary,
		})
	}
}

// HandleDetect runs anomaly detection on a telemetry frame with whatever
// detector the current mode owns. Detection never fails the request: detector
// errors surface inside the conservative result body.
func HandleDetect(controller *fallback.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var frame datatypes.TelemetryFrame
		if err := c.ShouldBindJSON(&frame); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(frame) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "telemetry frame must not be empty"})
			return
		}

		result := controller.Detect(c.Request.Context(), frame)
		c.JSON(http.StatusOK, result)
	}
}
