// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers for the resilience service.
//
// Handlers are closures over their collaborators, returned as gin.HandlerFunc
// and wired up in the routes package.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/fallback"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/shutdown"
)

// HandleHealthCheck reports liveness plus the current resilience posture.
//
// During shutdown the endpoint keeps answering 200 with accepting=false so
// orchestrators can distinguish "draining" from "dead".
func HandleHealthCheck(coord *shutdown.Coordinator, controller *fallback.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:       "ok",
			Service:      "resilience",
			FallbackMode: controller.Mode().String(),
			Accepting:    coord.Accepting(),
			InFlight:     coord.InFlight(),
		})
	}
}
