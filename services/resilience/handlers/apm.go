// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/apm"
)

// HandleAPMStatus returns the transaction monitor's point-in-time snapshot:
// active transactions, Apdex score, throughput, and error-budget figures.
func HandleAPMStatus(monitor *apm.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, monitor.Status())
	}
}
