// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// SetModeRequest is the body of POST /v1/fallback/mode.
type SetModeRequest struct {
	// Mode is the target fallback mode: "primary", "heuristic", or "safe".
	// Case-insensitive.
	Mode string `json:"mode" binding:"required"`
}

// SetModeResponse confirms a mode override.
type SetModeResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// CascadeResponse reports the outcome of a health-snapshot evaluation.
type CascadeResponse struct {
	Mode     string `json:"mode"`
	Degraded bool   `json:"degraded"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	FallbackMode string `json:"fallback_mode"`
	Accepting    bool   `json:"accepting"`
	InFlight     int    `json:"in_flight"`
}
