// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire types shared between the resilience
// core and its external collaborators: the health aggregator that feeds the
// fallback cascade, and the detector plugins it dispatches to.
package datatypes

// CircuitBreakerState is the circuit-breaker portion of a health snapshot.
//
// The circuit breaker itself lives in an external dependency monitor; this
// service only consumes its state as an input signal.
type CircuitBreakerState struct {
	// State is the breaker state name, e.g. "CLOSED", "OPEN", "HALF_OPEN".
	State string `json:"state"`

	// OpenDurationSeconds is how long the breaker has been open.
	// Zero when the breaker is closed.
	OpenDurationSeconds float64 `json:"open_duration_seconds"`
}

// RetryState carries retry-failure counters from the health aggregator.
type RetryState struct {
	// FailuresLastHour is the number of exhausted retry sequences in the
	// trailing hour.
	FailuresLastHour int `json:"failures_1h"`
}

// SystemState carries component-level health from the health aggregator.
type SystemState struct {
	// FailedComponents is the count of components currently reporting
	// unhealthy.
	FailedComponents int `json:"failed_components"`
}

// HealthState is the externally-computed health snapshot consumed by the
// fallback cascade controller. It is an input only; this service never
// mutates or recomputes it.
type HealthState struct {
	CircuitBreaker CircuitBreakerState `json:"circuit_breaker"`
	Retry          RetryState          `json:"retry"`
	System         SystemState         `json:"system"`
}

// TelemetryFrame is a single frame of satellite telemetry handed to a
// detector: named sensor channels mapped to their current readings.
type TelemetryFrame map[string]float64

// DetectionResult is the outcome of an anomaly-detection call.
//
// Immutable once produced. A conservative result (Anomaly false, Confidence
// zero) is returned whenever the active detector is unavailable or fails.
type DetectionResult struct {
	// Anomaly reports whether the frame was classified as anomalous.
	Anomaly bool `json:"anomaly"`

	// Confidence is the detector's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Mode names the source of the result: the fallback mode that served
	// it, or a degradation marker such as "primary_unavailable" or "error".
	Mode string `json:"mode"`

	// Error carries failure detail when a detector errored. Empty on
	// success.
	Error string `json:"error,omitempty"`

	// Details holds optional detector-specific annotations, e.g. which
	// channels violated limits.
	Details map[string]float64 `json:"details,omitempty"`
}
