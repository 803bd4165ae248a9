// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fallback implements the progressive fallback cascade: a small state
// machine that selects the authoritative detection strategy from external
// health signals and dispatches detection calls to it.
//
// Modes degrade from full ML-based detection (PRIMARY) through rule-based
// detection (HEURISTIC) down to conservative no-action monitoring (SAFE).
package fallback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
)

// Mode is the fallback level currently in control of detection.
type Mode int

const (
	// ModePrimary is full ML-based anomaly detection.
	ModePrimary Mode = iota

	// ModeHeuristic is rule-based fallback detection: faster, less accurate.
	ModeHeuristic

	// ModeSafe is conservative operation: monitoring only, no actions.
	ModeSafe
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeHeuristic:
		return "heuristic"
	case ModeSafe:
		return "safe"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so modes serialize as their
// names in JSON transition logs and status payloads.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ErrUnknownMode is returned by ParseMode for unrecognized mode strings.
var ErrUnknownMode = errors.New("fallback: unknown mode")

// ParseMode converts a mode string to a Mode, case-insensitively.
//
// Outputs:
//   - Mode: The parsed mode. ModePrimary on error.
//   - error: ErrUnknownMode if the string names no known mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return ModePrimary, nil
	case "heuristic":
		return ModeHeuristic, nil
	case "safe":
		return ModeSafe, nil
	default:
		return ModePrimary, ErrUnknownMode
	}
}

// Transition records a single mode change in the controller's log.
type Transition struct {
	Timestamp time.Time `json:"timestamp"`
	From      Mode      `json:"from"`
	To        Mode      `json:"to"`
	Reason    string    `json:"reason"`
}

// Detector is the pluggable anomaly-detection contract. Implementations must
// be safe for concurrent request contexts.
//
// A non-nil error marks the call as failed; the controller converts it into
// a conservative result and never propagates it.
type Detector interface {
	Detect(ctx context.Context, data datatypes.TelemetryFrame) (datatypes.DetectionResult, error)
}

// ModeCallback runs when the controller enters a mode. Callback failures are
// logged and do not roll back the transition.
type ModeCallback func(ctx context.Context) error

// conservativeResult builds the safe default detection result: no anomaly,
// zero confidence.
func conservativeResult(mode string) datatypes.DetectionResult {
	return datatypes.DetectionResult{
		Anomaly:    false,
		Confidence: 0,
		Mode:       mode,
	}
}
