// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
)

// highRetryFailureThreshold is the failures_1h count above which the cascade
// drops to heuristic detection.
const highRetryFailureThreshold = 50

// circuitOpenState is the breaker state name that counts as "open" in health
// snapshots.
const circuitOpenState = "OPEN"

// Controller is the progressive fallback cascade controller.
//
// Description:
//
//	Consumes health snapshots from an external aggregator and decides which
//	detection tier is authoritative. Mode transitions are linearized by the
//	controller's lock; the potentially slow detector call itself runs
//	outside any lock so concurrent mode reads never block on detection.
//
// Thread Safety: Safe for concurrent use.
type Controller struct {
	logger *slog.Logger

	primary   Detector
	heuristic Detector

	mu          sync.Mutex
	mode        Mode
	transitions []Transition

	callbacks map[Mode]ModeCallback
}

// Option configures a Controller.
type Option func(*Controller)

// WithPrimaryDetector sets the PRIMARY-tier detector (normally the external
// ML model plugin).
func WithPrimaryDetector(d Detector) Option {
	return func(c *Controller) { c.primary = d }
}

// WithHeuristicDetector sets the HEURISTIC-tier detector.
func WithHeuristicDetector(d Detector) Option {
	return func(c *Controller) { c.heuristic = d }
}

// NewController creates a Controller in PRIMARY mode.
//
// Inputs:
//   - logger: Logger for transition events. If nil, uses slog.Default().
//   - opts: Detector wiring. Either detector may be absent; dispatch to an
//     absent detector yields a conservative unavailable result.
func NewController(logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		logger:    logger.With(slog.String("component", "fallback_controller")),
		mode:      ModePrimary,
		callbacks: make(map[Mode]ModeCallback),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("fallback controller initialized", slog.String("mode", c.mode.String()))
	return c
}

// Cascade evaluates a health snapshot and transitions to the matching mode.
//
// Description:
//
//	Decision tree, evaluated on every snapshot:
//	  - failed_components >= 2            => SAFE
//	  - circuit open OR failures_1h > 50  => HEURISTIC
//	  - otherwise                         => PRIMARY
//	If the computed target equals the current mode the call is a no-op and
//	no transition is recorded.
//
// Outputs:
//   - Mode: The mode in effect after evaluation.
func (c *Controller) Cascade(ctx context.Context, health datatypes.HealthState) Mode {
	target := targetMode(health)

	c.mu.Lock()
	if target == c.mode {
		c.mu.Unlock()
		return target
	}
	cb := c.transitionLocked(target, transitionReason(health))
	c.mu.Unlock()

	c.runCallback(ctx, target, cb)
	return target
}

// targetMode computes the cascade decision from a health snapshot. Pure.
func targetMode(health datatypes.HealthState) Mode {
	switch {
	case health.System.FailedComponents >= 2:
		return ModeSafe
	case health.CircuitBreaker.State == circuitOpenState ||
		health.Retry.FailuresLastHour > highRetryFailureThreshold:
		return ModeHeuristic
	default:
		return ModePrimary
	}
}

// transitionReason builds the human-readable reason string from every
// triggering condition found in the snapshot. Identical snapshots always
// produce identical text; "unknown" marks an externally forced transition
// with no matching condition.
func transitionReason(health datatypes.HealthState) string {
	var reasons []string

	if n := health.System.FailedComponents; n >= 2 {
		reasons = append(reasons, fmt.Sprintf("multiple_failures(%d)", n))
	}
	if health.CircuitBreaker.State == circuitOpenState {
		reasons = append(reasons,
			fmt.Sprintf("circuit_open(%.0fs)", health.CircuitBreaker.OpenDurationSeconds))
	}
	if n := health.Retry.FailuresLastHour; n > highRetryFailureThreshold {
		reasons = append(reasons, fmt.Sprintf("high_retry_failures(%d)", n))
	}

	if len(reasons) == 0 {
		return "unknown"
	}
	return strings.Join(reasons, "; ")
}

// transitionLocked swaps the mode and appends to the transition log. The
// caller must hold c.mu. Returns the entry callback to invoke after the lock
// is released, or nil.
func (c *Controller) transitionLocked(target Mode, reason string) ModeCallback {
	from := c.mode
	c.mode = target
	c.transitions = append(c.transitions, Transition{
		Timestamp: time.Now().UTC(),
		From:      from,
		To:        target,
		Reason:    reason,
	})

	c.logger.Warn("fallback cascade transition",
		slog.String("from", from.String()),
		slog.String("to", target.String()),
		slog.String("reason", reason))

	return c.callbacks[target]
}

// runCallback invokes a mode-entry callback outside the controller lock.
// Failures (error or panic) are logged; the transition stays committed.
func (c *Controller) runCallback(ctx context.Context, mode Mode, cb ModeCallback) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mode callback panicked",
				slog.String("mode", mode.String()),
				slog.Any("panic", r))
		}
	}()
	if err := cb(ctx); err != nil {
		c.logger.Error("mode callback failed",
			slog.String("mode", mode.String()),
			slog.Any("error", err))
	}
}

// RegisterModeCallback registers a callback invoked on entry into mode.
// Useful for cleanup, reinitialization, or notifications.
func (c *Controller) RegisterModeCallback(mode Mode, cb ModeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[mode] = cb
}

// SetMode applies an external mode override, e.g. a cluster-wide decision.
//
// Description:
//
//	Case-insensitive. An unknown mode string returns false with no side
//	effects. A known mode performs a normal transition with a synthetic
//	(empty) health context, so the logged reason is "unknown". Setting the
//	current mode is a no-op returning true.
func (c *Controller) SetMode(ctx context.Context, mode string) bool {
	target, err := ParseMode(mode)
	if err != nil {
		c.logger.Warn("invalid fallback mode",
			slog.String("mode", mode),
			slog.String("valid", "primary, heuristic, safe"))
		return false
	}

	c.mu.Lock()
	if target == c.mode {
		c.mu.Unlock()
		return true
	}
	cb := c.transitionLocked(target, transitionReason(datatypes.HealthState{}))
	c.mu.Unlock()

	c.runCallback(ctx, target, cb)
	return true
}

// Detect runs anomaly detection with the detector owned by the current mode.
//
// Description:
//
//	Reads the mode under lock, releases the lock, then dispatches:
//	PRIMARY and HEURISTIC use their wired detectors (conservative
//	unavailable result when absent); SAFE always returns the fixed
//	conservative result. A detector error or panic is converted into a
//	conservative result with error detail, never propagated.
func (c *Controller) Detect(ctx context.Context, data datatypes.TelemetryFrame) datatypes.DetectionResult {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	var detector Detector
	switch mode {
	case ModePrimary:
		if c.primary == nil {
			return conservativeResult("primary_unavailable")
		}
		detector = c.primary
	case ModeHeuristic:
		if c.heuristic == nil {
			return conservativeResult("heuristic_unavailable")
		}
		detector = c.heuristic
	default:
		return conservativeResult("safe")
	}

	result, err := safeDetect(ctx, detector, data)
	if err != nil {
		c.logger.Error("detector failed, returning conservative result",
			slog.String("mode", mode.String()),
			slog.Any("error", err))
		out := conservativeResult("error")
		out.Error = err.Error()
		return out
	}
	return result
}

// safeDetect invokes a detector, converting panics into errors.
func safeDetect(ctx context.Context, d Detector, data datatypes.TelemetryFrame) (result datatypes.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return d.Detect(ctx, data)
}

// Mode returns the current fallback mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Transitions returns the most recent limit transitions, oldest first.
// A non-positive limit returns the full log.
func (c *Controller) Transitions(limit int) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.transitions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Transition, limit)
	copy(out, c.transitions[n-limit:])
	return out
}

// IsDegraded reports whether the controller has left PRIMARY mode.
func (c *Controller) IsDegraded() bool {
	return c.Mode() != ModePrimary
}

// IsSafe reports whether the controller is in SAFE mode.
func (c *Controller) IsSafe() bool {
	return c.Mode() == ModeSafe
}
