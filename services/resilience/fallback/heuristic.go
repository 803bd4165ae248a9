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
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
)

// Limit is an inclusive operating range for a telemetry channel.
type Limit struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// LimitDetector is the heuristic-tier detector: it flags a frame as anomalous
// when any known channel leaves its configured operating range.
//
// The heuristic tier favors speed and predictability over accuracy while the
// primary detector is unavailable.
//
// Thread Safety: Safe for concurrent use; limits are immutable after New.
type LimitDetector struct {
	limits map[string]Limit
}

// LimitsFromFile loads per-channel limits from a YAML file mapping channel
// names to {min, max} ranges.
func LimitsFromFile(path string) (map[string]Limit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}
	var limits map[string]Limit
	if err := yaml.Unmarshal(raw, &limits); err != nil {
		return nil, fmt.Errorf("parse limits file: %w", err)
	}
	for channel, limit := range limits {
		if limit.Min > limit.Max {
			return nil, fmt.Errorf("limits file: channel %q has min > max", channel)
		}
	}
	return limits, nil
}

// NewLimitDetector creates a LimitDetector from per-channel limits.
// Channels absent from limits are ignored during detection.
func NewLimitDetector(limits map[string]Limit) *LimitDetector {
	copied := make(map[string]Limit, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &LimitDetector{limits: copied}
}

// Detect checks every known channel in the frame against its limits.
//
// Confidence is the fraction of checked channels that violated their range,
// so a frame with every channel out of bounds scores 1.0.
func (d *LimitDetector) Detect(_ context.Context, data datatypes.TelemetryFrame) (datatypes.DetectionResult, error) {
	checked := 0
	violations := make(map[string]float64)

	for channel, value := range data {
		limit, ok := d.limits[channel]
		if !ok {
			continue
		}
		checked++
		if value < limit.Min || value > limit.Max {
			violations[channel] = value
		}
	}

	result := datatypes.DetectionResult{Mode: ModeHeuristic.String()}
	if checked == 0 {
		return result, nil
	}
	if len(violations) > 0 {
		result.Anomaly = true
		result.Confidence = float64(len(violations)) / float64(checked)
		result.Details = violations
	}
	return result, nil
}
