// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fallback

import (
	"context"
	"math"
	"sync"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
)

// ZScoreDetector is a statistical stand-in for the primary detection tier.
//
// It keeps a rolling mean and variance per channel (Welford over a decaying
// window) and flags readings more than Threshold standard deviations from
// the mean. Production deployments replace it with the external ML detector
// plugin; both satisfy the same Detector interface.
//
// Thread Safety: Safe for concurrent use.
type ZScoreDetector struct {
	// Threshold is the z-score above which a reading is anomalous.
	Threshold float64

	// MinSamples is the number of observations per channel required before
	// the detector starts flagging; below it, frames only train the stats.
	MinSamples int

	mu    sync.Mutex
	stats map[string]*channelStats
}

// channelStats holds exponentially-decayed running moments for one channel.
type channelStats struct {
	count    int
	mean     float64
	variance float64
}

const statsDecay = 0.02

// NewZScoreDetector creates a ZScoreDetector with the given z threshold.
// Non-positive threshold defaults to 3.0; non-positive minSamples to 30.
func NewZScoreDetector(threshold float64, minSamples int) *ZScoreDetector {
	if threshold <= 0 {
		threshold = 3.0
	}
	if minSamples <= 0 {
		minSamples = 30
	}
	return &ZScoreDetector{
		Threshold:  threshold,
		MinSamples: minSamples,
		stats:      make(map[string]*channelStats),
	}
}

// Detect scores every channel in the frame against its rolling statistics
// and updates them with the new readings.
//
// Confidence scales with the largest observed z-score: 0.5 at the threshold,
// 1.0 at twice the threshold.
func (d *ZScoreDetector) Detect(_ context.Context, data datatypes.TelemetryFrame) (datatypes.DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	maxScore := 0.0
	violations := make(map[string]float64)

	for channel, value := range data {
		st, ok := d.stats[channel]
		if !ok {
			st = &channelStats{mean: value}
			d.stats[channel] = st
		}

		if st.count >= d.MinSamples && st.variance > 0 {
			z := math.Abs(value-st.mean) / math.Sqrt(st.variance)
			if z > d.Threshold {
				violations[channel] = z
			}
			if z > maxScore {
				maxScore = z
			}
		}

		st.count++
		delta := value - st.mean
		st.mean += statsDecay * delta
		st.variance = (1 - statsDecay) * (st.variance + statsDecay*delta*delta)
	}

	result := datatypes.DetectionResult{Mode: ModePrimary.String()}
	if len(violations) > 0 {
		result.Anomaly = true
		result.Confidence = math.Min(maxScore/(2*d.Threshold), 1.0)
		result.Details = violations
	}
	return result, nil
}
