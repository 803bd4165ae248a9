// Copyright (C) 2025 AstraGuard AI
// Tests for the in-repo detector tiers.

package fallback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/datatypes"
)

func TestLimitDetector_WithinLimits(t *testing.T) {
	d := NewLimitDetector(map[string]Limit{
		"battery_v":  {Min: 22, Max: 34},
		"temp_c":     {Min: -40, Max: 85},
		"gyro_rad_s": {Min: -2, Max: 2},
	})

	result, err := d.Detect(context.Background(), datatypes.TelemetryFrame{
		"battery_v": 28.5,
		"temp_c":    21.0,
	})
	require.NoError(t, err)
	assert.False(t, result.Anomaly)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, "heuristic", result.Mode)
}

func TestLimitDetector_Violations(t *testing.T) {
	d := NewLimitDetector(map[string]Limit{
		"battery_v": {Min: 22, Max: 34},
		"temp_c":    {Min: -40, Max: 85},
	})

	result, err := d.Detect(context.Background(), datatypes.TelemetryFrame{
		"battery_v": 18.0, // below min
		"temp_c":    30.0,
	})
	require.NoError(t, err)
	assert.True(t, result.Anomaly)
	assert.InDelta(t, 0.5, result.Confidence, 1e-9, "one of two checked channels violated")
	assert.Contains(t, result.Details, "battery_v")
}

func TestLimitDetector_UnknownChannelsIgnored(t *testing.T) {
	d := NewLimitDetector(map[string]Limit{"temp_c": {Min: -40, Max: 85}})

	result, err := d.Detect(context.Background(), datatypes.TelemetryFrame{
		"mystery_channel": 1e9,
	})
	require.NoError(t, err)
	assert.False(t, result.Anomaly)
}

func TestZScoreDetector_TrainsBeforeFlagging(t *testing.T) {
	d := NewZScoreDetector(3.0, 10)

	// Fewer observations than MinSamples: even wild values only train.
	for i := 0; i < 5; i++ {
		result, err := d.Detect(context.Background(), datatypes.TelemetryFrame{"temp_c": 20})
		require.NoError(t, err)
		assert.False(t, result.Anomaly)
	}
}

func TestZScoreDetector_FlagsOutlier(t *testing.T) {
	d := NewZScoreDetector(3.0, 10)

	// Stable signal with mild jitter to build nonzero variance.
	for i := 0; i < 200; i++ {
		jitter := float64(i%5) * 0.1
		_, err := d.Detect(context.Background(), datatypes.TelemetryFrame{"temp_c": 20 + jitter})
		require.NoError(t, err)
	}

	result, err := d.Detect(context.Background(), datatypes.TelemetryFrame{"temp_c": 500})
	require.NoError(t, err)
	assert.True(t, result.Anomaly)
	assert.Greater(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.Contains(t, result.Details, "temp_c")
	assert.Equal(t, "primary", result.Mode)
}

func TestZScoreDetector_Defaults(t *testing.T) {
	d := NewZScoreDetector(0, 0)
	assert.Equal(t, 3.0, d.Threshold)
	assert.Equal(t, 30, d.MinSamples)
}

func TestLimitsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	content := `
temperature:
  min: -40
  max: 85
battery_level:
  min: 10
  max: 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	limits, err := LimitsFromFile(path)
	require.NoError(t, err)
	assert.Len(t, limits, 2)
	assert.Equal(t, Limit{Min: -40, Max: 85}, limits["temperature"])
}

func TestLimitsFromFile_InvertedRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voltage: {min: 5, max: 3}\n"), 0o644))

	_, err := LimitsFromFile(path)
	assert.Error(t, err)
}

func TestLimitsFromFile_Missing(t *testing.T) {
	_, err := LimitsFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
