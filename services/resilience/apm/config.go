// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apm

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config controls the transaction monitor.
//
// All fields can be overridden via environment variables prefixed with APM_
// (see FromEnv), or loaded from a YAML file (see FromFile). Invalid values
// fall back to defaults with a warning; configuration is never fatal.
type Config struct {
	// Enabled is the master toggle. When false every monitor operation is a
	// no-op returning empty or sentinel values.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ServiceName identifies this service in traces and metrics.
	ServiceName string `yaml:"service_name" json:"service_name" validate:"required"`

	// ServiceVersion is the version string for this service.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Environment identifies the deployment environment.
	Environment string `yaml:"environment" json:"environment"`

	// SampleRate is the trace sampling rate in [0, 1].
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`

	// SlowTransactionThresholdMS flags transactions slower than this as slow.
	SlowTransactionThresholdMS float64 `yaml:"slow_transaction_threshold_ms" json:"slow_transaction_threshold_ms" validate:"gt=0"`

	// ApdexT is the Apdex satisfaction threshold T in seconds: duration <= T
	// is satisfied, <= 4T tolerating, beyond that frustrated.
	ApdexT float64 `yaml:"apdex_t" json:"apdex_t" validate:"gt=0"`

	// MaxTransactionsTracked is the capacity of the Apdex and throughput
	// rolling windows.
	MaxTransactionsTracked int `yaml:"max_transactions_tracked" json:"max_transactions_tracked" validate:"gte=100"`

	// ErrorBudgetTarget is the SLO target in [0, 1]; the allowed error rate
	// is 1 - target.
	ErrorBudgetTarget float64 `yaml:"error_budget_target" json:"error_budget_target" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		ServiceName:                "astraguard-ai",
		ServiceVersion:             "1.0.0",
		Environment:                "development",
		SampleRate:                 1.0,
		SlowTransactionThresholdMS: 500,
		ApdexT:                     0.5,
		MaxTransactionsTracked:     1000,
		ErrorBudgetTarget:          0.999,
	}
}

// FromEnv builds a Config from APM_* environment variables, falling back to
// defaults (with a warning) for unset or invalid values.
//
// Environment variables: APM_ENABLED, APM_SERVICE_NAME, APM_SERVICE_VERSION,
// APM_ENVIRONMENT, APM_SAMPLE_RATE, APM_SLOW_TRANSACTION_THRESHOLD_MS,
// APM_APDEX_T, APM_MAX_TRANSACTIONS_TRACKED, APM_ERROR_BUDGET_TARGET.
func FromEnv(logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()

	cfg.Enabled = envBool(logger, "APM_ENABLED", cfg.Enabled)
	cfg.ServiceName = envString("APM_SERVICE_NAME", cfg.ServiceName)
	cfg.ServiceVersion = envString("APM_SERVICE_VERSION", cfg.ServiceVersion)
	cfg.Environment = envString("APM_ENVIRONMENT", cfg.Environment)
	cfg.SampleRate = envFloat(logger, "APM_SAMPLE_RATE", cfg.SampleRate, 0, 1)
	cfg.SlowTransactionThresholdMS = envFloat(logger, "APM_SLOW_TRANSACTION_THRESHOLD_MS",
		cfg.SlowTransactionThresholdMS, 0, 0)
	cfg.ApdexT = envFloat(logger, "APM_APDEX_T", cfg.ApdexT, 0.001, 0)
	cfg.MaxTransactionsTracked = envInt(logger, "APM_MAX_TRANSACTIONS_TRACKED",
		cfg.MaxTransactionsTracked, 100)
	cfg.ErrorBudgetTarget = envFloat(logger, "APM_ERROR_BUDGET_TARGET",
		cfg.ErrorBudgetTarget, 0, 1)

	logger.Info("apm config loaded",
		slog.Bool("enabled", cfg.Enabled),
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.Float64("apdex_t", cfg.ApdexT))
	return cfg
}

// FromFile loads YAML overrides on top of base. A missing file is not an
// error; a malformed file is.
func FromFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("read apm config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("parse apm config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints. Callers that load config from untrusted
// files should validate before constructing a Monitor; FromEnv output is
// always valid by construction.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid apm config: %w", err)
	}
	return nil
}

// echo returns the config as a map for status payloads.
func (c Config) echo() map[string]any {
	return map[string]any{
		"enabled":                       c.Enabled,
		"service_name":                  c.ServiceName,
		"service_version":               c.ServiceVersion,
		"environment":                   c.Environment,
		"sample_rate":                   c.SampleRate,
		"slow_transaction_threshold_ms": c.SlowTransactionThresholdMS,
		"apdex_t":                       c.ApdexT,
		"max_transactions_tracked":      c.MaxTransactionsTracked,
		"error_budget_target":           c.ErrorBudgetTarget,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(logger *slog.Logger, key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn("invalid bool env value, using default",
			slog.String("key", key), slog.String("value", raw))
		return fallback
	}
}

// envFloat parses a float env var, clamping to [min, max]. A max of zero
// means unbounded above.
func envFloat(logger *slog.Logger, key string, fallback, min, max float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("invalid float env value, using default",
			slog.String("key", key), slog.String("value", raw))
		return fallback
	}
	if v < min {
		v = min
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}

func envInt(logger *slog.Logger, key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid int env value, using default",
			slog.String("key", key), slog.String("value", raw))
		return fallback
	}
	if v < min {
		v = min
	}
	return v
}
