// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apm

import "github.com/prometheus/client_golang/prometheus"

// Namespace and subsystem for all monitor metrics.
const (
	metricsNamespace = "astraguard"
	metricsSubsystem = "apm"
)

// Metrics holds the Prometheus metric families emitted by the monitor.
//
// # Description
//
// Counters, histograms, and gauges for transaction volume, latency, Apdex
// zones, throughput, and error budget. Create once at startup with
// NewMetrics(prometheus.DefaultRegisterer); tests pass an isolated registry.
// The monitor tolerates a nil *Metrics; every emission is guarded.
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
type Metrics struct {
	// TransactionsTotal counts completed transactions.
	// Labels: endpoint, method, status (success, error, client_error, timeout)
	TransactionsTotal *prometheus.CounterVec

	// TransactionDurationSeconds measures transaction latency.
	// Labels: endpoint, method
	TransactionDurationSeconds *prometheus.HistogramVec

	// SlowTransactionsTotal counts transactions over the slow threshold.
	// Labels: endpoint, method
	SlowTransactionsTotal *prometheus.CounterVec

	// ActiveTransactions tracks currently open transactions.
	ActiveTransactions prometheus.Gauge

	// ApdexScore is the current rolling-window Apdex score (0.0 - 1.0).
	ApdexScore prometheus.Gauge

	// ApdexSatisfiedTotal counts transactions in the satisfied zone (d <= T).
	ApdexSatisfiedTotal prometheus.Counter

	// ApdexToleratingTotal counts transactions in the tolerating zone
	// (T < d <= 4T).
	ApdexToleratingTotal prometheus.Counter

	// ApdexFrustratedTotal counts transactions in the frustrated zone (d > 4T).
	ApdexFrustratedTotal prometheus.Counter

	// ThroughputPerSecond is the rolling-window transactions/second estimate.
	ThroughputPerSecond prometheus.Gauge

	// ErrorBudgetRemaining is the remaining error budget ratio
	// (1.0 = full budget, 0.0 = exhausted).
	ErrorBudgetRemaining prometheus.Gauge

	// ErrorsTotal counts errors recorded against active transactions.
	// Labels: endpoint, error_type
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the monitor metric families.
//
// Inputs:
//   - reg: Target registerer. Pass prometheus.DefaultRegisterer in main,
//     or an isolated prometheus.NewRegistry() in tests.
//
// Limitations:
//   - Panics on duplicate registration; call once per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "transactions_total",
				Help:      "Total number of APM-tracked transactions",
			},
			[]string{"endpoint", "method", "status"},
		),

		TransactionDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "transaction_duration_seconds",
				Help:      "Transaction duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),

		SlowTransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "slow_transactions_total",
				Help:      "Total number of transactions exceeding the slow threshold",
			},
			[]string{"endpoint", "method"},
		),

		ActiveTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_transactions",
				Help:      "Number of currently active transactions",
			},
		),

		ApdexScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "apdex_score",
				Help:      "Current Apdex score (0.0 - 1.0)",
			},
		),

		ApdexSatisfiedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "apdex_satisfied_total",
				Help:      "Total transactions in Apdex satisfied zone (duration <= T)",
			},
		),

		ApdexToleratingTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "apdex_tolerating_total",
				Help:      "Total transactions in Apdex tolerating zone (T < duration <= 4T)",
			},
		),

		ApdexFrustratedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "apdex_frustrated_total",
				Help:      "Total transactions in Apdex frustrated zone (duration > 4T)",
			},
		),

		ThroughputPerSecond: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "throughput_per_second",
				Help:      "Estimated transactions per second (rolling window)",
			},
		),

		ErrorBudgetRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "error_budget_remaining",
				Help:      "Remaining error budget ratio (1.0 = full budget, 0.0 = exhausted)",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "errors_total",
				Help:      "Total APM-tracked errors",
			},
			[]string{"endpoint", "error_type"},
		),
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.TransactionDurationSeconds,
		m.SlowTransactionsTotal,
		m.ActiveTransactions,
		m.ApdexScore,
		m.ApdexSatisfiedTotal,
		m.ApdexToleratingTotal,
		m.ApdexFrustratedTotal,
		m.ThroughputPerSecond,
		m.ErrorBudgetRemaining,
		m.ErrorsTotal,
	)

	return m
}
