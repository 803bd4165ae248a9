// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package apm implements the transaction monitor: per-unit-of-work lifecycle
// tracking with Apdex scoring, rolling throughput, and error-budget
// accounting, plus scoped tracing spans.
//
// One Monitor is constructed at startup and shared by the HTTP middleware
// and any background workers. Tracing is optional: when disabled the monitor
// runs on a no-op tracer and behaves identically apart from span emission.
package apm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Status is the outcome of a completed transaction.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusClientError Status = "client_error"
	StatusTimeout     Status = "timeout"
)

// consumesBudget reports whether the status counts against the error budget.
// Client errors are the caller's fault and do not.
func (s Status) consumesBudget() bool {
	return s == StatusError || s == StatusTimeout
}

// Zone is an Apdex zone classification.
type Zone string

const (
	ZoneSatisfied  Zone = "satisfied"
	ZoneTolerating Zone = "tolerating"
	ZoneFrustrated Zone = "frustrated"
)

// Transaction is an in-flight unit of work. Owned exclusively by the monitor
// while active; converted to a TransactionResult and removed on end.
type Transaction struct {
	ID        string
	Name      string
	Kind      string
	StartTime time.Time // monotonic (time.Time carries the monotonic clock)
	WallStart time.Time
	Metadata  map[string]string

	span trace.Span
}

// TransactionResult is the immutable outcome of a completed transaction.
type TransactionResult struct {
	TransactionID   string  `json:"transaction_id"`
	Name            string  `json:"name"`
	DurationSeconds float64 `json:"duration_seconds"`
	Status          Status  `json:"status"`
	ApdexZone       Zone    `json:"apdex_zone"`
	IsSlow          bool    `json:"is_slow"`
}

// Monitor tracks transaction lifecycles and derives SLO figures.
//
// Description:
//
//	StartTransaction/EndTransaction bracket each unit of work. EndTransaction
//	classifies latency against the Apdex threshold, updates the rolling
//	Apdex and throughput windows and the error-budget counters, and emits
//	all derived metrics as a single locked step. Operations on unknown
//	transaction ids are silent no-ops.
//
// Thread Safety: Safe for concurrent use. Operations on the same transaction
// id are linearized by the monitor's lock.
type Monitor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics // may be nil; every emission is guarded
	tracer  trace.Tracer

	mu           sync.Mutex
	transactions map[string]*Transaction
	running      bool

	statsMu       sync.Mutex
	apdexWin      *zoneWindow
	throughputWin *timeWindow
	totalTxns     uint64
	totalErrors   uint64
}

// New creates a Monitor from cfg.
//
// Inputs:
//   - cfg: Monitor configuration; when cfg.Enabled is false all operations
//     are no-ops returning empty or sentinel values.
//   - logger: Logger for lifecycle events. If nil, uses slog.Default().
//   - metrics: Prometheus metric families, or nil to skip metric emission.
//
// The tracer is the process-global OpenTelemetry tracer (a no-op until
// telemetry.Init installs a provider), or a no-op tracer when disabled.
func New(cfg Config, logger *slog.Logger, metrics *Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "apm_monitor"))

	tracer := noop.NewTracerProvider().Tracer("")
	if cfg.Enabled {
		tracer = otel.Tracer(cfg.ServiceName)
	}

	m := &Monitor{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
		transactions:  make(map[string]*Transaction),
		running:       cfg.Enabled,
		apdexWin:      newZoneWindow(cfg.MaxTransactionsTracked),
		throughputWin: newTimeWindow(cfg.MaxTransactionsTracked),
	}

	if !cfg.Enabled {
		logger.Info("apm monitor disabled via configuration")
		return m
	}
	logger.Info("apm monitor initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment))
	return m
}

// StartTransaction begins tracking a unit of work.
//
// Inputs:
//   - ctx: Parent context for the transaction's span.
//   - name: Transaction name, e.g. "GET /v1/detect".
//   - kind: Transaction kind: "request", "background", or "scheduled".
//   - metadata: Optional key-value metadata attached to the span.
//
// Outputs:
//   - string: The transaction id, or "" when the monitor is not running.
func (m *Monitor) StartTransaction(ctx context.Context, name, kind string, metadata map[string]string) string {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ""
	}
	m.mu.Unlock()

	id := uuid.NewString()

	attrs := make([]attribute.KeyValue, 0, len(metadata)+2)
	attrs = append(attrs,
		attribute.String("transaction.id", id),
		attribute.String("transaction.kind", kind))
	for k, v := range metadata {
		attrs = append(attrs, attribute.String(k, v))
	}
	_, span := m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	txn := &Transaction{
		ID:        id,
		Name:      name,
		Kind:      kind,
		StartTime: time.Now(),
		WallStart: time.Now(),
		Metadata:  metadata,
		span:      span,
	}

	m.mu.Lock()
	if !m.running {
		// Shutdown raced the start: drop the transaction.
		m.mu.Unlock()
		span.End()
		return ""
	}
	m.transactions[id] = txn
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveTransactions.Inc()
	}
	return id
}

// EndTransaction completes a transaction and records all derived metrics.
//
// Outputs:
//   - TransactionResult: The completed result. Zero value when not found.
//   - bool: False when the id is unknown (already ended, never started, or
//     monitor not running), never an error.
func (m *Monitor) EndTransaction(id string, status Status, metadata map[string]string) (TransactionResult, bool) {
	if id == "" {
		return TransactionResult{}, false
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return TransactionResult{}, false
	}
	txn, ok := m.transactions[id]
	if ok {
		delete(m.transactions, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("transaction not found, already ended?", slog.String("id", id))
		return TransactionResult{}, false
	}

	duration := time.Since(txn.StartTime)
	durationSecs := duration.Seconds()

	if m.metrics != nil {
		m.metrics.ActiveTransactions.Dec()
	}

	m.closeSpan(txn, status, durationSecs, metadata)

	zone := classifyZone(durationSecs, m.cfg.ApdexT)
	isSlow := float64(duration.Milliseconds()) > m.cfg.SlowTransactionThresholdMS

	m.recordCompletion(txn, durationSecs, status, zone, isSlow)

	return TransactionResult{
		TransactionID:   id,
		Name:            txn.Name,
		DurationSeconds: durationSecs,
		Status:          status,
		ApdexZone:       zone,
		IsSlow:          isSlow,
	}, true
}

// closeSpan attaches the outcome to the transaction's span and ends it.
// Span failures are never propagated.
func (m *Monitor) closeSpan(txn *Transaction, status Status, durationSecs float64, metadata map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("span close failed", slog.Any("panic", r))
		}
	}()

	for k, v := range metadata {
		txn.span.SetAttributes(attribute.String("result."+k, v))
	}
	txn.span.SetAttributes(
		attribute.String("transaction.status", string(status)),
		attribute.Float64("transaction.duration_ms", durationSecs*1000))
	if status == StatusError || status == StatusTimeout {
		txn.span.SetStatus(codes.Error, string(status))
	}
	txn.span.End()
}

// recordCompletion updates the rolling windows, error-budget counters, and
// metric families for a completed transaction in one locked step.
func (m *Monitor) recordCompletion(txn *Transaction, durationSecs float64, status Status, zone Zone, isSlow bool) {
	endpoint := txn.Name
	method := txn.Kind
	if v, ok := txn.Metadata["http.method"]; ok {
		method = v
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	m.apdexWin.push(zone)
	m.throughputWin.push(time.Now())
	m.totalTxns++
	if status.consumesBudget() {
		m.totalErrors++
	}

	if m.metrics == nil {
		return
	}

	m.metrics.TransactionsTotal.WithLabelValues(endpoint, method, string(status)).Inc()
	m.metrics.TransactionDurationSeconds.WithLabelValues(endpoint, method).Observe(durationSecs)
	if isSlow {
		m.metrics.SlowTransactionsTotal.WithLabelValues(endpoint, method).Inc()
	}

	switch zone {
	case ZoneSatisfied:
		m.metrics.ApdexSatisfiedTotal.Inc()
	case ZoneTolerating:
		m.metrics.ApdexToleratingTotal.Inc()
	case ZoneFrustrated:
		m.metrics.ApdexFrustratedTotal.Inc()
	}

	m.metrics.ApdexScore.Set(m.apdexScoreLocked())
	if tps, ok := m.throughputWin.throughput(); ok {
		m.metrics.ThroughputPerSecond.Set(tps)
	}
	m.metrics.ErrorBudgetRemaining.Set(m.errorBudgetLocked())
}

// RecordError attaches error information to an active transaction's span.
// Unknown or already-ended transactions are silent no-ops.
func (m *Monitor) RecordError(id string, err error, errorType string) {
	if id == "" {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	txn, ok := m.transactions[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		txn.span.RecordError(err)
		txn.span.SetAttributes(
			attribute.Bool("error", true),
			attribute.String("error.type", errorType))
	}

	if m.metrics != nil {
		m.metrics.ErrorsTotal.WithLabelValues(txn.Name, errorType).Inc()
	}
}

// classifyZone maps a duration to its Apdex zone against threshold t:
// d <= t satisfied, t < d <= 4t tolerating, d > 4t frustrated.
func classifyZone(durationSecs, t float64) Zone {
	switch {
	case durationSecs <= t:
		return ZoneSatisfied
	case durationSecs <= 4*t:
		return ZoneTolerating
	default:
		return ZoneFrustrated
	}
}

// ApdexScore returns the current rolling-window Apdex score:
// (satisfied + tolerating/2) / window length. An empty window scores 1.0.
func (m *Monitor) ApdexScore() float64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.apdexScoreLocked()
}

func (m *Monitor) apdexScoreLocked() float64 {
	n := m.apdexWin.len()
	if n == 0 {
		return 1.0
	}
	satisfied, tolerating := m.apdexWin.counts()
	return (float64(satisfied) + float64(tolerating)/2) / float64(n)
}

// errorBudgetLocked derives the remaining error budget, clamped to [0, 1].
// allowed = 1 - target; remaining = 1 - actual/allowed. With a zero allowed
// rate the budget is 0 if any error occurred, else 1.
func (m *Monitor) errorBudgetLocked() float64 {
	if m.totalTxns == 0 {
		return 1.0
	}
	allowed := 1.0 - m.cfg.ErrorBudgetTarget
	if allowed <= 0 {
		if m.totalErrors > 0 {
			return 0.0
		}
		return 1.0
	}
	actual := float64(m.totalErrors) / float64(m.totalTxns)
	remaining := 1.0 - actual/allowed
	if remaining < 0 {
		return 0.0
	}
	return remaining
}

// ErrorBudgetRemaining returns the remaining error budget ratio in [0, 1].
func (m *Monitor) ErrorBudgetRemaining() float64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.errorBudgetLocked()
}

// Throughput returns the rolling-window transactions/second estimate and
// whether enough data exists to derive one (at least two completions).
func (m *Monitor) Throughput() (float64, bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.throughputWin.throughput()
}

// SlowThresholdMS returns the configured slow-transaction threshold in
// milliseconds. Used by the HTTP middleware to flag slow responses.
func (m *Monitor) SlowThresholdMS() float64 {
	return m.cfg.SlowTransactionThresholdMS
}

// ActiveCount returns the number of currently active transactions.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// Running reports whether the monitor accepts operations.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns a point-in-time snapshot for the status endpoint.
func (m *Monitor) Status() map[string]any {
	m.mu.Lock()
	active := len(m.transactions)
	running := m.running
	m.mu.Unlock()

	m.statsMu.Lock()
	totalTxns := m.totalTxns
	totalErrors := m.totalErrors
	apdex := m.apdexScoreLocked()
	budget := m.errorBudgetLocked()
	tps, _ := m.throughputWin.throughput()
	m.statsMu.Unlock()

	return map[string]any{
		"enabled":                m.cfg.Enabled,
		"running":                running,
		"service_name":           m.cfg.ServiceName,
		"environment":            m.cfg.Environment,
		"active_transactions":    active,
		"total_transactions":     totalTxns,
		"total_errors":           totalErrors,
		"apdex_score":            apdex,
		"throughput_per_second":  tps,
		"error_budget_remaining": budget,
		"config":                 m.cfg.echo(),
	}
}

// Shutdown stops the monitor: no further operations are accepted and all
// active transactions are cleared, logging how many were interrupted.
// Exporter flushing is owned by the telemetry package's shutdown hook.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	m.running = false
	interrupted := len(m.transactions)
	for id, txn := range m.transactions {
		txn.span.End()
		delete(m.transactions, id)
	}
	m.mu.Unlock()

	if interrupted > 0 {
		if m.metrics != nil {
			m.metrics.ActiveTransactions.Sub(float64(interrupted))
		}
		m.logger.Warn("apm shutdown with active transactions",
			slog.Int("interrupted", interrupted))
	}
	m.logger.Info("apm monitor shut down")
}
