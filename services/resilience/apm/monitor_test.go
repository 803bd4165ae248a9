// Copyright (C) 2025 AstraGuard AI
// Tests for the transaction monitor.

package apm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMonitor creates an enabled monitor with an isolated metric registry.
func newTestMonitor(t *testing.T, mutate func(*Config)) *Monitor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil, NewMetrics(prometheus.NewRegistry()))
}

func TestClassifyZone(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		t        float64
		want     Zone
	}{
		{"well under threshold", 0.1, 0.5, ZoneSatisfied},
		{"exactly at threshold", 0.5, 0.5, ZoneSatisfied},
		{"just over threshold", 0.51, 0.5, ZoneTolerating},
		{"exactly at 4T", 2.0, 0.5, ZoneTolerating},
		{"beyond 4T", 2.01, 0.5, ZoneFrustrated},
		{"small threshold", 0.005, 0.001, ZoneFrustrated},
		{"large threshold", 3.9, 1.0, ZoneTolerating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyZone(tt.duration, tt.t); got != tt.want {
				t.Errorf("classifyZone(%v, %v) = %v, want %v", tt.duration, tt.t, got, tt.want)
			}
		})
	}
}

func TestApdexScore_KnownWindow(t *testing.T) {
	m := newTestMonitor(t, nil)

	// 5 satisfied, 3 tolerating, 2 frustrated => (5 + 1.5) / 10 = 0.65
	m.statsMu.Lock()
	for i := 0; i < 5; i++ {
		m.apdexWin.push(ZoneSatisfied)
	}
	for i := 0; i < 3; i++ {
		m.apdexWin.push(ZoneTolerating)
	}
	for i := 0; i < 2; i++ {
		m.apdexWin.push(ZoneFrustrated)
	}
	m.statsMu.Unlock()

	assert.InDelta(t, 0.65, m.ApdexScore(), 1e-9)
}

func TestApdexScore_EmptyWindow(t *testing.T) {
	m := newTestMonitor(t, nil)
	assert.Equal(t, 1.0, m.ApdexScore())
}

func TestTransactionLifecycle(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		id := m.StartTransaction(ctx, fmt.Sprintf("txn-%d", i), "request", nil)
		require.NotEmpty(t, id)
		result, ok := m.EndTransaction(id, StatusSuccess, nil)
		require.True(t, ok)
		assert.Equal(t, id, result.TransactionID)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)
	}

	assert.Equal(t, 0, m.ActiveCount())

	status := m.Status()
	assert.Equal(t, uint64(n), status["total_transactions"])
	assert.Equal(t, uint64(0), status["total_errors"])
}

func TestEndTransaction_UnknownID(t *testing.T) {
	m := newTestMonitor(t, nil)

	id := m.StartTransaction(context.Background(), "held", "request", nil)
	require.NotEmpty(t, id)

	_, ok := m.EndTransaction("no-such-id", StatusSuccess, nil)
	assert.False(t, ok)
	assert.Equal(t, 1, m.ActiveCount(), "unknown-id end must not disturb active transactions")

	_, ok = m.EndTransaction("", StatusSuccess, nil)
	assert.False(t, ok)
}

func TestEndTransaction_DoubleEnd(t *testing.T) {
	m := newTestMonitor(t, nil)

	id := m.StartTransaction(context.Background(), "once", "request", nil)
	_, ok := m.EndTransaction(id, StatusSuccess, nil)
	require.True(t, ok)

	_, ok = m.EndTransaction(id, StatusSuccess, nil)
	assert.False(t, ok, "second end of the same id must report not-found")
}

func TestErrorBudget_Clamped(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.ErrorBudgetTarget = 0.99 })
	ctx := context.Background()

	// 5 errors out of 100: actual 0.05, allowed 0.01, consumed 5x => clamped to 0.
	for i := 0; i < 100; i++ {
		id := m.StartTransaction(ctx, "work", "request", nil)
		status := StatusSuccess
		if i < 5 {
			status = StatusError
		}
		_, ok := m.EndTransaction(id, status, nil)
		require.True(t, ok)
	}

	assert.Equal(t, 0.0, m.ErrorBudgetRemaining())
}

func TestErrorBudget_PartiallyConsumed(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.ErrorBudgetTarget = 0.9 })
	ctx := context.Background()

	// 5 errors out of 100: actual 0.05, allowed 0.10 => remaining 0.5.
	for i := 0; i < 100; i++ {
		id := m.StartTransaction(ctx, "work", "request", nil)
		status := StatusSuccess
		if i < 5 {
			status = StatusError
		}
		m.EndTransaction(id, status, nil)
	}

	assert.InDelta(t, 0.5, m.ErrorBudgetRemaining(), 1e-9)
}

func TestErrorBudget_ZeroAllowedRate(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.ErrorBudgetTarget = 1.0 })
	ctx := context.Background()

	id := m.StartTransaction(ctx, "clean", "request", nil)
	m.EndTransaction(id, StatusSuccess, nil)
	assert.Equal(t, 1.0, m.ErrorBudgetRemaining(), "no errors under a perfect SLO keeps full budget")

	id = m.StartTransaction(ctx, "dirty", "request", nil)
	m.EndTransaction(id, StatusError, nil)
	assert.Equal(t, 0.0, m.ErrorBudgetRemaining(), "any error under a perfect SLO exhausts the budget")
}

func TestErrorBudget_ClientErrorsDoNotConsume(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.ErrorBudgetTarget = 0.99 })
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := m.StartTransaction(ctx, "work", "request", nil)
		m.EndTransaction(id, StatusClientError, nil)
	}

	assert.Equal(t, 1.0, m.ErrorBudgetRemaining())
}

func TestTimeoutConsumesBudget(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.ErrorBudgetTarget = 0.5 })
	ctx := context.Background()

	id := m.StartTransaction(ctx, "slowpoke", "request", nil)
	m.EndTransaction(id, StatusTimeout, nil)

	status := m.Status()
	assert.Equal(t, uint64(1), status["total_errors"])
}

func TestRecordError_UnknownIDIsNoOp(t *testing.T) {
	m := newTestMonitor(t, nil)

	m.RecordError("ghost", errors.New("boom"), "test_error")
	m.RecordError("", errors.New("boom"), "test_error")

	id := m.StartTransaction(context.Background(), "real", "request", nil)
	m.EndTransaction(id, StatusSuccess, nil)
	m.RecordError(id, errors.New("late"), "test_error") // already ended
}

func TestRecordError_CountsMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(DefaultConfig(), nil, NewMetrics(reg))

	id := m.StartTransaction(context.Background(), "/v1/detect", "request", nil)
	m.RecordError(id, errors.New("sensor glitch"), "sensor_error")

	count := testutil.ToFloat64(m.metrics.ErrorsTotal.WithLabelValues("/v1/detect", "sensor_error"))
	assert.Equal(t, 1.0, count)
}

func TestDisabledMonitor_NoOps(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.Enabled = false })

	id := m.StartTransaction(context.Background(), "ignored", "request", nil)
	assert.Empty(t, id)

	_, ok := m.EndTransaction(id, StatusSuccess, nil)
	assert.False(t, ok)

	assert.False(t, m.Running())
	assert.Equal(t, 1.0, m.ApdexScore())
}

func TestSlowTransactionFlag(t *testing.T) {
	m := newTestMonitor(t, func(c *Config) { c.SlowTransactionThresholdMS = 1 })

	id := m.StartTransaction(context.Background(), "sleepy", "request", nil)
	time.Sleep(10 * time.Millisecond)
	result, ok := m.EndTransaction(id, StatusSuccess, nil)
	require.True(t, ok)
	assert.True(t, result.IsSlow)
}

func TestShutdown_ClearsActiveTransactions(t *testing.T) {
	m := newTestMonitor(t, nil)
	ctx := context.Background()

	m.StartTransaction(ctx, "a", "request", nil)
	m.StartTransaction(ctx, "b", "request", nil)
	require.Equal(t, 2, m.ActiveCount())

	m.Shutdown()

	assert.Equal(t, 0, m.ActiveCount())
	assert.False(t, m.Running())
	assert.Empty(t, m.StartTransaction(ctx, "late", "request", nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.metrics.ActiveTransactions),
		"interrupted transactions leave the gauge at zero")
}

func TestEndTransaction_MetricsEmitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(DefaultConfig(), nil, NewMetrics(reg))

	id := m.StartTransaction(context.Background(), "/v1/detect", "request",
		map[string]string{"http.method": "POST"})
	_, ok := m.EndTransaction(id, StatusSuccess, nil)
	require.True(t, ok)

	total := testutil.ToFloat64(
		m.metrics.TransactionsTotal.WithLabelValues("/v1/detect", "POST", "success"))
	assert.Equal(t, 1.0, total)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.metrics.ActiveTransactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.ApdexScore))
}

func TestNilMetrics_Tolerated(t *testing.T) {
	m := New(DefaultConfig(), nil, nil)

	id := m.StartTransaction(context.Background(), "bare", "request", nil)
	require.NotEmpty(t, id)
	_, ok := m.EndTransaction(id, StatusError, nil)
	assert.True(t, ok)
	m.RecordError(id, errors.New("x"), "t")
}

func TestWithSpan_EndsOnError(t *testing.T) {
	m := newTestMonitor(t, nil)

	sentinel := errors.New("inner failure")
	err := m.WithSpan(context.Background(), "op", func(context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestWithSpan_EndsOnPanic(t *testing.T) {
	m := newTestMonitor(t, nil)

	assert.Panics(t, func() {
		_ = m.WithSpan(context.Background(), "op", func(context.Context) error {
			panic("span body exploded")
		})
	})
}

func TestWithSpan_Success(t *testing.T) {
	m := newTestMonitor(t, nil)

	called := false
	err := m.WithSpan(context.Background(), "op", func(ctx context.Context) error {
		called = true
		require.NotNil(t, ctx)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestThroughput_RequiresTwoCompletions(t *testing.T) {
	m := newTestMonitor(t, nil)

	_, ok := m.Throughput()
	assert.False(t, ok, "empty window has no throughput")

	id := m.StartTransaction(context.Background(), "one", "request", nil)
	m.EndTransaction(id, StatusSuccess, nil)
	_, ok = m.Throughput()
	assert.False(t, ok, "single completion has no throughput")
}

func TestStatus_Snapshot(t *testing.T) {
	m := newTestMonitor(t, nil)

	id := m.StartTransaction(context.Background(), "held", "request", nil)
	require.NotEmpty(t, id)

	status := m.Status()
	assert.Equal(t, true, status["enabled"])
	assert.Equal(t, true, status["running"])
	assert.Equal(t, 1, status["active_transactions"])
	assert.Equal(t, "astraguard-ai", status["service_name"])

	cfg, ok := status["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.5, cfg["apdex_t"])
}
