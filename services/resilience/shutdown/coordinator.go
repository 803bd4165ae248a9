// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package shutdown coordinates graceful process shutdown: it tracks in-flight
// requests, stops admission once shutdown begins, drains outstanding work
// under a bounded timeout, and runs registered cleanup tasks in reverse
// registration order.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrNotAccepting is returned by TrackRequestStart once draining has begun.
// Callers must convert it into an explicit rejection response (503 with a
// retry hint at the HTTP layer).
var ErrNotAccepting = errors.New("shutdown: not accepting new requests")

// DefaultTimeout is the drain timeout used when SHUTDOWN_TIMEOUT is unset.
const DefaultTimeout = 30 * time.Second

// drainPollInterval is the fixed polling period used by DrainRequests.
// Bounded polling keeps the drain deadline deterministic.
const drainPollInterval = 100 * time.Millisecond

// cleanupTask pairs a registered cleanup action with its name for logging.
type cleanupTask struct {
	name string
	fn   func(context.Context) error
}

// Coordinator tracks in-flight requests and runs cleanup tasks at shutdown.
//
// Description:
//
//	One Coordinator is constructed at startup and shared by the HTTP
//	middleware (request tracking) and main (drain + cleanup). The
//	shutdown event is a one-shot broadcast: multiple waiters wake on a
//	single trigger and repeated triggers are idempotent.
//
// Thread Safety: Safe for concurrent use.
type Coordinator struct {
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	tasks     []cleanupTask
	inFlight  int
	accepting bool

	shutdownCh  chan struct{}
	triggerOnce sync.Once
	signalOnce  sync.Once
}

// NewCoordinator creates a Coordinator with the given drain timeout.
//
// Inputs:
//   - timeout: Drain deadline. Non-positive values fall back to DefaultTimeout.
//   - logger: Logger for shutdown events. If nil, uses slog.Default().
//
// Outputs:
//   - *Coordinator: The coordinator, accepting requests. Never nil.
func NewCoordinator(timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:     logger.With(slog.String("component", "shutdown_coordinator")),
		timeout:    timeout,
		accepting:  true,
		shutdownCh: make(chan struct{}),
	}
}

// TimeoutFromEnv reads SHUTDOWN_TIMEOUT (seconds) from the environment.
// Invalid or missing values fall back to DefaultTimeout with a warning.
func TimeoutFromEnv(logger *slog.Logger) time.Duration {
	if logger == nil {
		logger = slog.Default()
	}
	raw := os.Getenv("SHUTDOWN_TIMEOUT")
	if raw == "" {
		return DefaultTimeout
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		logger.Warn("invalid SHUTDOWN_TIMEOUT, using default",
			slog.String("value", raw),
			slog.Duration("default", DefaultTimeout))
		return DefaultTimeout
	}
	return time.Duration(secs) * time.Second
}

// RegisterCleanup appends a cleanup task. Tasks run in reverse registration
// order (LIFO) exactly once when ExecuteCleanup is called.
func (c *Coordinator) RegisterCleanup(name string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, cleanupTask{name: name, fn: fn})
	c.logger.Debug("registered cleanup task", slog.String("task", name))
}

// RegisterSignalHandlers installs SIGTERM/SIGINT handling exactly once.
//
// The handler goroutine only triggers the shutdown event; draining and
// cleanup run on the regular execution path afterwards (see main).
func (c *Coordinator) RegisterSignalHandlers() {
	c.signalOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			sig := <-sigCh
			c.logger.Info("received termination signal, initiating graceful shutdown",
				slog.String("signal", sig.String()))
			c.TriggerShutdown()
		}()
		c.logger.Info("signal handlers registered for SIGTERM and SIGINT")
	})
}

// TrackRequestStart admits a request into the in-flight set.
//
// Outputs:
//   - error: ErrNotAccepting once draining has begun, nil otherwise.
func (c *Coordinator) TrackRequestStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.accepting {
		return ErrNotAccepting
	}
	c.inFlight++
	return nil
}

// TrackRequestEnd removes a request from the in-flight set, floored at zero.
func (c *Coordinator) TrackRequestEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
}

// DrainRequests stops admission and waits for in-flight requests to finish.
//
// Description:
//
//	Sets accepting=false (monotonic: it never flips back), then polls the
//	in-flight counter every 100ms until it reaches zero, the timeout
//	elapses, or ctx is cancelled. On timeout a warning is logged and the
//	method returns anyway; forced shutdown proceeds and the in-flight
//	count is not guaranteed to be zero.
//
// Inputs:
//   - ctx: Cancels the wait early. Must not be nil.
//   - timeout: Drain deadline. Non-positive uses the configured timeout.
func (c *Coordinator) DrainRequests(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	c.mu.Lock()
	c.accepting = false
	pending := c.inFlight
	c.mu.Unlock()

	c.logger.Info("stopped accepting new requests, draining",
		slog.Int("in_flight", pending),
		slog.Duration("timeout", timeout))

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if c.InFlight() == 0 {
			c.logger.Info("all in-flight requests completed")
			return
		}
		select {
		case <-deadline.C:
			c.logger.Warn("drain timeout reached, proceeding with shutdown",
				slog.Int("in_flight", c.InFlight()))
			return
		case <-ctx.Done():
			c.logger.Warn("drain cancelled, proceeding with shutdown",
				slog.Int("in_flight", c.InFlight()))
			return
		case <-ticker.C:
		}
	}
}

// ExecuteCleanup runs every registered task in reverse registration order.
//
// A task that fails (error or panic) is logged and does not prevent the
// remaining tasks from running.
func (c *Coordinator) ExecuteCleanup(ctx context.Context) {
	c.mu.Lock()
	tasks := make([]cleanupTask, len(c.tasks))
	copy(tasks, c.tasks)
	c.mu.Unlock()

	c.logger.Info("executing cleanup tasks", slog.Int("count", len(tasks)))

	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		c.logger.Info("cleaning up", slog.String("task", task.name))
		if err := runCleanup(ctx, task.fn); err != nil {
			c.logger.Error("cleanup task failed",
				slog.String("task", task.name),
				slog.Any("error", err))
		}
	}

	c.logger.Info("cleanup complete")
}

// runCleanup invokes a cleanup function, converting panics into errors so a
// misbehaving task cannot abort the remaining tasks.
func runCleanup(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx)
}

// panicError wraps a recovered panic value from a cleanup task.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "cleanup task panicked: " + stringify(e.value)
}

func stringify(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}

// TriggerShutdown fires the one-shot shutdown event. Safe to call from any
// goroutine; repeated triggers are idempotent.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info("shutdown triggered")
		close(c.shutdownCh)
	})
}

// ShutdownCh returns the channel closed when shutdown is triggered.
// Multiple waiters may select on it; all wake on a single trigger.
func (c *Coordinator) ShutdownCh() <-chan struct{} {
	return c.shutdownCh
}

// Wait blocks until shutdown is triggered or ctx is cancelled.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.shutdownCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the current in-flight request count.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Accepting reports whether new requests are still admitted.
func (c *Coordinator) Accepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepting
}

// Timeout returns the configured drain timeout.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}
