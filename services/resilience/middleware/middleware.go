// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the resilience service.
//
// Two middlewares cooperate with the resilience core:
//
//   - RequestTracking registers each request as in-flight with the shutdown
//     coordinator, so graceful shutdown can drain before cleanup runs. Once
//     the coordinator stops accepting, new requests are rejected with 503.
//
//   - Transactions brackets each request in an APM transaction, mapping the
//     response status onto a transaction outcome and surfacing the
//     transaction id and duration as response headers.
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/apm"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/shutdown"
)

// Response headers set by the Transactions middleware.
const (
	HeaderTransactionID = "X-APM-Transaction-ID"
	HeaderDurationMS    = "X-APM-Duration-Ms"
	HeaderSlow          = "X-APM-Slow"
)

// retryAfterSeconds is advertised to clients rejected during shutdown.
const retryAfterSeconds = "10"

// RequestTracking creates a Gin middleware that tracks in-flight requests.
//
// # Description
//
// Registers the request with the shutdown coordinator before the handler
// chain runs and deregisters it afterwards. When the coordinator is no
// longer accepting work the request is rejected with 503 and a Retry-After
// header, so load balancers rotate traffic away during shutdown.
//
// # Inputs
//
//   - coord: Shutdown coordinator. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestTracking(coord *shutdown.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coord.TrackRequestStart(); err != nil {
			c.Header("Retry-After", retryAfterSeconds)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service is shutting down",
			})
			return
		}
		defer coord.TrackRequestEnd()

		c.Next()
	}
}

// transactionWriter wraps gin.ResponseWriter to inject the APM headers just
// before the response headers are committed. Headers set after a handler
// writes would be silently dropped, so the injection happens inside
// WriteHeader instead of after c.Next().
type transactionWriter struct {
	gin.ResponseWriter
	txnID       string
	start       time.Time
	slowMS      float64
	headersDone bool
}

// WriteHeader injects the APM headers, then delegates.
func (w *transactionWriter) WriteHeader(code int) {
	w.injectHeaders()
	w.ResponseWriter.WriteHeader(code)
}

// Write ensures headers are injected even when the handler never calls
// WriteHeader explicitly.
func (w *transactionWriter) Write(b []byte) (int, error) {
	w.injectHeaders()
	return w.ResponseWriter.Write(b)
}

// WriteString mirrors Write for gin's string fast path.
func (w *transactionWriter) WriteString(s string) (int, error) {
	w.injectHeaders()
	return w.ResponseWriter.WriteString(s)
}

func (w *transactionWriter) injectHeaders() {
	if w.headersDone {
		return
	}
	w.headersDone = true

	elapsedMS := float64(time.Since(w.start)) / float64(time.Millisecond)
	h := w.Header()
	h.Set(HeaderTransactionID, w.txnID)
	h.Set(HeaderDurationMS, fmt.Sprintf("%.2f", elapsedMS))
	if elapsedMS > w.slowMS {
		h.Set(HeaderSlow, "true")
	}
}

// Transactions creates a Gin middleware that wraps each request in an APM
// transaction.
//
// # Description
//
// Starts a transaction named "METHOD /path" before the handler chain and
// ends it afterwards, mapping the response status onto the transaction
// outcome: 5xx becomes error, 4xx client_error, everything else success.
// The transaction id, elapsed time, and slow flag are exposed as response
// headers for client-side correlation; they are injected when the response
// headers are committed, so the duration header reflects time to first byte.
//
// Health and metrics probes are exempt: they run at scrape frequency and
// would dominate the Apdex window.
//
// # Inputs
//
//   - monitor: Transaction monitor. Must not be nil. When the monitor is
//     disabled every request passes through untouched.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Transactions(monitor *apm.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		name := c.Request.Method + " " + path
		id := monitor.StartTransaction(c.Request.Context(), name, "request", map[string]string{
			"http.method": c.Request.Method,
			"http.target": c.Request.URL.Path,
		})
		if id == "" {
			c.Next()
			return
		}

		c.Writer = &transactionWriter{
			ResponseWriter: c.Writer,
			txnID:          id,
			start:          time.Now(),
			slowMS:         monitor.SlowThresholdMS(),
		}

		c.Next()

		status := statusFromCode(c.Writer.Status())
		monitor.EndTransaction(id, status, map[string]string{
			"http.status_code": strconv.Itoa(c.Writer.Status()),
		})
	}
}

// statusFromCode maps an HTTP status code onto a transaction outcome.
func statusFromCode(code int) apm.Status {
	switch {
	case code >= http.StatusInternalServerError:
		return apm.StatusError
	case code >= http.StatusBadRequest:
		return apm.StatusClientError
	default:
		return apm.StatusSuccess
	}
}
