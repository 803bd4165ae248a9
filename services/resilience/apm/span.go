// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan opens a nested tracing span on the monitor's tracer.
//
// Outputs:
//
//	context.Context - Context with the new span attached.
//	trace.Span - The created span. Caller must call span.End(); prefer
//	WithSpan, which guarantees it.
//
// When tracing is disabled the returned span is a no-op handle.
//
// Thread Safety: Safe for concurrent use.
func (m *Monitor) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// WithSpan runs fn inside a span, guaranteeing End on every exit path.
//
// Description:
//
//	Opens a span, invokes fn with the span context, and ends the span on
//	return, error, or panic. Errors from fn are recorded on the span with
//	Error status and returned unchanged; panics are recorded and re-raised
//	after the span is ended.
//
// Example:
//
//	err := monitor.WithSpan(ctx, "detect.preprocess", func(ctx context.Context) error {
//	    return normalize(ctx, frame)
//	})
func (m *Monitor) WithSpan(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "panic")
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
