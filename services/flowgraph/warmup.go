// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flowgraph

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// warmupStatus tracks whether service bootstrap has completed.
// 0 = not complete, 1 = complete.
// Set from cmd/flowgraph/main.go once telemetry and storage are wired,
// checked by the /ready endpoint and ReadyGuardMiddleware.
var warmupStatus atomic.Int32

// IsWarmupComplete returns true if service bootstrap has finished.
//
// Description:
//
//	Checks the global warmup status. The /ready endpoint returns
//	503 Service Unavailable until this reports true.
//
// Thread Safety: This function is safe for concurrent use.
func IsWarmupComplete() bool {
	return warmupStatus.Load() == 1
}

// MarkWarmupComplete marks bootstrap as complete.
//
// Description:
//
//	Called from cmd/flowgraph/main.go after the router, telemetry, and
//	snapshot store are wired. After this is called, guarded endpoints
//	accept requests.
//
// Thread Safety: This function is safe for concurrent use.
func MarkWarmupComplete() {
	warmupStatus.Store(1)
}

// ResetWarmupStatus resets the warmup status to incomplete.
//
// Description:
//
//	Used for testing to reset the warmup state between tests.
//
// Thread Safety: This function is safe for concurrent use.
func ResetWarmupStatus() {
	warmupStatus.Store(0)
}

// ReadyGuardMiddleware returns 503 Service Unavailable for analysis
// endpoints until service bootstrap completes.
//
// Description:
//
//	Protects session and analysis endpoints from requests that arrive
//	before the service finishes wiring. Without this guard, early
//	requests would race session creation against telemetry and storage
//	setup. Backend indexing is a per-session condition and is reported
//	per request instead, as ErrBackendNotReady from the analyze path.
//
// Behavior:
//
//   - Returns 503 with Retry-After header if bootstrap is not complete
//   - Creates an OTel span for rejected requests with trace context from headers
//   - Passes through to the handler once bootstrap is complete
//   - Health and readiness endpoints are registered outside the guard
//
// Thread Safety: This middleware is safe for concurrent use.
func ReadyGuardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsWarmupComplete() {
			// The otelgin middleware has already extracted trace context
			// from the W3C headers.
			ctx := c.Request.Context()
			_, span := otel.Tracer("hydro.flowgraph").Start(ctx, "ready_guard.reject",
				oteltrace.WithAttributes(
					attribute.String("path", c.Request.URL.Path),
					attribute.String("method", c.Request.Method),
					attribute.Int("http.status_code", http.StatusServiceUnavailable),
				),
			)
			defer span.End()

			spanCtx := span.SpanContext()
			traceID := ""
			if spanCtx.HasTraceID() {
				traceID = spanCtx.TraceID().String()
			}

			slog.Warn("Request rejected: service warming up",
				slog.String("path", c.Request.URL.Path),
				slog.String("method", c.Request.Method),
				slog.String("trace_id", traceID))

			span.SetStatus(codes.Error, "service unavailable during warmup")

			c.Header("Retry-After", "30")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    "Service warmup in progress",
				"code":     "SERVICE_WARMING_UP",
				"message":  "The service is still starting. Please retry in 30 seconds.",
				"trace_id": traceID,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
