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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all flowgraph routes with the router.
//
// Description:
//
//	Registers all /v1/flowgraph/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Session Endpoints:
//
//	POST /v1/flowgraph/sessions - Open a workspace session
//	DELETE /v1/flowgraph/sessions/:id - Close a session
//
// Document Endpoints:
//
//	POST /v1/flowgraph/documents - Open or update a document
//	DELETE /v1/flowgraph/documents - Close a document
//
// Analysis Endpoints:
//
//	POST /v1/flowgraph/analyze - Run one document pass
//	POST /v1/flowgraph/invalidate - Apply a unified diff
//
// Cache Endpoints:
//
//	GET  /v1/flowgraph/cache/stats - Result cache counters
//	DELETE /v1/flowgraph/cache - Clear a session's result cache
//
// Graph Endpoints:
//
//	POST /v1/flowgraph/graph/classify - Classify a serialized graph
//	POST /v1/flowgraph/graph/snapshot - Persist the latest graph
//	GET  /v1/flowgraph/graph/snapshots - List snapshots
//	GET  /v1/flowgraph/graph/snapshot/diff - Compare two snapshots
//	GET  /v1/flowgraph/graph/snapshot/:id - Load one snapshot
//	DELETE /v1/flowgraph/graph/snapshot/:id - Delete a snapshot
//
// Health Endpoints:
//
//	GET  /v1/flowgraph/health - Health check
//	GET  /v1/flowgraph/ready - Readiness check
//
// Example:
//
//	service := flowgraph.NewService(flowgraph.DefaultServiceConfig())
//	handlers := flowgraph.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	flowgraph.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	RegisterRoutesWithMiddleware(rg, handlers, nil)
}

// RegisterRoutesWithMiddleware registers flowgraph routes with optional
// middleware.
//
// Description:
//
//	Same as RegisterRoutes but applies middleware (e.g. the ready
//	guard) to every endpoint except the health and readiness probes,
//	which must stay reachable during warmup. If middleware is nil, no
//	additional middleware is applied.
//
// Inputs:
//
//	rg - The router group to register routes under.
//	handlers - The handlers instance.
//	middleware - Optional middleware for all non-probe routes. Can be nil.
//
// Thread Safety: This function is safe for concurrent use.
func RegisterRoutesWithMiddleware(rg *gin.RouterGroup, handlers *Handlers, middleware gin.HandlerFunc) {
	fg := rg.Group("/flowgraph")

	// Probes bypass the middleware so orchestrators can poll during warmup.
	fg.GET("/health", handlers.HandleHealth)
	fg.GET("/ready", handlers.HandleReady)

	api := fg
	if middleware != nil {
		api = fg.Group("", middleware)
	}
	{
		// Session lifecycle
		api.POST("/sessions", handlers.HandleOpenSession)
		api.DELETE("/sessions/:id", handlers.HandleCloseSession)

		// Document sync
		api.POST("/documents", handlers.HandleOpenDocument)
		api.DELETE("/documents", handlers.HandleCloseDocument)

		// Analysis
		api.POST("/analyze", handlers.HandleAnalyzeDocument)
		api.POST("/invalidate", handlers.HandleInvalidate)

		// Result cache
		api.GET("/cache/stats", handlers.HandleCacheStats)
		api.DELETE("/cache", handlers.HandleClearCache)

		graph := api.Group("/graph")
		{
			// Stateless classification
			graph.POST("/classify", handlers.HandleClassifyGraph)

			// Snapshot comparison (must be registered before :id wildcard)
			graph.GET("/snapshot/diff", handlers.HandleDiffSnapshots)

			// Snapshot persistence
			graph.POST("/snapshot", handlers.HandleSaveSnapshot)
			graph.GET("/snapshots", handlers.HandleListSnapshots)
			graph.GET("/snapshot/:id", handlers.HandleGetSnapshot)
			graph.DELETE("/snapshot/:id", handlers.HandleDeleteSnapshot)
		}
	}
}
