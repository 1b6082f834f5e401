// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowgraph starts the Hydro flowgraph analysis server.
//
// The server resolves Hydro operator chains to their dataflow locations
// through rust-analyzer and serves the resulting dataflow graphs:
//   - Per-workspace analysis sessions (one rust-analyzer each)
//   - Location resolution and graph construction per document
//   - Edge classification (network hops, cross-location sends)
//   - Graph snapshot persistence and diffing (BadgerDB)
//
// Usage:
//
//	go run ./cmd/flowgraph
//	go run ./cmd/flowgraph -port 9090 -workspace /path/to/hydro/project
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/flowgraph/health
//
//	# Open a workspace session
//	curl -X POST http://localhost:8080/v1/flowgraph/sessions \
//	  -H "Content-Type: application/json" \
//	  -d '{"workspace_root": "/path/to/hydro/project"}'
//
//	# Push document text
//	curl -X POST http://localhost:8080/v1/flowgraph/documents \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "...", "uri": "file:///path/src/main.rs", "version": 1, "text": "..."}'
//
//	# Analyze it
//	curl -X POST http://localhost:8080/v1/flowgraph/analyze \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "...", "uri": "file:///path/src/main.rs"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hydro-project/hydro-ide/services/flowgraph"
	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	badgerstore "github.com/hydro-project/hydro-ide/services/flowgraph/storage/badger"
	"github.com/hydro-project/hydro-ide/services/flowgraph/telemetry"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	workspace := flag.String("workspace", "", "Workspace root to open a session for at startup")
	backendCmd := flag.String("rust-analyzer", "rust-analyzer", "Path to the rust-analyzer binary")
	maxSessions := flag.Int("max-sessions", flowgraph.DefaultMaxSessions, "Maximum concurrently open sessions")
	snapshotDir := flag.String("snapshot-dir", "", "Snapshot BadgerDB directory (default $FLOWGRAPH_SNAPSHOT_DIR or ~/.hydro-ide/snapshots)")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Telemetry first so every later step traces and logs with context.
	// Init installs the W3C TraceContext propagator.
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.AllowDegraded = true
	telemetryShutdown, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		slog.Error("Telemetry init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Open the snapshot BadgerDB. Graceful degradation: if unavailable,
	// analysis still works and only the snapshot endpoints return 503.
	snapshotDB, snapshotStore := openSnapshotStore(*snapshotDir)

	cfg := flowgraph.DefaultServiceConfig()
	cfg.Backend.Command = *backendCmd
	cfg.MaxSessions = *maxSessions
	cfg.Snapshots = snapshotStore
	svc := flowgraph.NewService(cfg)

	handlers := flowgraph.NewHandlers(svc)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("hydro-flowgraph"))
	if *debug {
		router.Use(gin.Logger())
	}

	// Register routes under /v1/flowgraph; the ready guard rejects API
	// calls until startup finishes, probes stay open.
	v1 := router.Group("/v1")
	flowgraph.RegisterRoutesWithMiddleware(v1, handlers, flowgraph.ReadyGuardMiddleware())

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	printBanner(*port, snapshotStore != nil)

	// Startup work runs off the accept path so the probes answer
	// immediately.
	go func() {
		// Panic recovery ensures MarkWarmupComplete is always called.
		// Without it a panic here would leave the server permanently in
		// "warming up" state.
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("Panic in startup goroutine recovered",
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
				flowgraph.MarkWarmupComplete()
			}
		}()

		if *workspace != "" {
			startCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			sess, created, err := svc.OpenSession(startCtx, *workspace)
			if err != nil {
				slog.Warn("Startup workspace session failed",
					slog.String("workspace_root", *workspace),
					slog.String("error", err.Error()))
			} else {
				slog.Info("Startup workspace session open",
					slog.String("session_id", sess.ID()),
					slog.Bool("created", created),
					slog.String("backend_state", sess.BackendState()))
			}
		}

		flowgraph.MarkWarmupComplete()
		slog.Info("Server ready to accept analysis requests")
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down flowgraph server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := svc.Close(shutdownCtx); err != nil {
			slog.Warn("Service shutdown reported errors", slog.String("error", err.Error()))
		}
		if snapshotDB != nil {
			if err := snapshotDB.Close(); err != nil {
				slog.Warn("Failed to close snapshot BadgerDB", slog.String("error", err.Error()))
			}
		}
		if err := telemetryShutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown reported errors", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting flowgraph server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openSnapshotStore opens the snapshot database and store.
//
// Description:
//
//	The directory comes from the flag, then $FLOWGRAPH_SNAPSHOT_DIR,
//	then ~/.hydro-ide/snapshots. Any failure logs a warning and returns
//	nils: the service runs without snapshot persistence rather than not
//	at all.
func openSnapshotStore(dir string) (*badgerstore.DB, *graph.SnapshotStore) {
	if dir == "" {
		dir = os.Getenv("FLOWGRAPH_SNAPSHOT_DIR")
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, ".hydro-ide", "snapshots")
		}
	}
	if dir == "" {
		slog.Warn("No snapshot directory resolvable, snapshot endpoints disabled")
		return nil, nil
	}

	bcfg := badgerstore.DefaultConfig()
	bcfg.Path = dir
	db, err := badgerstore.OpenDB(bcfg)
	if err != nil {
		slog.Warn("Snapshot BadgerDB unavailable, snapshot endpoints disabled",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	store, err := graph.NewSnapshotStore(db, slog.Default())
	if err != nil {
		slog.Warn("Snapshot store init failed, snapshot endpoints disabled",
			slog.String("error", err.Error()))
		if closeErr := db.Close(); closeErr != nil {
			slog.Warn("Failed to close snapshot BadgerDB", slog.String("error", closeErr.Error()))
		}
		return nil, nil
	}

	slog.Info("Snapshot BadgerDB opened", slog.String("path", dir))
	return db, store
}

func printBanner(port int, snapshotsEnabled bool) {
	snapshotStatus := "DISABLED (no writable snapshot directory)"
	if snapshotsEnabled {
		snapshotStatus = "ENABLED (BadgerDB)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                   HYDRO FLOWGRAPH SERVER                          ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Dataflow location analysis for Hydro via rust-analyzer.          ║
║  Snapshots: %-50s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/flowgraph/health           │  ║
║  │                                                             │  ║
║  │ # Open a workspace session (required first!)                │  ║
║  │ curl -X POST http://localhost:%d/v1/flowgraph/sessions \│  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"workspace_root": "/your/hydro/project"}'            │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Sessions: POST/DELETE /sessions                              ║
║  ├── Documents: POST/DELETE /documents                            ║
║  ├── Analysis: /analyze, /invalidate, /graph/classify             ║
║  ├── Cache: /cache/stats, DELETE /cache                           ║
║  └── Snapshots: /graph/snapshot[s], /graph/snapshot/diff          ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, snapshotStatus, port, port)
}
