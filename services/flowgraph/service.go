// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flowgraph serves Hydro dataflow analysis over HTTP.
//
// Description:
//
//	The service manages per-workspace analysis sessions. Each session
//	owns one rust-analyzer process and the state scoped to it: open
//	documents, the type-query service, the chain tracker, the graph
//	builder, and a result cache keyed on document identity and version.
//	Analyze requests run the full pipeline (call-site discovery, ordered
//	location resolution, graph construction, edge classification) or are
//	answered from cache; graph snapshots persist to BadgerDB when a
//	snapshot store is configured.
//
// Architecture:
//
//	HTTP Request (gin)
//	    |
//	    v
//	Handlers (binding, validation, error mapping)
//	    |
//	    v
//	Service (session registry)
//	    |
//	    v
//	AnalysisSession (discover, track, build per document)
//	    |
//	    v
//	rust-analyzer (LSP)
package flowgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Analysis scope kinds accepted by Analyze.
const (
	// ScopeDocument analyzes one document in isolation.
	ScopeDocument = "document"

	// ScopeWorkspace analyzes a document with workspace-wide context; the
	// cache key then also carries the active file path.
	ScopeWorkspace = "workspace"
)

// DefaultMaxSessions caps concurrently open sessions. Each session runs
// its own rust-analyzer, which holds hundreds of megabytes of index.
const DefaultMaxSessions = 4

// sessionShutdownGrace bounds the backend shutdown for a session that must
// be discarded right after creation.
const sessionShutdownGrace = 5 * time.Second

var flowTracer = otel.Tracer("hydro.flowgraph")

var (
	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowgraph",
		Subsystem: "service",
		Name:      "sessions_open",
		Help:      "Currently open analysis sessions.",
	})

	analysisPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowgraph",
			Subsystem: "service",
			Name:      "analysis_passes_total",
			Help:      "Analyze calls by outcome.",
		},
		[]string{"outcome"},
	)
)

// Analyze outcome labels.
const (
	passOK       = "ok"
	passCached   = "cached"
	passError    = "error"
	passRejected = "rejected"
)

// =============================================================================
// SERVICE CONFIG
// =============================================================================

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// MaxSessions caps concurrently open sessions. Non-positive selects
	// DefaultMaxSessions.
	MaxSessions int

	// Backend is the rust-analyzer client template. Per-workspace
	// operator config may override its pacing.
	Backend lsp.ClientConfig

	// Snapshots persists analyzed graphs. Nil disables the snapshot
	// endpoints; everything else keeps working.
	Snapshots *graph.SnapshotStore

	// Logger receives service and session diagnostics. Nil selects
	// slog.Default().
	Logger *slog.Logger
}

// DefaultServiceConfig returns the standard configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxSessions: DefaultMaxSessions,
		Backend:     lsp.DefaultClientConfig(),
	}
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the session registry behind the HTTP handlers.
//
// Description:
//
//	Sessions are keyed by workspace root: opening a root that already
//	has a live session returns it instead of spawning a second
//	rust-analyzer. A per-root init lock keeps concurrent first opens
//	from racing; the session cap refuses new roots rather than evicting,
//	since eviction would kill a backend out from under a connected
//	editor.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	config ServiceConfig

	mu       sync.RWMutex
	sessions map[string]*AnalysisSession
	closed   bool

	initLocks sync.Map

	logger *slog.Logger
}

// NewService creates a Service.
func NewService(config ServiceConfig) *Service {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:   config,
		sessions: make(map[string]*AnalysisSession),
		logger:   logger,
	}
}

// sessionID derives the stable session identity for a workspace root.
func sessionID(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:])[:16]
}

// getInitLock returns the per-root initialization lock.
func (s *Service) getInitLock(root string) *sync.Mutex {
	actual, _ := s.initLocks.LoadOrStore(root, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// OpenSession opens or returns the session for a workspace root.
//
// Description:
//
//	The session ID is derived from the absolute root, so reopening the
//	same workspace is idempotent. Creating a session spawns
//	rust-analyzer and waits for the LSP initialize handshake; that work
//	happens outside the registry lock, guarded per root.
//
// Outputs:
//
//	*AnalysisSession - The open session.
//	bool - True when this call created the session.
//	error - ErrServiceClosed, ErrSessionInitializing, ErrTooManySessions,
//	or a backend spawn failure.
func (s *Service) OpenSession(ctx context.Context, workspaceRoot string) (*AnalysisSession, bool, error) {
	if ctx == nil {
		return nil, false, fmt.Errorf("OpenSession: ctx must not be nil")
	}
	if workspaceRoot == "" {
		return nil, false, fmt.Errorf("OpenSession: workspace root must not be empty")
	}
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, false, fmt.Errorf("resolving workspace root %s: %w", workspaceRoot, err)
	}
	id := sessionID(root)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, ErrServiceClosed
	}
	if sess, ok := s.sessions[id]; ok {
		s.mu.RUnlock()
		return sess, false, nil
	}
	atCap := len(s.sessions) >= s.config.MaxSessions
	s.mu.RUnlock()
	if atCap {
		return nil, false, fmt.Errorf("%d sessions open: %w", s.config.MaxSessions, ErrTooManySessions)
	}

	lock := s.getInitLock(root)
	if !lock.TryLock() {
		return nil, false, fmt.Errorf("workspace %s: %w", root, ErrSessionInitializing)
	}
	defer lock.Unlock()

	// Re-check: another open may have completed between the registry
	// read and taking the init lock.
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, false, nil
	}

	sess, err = newAnalysisSession(ctx, id, root, s.config.Backend, s.logger)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sessionShutdownGrace)
		defer cancel()
		_ = sess.Close(shutdownCtx)
		return nil, false, ErrServiceClosed
	}
	s.sessions[id] = sess
	open := len(s.sessions)
	s.mu.Unlock()

	sessionsOpen.Set(float64(open))
	s.logger.Info("session opened",
		slog.String("session_id", id),
		slog.String("workspace_root", root),
		slog.Int("open_sessions", open))
	return sess, true, nil
}

// Session returns the open session with the given ID.
//
// Outputs:
//
//	*AnalysisSession - The session.
//	error - ErrSessionNotFound when the ID is unknown.
func (s *Service) Session(id string) (*AnalysisSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

// Sessions returns the open sessions, oldest first.
func (s *Service) Sessions() []*AnalysisSession {
	s.mu.RLock()
	out := make([]*AnalysisSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// SessionCount returns the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshots returns the snapshot store, or nil when snapshots are
// disabled.
func (s *Service) Snapshots() *graph.SnapshotStore {
	return s.config.Snapshots
}

// CloseSession closes and removes one session.
//
// Outputs:
//
//	error - ErrSessionNotFound, or the backend shutdown failure. The
//	session is removed from the registry either way.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	open := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	sessionsOpen.Set(float64(open))
	if err := sess.Close(ctx); err != nil {
		return err
	}
	s.logger.Info("session removed",
		slog.String("session_id", id),
		slog.Int("open_sessions", open))
	return nil
}

// Close shuts down every session.
//
// Description:
//
//	The registry empties under the lock; the backend shutdowns run
//	outside it, since each can take seconds. Subsequent operations fail
//	with ErrServiceClosed. Returns the last shutdown error, if any.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	snapshot := make([]*AnalysisSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	s.sessions = make(map[string]*AnalysisSession)
	s.mu.Unlock()

	sessionsOpen.Set(0)

	var lastErr error
	for _, sess := range snapshot {
		if err := sess.Close(ctx); err != nil {
			s.logger.Warn("session shutdown failed",
				slog.String("session_id", sess.ID()),
				slog.Any("error", err))
			lastErr = err
		}
	}
	s.logger.Info("service closed", slog.Int("sessions_closed", len(snapshot)))
	return lastErr
}
