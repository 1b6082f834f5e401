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
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/hydro-project/hydro-ide/services/flowgraph/cache"
	"github.com/hydro-project/hydro-ide/services/flowgraph/chain"
	"github.com/hydro-project/hydro-ide/services/flowgraph/config"
	"github.com/hydro-project/hydro-ide/services/flowgraph/discover"
	"github.com/hydro-project/hydro-ide/services/flowgraph/document"
	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
	"github.com/hydro-project/hydro-ide/services/flowgraph/query"
)

// =============================================================================
// ANALYSIS RESULT
// =============================================================================

// AnalysisResult is the outcome of one document analysis pass.
//
// Description:
//
//	Built once per pass and shared read-only afterwards: the result cache,
//	the per-URI latest table, and every handler response hold the same
//	instance. Locations are in source order; Graph carries the serialized
//	form with its deterministic hash.
type AnalysisResult struct {
	// URI identifies the analyzed document.
	URI string `json:"uri"`

	// Version is the document version the pass ran against.
	Version int `json:"version"`

	// ScopeKind is the analysis scope the result was computed for.
	ScopeKind string `json:"scope_kind"`

	// Locations holds the per-site resolutions in source order.
	Locations []chain.LocationInfo `json:"locations"`

	// Graph is the serialized dataflow graph, edges classified.
	Graph *graph.SerializableFlowGraph `json:"graph"`

	// ElapsedMillis is the wall-clock duration of the pass that produced
	// this result. Unchanged when served from cache.
	ElapsedMillis int64 `json:"elapsed_millis"`

	// flow is the runtime graph the snapshot store consumes.
	flow *graph.FlowGraph
}

// =============================================================================
// ANALYSIS SESSION
// =============================================================================

// AnalysisSession is the per-workspace analysis engine.
//
// Description:
//
//	Owns one rust-analyzer process and everything scoped to it: the
//	document registry, the query service, the chain tracker, the graph
//	builder, and the result cache. Analyze runs discover, track, and
//	build in order; within one pass, sites are resolved strictly in
//	source order because chain inheritance depends on it. Distinct
//	documents may be analyzed concurrently; same-key passes collapse
//	through singleflight.
//
// Thread Safety: Safe for concurrent use.
type AnalysisSession struct {
	id        string
	root      string
	createdAt time.Time

	cfg     *config.OperatorConfig
	client  *lsp.Client
	backend *lsp.Operations
	store   *document.Store
	scanner *discover.Scanner
	tracker *chain.Tracker
	builder *graph.Builder
	results *cache.ResultCache[*AnalysisResult]

	flight singleflight.Group

	mu     sync.RWMutex
	latest map[string]*AnalysisResult

	logger *slog.Logger
}

// newAnalysisSession builds and starts a session for one workspace root.
//
// Description:
//
//	Loads the operator config (workspace override merged over defaults),
//	spawns rust-analyzer rooted at root, and wires the pass pipeline.
//	The config's backend pacing overrides the template's where set.
//
// Outputs:
//
//	*AnalysisSession - The started session. Caller owns Close.
//	error - Non-nil when config loading or the backend spawn fails.
func newAnalysisSession(ctx context.Context, id, root string, backendCfg lsp.ClientConfig, logger *slog.Logger) (*AnalysisSession, error) {
	cfg, err := config.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("loading operator config for %s: %w", root, err)
	}

	if cfg.Backend.RequestsPerSecond > 0 {
		backendCfg.RequestsPerSecond = cfg.Backend.RequestsPerSecond
	}
	if cfg.Backend.RequestBurst > 0 {
		backendCfg.RequestBurst = cfg.Backend.RequestBurst
	}

	client := lsp.NewClient(backendCfg, root)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting rust-analyzer for %s: %w", root, err)
	}

	store := document.NewStore(cfg.Query.MaxDocumentBytes)
	backend := lsp.NewOperations(client)
	queries := query.NewService(backend, store, cfg.QueryTimeout())

	s := &AnalysisSession{
		id:        id,
		root:      root,
		createdAt: time.Now(),
		cfg:       cfg,
		client:    client,
		backend:   backend,
		store:     store,
		scanner:   discover.NewScanner(discover.WithMaxSourceBytes(cfg.Query.MaxDocumentBytes)),
		tracker:   chain.NewTracker(queries, store, cfg),
		builder:   graph.NewBuilder(store),
		results:   cache.NewResultCache[*AnalysisResult](cfg.Cache.MaxEntries),
		latest:    make(map[string]*AnalysisResult),
		logger: logger.With(
			slog.String("session_id", id),
			slog.String("workspace_root", root)),
	}
	return s, nil
}

// ID returns the session identity.
func (s *AnalysisSession) ID() string {
	return s.id
}

// WorkspaceRoot returns the workspace root the session analyzes.
func (s *AnalysisSession) WorkspaceRoot() string {
	return s.root
}

// CreatedAt returns the session creation time.
func (s *AnalysisSession) CreatedAt() time.Time {
	return s.createdAt
}

// BackendState returns the rust-analyzer client state as a string.
func (s *AnalysisSession) BackendState() string {
	return s.client.State().String()
}

// BackendReady reports whether rust-analyzer has finished initializing.
func (s *AnalysisSession) BackendReady() bool {
	return s.client.Ready()
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// OpenDocument registers document text and syncs it to the backend.
//
// Description:
//
//	A URI not yet open is opened (didOpen); an already-open URI is
//	replaced (didChange). Older-version cache entries are left to age
//	out: the version is part of the cache key, so they can never be
//	served again.
//
// Outputs:
//
//	*document.Document - The stored document.
//	bool - True when the URI was newly opened, false on an update.
//	error - document.ErrDocumentTooLarge, or a backend sync failure.
func (s *AnalysisSession) OpenDocument(ctx context.Context, uri string, version int, text string) (*document.Document, bool, error) {
	if ctx == nil {
		return nil, false, fmt.Errorf("OpenDocument: ctx must not be nil")
	}

	_, existed := s.store.Get(uri)
	doc, err := s.store.Open(uri, version, text)
	if err != nil {
		return nil, false, err
	}

	if existed {
		err = s.backend.ChangeDocument(ctx, uri, version, text)
	} else {
		err = s.backend.OpenDocument(ctx, uri, version, text)
	}
	if err != nil {
		return nil, false, fmt.Errorf("syncing %s to backend: %w", uri, err)
	}

	s.logger.Debug("document registered",
		slog.String("uri", uri),
		slog.Int("version", version),
		slog.Bool("created", !existed))
	return doc, !existed, nil
}

// CloseDocument removes a document and evicts its cached passes.
//
// Outputs:
//
//	bool - Whether the URI was open.
//	error - Non-nil when the backend didClose notification fails.
func (s *AnalysisSession) CloseDocument(ctx context.Context, uri string) (bool, error) {
	if ctx == nil {
		return false, fmt.Errorf("CloseDocument: ctx must not be nil")
	}

	closed := s.store.Close(uri)
	s.results.ClearPrefix(cache.DocumentPrefix(uri))
	if !closed {
		return false, nil
	}
	if err := s.backend.CloseDocument(ctx, uri); err != nil {
		return true, fmt.Errorf("closing %s on backend: %w", uri, err)
	}
	return true, nil
}

// Invalidate maps a unified diff onto the session's state.
//
// Description:
//
//	The document store drops disk fallbacks for every changed file and
//	reports which open documents are now stale; the result cache evicts
//	every pass of every changed URI, so the next analyze re-runs even if
//	the editor has not bumped a version yet.
//
// Outputs:
//
//	*document.PatchImpact - Changed and stale URIs.
//	int - Evicted cache entries.
//	error - Non-nil when the diff does not parse.
func (s *AnalysisSession) Invalidate(patch string) (*document.PatchImpact, int, error) {
	impact, err := s.store.ApplyUnifiedDiff(s.root, patch)
	if err != nil {
		return nil, 0, err
	}

	evicted := 0
	for _, uri := range impact.ChangedURIs {
		evicted += s.results.ClearPrefix(cache.DocumentPrefix(uri))
	}

	s.logger.Info("cache invalidated from diff",
		slog.Int("changed_uris", len(impact.ChangedURIs)),
		slog.Int("stale_uris", len(impact.StaleURIs)),
		slog.Int("evicted_entries", evicted))
	return impact, evicted, nil
}

// =============================================================================
// ANALYZE
// =============================================================================

// Analyze runs or looks up one document pass.
//
// Description:
//
//	The cache key is (uri, version, scope); a hit returns the stored
//	result without touching the backend. Concurrent misses for the same
//	key share one pass through singleflight. The pass itself is
//	discover, then track (sites strictly in source order), then build
//	and classify.
//
// Inputs:
//
//	ctx - Cancellation for the whole pass. Must not be nil.
//	uri - An open document.
//	scopeKind - "document" or "workspace"; handlers default it.
//
// Outputs:
//
//	*AnalysisResult - The pass result, possibly shared with other callers.
//	bool - True when served from cache or a shared in-flight pass.
//	error - ErrBackendNotReady, document.ErrUnknownDocument, or a pass
//	failure.
func (s *AnalysisSession) Analyze(ctx context.Context, uri, scopeKind string) (*AnalysisResult, bool, error) {
	if ctx == nil {
		return nil, false, fmt.Errorf("Analyze: ctx must not be nil")
	}
	if !s.client.Ready() {
		analysisPassesTotal.WithLabelValues(passRejected).Inc()
		return nil, false, fmt.Errorf("session %s: %w", s.id, ErrBackendNotReady)
	}

	doc, ok := s.store.Get(uri)
	if !ok {
		analysisPassesTotal.WithLabelValues(passRejected).Inc()
		return nil, false, fmt.Errorf("analyze %s: %w", uri, document.ErrUnknownDocument)
	}

	activeFile := ""
	if scopeKind == ScopeWorkspace {
		activeFile = lsp.URIToPath(uri)
	}
	key := cache.MakeKey(uri, doc.Version, scopeKind, activeFile)

	if r, ok := s.results.Get(key); ok {
		analysisPassesTotal.WithLabelValues(passCached).Inc()
		return r, true, nil
	}

	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		if r, ok := s.results.Get(key); ok {
			return r, nil
		}
		return s.runPass(ctx, doc, scopeKind, key)
	})
	if err != nil {
		analysisPassesTotal.WithLabelValues(passError).Inc()
		return nil, false, err
	}
	if shared {
		analysisPassesTotal.WithLabelValues(passCached).Inc()
	} else {
		analysisPassesTotal.WithLabelValues(passOK).Inc()
	}
	return v.(*AnalysisResult), shared, nil
}

// runPass executes one uncached document pass and stores the result.
func (s *AnalysisSession) runPass(ctx context.Context, doc *document.Document, scopeKind, key string) (*AnalysisResult, error) {
	ctx, span := flowTracer.Start(ctx, "Session.AnalyzeDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.uri", doc.URI),
		attribute.Int("document.version", doc.Version),
		attribute.String("analysis.scope", scopeKind),
	)

	start := time.Now()

	sites, err := s.scanner.Scan(ctx, []byte(doc.Text()), doc.URI)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", doc.URI, err)
	}

	chainSites := make([]chain.Site, len(sites))
	for i, cs := range sites {
		chainSites[i] = chain.Site{
			OperatorName: cs.OperatorName,
			Range: lsp.Range{
				Start: cs.Position,
				End: lsp.Position{
					Line:      cs.Position.Line,
					Character: cs.Position.Character + len(cs.OperatorName),
				},
			},
		}
	}

	infos, err := s.tracker.Resolve(ctx, doc.URI, chainSites)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", doc.URI, err)
	}

	flow, err := s.builder.Build(ctx, doc.URI, infos)
	if err != nil {
		return nil, fmt.Errorf("building graph for %s: %w", doc.URI, err)
	}
	flow.Edges = graph.ClassifyEdges(ctx, flow.Edges, flow.Nodes, s.cfg.NetworkingSet())

	sg, err := flow.ToSerializable()
	if err != nil {
		return nil, fmt.Errorf("serializing graph for %s: %w", doc.URI, err)
	}

	result := &AnalysisResult{
		URI:           doc.URI,
		Version:       doc.Version,
		ScopeKind:     scopeKind,
		Locations:     infos,
		Graph:         sg,
		ElapsedMillis: time.Since(start).Milliseconds(),
		flow:          flow,
	}

	s.results.Set(key, result, map[string]string{
		"scope": scopeKind,
		"sites": strconv.Itoa(len(sites)),
	})
	s.mu.Lock()
	s.latest[doc.URI] = result
	s.mu.Unlock()

	s.logger.Info("analysis pass complete",
		slog.String("uri", doc.URI),
		slog.Int("version", doc.Version),
		slog.Int("sites", len(sites)),
		slog.Int("nodes", len(flow.Nodes)),
		slog.Int("edges", len(flow.Edges)),
		slog.Int("clusters", len(flow.Clusters)),
		slog.Int64("elapsed_ms", result.ElapsedMillis))
	return result, nil
}

// Latest returns the runtime graph of the most recent pass.
//
// Description:
//
//	An empty uri selects the newest pass across every document, matching
//	what a "snapshot what I just analyzed" client means. The returned
//	graph is shared and must be treated as read-only.
func (s *AnalysisSession) Latest(uri string) (*graph.FlowGraph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uri != "" {
		r, ok := s.latest[uri]
		if !ok {
			return nil, false
		}
		return r.flow, true
	}

	var newest *AnalysisResult
	for _, r := range s.latest {
		if newest == nil || r.flow.BuiltAtMilli > newest.flow.BuiltAtMilli {
			newest = r
		}
	}
	if newest == nil {
		return nil, false
	}
	return newest.flow, true
}

// =============================================================================
// CACHE
// =============================================================================

// CacheStats returns the session's result cache counters.
func (s *AnalysisSession) CacheStats() cache.Stats {
	return s.results.Stats()
}

// ClearCache drops every cached pass and returns how many were held.
func (s *AnalysisSession) ClearCache() int {
	n := s.results.Size()
	s.results.ClearAll()
	s.logger.Info("result cache cleared", slog.Int("evicted_entries", n))
	return n
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close shuts down the session's rust-analyzer and drops its state.
//
// Description:
//
//	Safe to call on a session whose backend already died; Shutdown
//	force-kills a process that ignores the LSP exit handshake.
func (s *AnalysisSession) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.results.ClearAll()
	s.mu.Lock()
	s.latest = make(map[string]*AnalysisResult)
	s.mu.Unlock()

	if err := s.client.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down rust-analyzer for %s: %w", s.root, err)
	}
	s.logger.Info("session closed")
	return nil
}
