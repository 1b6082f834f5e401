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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	badgerstore "github.com/hydro-project/hydro-ide/services/flowgraph/storage/badger"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

// newTestService builds a service whose backend command can never resolve,
// so session opens fail deterministically whether or not rust-analyzer is
// installed on the test host.
func newTestService() *Service {
	cfg := DefaultServiceConfig()
	cfg.Backend.Command = "rust-analyzer-absent-for-tests"
	return NewService(cfg)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

// newSnapshotTestService builds a service with an in-memory snapshot store
// and returns the store for direct seeding.
func newSnapshotTestService(t *testing.T) (*Service, *graph.SnapshotStore) {
	t.Helper()

	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := graph.NewSnapshotStore(db, logger)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}

	cfg := DefaultServiceConfig()
	cfg.Backend.Command = "rust-analyzer-absent-for-tests"
	cfg.Snapshots = store
	return NewService(cfg), store
}

// classifyFixture is a minimal valid serialized graph with one hop into a
// networking operator.
func classifyFixture() *graph.SerializableFlowGraph {
	return &graph.SerializableFlowGraph{
		SchemaVersion: graph.SchemaVersion,
		URI:           "file:///src/main.rs",
		Nodes: []graph.GraphNode{
			{ID: "n1", ShortLabel: "map"},
			{ID: "n2", ShortLabel: "send_bincode"},
		},
		Edges: []graph.GraphEdge{
			{FromID: "n1", ToID: "n2"},
		},
	}
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService())

	req, _ := http.NewRequest("GET", "/v1/flowgraph/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}

	if resp.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, resp.Version)
	}
}

func TestHandlers_HandleReady_Warm(t *testing.T) {
	router := setupTestRouter(newTestService())

	MarkWarmupComplete()
	defer ResetWarmupStatus()

	req, _ := http.NewRequest("GET", "/v1/flowgraph/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if !resp.Ready {
		t.Error("expected Ready=true")
	}
	if resp.SessionCount != 0 {
		t.Errorf("expected 0 sessions, got %d", resp.SessionCount)
	}
	if resp.SnapshotsEnabled {
		t.Error("expected SnapshotsEnabled=false without a store")
	}
}

func TestHandlers_HandleReady_Warming(t *testing.T) {
	router := setupTestRouter(newTestService())

	ResetWarmupStatus()

	req, _ := http.NewRequest("GET", "/v1/flowgraph/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Errorf("expected Retry-After 30, got %q", w.Header().Get("Retry-After"))
	}

	var resp ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Ready {
		t.Error("expected Ready=false during warmup")
	}
}

func TestReadyGuardMiddleware(t *testing.T) {
	svc := newTestService()
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutesWithMiddleware(v1, handlers, ReadyGuardMiddleware())

	ResetWarmupStatus()

	// API routes are rejected while warming.
	req, _ := http.NewRequest("GET", "/v1/flowgraph/cache/stats?session_id=x", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Errorf("expected Retry-After 30, got %q", w.Header().Get("Retry-After"))
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SERVICE_WARMING_UP" {
		t.Errorf("expected code SERVICE_WARMING_UP, got %q", errResp.Code)
	}

	// Probes stay reachable.
	req, _ = http.NewRequest("GET", "/v1/flowgraph/health", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health during warmup: expected %d, got %d", http.StatusOK, w.Code)
	}

	// After warmup the same API route reaches its handler.
	MarkWarmupComplete()
	defer ResetWarmupStatus()

	req, _ = http.NewRequest("GET", "/v1/flowgraph/cache/stats?session_id=x", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d after warmup, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_RequestIDEcho(t *testing.T) {
	router := setupTestRouter(newTestService())

	req, _ := http.NewRequest("GET", "/v1/flowgraph/cache/stats", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("expected request ID echoed, got %q", got)
	}

	req, _ = http.NewRequest("GET", "/v1/flowgraph/cache/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request ID header")
	}
}

func TestHandlers_HandleOpenSession_InvalidRequest(t *testing.T) {
	router := setupTestRouter(newTestService())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty body",
			body:       "{}",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "malformed json",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/v1/flowgraph/sessions",
				bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}

			if errResp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, errResp.Code)
			}
		})
	}
}

func TestHandlers_HandleOpenSession_BackendNotInstalled(t *testing.T) {
	router := setupTestRouter(newTestService())

	body := `{"workspace_root": "` + t.TempDir() + `"}`
	req, _ := http.NewRequest("POST", "/v1/flowgraph/sessions",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d: %s",
			http.StatusServiceUnavailable, w.Code, w.Body.String())
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "BACKEND_NOT_INSTALLED" {
		t.Errorf("expected code BACKEND_NOT_INSTALLED, got %q", errResp.Code)
	}
}

func TestHandlers_HandleOpenSession_ServiceClosed(t *testing.T) {
	svc := newTestService()
	router := setupTestRouter(svc)

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	body := `{"workspace_root": "` + t.TempDir() + `"}`
	req, _ := http.NewRequest("POST", "/v1/flowgraph/sessions",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SERVICE_CLOSED" {
		t.Errorf("expected code SERVICE_CLOSED, got %q", errResp.Code)
	}
}

func TestHandlers_HandleCloseSession_NotFound(t *testing.T) {
	router := setupTestRouter(newTestService())

	req, _ := http.NewRequest("DELETE", "/v1/flowgraph/sessions/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected code SESSION_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestHandlers_HandleOpenDocument_InvalidRequest(t *testing.T) {
	router := setupTestRouter(newTestService())

	tests := []struct {
		name string
		body string
	}{
		{"missing session", `{"uri": "file:///a.rs", "version": 1, "text": ""}`},
		{"missing uri", `{"session_id": "s", "version": 1, "text": ""}`},
		{"non-file uri", `{"session_id": "s", "uri": "https://example.com/a.rs", "version": 1}`},
		{"bare scheme", `{"session_id": "s", "uri": "file://", "version": 1}`},
		{"negative version", `{"session_id": "s", "uri": "file:///a.rs", "version": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/v1/flowgraph/documents",
				bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestHandlers_HandleOpenDocument_SessionNotFound(t *testing.T) {
	router := setupTestRouter(newTestService())

	body := `{"session_id": "nonexistent", "uri": "file:///a.rs", "version": 1, "text": "fn main() {}"}`
	req, _ := http.NewRequest("POST", "/v1/flowgraph/documents",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HandleCloseDocument_MissingParameters(t *testing.T) {
	router := setupTestRouter(newTestService())

	tests := []struct {
		name string
		url  string
	}{
		{"missing both", "/v1/flowgraph/documents"},
		{"missing uri", "/v1/flowgraph/documents?session_id=s"},
		{"missing session", "/v1/flowgraph/documents?uri=file:///a.rs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("DELETE", tt.url, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != "MISSING_PARAMETER" {
				t.Errorf("expected code MISSING_PARAMETER, got %q", errResp.Code)
			}
		})
	}
}

func TestHandlers_HandleAnalyze_InvalidRequest(t *testing.T) {
	router := setupTestRouter(newTestService())

	tests := []struct {
		name string
		body string
	}{
		{"missing uri", `{"session_id": "s"}`},
		{"bad scope", `{"session_id": "s", "uri": "file:///a.rs", "scope_kind": "module"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/v1/flowgraph/analyze",
				bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestHandlers_HandleAnalyze_SessionNotFound(t *testing.T) {
	router := setupTestRouter(newTestService())

	body := `{"session_id": "nonexistent", "uri": "file:///a.rs"}`
	req, _ := http.NewRequest("POST", "/v1/flowgraph/analyze",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected code SESSION_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestHandlers_HandleClassifyGraph_Defaults(t *testing.T) {
	router := setupTestRouter(newTestService())

	payload, err := json.Marshal(ClassifyGraphRequest{Graph: classifyFixture()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req, _ := http.NewRequest("POST", "/v1/flowgraph/graph/classify",
		bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp ClassifyGraphResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if len(resp.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(resp.Edges))
	}
	wantTags := []string{graph.TagNetwork, graph.TagNetworkTarget, graph.TagRemoteReceiver}
	if len(resp.Edges[0].Tags) != len(wantTags) {
		t.Fatalf("tags = %v, want %v", resp.Edges[0].Tags, wantTags)
	}
	for i, tag := range wantTags {
		if resp.Edges[0].Tags[i] != tag {
			t.Errorf("tags[%d] = %q, want %q", i, resp.Edges[0].Tags[i], tag)
		}
	}
	if resp.TagCounts[graph.TagNetwork] != 1 {
		t.Errorf("network count = %d, want 1", resp.TagCounts[graph.TagNetwork])
	}
}

func TestHandlers_HandleClassifyGraph_InvalidPayloads(t *testing.T) {
	router := setupTestRouter(newTestService())

	duplicate := classifyFixture()
	duplicate.Nodes = append(duplicate.Nodes, graph.GraphNode{ID: "n1", ShortLabel: "filter"})

	futureSchema := classifyFixture()
	futureSchema.SchemaVersion = "2.0"

	tests := []struct {
		name     string
		graph    *graph.SerializableFlowGraph
		wantCode string
	}{
		{"duplicate node id", duplicate, "INVALID_GRAPH_PAYLOAD"},
		{"incompatible schema", futureSchema, "SCHEMA_INCOMPATIBLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(ClassifyGraphRequest{Graph: tt.graph})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			req, _ := http.NewRequest("POST", "/v1/flowgraph/graph/classify",
				bytes.NewBuffer(payload))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, errResp.Code)
			}
		})
	}
}

func TestHandlers_HandleClassifyGraph_MissingGraph(t *testing.T) {
	router := setupTestRouter(newTestService())

	req, _ := http.NewRequest("POST", "/v1/flowgraph/graph/classify",
		bytes.NewBufferString(`{"session_id": "s"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandlers_HandleClassifyGraph_SessionNotFound(t *testing.T) {
	router := setupTestRouter(newTestService())

	payload, err := json.Marshal(ClassifyGraphRequest{
		SessionID: "nonexistent",
		Graph:     classifyFixture(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req, _ := http.NewRequest("POST", "/v1/flowgraph/graph/classify",
		bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HandleInvalidate_SessionNotFound(t *testing.T) {
	router := setupTestRouter(newTestService())

	body := `{"session_id": "nonexistent", "patch": "--- a/src/main.rs\n+++ b/src/main.rs\n"}`
	req, _ := http.NewRequest("POST", "/v1/flowgraph/invalidate",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HandleCacheStats_Parameters(t *testing.T) {
	router := setupTestRouter(newTestService())

	req, _ := http.NewRequest("GET", "/v1/flowgraph/cache/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing param: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	req, _ = http.NewRequest("GET", "/v1/flowgraph/cache/stats?session_id=nonexistent", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HandleClearCache_Parameters(t *testing.T) {
	router := setupTestRouter(newTestService())

	req, _ := http.NewRequest("DELETE", "/v1/flowgraph/cache", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing param: expected %d, got %d", http.StatusBadRequest, w.Code)
	}

	req, _ = http.NewRequest("DELETE", "/v1/flowgraph/cache?session_id=nonexistent", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_SnapshotEndpoints_StoreDisabled(t *testing.T) {
	router := setupTestRouter(newTestService())

	tests := []struct {
		name   string
		method string
		url    string
	}{
		{"save", "POST", "/v1/flowgraph/graph/snapshot"},
		{"list", "GET", "/v1/flowgraph/graph/snapshots"},
		{"get", "GET", "/v1/flowgraph/graph/snapshot/some-id"},
		{"delete", "DELETE", "/v1/flowgraph/graph/snapshot/some-id"},
		{"diff", "GET", "/v1/flowgraph/graph/snapshot/diff?from=a&to=b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != "SNAPSHOTS_NOT_AVAILABLE" {
				t.Errorf("expected code SNAPSHOTS_NOT_AVAILABLE, got %q", errResp.Code)
			}
		})
	}
}

func TestHandlers_HandleListSnapshots_Empty(t *testing.T) {
	svc, _ := newSnapshotTestService(t)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/v1/flowgraph/graph/snapshots", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp ListSnapshotsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Count != 0 || len(resp.Snapshots) != 0 {
		t.Errorf("expected empty list, got count=%d len=%d", resp.Count, len(resp.Snapshots))
	}
}

func TestHandlers_HandleGetSnapshot_NotFound(t *testing.T) {
	svc, _ := newSnapshotTestService(t)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/v1/flowgraph/graph/snapshot/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SNAPSHOT_NOT_FOUND" {
		t.Errorf("expected code SNAPSHOT_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestHandlers_HandleDeleteSnapshot_NotFound(t *testing.T) {
	svc, _ := newSnapshotTestService(t)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("DELETE", "/v1/flowgraph/graph/snapshot/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HandleDiffSnapshots_MissingParameters(t *testing.T) {
	svc, _ := newSnapshotTestService(t)
	router := setupTestRouter(svc)

	tests := []struct {
		name string
		url  string
	}{
		{"missing both", "/v1/flowgraph/graph/snapshot/diff"},
		{"missing to", "/v1/flowgraph/graph/snapshot/diff?from=a"},
		{"missing from", "/v1/flowgraph/graph/snapshot/diff?to=b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tt.url, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != "MISSING_PARAMETER" {
				t.Errorf("expected code MISSING_PARAMETER, got %q", errResp.Code)
			}
		})
	}
}

func TestHandlers_SnapshotReadPath(t *testing.T) {
	svc, store := newSnapshotTestService(t)
	router := setupTestRouter(svc)

	g := &graph.FlowGraph{
		URI:          "file:///src/main.rs",
		BuiltAtMilli: time.Now().UnixMilli(),
		Nodes: []graph.GraphNode{
			{ID: "n1", ShortLabel: "source_iter"},
			{ID: "n2", ShortLabel: "map"},
		},
		Edges: []graph.GraphEdge{{FromID: "n1", ToID: "n2"}},
	}
	meta, err := store.Save(context.Background(), g, "seeded")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Load one snapshot.
	req, _ := http.NewRequest("GET", "/v1/flowgraph/graph/snapshot/"+meta.SnapshotID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var got GetSnapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if got.Metadata == nil || got.Metadata.SnapshotID != meta.SnapshotID {
		t.Fatalf("metadata = %+v, want id %q", got.Metadata, meta.SnapshotID)
	}
	if got.Graph == nil || len(got.Graph.Nodes) != 2 {
		t.Errorf("graph nodes = %+v, want 2 nodes", got.Graph)
	}
	if got.Metadata.Label != "seeded" {
		t.Errorf("label = %q, want %q", got.Metadata.Label, "seeded")
	}

	// List includes it.
	req, _ = http.NewRequest("GET", "/v1/flowgraph/graph/snapshots?uri=file:///src/main.rs", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("list: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var list ListSnapshotsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	// Diffing a snapshot against itself reports no changes.
	req, _ = http.NewRequest("GET",
		"/v1/flowgraph/graph/snapshot/diff?from="+meta.SnapshotID+"&to="+meta.SnapshotID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("diff: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var diff graph.SnapshotDiff
	if err := json.Unmarshal(w.Body.Bytes(), &diff); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if diff.Summary.TotalChanges != 0 {
		t.Errorf("total changes = %d, want 0", diff.Summary.TotalChanges)
	}

	// Delete and confirm it is gone.
	req, _ = http.NewRequest("DELETE", "/v1/flowgraph/graph/snapshot/"+meta.SnapshotID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected status %d, got %d", http.StatusOK, w.Code)
	}

	req, _ = http.NewRequest("GET", "/v1/flowgraph/graph/snapshot/"+meta.SnapshotID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandlers_HandleSaveSnapshot_SessionNotFound(t *testing.T) {
	svc, _ := newSnapshotTestService(t)
	router := setupTestRouter(svc)

	body := `{"session_id": "nonexistent"}`
	req, _ := http.NewRequest("POST", "/v1/flowgraph/graph/snapshot",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
