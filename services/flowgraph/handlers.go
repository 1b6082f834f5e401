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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hydro-project/hydro-ide/services/flowgraph/cache"
	"github.com/hydro-project/hydro-ide/services/flowgraph/chain"
	"github.com/hydro-project/hydro-ide/services/flowgraph/config"
	"github.com/hydro-project/hydro-ide/services/flowgraph/document"
	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
	"github.com/hydro-project/hydro-ide/services/flowgraph/telemetry"
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// OpenSessionRequest is the request body for POST /v1/flowgraph/sessions.
type OpenSessionRequest struct {
	// WorkspaceRoot is the path of the Rust workspace to analyze. Required.
	WorkspaceRoot string `json:"workspace_root" binding:"required"`
}

// SessionResponse describes one analysis session.
type SessionResponse struct {
	// SessionID identifies the session in subsequent requests.
	SessionID string `json:"session_id"`

	// WorkspaceRoot is the absolute workspace path the session analyzes.
	WorkspaceRoot string `json:"workspace_root"`

	// Created is true when this request created the session, false when
	// an existing session for the same root was returned.
	Created bool `json:"created"`

	// BackendState is the rust-analyzer client state.
	BackendState string `json:"backend_state"`

	// BackendReady is true once rust-analyzer accepts queries.
	BackendReady bool `json:"backend_ready"`

	// CreatedAtMilli is the session creation time in Unix milliseconds.
	CreatedAtMilli int64 `json:"created_at_milli"`
}

// OpenDocumentRequest is the request body for POST /v1/flowgraph/documents.
type OpenDocumentRequest struct {
	// SessionID selects the session. Required.
	SessionID string `json:"session_id" binding:"required"`

	// URI is the document's file URI. Required.
	URI string `json:"uri" binding:"required,fileuri"`

	// Version is the editor's version counter for this text. Required,
	// non-negative; send a higher value on every change.
	Version int `json:"version" binding:"min=0"`

	// Text is the full document text. An empty document is valid.
	Text string `json:"text"`
}

// OpenDocumentResponse confirms a document registration.
type OpenDocumentResponse struct {
	// SessionID is the session the document belongs to.
	SessionID string `json:"session_id"`

	// URI is the registered document.
	URI string `json:"uri"`

	// Version is the stored version.
	Version int `json:"version"`

	// LineCount is the stored text's line count.
	LineCount int `json:"line_count"`

	// Created is true when the URI was newly opened, false on an update.
	Created bool `json:"created"`
}

// AnalyzeRequest is the request body for POST /v1/flowgraph/analyze.
type AnalyzeRequest struct {
	// SessionID selects the session. Required.
	SessionID string `json:"session_id" binding:"required"`

	// URI is an open document to analyze. Required.
	URI string `json:"uri" binding:"required,fileuri"`

	// ScopeKind is "document" or "workspace". Default: "document".
	ScopeKind string `json:"scope_kind" binding:"omitempty,scopekind"`
}

// AnalyzeResponse is one document pass result.
type AnalyzeResponse struct {
	// SessionID is the session the pass ran in.
	SessionID string `json:"session_id"`

	// URI is the analyzed document.
	URI string `json:"uri"`

	// Version is the document version the pass ran against.
	Version int `json:"version"`

	// ScopeKind is the analysis scope.
	ScopeKind string `json:"scope_kind"`

	// FromCache is true when the result was served without a new pass.
	FromCache bool `json:"from_cache"`

	// ElapsedMillis is the duration of the pass that produced the result.
	ElapsedMillis int64 `json:"elapsed_millis"`

	// Locations holds the per-site resolutions in source order.
	Locations []chain.LocationInfo `json:"locations"`

	// Graph is the serialized dataflow graph, edges classified.
	Graph *graph.SerializableFlowGraph `json:"graph"`
}

// ClassifyGraphRequest is the request body for
// POST /v1/flowgraph/graph/classify.
type ClassifyGraphRequest struct {
	// SessionID optionally selects a session whose operator config
	// (workspace overrides included) drives classification. Empty uses
	// the embedded defaults.
	SessionID string `json:"session_id"`

	// Graph is the serialized graph to classify. Required.
	Graph *graph.SerializableFlowGraph `json:"graph" binding:"required"`
}

// ClassifyGraphResponse carries the classified edge list.
type ClassifyGraphResponse struct {
	// Edges is the input edge list with classification tags applied,
	// in input order.
	Edges []graph.GraphEdge `json:"edges"`

	// TagCounts counts edges per tag.
	TagCounts map[string]int `json:"tag_counts"`
}

// InvalidateRequest is the request body for POST /v1/flowgraph/invalidate.
type InvalidateRequest struct {
	// SessionID selects the session. Required.
	SessionID string `json:"session_id" binding:"required"`

	// Patch is a unified diff; git-style "a/" and "b/" prefixes are
	// accepted. Required.
	Patch string `json:"patch" binding:"required"`
}

// InvalidateResponse reports what a diff invalidated.
type InvalidateResponse struct {
	// ChangedURIs lists every file the patch touches.
	ChangedURIs []string `json:"changed_uris"`

	// StaleURIs is the subset of ChangedURIs open in the session whose
	// buffered text no longer matches disk.
	StaleURIs []string `json:"stale_uris"`

	// EvictedEntries counts result cache entries dropped.
	EvictedEntries int `json:"evicted_entries"`
}

// CacheStatsResponse reports one session's result cache counters.
type CacheStatsResponse struct {
	// SessionID is the inspected session.
	SessionID string `json:"session_id"`

	// Stats is the point-in-time counter snapshot.
	Stats cache.Stats `json:"stats"`
}

// SaveSnapshotRequest is the request body for
// POST /v1/flowgraph/graph/snapshot.
type SaveSnapshotRequest struct {
	// SessionID selects the session. Required.
	SessionID string `json:"session_id" binding:"required"`

	// URI selects which document's latest graph to snapshot. Empty
	// snapshots the most recently analyzed graph in the session.
	URI string `json:"uri" binding:"omitempty,fileuri"`

	// Label is an optional human-readable label.
	Label string `json:"label"`
}

// ListSnapshotsResponse lists stored snapshot metadata.
type ListSnapshotsResponse struct {
	// Snapshots is ordered newest first.
	Snapshots []*graph.SnapshotMetadata `json:"snapshots"`

	// Count is len(Snapshots).
	Count int `json:"count"`
}

// GetSnapshotResponse is one stored snapshot.
type GetSnapshotResponse struct {
	// Metadata describes the snapshot.
	Metadata *graph.SnapshotMetadata `json:"metadata"`

	// Graph is the stored graph in serialized form.
	Graph *graph.SerializableFlowGraph `json:"graph"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	// Status is "healthy" whenever the process can answer.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}

// SessionStatus is one session's readiness line.
type SessionStatus struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// WorkspaceRoot is the session's workspace.
	WorkspaceRoot string `json:"workspace_root"`

	// BackendState is the rust-analyzer client state.
	BackendState string `json:"backend_state"`

	// Ready is true once the backend accepts queries.
	Ready bool `json:"ready"`
}

// ReadyResponse is the readiness probe body.
type ReadyResponse struct {
	// Ready is true once service bootstrap has completed.
	Ready bool `json:"ready"`

	// SessionCount is the number of open sessions.
	SessionCount int `json:"session_count"`

	// SnapshotsEnabled is false when the service runs without BadgerDB.
	SnapshotsEnabled bool `json:"snapshots_enabled"`

	// Sessions reports per-session backend readiness.
	Sessions []SessionStatus `json:"sessions,omitempty"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details carries optional diagnostic detail.
	Details string `json:"details,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("fileuri", validateFileURI)
		_ = v.RegisterValidation("scopekind", validateScopeKind)
	}
}

// validateFileURI accepts file-scheme URIs with a non-empty path, the only
// document addressing the analysis pipeline supports.
func validateFileURI(fl validator.FieldLevel) bool {
	uri := fl.Field().String()
	return strings.HasPrefix(uri, "file://") && len(uri) > len("file://")
}

// validateScopeKind accepts the analysis scope kinds.
func validateScopeKind(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ScopeDocument, ScopeWorkspace:
		return true
	}
	return false
}

// =============================================================================
// HANDLERS
// =============================================================================

// Handlers holds the HTTP handlers for the flowgraph service.
type Handlers struct {
	svc *Service

	// defaults classifies graphs for requests without a session. Nil
	// only if the embedded config fails to parse.
	defaults *config.OperatorConfig
}

// NewHandlers creates the handlers for a service.
func NewHandlers(svc *Service) *Handlers {
	defaults, err := config.Default()
	if err != nil {
		slog.Error("Failed to load embedded operator config", "error", err)
	}
	return &Handlers{svc: svc, defaults: defaults}
}

// getOrCreateRequestID returns the request ID from the X-Request-ID
// header, generating one if absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleOpenSession handles POST /v1/flowgraph/sessions.
//
// Description:
//
//	Opens an analysis session for a workspace root, spawning
//	rust-analyzer for it. Reopening a root that already has a session
//	returns the existing session with Created=false.
//
// Request Body:
//
//	OpenSessionRequest
//
// Response:
//
//	200 OK: SessionResponse
//	400 Bad Request: Validation error
//	409 Conflict: Another open for the same root is still initializing
//	429 Too Many Requests: Session cap reached
//	503 Service Unavailable: rust-analyzer missing, or service closed
//	500 Internal Server Error: Backend spawn failure
func (h *Handlers) HandleOpenSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleOpenSession"))

	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Opening session", "workspace_root", req.WorkspaceRoot)

	sess, created, err := h.svc.OpenSession(c.Request.Context(), req.WorkspaceRoot)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "SESSION_OPEN_FAILED"

		if errors.Is(err, ErrSessionInitializing) {
			statusCode = http.StatusConflict
			errCode = "SESSION_INITIALIZING"
		} else if errors.Is(err, ErrTooManySessions) {
			statusCode = http.StatusTooManyRequests
			errCode = "TOO_MANY_SESSIONS"
		} else if errors.Is(err, ErrServiceClosed) {
			statusCode = http.StatusServiceUnavailable
			errCode = "SERVICE_CLOSED"
		} else if errors.Is(err, lsp.ErrServerNotInstalled) {
			statusCode = http.StatusServiceUnavailable
			errCode = "BACKEND_NOT_INSTALLED"
		}

		logger.Error("Session open failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Session open",
		"session_id", sess.ID(),
		"created", created,
		"backend_state", sess.BackendState())

	c.JSON(http.StatusOK, SessionResponse{
		SessionID:      sess.ID(),
		WorkspaceRoot:  sess.WorkspaceRoot(),
		Created:        created,
		BackendState:   sess.BackendState(),
		BackendReady:   sess.BackendReady(),
		CreatedAtMilli: sess.CreatedAt().UnixMilli(),
	})
}

// HandleCloseSession handles DELETE /v1/flowgraph/sessions/:id.
//
// Description:
//
//	Closes a session, shutting down its rust-analyzer and dropping its
//	documents and cached results.
//
// Response:
//
//	200 OK: {"closed": true}
//	404 Not Found: Unknown session ID
//	500 Internal Server Error: Backend shutdown failure
func (h *Handlers) HandleCloseSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	sessionID := c.Param("id")
	logger := telemetry.LoggerWithSession(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleCloseSession"), sessionID)

	if err := h.svc.CloseSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SESSION_NOT_FOUND",
			})
			return
		}
		logger.Error("Session close failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_CLOSE_FAILED",
		})
		return
	}

	logger.Info("Session closed")
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// HandleOpenDocument handles POST /v1/flowgraph/documents.
//
// Description:
//
//	Registers document text with a session and syncs it to
//	rust-analyzer. Send the same endpoint for edits, with a higher
//	version.
//
// Request Body:
//
//	OpenDocumentRequest
//
// Response:
//
//	200 OK: OpenDocumentResponse
//	400 Bad Request: Validation error
//	404 Not Found: Unknown session ID
//	413 Request Entity Too Large: Text exceeds the analyzable size
//	502 Bad Gateway: Backend sync failure
func (h *Handlers) HandleOpenDocument(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	base := slog.With("request_id", requestID, "handler", "HandleOpenDocument")

	var req OpenDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		base.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	logger := telemetry.LoggerWithDocument(c.Request.Context(),
		base.With("session_id", req.SessionID), req.URI)

	sess, err := h.svc.Session(req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	doc, created, err := sess.OpenDocument(c.Request.Context(), req.URI, req.Version, req.Text)
	if err != nil {
		statusCode := http.StatusBadGateway
		errCode := "BACKEND_SYNC_FAILED"

		if errors.Is(err, document.ErrDocumentTooLarge) {
			statusCode = http.StatusRequestEntityTooLarge
			errCode = "DOCUMENT_TOO_LARGE"
		}

		logger.Error("Document registration failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Document registered",
		"version", doc.Version,
		"line_count", doc.LineCount(),
		"created", created)

	c.JSON(http.StatusOK, OpenDocumentResponse{
		SessionID: req.SessionID,
		URI:       req.URI,
		Version:   doc.Version,
		LineCount: doc.LineCount(),
		Created:   created,
	})
}

// HandleCloseDocument handles DELETE /v1/flowgraph/documents.
//
// Description:
//
//	Closes a document on the session and backend and evicts its cached
//	passes.
//
// Query Parameters:
//
//	session_id: The session. Required.
//	uri: The document to close. Required.
//
// Response:
//
//	200 OK: {"closed": bool} - false when the URI was not open
//	400 Bad Request: Missing parameter
//	404 Not Found: Unknown session ID
//	502 Bad Gateway: Backend sync failure
func (h *Handlers) HandleCloseDocument(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	sessionID := c.Query("session_id")
	uri := c.Query("uri")
	base := slog.With("request_id", requestID, "handler", "HandleCloseDocument")

	if sessionID == "" || uri == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id and uri query parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	logger := telemetry.LoggerWithDocument(c.Request.Context(),
		base.With("session_id", sessionID), uri)

	sess, err := h.svc.Session(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	closed, err := sess.CloseDocument(c.Request.Context(), uri)
	if err != nil {
		logger.Error("Document close failed", "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "BACKEND_SYNC_FAILED",
		})
		return
	}

	logger.Info("Document closed", "was_open", closed)
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

// HandleAnalyzeDocument handles POST /v1/flowgraph/analyze.
//
// Description:
//
//	Runs or looks up one document pass and returns the resolved
//	locations plus the classified dataflow graph. Identical requests
//	against an unchanged document version are served from cache.
//
// Request Body:
//
//	AnalyzeRequest
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Validation error
//	404 Not Found: Unknown session, or document not open
//	413 Request Entity Too Large: Document exceeds the analyzable size
//	503 Service Unavailable: rust-analyzer still indexing (Retry-After set)
//	500 Internal Server Error: Pass failure
func (h *Handlers) HandleAnalyzeDocument(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	base := slog.With("request_id", requestID, "handler", "HandleAnalyzeDocument")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		base.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.ScopeKind == "" {
		req.ScopeKind = ScopeDocument
	}
	logger := telemetry.LoggerWithDocument(c.Request.Context(),
		base.With("session_id", req.SessionID), req.URI)

	sess, err := h.svc.Session(req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	result, fromCache, err := sess.Analyze(c.Request.Context(), req.URI, req.ScopeKind)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "ANALYSIS_FAILED"

		if errors.Is(err, ErrBackendNotReady) {
			statusCode = http.StatusServiceUnavailable
			errCode = "BACKEND_NOT_READY"
			c.Header("Retry-After", "30")
		} else if errors.Is(err, document.ErrUnknownDocument) {
			statusCode = http.StatusNotFound
			errCode = "DOCUMENT_NOT_OPEN"
		} else if errors.Is(err, document.ErrDocumentTooLarge) {
			statusCode = http.StatusRequestEntityTooLarge
			errCode = "DOCUMENT_TOO_LARGE"
		}

		logger.Error("Analysis failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Analysis served",
		"version", result.Version,
		"from_cache", fromCache,
		"locations", len(result.Locations),
		"nodes", len(result.Graph.Nodes),
		"edges", len(result.Graph.Edges))

	c.JSON(http.StatusOK, AnalyzeResponse{
		SessionID:     req.SessionID,
		URI:           result.URI,
		Version:       result.Version,
		ScopeKind:     result.ScopeKind,
		FromCache:     fromCache,
		ElapsedMillis: result.ElapsedMillis,
		Locations:     result.Locations,
		Graph:         result.Graph,
	})
}

// HandleClassifyGraph handles POST /v1/flowgraph/graph/classify.
//
// Description:
//
//	Classifies the edges of an externally supplied serialized graph:
//	network tags where an endpoint is a networking operator, cycle tags
//	on back references. Stateless; a session ID only selects which
//	operator taxonomy applies.
//
// Request Body:
//
//	ClassifyGraphRequest
//
// Response:
//
//	200 OK: ClassifyGraphResponse
//	400 Bad Request: Validation error, invalid payload, or schema mismatch
//	404 Not Found: Unknown session ID
func (h *Handlers) HandleClassifyGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleClassifyGraph"))

	var req ClassifyGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	operators := h.defaults
	if req.SessionID != "" {
		sess, err := h.svc.Session(req.SessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SESSION_NOT_FOUND",
			})
			return
		}
		operators = sess.cfg
	}
	if operators == nil {
		logger.Error("No operator config available")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "operator config unavailable",
			Code:  "CONFIG_UNAVAILABLE",
		})
		return
	}

	g, err := graph.FromSerializable(req.Graph)
	if err != nil {
		errCode := "INVALID_GRAPH_PAYLOAD"
		if errors.Is(err, graph.ErrSchemaIncompatible) {
			errCode = "SCHEMA_INCOMPATIBLE"
		}
		logger.Warn("Graph payload rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	edges := graph.ClassifyEdges(c.Request.Context(), g.Edges, g.Nodes, operators.NetworkingSet())
	tagCounts := make(map[string]int)
	for _, e := range edges {
		for _, tag := range e.Tags {
			tagCounts[tag]++
		}
	}

	logger.Info("Graph classified",
		"nodes", len(g.Nodes),
		"edges", len(edges),
		"tagged_kinds", len(tagCounts))

	c.JSON(http.StatusOK, ClassifyGraphResponse{
		Edges:     edges,
		TagCounts: tagCounts,
	})
}

// HandleInvalidate handles POST /v1/flowgraph/invalidate.
//
// Description:
//
//	Applies a unified diff to the session's invalidation state: cached
//	passes for changed files are evicted and stale open documents
//	reported, so an editor can re-push text and re-analyze.
//
// Request Body:
//
//	InvalidateRequest
//
// Response:
//
//	200 OK: InvalidateResponse
//	400 Bad Request: Validation error or unparseable diff
//	404 Not Found: Unknown session ID
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	base := slog.With("request_id", requestID, "handler", "HandleInvalidate")

	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		base.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	logger := telemetry.LoggerWithSession(c.Request.Context(), base, req.SessionID)

	sess, err := h.svc.Session(req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	impact, evicted, err := sess.Invalidate(req.Patch)
	if err != nil {
		logger.Warn("Diff rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PATCH",
		})
		return
	}

	logger.Info("Invalidation applied",
		"changed_uris", len(impact.ChangedURIs),
		"stale_uris", len(impact.StaleURIs),
		"evicted_entries", evicted)

	c.JSON(http.StatusOK, InvalidateResponse{
		ChangedURIs:    impact.ChangedURIs,
		StaleURIs:      impact.StaleURIs,
		EvictedEntries: evicted,
	})
}

// HandleCacheStats handles GET /v1/flowgraph/cache/stats.
//
// Query Parameters:
//
//	session_id: The session to inspect. Required.
//
// Response:
//
//	200 OK: CacheStatsResponse
//	400 Bad Request: Missing parameter
//	404 Not Found: Unknown session ID
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	sessionID := c.Query("session_id")
	logger := telemetry.LoggerWithSession(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleCacheStats"), sessionID)

	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id query parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	sess, err := h.svc.Session(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	stats := sess.CacheStats()
	logger.Debug("Cache stats served",
		"entries", stats.Entries, "hit_rate", stats.HitRate)
	c.JSON(http.StatusOK, CacheStatsResponse{
		SessionID: sessionID,
		Stats:     stats,
	})
}

// HandleClearCache handles DELETE /v1/flowgraph/cache.
//
// Query Parameters:
//
//	session_id: The session whose cache to clear. Required.
//
// Response:
//
//	200 OK: {"evicted": n}
//	400 Bad Request: Missing parameter
//	404 Not Found: Unknown session ID
func (h *Handlers) HandleClearCache(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	sessionID := c.Query("session_id")
	logger := telemetry.LoggerWithSession(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleClearCache"), sessionID)

	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id query parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	sess, err := h.svc.Session(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	evicted := sess.ClearCache()
	logger.Info("Cache cleared", "evicted", evicted)
	c.JSON(http.StatusOK, gin.H{"evicted": evicted})
}

// HandleSaveSnapshot handles POST /v1/flowgraph/graph/snapshot.
//
// Description:
//
//	Persists a session's latest analyzed graph to BadgerDB and returns
//	the snapshot metadata.
//
// Request Body:
//
//	SaveSnapshotRequest
//
// Response:
//
//	200 OK: graph.SnapshotMetadata
//	400 Bad Request: Validation error
//	404 Not Found: Unknown session, or no analyzed graph to snapshot
//	503 Service Unavailable: Snapshot store not configured
//	500 Internal Server Error: Storage failure
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	base := slog.With("request_id", requestID, "handler", "HandleSaveSnapshot")

	snapshots := h.svc.Snapshots()
	if snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot store not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		base.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	logger := telemetry.LoggerWithSession(c.Request.Context(), base, req.SessionID)

	sess, err := h.svc.Session(req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	g, ok := sess.Latest(req.URI)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrNoAnalyzedGraph.Error(),
			Code:  "NO_GRAPHS",
		})
		return
	}

	meta, err := snapshots.Save(c.Request.Context(), g, req.Label)
	if err != nil {
		logger.Error("Snapshot save failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_SAVE_FAILED",
		})
		return
	}

	logger.Info("Snapshot saved",
		"snapshot_id", meta.SnapshotID,
		"uri", meta.URI,
		"node_count", meta.NodeCount)
	c.JSON(http.StatusOK, meta)
}

// HandleListSnapshots handles GET /v1/flowgraph/graph/snapshots.
//
// Query Parameters:
//
//	uri: Optional document filter.
//	limit: Maximum results. Default: 20.
//
// Response:
//
//	200 OK: ListSnapshotsResponse
//	503 Service Unavailable: Snapshot store not configured
//	500 Internal Server Error: Storage failure
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleListSnapshots"))

	snapshots := h.svc.Snapshots()
	if snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot store not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	metas, err := snapshots.List(c.Request.Context(), c.Query("uri"), limit)
	if err != nil {
		logger.Error("Snapshot list failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	if metas == nil {
		metas = []*graph.SnapshotMetadata{}
	}

	c.JSON(http.StatusOK, ListSnapshotsResponse{
		Snapshots: metas,
		Count:     len(metas),
	})
}

// HandleDiffSnapshots handles GET /v1/flowgraph/graph/snapshot/diff.
//
// Description:
//
//	Loads two snapshots and returns their structural difference: node
//	and edge additions, removals, and modifications, with an aggregate
//	summary.
//
// Query Parameters:
//
//	from: Base snapshot ID. Required.
//	to: Target snapshot ID. Required.
//
// Response:
//
//	200 OK: graph.SnapshotDiff
//	400 Bad Request: Missing parameter
//	404 Not Found: Either snapshot ID unknown
//	503 Service Unavailable: Snapshot store not configured
//	500 Internal Server Error: Load or diff failure
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleDiffSnapshots"))

	snapshots := h.svc.Snapshots()
	if snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot store not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	fromID := c.Query("from")
	toID := c.Query("to")
	if fromID == "" || toID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "from and to query parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	base, _, err := snapshots.Load(c.Request.Context(), fromID)
	if err != nil {
		h.respondSnapshotLoadError(c, logger, fromID, err)
		return
	}
	target, _, err := snapshots.Load(c.Request.Context(), toID)
	if err != nil {
		h.respondSnapshotLoadError(c, logger, toID, err)
		return
	}

	diff, err := graph.DiffSnapshots(base, target, fromID, toID)
	if err != nil {
		logger.Error("Snapshot diff failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "DIFF_FAILED",
		})
		return
	}

	logger.Info("Snapshot diff computed",
		"from", fromID,
		"to", toID,
		"total_changes", diff.Summary.TotalChanges)
	c.JSON(http.StatusOK, diff)
}

// HandleGetSnapshot handles GET /v1/flowgraph/graph/snapshot/:id.
//
// Response:
//
//	200 OK: GetSnapshotResponse
//	404 Not Found: Unknown snapshot ID
//	409 Conflict: Snapshot written by an incompatible schema
//	503 Service Unavailable: Snapshot store not configured
//	500 Internal Server Error: Corrupt snapshot or storage failure
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleGetSnapshot"))

	snapshots := h.svc.Snapshots()
	if snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot store not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	snapshotID := c.Param("id")
	g, meta, err := snapshots.Load(c.Request.Context(), snapshotID)
	if err != nil {
		h.respondSnapshotLoadError(c, logger, snapshotID, err)
		return
	}

	sg, err := g.ToSerializable()
	if err != nil {
		logger.Error("Snapshot serialization failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_LOAD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, GetSnapshotResponse{
		Metadata: meta,
		Graph:    sg,
	})
}

// HandleDeleteSnapshot handles DELETE /v1/flowgraph/graph/snapshot/:id.
//
// Response:
//
//	200 OK: {"deleted": true}
//	404 Not Found: Unknown snapshot ID
//	503 Service Unavailable: Snapshot store not configured
//	500 Internal Server Error: Storage failure
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot"))

	snapshots := h.svc.Snapshots()
	if snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot store not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	snapshotID := c.Param("id")
	if err := snapshots.Delete(c.Request.Context(), snapshotID); err != nil {
		if errors.Is(err, graph.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}
		logger.Error("Snapshot delete failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_DELETE_FAILED",
		})
		return
	}

	logger.Info("Snapshot deleted", "snapshot_id", snapshotID)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// respondSnapshotLoadError maps a snapshot load failure onto a response.
func (h *Handlers) respondSnapshotLoadError(c *gin.Context, logger *slog.Logger, snapshotID string, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "SNAPSHOT_LOAD_FAILED"

	if errors.Is(err, graph.ErrSnapshotNotFound) {
		statusCode = http.StatusNotFound
		errCode = "SNAPSHOT_NOT_FOUND"
	} else if errors.Is(err, graph.ErrSchemaIncompatible) {
		statusCode = http.StatusConflict
		errCode = "SCHEMA_INCOMPATIBLE"
	} else if errors.Is(err, graph.ErrCorruptSnapshot) {
		errCode = "SNAPSHOT_CORRUPT"
	}

	if statusCode == http.StatusInternalServerError {
		logger.Error("Snapshot load failed", "snapshot_id", snapshotID, "error", err)
	}
	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// HandleHealth handles GET /v1/flowgraph/health.
//
// Description:
//
//	Returns the health status of the service. Always returns 200 if
//	running.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/flowgraph/ready.
//
// Description:
//
//	Returns the readiness status of the service, with per-session
//	backend readiness. Returns 503 Service Unavailable until bootstrap
//	completes.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true) - Service accepts requests
//	503 Service Unavailable: ReadyResponse (Ready=false) - Bootstrap in progress
func (h *Handlers) HandleReady(c *gin.Context) {
	ready := IsWarmupComplete()

	sessions := h.svc.Sessions()
	statuses := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, SessionStatus{
			SessionID:     sess.ID(),
			WorkspaceRoot: sess.WorkspaceRoot(),
			BackendState:  sess.BackendState(),
			Ready:         sess.BackendReady(),
		})
	}

	resp := ReadyResponse{
		Ready:            ready,
		SessionCount:     len(sessions),
		SnapshotsEnabled: h.svc.Snapshots() != nil,
		Sessions:         statuses,
	}

	if !ready {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
