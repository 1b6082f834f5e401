// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// Operations provides high-level rust-analyzer operations.
//
// Description:
//
//	Wraps a Client with the four query operations the type resolver uses
//	(hover, definition, typeDefinition, inlayHint) plus document sync.
//	Response payloads are decoded once at ingestion; callers never touch
//	raw JSON.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Operations struct {
	client *Client
}

// NewOperations creates an Operations instance.
//
// Inputs:
//
//	client - The rust-analyzer client to send through
//
// Outputs:
//
//	*Operations - The operations wrapper
func NewOperations(client *Client) *Operations {
	return &Operations{client: client}
}

// Client returns the underlying client.
func (o *Operations) Client() *Client {
	return o.client
}

// =============================================================================
// RETRY CONFIGURATION
// =============================================================================

const (
	// maxRetries is the maximum number of retry attempts for transient failures.
	maxRetries = 1

	// retryDelay is the delay between retry attempts.
	retryDelay = 100 * time.Millisecond
)

// isRetryableError returns true if the error is transient and worth retrying.
// Content-modified is the common case: rust-analyzer rejects position
// requests while it reindexes after a didChange.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.IsContentModified() {
			return true
		}
		// -32099 to -32000 are server errors.
		return rpcErr.Code >= -32099 && rpcErr.Code <= -32000
	}
	return false
}

// requestWithRetry performs a request with one retry on transient failures.
// Only idempotent position queries go through here.
func (o *Operations) requestWithRetry(ctx context.Context, method string, params interface{}) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := o.client.Request(ctx, method, params)
		if err != nil {
			lastErr = err
			if isRetryableError(err) && attempt < maxRetries {
				slog.Debug("Retrying LSP request after transient error",
					slog.String("method", method),
					slog.Int("attempt", attempt+1),
					slog.String("error", err.Error()),
				)
				time.Sleep(retryDelay)
				continue
			}
			return nil, err
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// =============================================================================
// URI HELPERS
// =============================================================================

// PathToURI converts an absolute file path to a file:// URI.
//
// Description:
//
//	Encodes the path through url.URL so spaces and unicode survive the
//	round trip to the server.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
	}
	u := &url.URL{
		Scheme: "file",
		Path:   path,
	}
	return u.String()
}

// URIToPath converts a file:// URI to an absolute file path.
func URIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return strings.TrimPrefix(uri, "file://")
}

// =============================================================================
// RESPONSE DECODING
// =============================================================================

// parseLocations decodes a definition-style response into []Location.
//
// Description:
//
//	The LSP wire format allows Location, Location[], LocationLink[] or
//	null for definition and typeDefinition responses. All four shapes
//	collapse here, once, into a flat location slice.
func parseLocations(data json.RawMessage) ([]Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	if data[0] == '[' {
		// LocationLink[] first: the targetUri field disambiguates.
		var links []LocationLink
		if err := json.Unmarshal(data, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
			locations := make([]Location, len(links))
			for i, link := range links {
				locations[i] = Location{
					URI:   link.TargetURI,
					Range: link.TargetSelectionRange,
				}
			}
			return locations, nil
		}

		var locations []Location
		if err := json.Unmarshal(data, &locations); err == nil {
			return locations, nil
		}
	}

	var single Location
	if err := json.Unmarshal(data, &single); err == nil && single.URI != "" {
		return []Location{single}, nil
	}

	var link LocationLink
	if err := json.Unmarshal(data, &link); err == nil && link.TargetURI != "" {
		return []Location{{URI: link.TargetURI, Range: link.TargetSelectionRange}}, nil
	}

	return nil, ErrInvalidResponse
}

// =============================================================================
// POSITION QUERIES
// =============================================================================

// Definition returns the definition location(s) for the symbol at pos.
//
// Description:
//
//	Sends textDocument/definition. For a Hydro operator call this lands on
//	the method declaration inside the hydro_lang crate, whose declared
//	return type carries the location parameter.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	uri - Document URI (file:// scheme)
//	pos - 0-indexed position on the symbol
//
// Outputs:
//
//	[]Location - Definition location(s), empty when the symbol has none
//	error - Non-nil on failure
func (o *Operations) Definition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	return o.locationQuery(ctx, "textDocument/definition", "definition", uri, pos)
}

// TypeDefinition returns the type definition location(s) for the symbol at pos.
//
// Description:
//
//	Sends textDocument/typeDefinition. For an expression of type
//	Stream<T, Process<...>, ...> this resolves to the Stream declaration.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	uri - Document URI (file:// scheme)
//	pos - 0-indexed position on the expression
//
// Outputs:
//
//	[]Location - Type definition location(s), empty when unresolved
//	error - Non-nil on failure
func (o *Operations) TypeDefinition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	return o.locationQuery(ctx, "textDocument/typeDefinition", "type_definition", uri, pos)
}

// locationQuery runs one location-shaped request end to end.
func (o *Operations) locationQuery(ctx context.Context, method, operation string, uri string, pos Position) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, operation, uri)
	defer span.End()
	start := time.Now()

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}

	resp, err := o.requestWithRetry(ctx, method, params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, operation, time.Since(start), 0, false)
		return nil, fmt.Errorf("%s request: %w", operation, err)
	}

	locations, err := parseLocations(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, operation, time.Since(start), 0, false)
		return nil, err
	}

	setOperationSpanResult(span, len(locations), true)
	recordOperationMetrics(ctx, operation, time.Since(start), len(locations), true)
	return locations, nil
}

// =============================================================================
// HOVER
// =============================================================================

// HoverInfo is decoded hover content.
type HoverInfo struct {
	// Content is the hover text (markdown unless Kind says otherwise).
	Content string `json:"content"`

	// Kind is the content format ("plaintext" or "markdown").
	Kind string `json:"kind"`

	// Range is the range this hover applies to (optional).
	Range *Range `json:"range,omitempty"`
}

// Hover returns type and documentation info for the symbol at pos.
//
// Description:
//
//	Sends textDocument/hover. A nil result with nil error means the
//	server had nothing to say about the position.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	uri - Document URI (file:// scheme)
//	pos - 0-indexed position on the symbol
//
// Outputs:
//
//	*HoverInfo - Hover information, nil if no hover available
//	error - Non-nil on failure
func (o *Operations) Hover(ctx context.Context, uri string, pos Position) (*HoverInfo, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, "hover", uri)
	defer span.End()
	start := time.Now()

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}

	resp, err := o.requestWithRetry(ctx, "textDocument/hover", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", time.Since(start), 0, false)
		return nil, fmt.Errorf("hover request: %w", err)
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "hover", time.Since(start), 0, true)
		return nil, nil
	}

	var result HoverResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "hover", time.Since(start), 0, false)
		return nil, fmt.Errorf("parse hover result: %w", err)
	}

	setOperationSpanResult(span, 1, true)
	recordOperationMetrics(ctx, "hover", time.Since(start), 1, true)
	return &HoverInfo{
		Content: result.Contents.Value,
		Kind:    result.Contents.Kind,
		Range:   result.Range,
	}, nil
}

// =============================================================================
// INLAY HINTS
// =============================================================================

// InlayHints returns inlay hints for a document range.
//
// Description:
//
//	Sends textDocument/inlayHint. rust-analyzer's type hints carry the
//	full inferred type of a binding, which is often more specific than
//	hover's where-clause form.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	uri - Document URI (file:// scheme)
//	rng - Document range to compute hints for
//
// Outputs:
//
//	[]InlayHint - Hints in the range, empty when none
//	error - Non-nil on failure
func (o *Operations) InlayHints(ctx context.Context, uri string, rng Range) ([]InlayHint, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startOperationSpan(ctx, "inlay_hint", uri)
	defer span.End()
	start := time.Now()

	params := InlayHintParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        rng,
	}

	resp, err := o.requestWithRetry(ctx, "textDocument/inlayHint", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "inlay_hint", time.Since(start), 0, false)
		return nil, fmt.Errorf("inlay hint request: %w", err)
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		setOperationSpanResult(span, 0, true)
		recordOperationMetrics(ctx, "inlay_hint", time.Since(start), 0, true)
		return nil, nil
	}

	var hints []InlayHint
	if err := json.Unmarshal(resp.Result, &hints); err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "inlay_hint", time.Since(start), 0, false)
		return nil, fmt.Errorf("parse inlay hints: %w", err)
	}

	setOperationSpanResult(span, len(hints), true)
	recordOperationMetrics(ctx, "inlay_hint", time.Since(start), len(hints), true)
	return hints, nil
}

// =============================================================================
// DOCUMENT SYNC
// =============================================================================

// OpenDocument notifies the server that a document is open.
//
// Description:
//
//	Sends textDocument/didOpen with the full text. The server answers
//	position requests from this buffer, not from disk.
//
// Inputs:
//
//	ctx - Unused today, kept for interface symmetry
//	uri - Document URI (file:// scheme)
//	version - Client version of the document
//	text - Full document content
//
// Outputs:
//
//	error - Non-nil if the notification could not be sent
func (o *Operations) OpenDocument(ctx context.Context, uri string, version int, text string) error {
	_ = ctx
	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: "rust",
			Version:    version,
			Text:       text,
		},
	}
	return o.client.Notify("textDocument/didOpen", params)
}

// ChangeDocument notifies the server of a full-document change.
//
// Inputs:
//
//	ctx - Unused today, kept for interface symmetry
//	uri - Document URI (file:// scheme)
//	version - New client version of the document
//	text - Full replacement content
//
// Outputs:
//
//	error - Non-nil if the notification could not be sent
func (o *Operations) ChangeDocument(ctx context.Context, uri string, version int, text string) error {
	_ = ctx
	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{
			{Text: text},
		},
	}
	return o.client.Notify("textDocument/didChange", params)
}

// CloseDocument notifies the server that a document is closed.
//
// Inputs:
//
//	ctx - Unused today, kept for interface symmetry
//	uri - Document URI (file:// scheme)
//
// Outputs:
//
//	error - Non-nil if the notification could not be sent
func (o *Operations) CloseDocument(ctx context.Context, uri string) error {
	_ = ctx
	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	return o.client.Notify("textDocument/didClose", params)
}
