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

import "errors"

var (
	// ErrSessionNotFound reports a session ID no open session carries.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionInitializing reports a concurrent open for the same
	// workspace root while its first open is still starting the backend.
	ErrSessionInitializing = errors.New("session initialization in progress")

	// ErrTooManySessions reports that the session cap is reached. Sessions
	// own a rust-analyzer process each, so the service refuses rather
	// than evicting one out from under a connected editor.
	ErrTooManySessions = errors.New("too many open sessions")

	// ErrBackendNotReady reports an analysis request against a session
	// whose rust-analyzer is still indexing.
	ErrBackendNotReady = errors.New("backend not ready")

	// ErrSnapshotsDisabled reports a snapshot operation while the service
	// runs without its snapshot store (BadgerDB unavailable at startup).
	ErrSnapshotsDisabled = errors.New("snapshot store not available")

	// ErrNoAnalyzedGraph reports a snapshot save before any analysis pass
	// has produced a graph to store.
	ErrNoAnalyzedGraph = errors.New("no analyzed graph")

	// ErrServiceClosed reports an operation after Close.
	ErrServiceClosed = errors.New("service closed")
)
