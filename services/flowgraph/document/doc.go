// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document tracks the text the analysis pipeline reads.
//
// The pipeline needs line-accurate source text in two situations: editor
// buffers under active analysis (opened and versioned through Store), and
// files the backend points into that nobody has open, typically hydro_lang
// sources under the cargo registry. Store serves both behind one LineAt
// lookup, falling back to disk for the latter.
//
// # Components
//
//   - Document: immutable versioned text with line and word access
//   - Store: open/update/close registry plus the read-only disk fallback
//   - Watcher: fsnotify over workspace roots, debounced into change batches
//   - ApplyUnifiedDiff: maps a patch to changed URIs and stale documents
//
// # Thread Safety
//
// Store and Watcher are safe for concurrent use. A Document is immutable
// after construction and may be shared freely.
package document
