// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

// DefaultMaxBytes is the document size limit used when the configured
// value is zero or negative. Matches the operator config default.
const DefaultMaxBytes = 1 << 20

// maxDiskDocs caps the read-only fallback cache. Exceeding it clears the
// whole map rather than tracking recency; the registry working set a
// single workspace touches stays far below the cap.
const maxDiskDocs = 64

// Store is the registry of open documents plus a read-only disk fallback.
//
// Description:
//
//	Open documents shadow their on-disk content; LineAt consults them
//	first. URIs nobody opened resolve through the disk fallback, which
//	exists for the definition strategies: they land in hydro_lang sources
//	under the cargo registry that no editor buffer holds.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	maxBytes int

	mu   sync.RWMutex
	docs map[string]*Document
	disk map[string][]string
}

// NewStore creates a Store. Non-positive maxBytes selects DefaultMaxBytes.
func NewStore(maxBytes int) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		maxBytes: maxBytes,
		docs:     make(map[string]*Document),
		disk:     make(map[string][]string),
	}
}

// MaxBytes returns the document size limit.
func (s *Store) MaxBytes() int {
	return s.maxBytes
}

// Open registers a document, replacing any previous text for the URI.
//
// Outputs:
//
//	*Document - The stored document.
//	error - ErrDocumentTooLarge when text exceeds the size limit.
func (s *Store) Open(uri string, version int, text string) (*Document, error) {
	if len(text) > s.maxBytes {
		return nil, fmt.Errorf("open %s (%d bytes): %w", uri, len(text), ErrDocumentTooLarge)
	}
	doc := NewDocument(uri, version, text)

	s.mu.Lock()
	s.docs[uri] = doc
	open := len(s.docs)
	s.mu.Unlock()

	documentsOpen.Set(float64(open))
	return doc, nil
}

// Update replaces the text and version of an open document.
//
// Outputs:
//
//	*Document - The replacement document.
//	error - ErrUnknownDocument when the URI is not open, or
//	        ErrDocumentTooLarge when text exceeds the size limit.
func (s *Store) Update(uri string, version int, text string) (*Document, error) {
	if len(text) > s.maxBytes {
		return nil, fmt.Errorf("update %s (%d bytes): %w", uri, len(text), ErrDocumentTooLarge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[uri]; !ok {
		return nil, fmt.Errorf("update %s: %w", uri, ErrUnknownDocument)
	}
	doc := NewDocument(uri, version, text)
	s.docs[uri] = doc
	return doc, nil
}

// Close removes an open document. Returns whether it was open.
func (s *Store) Close(uri string) bool {
	s.mu.Lock()
	_, ok := s.docs[uri]
	delete(s.docs, uri)
	open := len(s.docs)
	s.mu.Unlock()

	documentsOpen.Set(float64(open))
	return ok
}

// Get returns the open document for uri.
func (s *Store) Get(uri string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// Len returns the number of open documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// URIs returns the open document URIs, sorted.
func (s *Store) URIs() []string {
	s.mu.RLock()
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	s.mu.RUnlock()

	sort.Strings(uris)
	return uris
}

// LineAt returns line number line of the document at uri.
//
// Description:
//
//	Open documents win. Otherwise file: URIs are read from disk once and
//	their lines cached until InvalidateDisk or a watcher-driven reset.
//	Out-of-range lines, unreadable files and non-file URIs report false.
func (s *Store) LineAt(uri string, line int) (string, bool) {
	if line < 0 {
		return "", false
	}

	s.mu.RLock()
	if doc, ok := s.docs[uri]; ok {
		s.mu.RUnlock()
		return doc.LineAt(line)
	}
	lines, cached := s.disk[uri]
	s.mu.RUnlock()

	if !cached {
		var ok bool
		lines, ok = s.readDisk(uri)
		if !ok {
			return "", false
		}
	}
	if line >= len(lines) {
		return "", false
	}
	return lines[line], true
}

// readDisk loads and caches the lines of a file: URI.
func (s *Store) readDisk(uri string) ([]string, bool) {
	if !strings.HasPrefix(uri, "file:") {
		return nil, false
	}
	path := lsp.URIToPath(uri)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("disk fallback read failed",
			slog.String("uri", uri),
			slog.String("error", err.Error()))
		return nil, false
	}
	if len(data) > s.maxBytes {
		slog.Warn("disk fallback skipping oversized file",
			slog.String("uri", uri),
			slog.Int("bytes", len(data)))
		return nil, false
	}

	lines := strings.Split(string(data), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	s.mu.Lock()
	if len(s.disk) >= maxDiskDocs {
		s.disk = make(map[string][]string)
	}
	s.disk[uri] = lines
	s.mu.Unlock()

	diskFallbackTotal.Inc()
	return lines, true
}

// InvalidateDisk drops the cached fallback lines for uri, forcing the
// next LineAt to re-read the file.
func (s *Store) InvalidateDisk(uri string) {
	s.mu.Lock()
	delete(s.disk, uri)
	s.mu.Unlock()
}

// ResetDisk drops all cached fallback lines.
func (s *Store) ResetDisk() {
	s.mu.Lock()
	s.disk = make(map[string][]string)
	s.mu.Unlock()
}
