// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// keySeparator joins the segments of a document cache key.
const keySeparator = "::"

// DocumentKey is the parsed form of a document cache key.
type DocumentKey struct {
	// URI identifies the document.
	URI string

	// Version is the document version the cached pass was computed for.
	Version int

	// ScopeKind names the analysis scope (e.g. "document", "workspace").
	ScopeKind string

	// ActiveFilePath optionally narrows workspace-scoped results to the
	// file that was active when analysis ran. Empty for document scope.
	ActiveFilePath string
}

// MakeKey renders a document cache key:
// "<uri>::v<version>::<scopeKind>" with an optional "::<activeFilePath>"
// suffix when activeFilePath is non-empty.
func MakeKey(uri string, version int, scopeKind, activeFilePath string) string {
	key := fmt.Sprintf("%s%sv%d%s%s", uri, keySeparator, version, keySeparator, scopeKind)
	if activeFilePath != "" {
		key += keySeparator + activeFilePath
	}
	return key
}

// Key renders the DocumentKey back into its textual form.
func (k DocumentKey) Key() string {
	return MakeKey(k.URI, k.Version, k.ScopeKind, k.ActiveFilePath)
}

// DocumentPrefix returns the eviction prefix covering every version and
// scope of one document.
func DocumentPrefix(uri string) string {
	return uri + keySeparator
}

// ParseKey parses a textual cache key back into its components.
//
// Description:
//
//	The version segment anchors the parse: URIs may themselves contain
//	"::" (rare, but legal), so the parser scans for the last segment of
//	the form v<digits> that leaves exactly one or two segments after it
//	(scope kind, optional active file path) and folds everything before it
//	back into the URI.
//
// Outputs:
//
//	DocumentKey - The parsed components.
//	error - ErrInvalidCacheKey (wrapped with detail) when the key has
//	fewer than three segments or no valid version anchor. This outcome is
//	distinct from a well-formed key that has no cache entry.
func ParseKey(key string) (DocumentKey, error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) < 3 {
		return DocumentKey{}, fmt.Errorf("%w: %d segments, want at least 3", ErrInvalidCacheKey, len(parts))
	}

	for i := len(parts) - 2; i >= 1; i-- {
		version, ok := parseVersionSegment(parts[i])
		if !ok {
			continue
		}
		trailing := len(parts) - i - 1
		if trailing > 2 {
			continue
		}

		dk := DocumentKey{
			URI:       strings.Join(parts[:i], keySeparator),
			Version:   version,
			ScopeKind: parts[i+1],
		}
		if trailing == 2 {
			dk.ActiveFilePath = parts[i+2]
		}
		if dk.URI == "" || dk.ScopeKind == "" {
			break
		}
		return dk, nil
	}

	return DocumentKey{}, fmt.Errorf("%w: no version segment of the form v<digits>", ErrInvalidCacheKey)
}

// parseVersionSegment extracts the numeric version from a "v<digits>"
// segment.
func parseVersionSegment(s string) (int, bool) {
	if len(s) < 2 || s[0] != 'v' {
		return 0, false
	}
	version, err := strconv.Atoi(s[1:])
	if err != nil || version < 0 {
		return 0, false
	}
	// Reject "v+3", "v 3" and similar forms Atoi would accept via signs.
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	return version, true
}
