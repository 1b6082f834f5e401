// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loctype

import (
	"log/slog"
	"strings"
)

// splitTopLevel splits s at commas that sit at angle/paren depth zero.
//
// Description:
//
//	Explicit depth-counting scanner over '<', '>', '(' and ')'. A comma
//	inside any nesting level is part of the current segment, not a
//	separator. The '>' of a "->" function arrow is not a closing bracket.
//	Mismatched closers clamp depth to zero with a logged warning instead of
//	failing; unclosed openers at end of string are tolerated the same way.
func splitTopLevel(s string) []string {
	var (
		parts   []string
		depth   int
		start   int
		clamped bool
	)

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if i > 0 && s[i-1] == '-' {
				continue
			}
			depth--
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
		if depth < 0 {
			depth = 0
			clamped = true
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))

	if clamped {
		slog.Warn("unbalanced brackets while splitting type parameters",
			slog.String("input", s))
	}
	if depth > 0 {
		slog.Warn("unclosed brackets at end of type parameter list",
			slog.String("input", s),
			slog.Int("open_depth", depth))
	}

	return parts
}

// matchAngleBlock locates the content of the angle-bracket block opening at
// s[open] (which must be '<').
//
// Description:
//
//	Returns the inner content and the index one past the matching '>'.
//	When the block is unclosed at end of string the remainder is returned
//	with end == len(s) and a logged warning; the caller keeps whatever was
//	parsed so far.
func matchAngleBlock(s string, open int) (inner string, end int) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if i > 0 && s[i-1] == '-' {
				continue
			}
			depth--
			if depth == 0 {
				return s[open+1 : i], i + 1
			}
		}
	}
	slog.Warn("unclosed angle bracket in type string",
		slog.String("input", s))
	return s[open+1:], len(s)
}

// splitGeneric splits "Name<params>" into its name and parameter content.
// ok is false when s is not of that shape (no '<', or a non-identifier
// prefix such as a path or tuple).
func splitGeneric(s string) (name, params string, ok bool) {
	open := strings.IndexByte(s, '<')
	if open <= 0 {
		return "", "", false
	}
	name = s[:open]
	if !isIdent(name) {
		return "", "", false
	}
	inner, end := matchAngleBlock(s, open)
	if end < len(s) && strings.TrimSpace(s[end:]) != "" {
		// Trailing text after the closing '>' means this was not a single
		// generic application.
		return "", "", false
	}
	return name, inner, true
}

// isIdent reports whether s is a plain identifier (no path separators,
// spaces, or punctuation).
func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
