// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"strings"
)

// =============================================================================
// HOVER TEXT EXTRACTION
// =============================================================================

// ExtractTypeFromHover pulls a type string out of rust-analyzer hover
// markdown.
//
// Description:
//
//	Method-call hovers carry the full fn signature in a fenced code block;
//	the type of interest is the declared return type, with generic
//	parameters substituted through the hover's footnote pairs. Binding
//	hovers carry `name: Type`; the type is everything after the first
//	top-level colon.
//
// Inputs:
//
//	content - Raw hover markdown
//	isMethodCall - Selects the signature path over the binding path
//
// Outputs:
//
//	string - The extracted type text, empty when the hover carries none
//
// Thread Safety: pure function.
func ExtractTypeFromHover(content string, isMethodCall bool) string {
	if content == "" {
		return ""
	}
	if isMethodCall {
		return extractMethodReturnType(content)
	}
	return extractBindingType(content)
}

// extractMethodReturnType scans fenced blocks for a fn signature and
// returns its specialized return type.
func extractMethodReturnType(content string) string {
	notes := footnotePairs(content)

	for _, block := range fencedBlocks(content) {
		if !strings.Contains(block, "fn ") {
			continue
		}
		arrow := topLevelArrowIndex(block)
		if arrow < 0 {
			continue
		}

		ret := block[arrow+2:]
		var whereClause string
		if w := topLevelWhereIndex(ret); w >= 0 {
			whereClause = ret[w+len("where"):]
			ret = ret[:w]
		}
		ret = collapseWhitespace(ret)
		if ret == "" {
			continue
		}

		if resolved := resolveQualifiedSelf(ret, whereClause, notes); resolved != "" {
			ret = resolved
		}
		return substituteTypeParams(ret, notes)
	}
	return ""
}

// extractBindingType returns the text after the first top-level colon of
// the first fenced block. `::` is a path separator, not a binding colon.
func extractBindingType(content string) string {
	blocks := fencedBlocks(content)
	if len(blocks) == 0 {
		return ""
	}
	block := collapseWhitespace(blocks[0])

	depth := 0
	for i := 0; i < len(block); i++ {
		switch block[i] {
		case '<', '(':
			depth++
		case '>':
			if i > 0 && block[i-1] == '-' {
				continue
			}
			if depth > 0 {
				depth--
			}
		case ')':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth != 0 {
				continue
			}
			if i+1 < len(block) && block[i+1] == ':' {
				i++
				continue
			}
			return strings.TrimSpace(block[i+1:])
		}
	}
	return block
}

// =============================================================================
// MARKDOWN SCANNING
// =============================================================================

// fencedBlocks extracts the contents of ```-fenced code blocks, info
// strings stripped. An unterminated final fence yields its remainder.
func fencedBlocks(s string) []string {
	var blocks []string
	for {
		start := strings.Index(s, "```")
		if start < 0 {
			return blocks
		}
		s = s[start+3:]
		end := strings.Index(s, "```")
		if end < 0 {
			if b := stripInfoString(s); b != "" {
				blocks = append(blocks, b)
			}
			return blocks
		}
		if b := stripInfoString(s[:end]); b != "" {
			blocks = append(blocks, b)
		}
		s = s[end+3:]
	}
}

// stripInfoString drops the fence info string ("rust") when present.
func stripInfoString(block string) string {
	if i := strings.IndexByte(block, '\n'); i >= 0 {
		switch strings.TrimSpace(block[:i]) {
		case "rust", "rs", "":
			return strings.TrimSpace(block[i+1:])
		}
	}
	return strings.TrimSpace(block)
}

// footnotePairs collects the `Param` = `Concrete` pairs rust-analyzer
// appends under its generic-parameters section.
func footnotePairs(s string) map[string]string {
	notes := make(map[string]string)
	for len(s) > 0 {
		start := strings.IndexByte(s, '`')
		if start < 0 {
			break
		}
		s = s[start+1:]
		end := strings.IndexByte(s, '`')
		if end < 0 {
			break
		}
		key := s[:end]
		s = s[end+1:]

		rest := strings.TrimLeft(s, " \t")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t")
		if !strings.HasPrefix(rest, "`") {
			continue
		}
		rest = rest[1:]
		vEnd := strings.IndexByte(rest, '`')
		if vEnd < 0 {
			break
		}
		if isIdentifier(key) {
			notes[key] = rest[:vEnd]
		}
		s = rest[vEnd+1:]
	}
	return notes
}

// =============================================================================
// SIGNATURE SCANNING
// =============================================================================

// topLevelArrowIndex finds the return arrow of a signature: the first
// "->" outside any angle or paren nesting. Arrows inside bounds like
// `F: Fn(T) -> U` sit at depth > 0 and are skipped.
func topLevelArrowIndex(s string) int {
	depth := 0
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '<', '(':
			depth++
		case '>':
			if i > 0 && s[i-1] == '-' {
				continue
			}
			if depth > 0 {
				depth--
			}
		case ')':
			if depth > 0 {
				depth--
			}
		case '-':
			if s[i+1] == '>' && depth == 0 {
				return i
			}
		}
	}
	return -1
}

// topLevelWhereIndex finds a `where` keyword at depth zero, with word
// boundaries on both sides.
func topLevelWhereIndex(s string) int {
	depth := 0
	for i := 0; i+5 <= len(s); i++ {
		switch s[i] {
		case '<', '(':
			depth++
		case '>':
			if i > 0 && s[i-1] == '-' {
				continue
			}
			if depth > 0 {
				depth--
			}
		case ')':
			if depth > 0 {
				depth--
			}
		case 'w':
			if depth != 0 || s[i:i+5] != "where" {
				continue
			}
			if i > 0 && isIdentByte(s[i-1]) {
				continue
			}
			if i+5 < len(s) && isIdentByte(s[i+5]) {
				continue
			}
			return i
		}
	}
	return -1
}

// resolveQualifiedSelf resolves a `<Self as Trait<...>>::Name` return type
// through the where clause's `Location = X` binding and the footnote for X.
// Empty string when the shape or the bindings are absent.
func resolveQualifiedSelf(ret, whereClause string, notes map[string]string) string {
	if !strings.HasPrefix(ret, "<Self as ") {
		return ""
	}

	depth := 0
	closeIdx := -1
	for i := 0; i < len(ret); i++ {
		switch ret[i] {
		case '<':
			depth++
		case '>':
			if i > 0 && ret[i-1] == '-' {
				continue
			}
			depth--
			if depth == 0 {
				closeIdx = i
			}
		}
		if closeIdx >= 0 {
			break
		}
	}
	if closeIdx < 0 || !strings.HasPrefix(ret[closeIdx+1:], "::") {
		return ""
	}

	wc := collapseWhitespace(whereClause)
	idx := strings.Index(wc, "Location = ")
	if idx < 0 {
		return ""
	}
	param := leadingIdentifier(wc[idx+len("Location = "):])
	if param == "" {
		return ""
	}
	concrete, ok := notes[param]
	if !ok {
		return ""
	}
	return collapseWhitespace(concrete)
}

// substituteTypeParams replaces whole-word generic parameter names with
// their footnote expansions. Only uppercase-leading identifiers qualify;
// lifetimes and primitive names never collide with that set.
func substituteTypeParams(s string, notes map[string]string) string {
	if len(notes) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if !isIdentByte(c) {
			b.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}
		word := s[i:j]
		if v, ok := notes[word]; ok && word[0] >= 'A' && word[0] <= 'Z' {
			b.WriteString(v)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}

// =============================================================================
// SMALL HELPERS
// =============================================================================

// collapseWhitespace folds all whitespace runs to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// isIdentifier reports whether s is a plain identifier.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

// leadingIdentifier returns the identifier prefix of s.
func leadingIdentifier(s string) string {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	return s[:i]
}
