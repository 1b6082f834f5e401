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
	"strings"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

// Document is one versioned source text.
//
// Description:
//
//	Line splitting matches editor semantics: a trailing newline yields a
//	final empty line, and "\r\n" endings are normalized away. Character
//	offsets index bytes within a line; the Rust sources this pipeline
//	reads are ASCII at every position the analysis touches.
//
// Thread Safety:
//
//	Immutable after construction. Updates replace the Document as a whole.
type Document struct {
	// URI identifies the document, usually a file: URI.
	URI string

	// Version is the editor's version counter for this text.
	Version int

	text  string
	lines []string
}

// NewDocument creates a Document from uri, version and full text.
func NewDocument(uri string, version int, text string) *Document {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return &Document{
		URI:     uri,
		Version: version,
		text:    text,
		lines:   lines,
	}
}

// Text returns the full document text.
func (d *Document) Text() string {
	return d.text
}

// Size returns the text length in bytes.
func (d *Document) Size() int {
	return len(d.text)
}

// LineCount returns the number of lines.
func (d *Document) LineCount() int {
	return len(d.lines)
}

// LineAt returns line n (0-based) without its terminator.
//
// Outputs:
//
//	string - The line text, or "" when n is out of range.
//	bool - Whether n was in range.
func (d *Document) LineAt(n int) (string, bool) {
	if n < 0 || n >= len(d.lines) {
		return "", false
	}
	return d.lines[n], true
}

// GetText returns the text inside rng, clamped to the document.
//
// Description:
//
//	Out-of-range lines and characters clamp to the nearest valid offset;
//	an inverted range yields "". Multi-line extracts join with "\n"
//	regardless of the original line endings.
func (d *Document) GetText(rng lsp.Range) string {
	startLine, startChar := d.clamp(rng.Start)
	endLine, endChar := d.clamp(rng.End)

	if startLine > endLine || (startLine == endLine && startChar >= endChar) {
		return ""
	}

	if startLine == endLine {
		return d.lines[startLine][startChar:endChar]
	}

	var b strings.Builder
	b.WriteString(d.lines[startLine][startChar:])
	for i := startLine + 1; i < endLine; i++ {
		b.WriteByte('\n')
		b.WriteString(d.lines[i])
	}
	b.WriteByte('\n')
	b.WriteString(d.lines[endLine][:endChar])
	return b.String()
}

// clamp bounds pos to a valid (line, character) pair.
func (d *Document) clamp(pos lsp.Position) (int, int) {
	line := pos.Line
	if line < 0 {
		line = 0
	}
	if line >= len(d.lines) {
		line = len(d.lines) - 1
	}
	char := pos.Character
	if char < 0 {
		char = 0
	}
	if char > len(d.lines[line]) {
		char = len(d.lines[line])
	}
	return line, char
}

// WordRangeAt returns the identifier word range containing pos.
//
// Description:
//
//	A word is a maximal run of [0-9A-Za-z_]. The position matches when it
//	sits on a word byte or immediately after one, so a cursor at the end
//	of an operator name still finds it.
//
// Outputs:
//
//	lsp.Range - The word's range on pos.Line.
//	bool - False when pos is out of range or not on a word.
func (d *Document) WordRangeAt(pos lsp.Position) (lsp.Range, bool) {
	line, ok := d.LineAt(pos.Line)
	if !ok {
		return lsp.Range{}, false
	}
	char := pos.Character
	if char < 0 || char > len(line) {
		return lsp.Range{}, false
	}

	start := char
	if start == len(line) || !isWordByte(line[start]) {
		if start == 0 || !isWordByte(line[start-1]) {
			return lsp.Range{}, false
		}
		start--
	}
	end := start + 1
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	for end < len(line) && isWordByte(line[end]) {
		end++
	}

	return lsp.Range{
		Start: lsp.Position{Line: pos.Line, Character: start},
		End:   lsp.Position{Line: pos.Line, Character: end},
	}, true
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z')
}
