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
	"encoding/json"
	"strings"
)

// =============================================================================
// POSITION & RANGE TYPES
// =============================================================================

// Position represents a position in a text document.
// Line and character are 0-indexed per LSP specification.
type Position struct {
	// Line is the 0-indexed line number.
	Line int `json:"line"`

	// Character is the 0-indexed character offset within the line.
	Character int `json:"character"`
}

// Range represents a range in a text document.
type Range struct {
	// Start is the inclusive start position.
	Start Position `json:"start"`

	// End is the exclusive end position.
	End Position `json:"end"`
}

// Location represents a location in a document.
type Location struct {
	// URI is the document URI (file:// scheme).
	URI string `json:"uri"`

	// Range is the range within the document.
	Range Range `json:"range"`
}

// LocationLink represents a link between a source and target location.
type LocationLink struct {
	// OriginSelectionRange is the span in the source that was used.
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`

	// TargetURI is the target document URI.
	TargetURI string `json:"targetUri"`

	// TargetRange is the full range of the target (for highlighting).
	TargetRange Range `json:"targetRange"`

	// TargetSelectionRange is the precise range to reveal.
	TargetSelectionRange Range `json:"targetSelectionRange"`
}

// =============================================================================
// DOCUMENT IDENTIFIERS
// =============================================================================

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	// URI is the document's URI.
	URI string `json:"uri"`
}

// TextDocumentItem represents a text document with its content.
type TextDocumentItem struct {
	// URI is the document's URI.
	URI string `json:"uri"`

	// LanguageID is the language identifier. Always "rust" here.
	LanguageID string `json:"languageId"`

	// Version is the version number of this document.
	Version int `json:"version"`

	// Text is the content of the document.
	Text string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a specific version of a document.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier

	// Version is the version number after the change.
	Version int `json:"version"`
}

// =============================================================================
// REQUEST PARAMETER TYPES
// =============================================================================

// TextDocumentPositionParams identifies a position in a text document.
type TextDocumentPositionParams struct {
	// TextDocument is the document identifier.
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Position is the position within the document.
	Position Position `json:"position"`
}

// DidOpenTextDocumentParams contains params for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	// TextDocument is the document that was opened.
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams contains params for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	// TextDocument is the document that was closed.
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidChangeTextDocumentParams contains params for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	// TextDocument is the document that changed.
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`

	// ContentChanges is the list of changes. Full sync sends one change
	// with no range.
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent describes a content change event.
type TextDocumentContentChangeEvent struct {
	// Range is the range that got replaced. Omit for full document sync.
	Range *Range `json:"range,omitempty"`

	// Text is the new text for the range or full document.
	Text string `json:"text"`
}

// InlayHintParams contains params for textDocument/inlayHint.
type InlayHintParams struct {
	// TextDocument is the document identifier.
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Range is the document range to compute hints for.
	Range Range `json:"range"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// HoverResult contains hover information.
type HoverResult struct {
	// Contents is the hover content.
	Contents MarkupContent `json:"contents"`

	// Range is the range this hover applies to.
	Range *Range `json:"range,omitempty"`
}

// MarkupContent represents documentation content.
type MarkupContent struct {
	// Kind is the type of markup: "plaintext" or "markdown".
	Kind string `json:"kind"`

	// Value is the actual content.
	Value string `json:"value"`
}

// Inlay hint kinds as defined by the LSP specification.
const (
	InlayHintKindType      = 1
	InlayHintKindParameter = 2
)

// InlayHint represents an inline annotation the server attaches to a
// position, e.g. rust-analyzer's `: Stream<...>` type hints after a binding.
type InlayHint struct {
	// Position is where the hint is anchored.
	Position Position `json:"position"`

	// Label is the hint text.
	Label InlayHintLabel `json:"label"`

	// Kind distinguishes type hints (1) from parameter hints (2).
	// Zero when the server omits it.
	Kind int `json:"kind,omitempty"`

	// PaddingLeft requests padding before the hint.
	PaddingLeft bool `json:"paddingLeft,omitempty"`

	// PaddingRight requests padding after the hint.
	PaddingRight bool `json:"paddingRight,omitempty"`
}

// InlayHintLabelPart is one segment of a structured inlay hint label.
type InlayHintLabelPart struct {
	// Value is the text of this part.
	Value string `json:"value"`

	// Location optionally links the part to a definition.
	Location *Location `json:"location,omitempty"`
}

// InlayHintLabel carries an inlay hint label, which on the wire is either
// a plain string or an array of label parts. Unmarshal flattens both
// forms so callers only deal with the concatenated text.
type InlayHintLabel struct {
	// Text is the full label text.
	Text string

	// Parts holds the structured parts when the server sent them.
	Parts []InlayHintLabelPart
}

// UnmarshalJSON accepts both label encodings.
func (l *InlayHintLabel) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &l.Text)
	}
	if err := json.Unmarshal(data, &l.Parts); err != nil {
		return err
	}
	var b strings.Builder
	for _, p := range l.Parts {
		b.WriteString(p.Value)
	}
	l.Text = b.String()
	return nil
}

// MarshalJSON writes the structured form when parts exist, else the string.
func (l InlayHintLabel) MarshalJSON() ([]byte, error) {
	if len(l.Parts) > 0 {
		return json.Marshal(l.Parts)
	}
	return json.Marshal(l.Text)
}

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// InitializeParams contains initialization parameters.
type InitializeParams struct {
	// ProcessID is the process ID of the parent process.
	ProcessID int `json:"processId"`

	// RootURI is the root URI of the workspace.
	RootURI string `json:"rootUri"`

	// Capabilities describes what the client supports.
	Capabilities ClientCapabilities `json:"capabilities"`

	// InitializationOptions are server-specific options.
	InitializationOptions interface{} `json:"initializationOptions,omitempty"`

	// WorkspaceFolders are the workspace folders if supported.
	WorkspaceFolders []WorkspaceFolder `json:"workspaceFolders,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	// URI is the folder URI.
	URI string `json:"uri"`

	// Name is the name of the folder.
	Name string `json:"name"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	// TextDocument describes text document capabilities.
	TextDocument TextDocumentClientCapabilities `json:"textDocument,omitempty"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	// Synchronization describes document sync capabilities.
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`

	// Definition describes go-to-definition support.
	Definition *DefinitionCapabilities `json:"definition,omitempty"`

	// TypeDefinition describes go-to-type-definition support.
	TypeDefinition *DefinitionCapabilities `json:"typeDefinition,omitempty"`

	// Hover describes hover support.
	Hover *HoverCapabilities `json:"hover,omitempty"`

	// InlayHint describes inlay hint support.
	InlayHint *InlayHintCapabilities `json:"inlayHint,omitempty"`
}

// TextDocumentSyncClientCapabilities describes sync capabilities.
type TextDocumentSyncClientCapabilities struct {
	// DidSave indicates didSave notifications are supported.
	DidSave bool `json:"didSave,omitempty"`
}

// DefinitionCapabilities describes definition/typeDefinition support.
type DefinitionCapabilities struct {
	// LinkSupport indicates LocationLink responses are accepted.
	LinkSupport bool `json:"linkSupport,omitempty"`
}

// HoverCapabilities describes hover support.
type HoverCapabilities struct {
	// ContentFormat describes supported content formats, in preference order.
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// InlayHintCapabilities describes inlay hint support.
type InlayHintCapabilities struct {
	// DynamicRegistration indicates dynamic registration is supported.
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// InitializeResult contains the server's response to initialize.
type InitializeResult struct {
	// Capabilities describes what the server supports.
	Capabilities ServerCapabilities `json:"capabilities"`

	// ServerInfo contains optional server information.
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	// Name is the server's name.
	Name string `json:"name"`

	// Version is the server's version.
	Version string `json:"version,omitempty"`
}

// ServerCapabilities describes what the server supports.
type ServerCapabilities struct {
	// TextDocumentSync describes how documents are synced.
	TextDocumentSync interface{} `json:"textDocumentSync,omitempty"`

	// DefinitionProvider indicates textDocument/definition is supported.
	DefinitionProvider interface{} `json:"definitionProvider,omitempty"`

	// TypeDefinitionProvider indicates textDocument/typeDefinition is supported.
	TypeDefinitionProvider interface{} `json:"typeDefinitionProvider,omitempty"`

	// HoverProvider indicates textDocument/hover is supported.
	HoverProvider interface{} `json:"hoverProvider,omitempty"`

	// InlayHintProvider indicates textDocument/inlayHint is supported.
	InlayHintProvider interface{} `json:"inlayHintProvider,omitempty"`
}

// HasDefinitionProvider returns true if definition is supported.
func (c *ServerCapabilities) HasDefinitionProvider() bool {
	return c.DefinitionProvider != nil && c.DefinitionProvider != false
}

// HasTypeDefinitionProvider returns true if typeDefinition is supported.
func (c *ServerCapabilities) HasTypeDefinitionProvider() bool {
	return c.TypeDefinitionProvider != nil && c.TypeDefinitionProvider != false
}

// HasHoverProvider returns true if hover is supported.
func (c *ServerCapabilities) HasHoverProvider() bool {
	return c.HoverProvider != nil && c.HoverProvider != false
}

// HasInlayHintProvider returns true if inlayHint is supported.
func (c *ServerCapabilities) HasInlayHintProvider() bool {
	return c.InlayHintProvider != nil && c.InlayHintProvider != false
}
