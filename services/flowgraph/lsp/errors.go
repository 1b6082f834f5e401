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
	"errors"
	"fmt"
)

// Sentinel errors for the rust-analyzer client.
var (
	// ErrServerNotRunning indicates the server is not in a ready state.
	ErrServerNotRunning = errors.New("rust-analyzer not running")

	// ErrServerNotInstalled indicates the rust-analyzer binary was not found.
	ErrServerNotInstalled = errors.New("rust-analyzer not installed")

	// ErrInitializeFailed indicates the LSP initialize handshake failed.
	ErrInitializeFailed = errors.New("lsp initialize failed")

	// ErrRequestTimeout indicates the LSP request exceeded the timeout.
	ErrRequestTimeout = errors.New("lsp request timeout")

	// ErrServerCrashed indicates the server process terminated unexpectedly.
	ErrServerCrashed = errors.New("rust-analyzer crashed")

	// ErrInvalidResponse indicates the LSP response could not be parsed.
	ErrInvalidResponse = errors.New("invalid lsp response")

	// ErrAlreadyStarted indicates Start was called on a running client.
	ErrAlreadyStarted = errors.New("rust-analyzer already started")
)

// RPCError represents an error returned by rust-analyzer via JSON-RPC.
//
// Codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32600: Invalid request
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32099 to -32000: Server error (reserved)
//   - -32002: Server not initialized
//   - -32800: Request cancelled
//   - -32801: Content modified
//   - -32802: Server cancelled
type RPCError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("lsp error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *RPCError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *RPCError) IsRequestCancelled() bool {
	return e.Code == -32800
}

// IsContentModified returns true if the document changed while the request
// was in flight. rust-analyzer returns this while reindexing; callers
// generally retry or fall through to the next resolution strategy.
func (e *RPCError) IsContentModified() bool {
	return e.Code == -32801
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *RPCError) IsServerNotInitialized() bool {
	return e.Code == -32002
}
