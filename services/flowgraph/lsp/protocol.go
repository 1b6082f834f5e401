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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the JSON-RPC protocol version used by LSP.
const JSONRPCVersion = "2.0"

// maxMessageSize caps a single message body. rust-analyzer hover and
// inlay hint payloads are large but bounded; anything past this is a
// protocol fault, not data.
const maxMessageSize = 16 << 20

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Request is a JSON-RPC request message.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC response message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is a JSON-RPC notification (no ID, no response).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// serverMessage is the envelope used to classify an incoming message:
// a response carries an ID and no method, a server-to-client request
// carries both, a notification carries only a method.
type serverMessage struct {
	ID     int64  `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
}

// =============================================================================
// PROTOCOL
// =============================================================================

// Protocol handles JSON-RPC 2.0 communication with Content-Length framing
// over a pair of byte streams.
//
// Description:
//
//	Correlates responses to requests by ID, serializes writes, and runs a
//	read loop that dispatches responses to waiting callers. Server-to-client
//	requests (rust-analyzer sends window/workDoneProgress/create during
//	indexing) are answered inline so the server never blocks on us.
//
// Thread Safety:
//
//	Safe for concurrent use. ReadLoop must run in exactly one goroutine.
type Protocol struct {
	reader *bufio.Reader
	writer io.Writer

	writeMu sync.Mutex

	nextID  atomic.Int64
	pending map[int64]chan Response
	pendMu  sync.Mutex

	closed atomic.Bool
}

// NewProtocol creates a protocol handler over the given streams.
//
// Inputs:
//
//	r - Stream carrying server output (the server's stdout)
//	w - Stream carrying client input (the server's stdin)
//
// Outputs:
//
//	*Protocol - Ready for SendRequest/SendNotification once ReadLoop runs
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
	}
}

// SendRequest sends a request and waits for the matching response.
//
// Description:
//
//	Sends a JSON-RPC request and blocks until the response arrives or the
//	context is done. A server-side error member is surfaced as *RPCError.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The LSP method (e.g. "textDocument/typeDefinition")
//	params - Method parameters, JSON-marshalled
//
// Outputs:
//
//	*Response - The server's response with Result still raw
//	error - Non-nil on write failure, timeout, or server error
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if p.closed.Load() {
		return nil, ErrServerNotRunning
	}

	id := p.nextID.Add(1)

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	respCh := make(chan Response, 1)
	p.pendMu.Lock()
	p.pending[id] = respCh
	p.pendMu.Unlock()

	defer func() {
		p.pendMu.Lock()
		delete(p.pending, id)
		p.pendMu.Unlock()
	}()

	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, ctx.Err())
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &RPCError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return &resp, nil
	}
}

// SendNotification sends a notification (no response expected).
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if p.closed.Load() {
		return ErrServerNotRunning
	}

	notif := Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
	return p.writeMessage(notif)
}

// writeMessage marshals and writes a message with Content-Length header.
func (p *Protocol) writeMessage(v interface{}) error {
	if p.writer == nil {
		return fmt.Errorf("no writer configured")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := p.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads messages from the server and dispatches them.
//
// Description:
//
//	Runs until the context is done, the stream ends, or a framing error
//	occurs. EOF on a live protocol is reported as ErrServerCrashed.
//
// Thread Safety:
//
//	Must run in a single goroutine. Safe alongside concurrent senders.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			if err == io.EOF {
				return ErrServerCrashed
			}
			if p.closed.Load() {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

// readMessage reads one Content-Length framed message body.
func (p *Protocol) readMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		// Empty line marks end of headers.
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length value %q: %w", lenStr, err)
			}
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}
	if contentLength > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds %d byte limit", contentLength, maxMessageSize)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// handleMessage classifies and dispatches one incoming message.
func (p *Protocol) handleMessage(msg json.RawMessage) {
	var head serverMessage
	if err := json.Unmarshal(msg, &head); err != nil {
		return
	}

	// Server-to-client request: answer so the server does not stall.
	if head.Method != "" && head.ID != 0 {
		p.answerServerRequest(head)
		return
	}

	// Response to one of our requests.
	if head.ID != 0 {
		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			return
		}
		p.pendMu.Lock()
		ch, ok := p.pending[resp.ID]
		p.pendMu.Unlock()

		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
		return
	}

	// Server notifications ($/progress, window/logMessage) are not needed.
}

// answerServerRequest replies to a request initiated by the server.
// Progress token creation gets a null success so indexing progress keeps
// flowing; everything else gets MethodNotFound.
func (p *Protocol) answerServerRequest(head serverMessage) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      head.ID,
	}
	switch head.Method {
	case "window/workDoneProgress/create":
		resp.Result = json.RawMessage("null")
	default:
		resp.Error = &ResponseError{
			Code:    -32601,
			Message: fmt.Sprintf("method not supported: %s", head.Method),
		}
	}
	_ = p.writeMessage(resp)
}

// Close marks the protocol as closed and fails all pending requests.
//
// Thread Safety:
//
//	Safe for concurrent use. Idempotent.
func (p *Protocol) Close() {
	if p.closed.Swap(true) {
		return
	}

	p.pendMu.Lock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Error: &ResponseError{
				Code:    -32099,
				Message: "server connection closed",
			},
		}:
		default:
		}
		delete(p.pending, id)
	}
	p.pendMu.Unlock()
}
