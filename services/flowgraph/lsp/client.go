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
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT STATE
// =============================================================================

// ClientState represents the lifecycle state of the rust-analyzer client.
type ClientState int

const (
	// ClientStateUninitialized is the initial state before Start is called.
	ClientStateUninitialized ClientState = iota

	// ClientStateStarting means the server process is starting.
	ClientStateStarting

	// ClientStateReady means the server is initialized and accepting requests.
	ClientStateReady

	// ClientStateStopping means the server is shutting down.
	ClientStateStopping

	// ClientStateStopped means the server has terminated.
	ClientStateStopped
)

// String returns a human-readable state name.
func (s ClientState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT CONFIG
// =============================================================================

// ClientConfig configures the rust-analyzer process and request pacing.
type ClientConfig struct {
	// Command is the rust-analyzer binary name or path.
	Command string

	// Args are extra command-line arguments.
	Args []string

	// RequestsPerSecond caps the request rate against the server.
	// Zero or negative disables pacing.
	RequestsPerSecond float64

	// RequestBurst is the limiter burst size.
	RequestBurst int

	// InitializationOptions are passed through the initialize handshake.
	InitializationOptions interface{}
}

// DefaultClientConfig returns the standard rust-analyzer configuration.
//
// Description:
//
//	cachePriming is left on so the first hover after startup resolves
//	against a warm index. checkOnSave is disabled: this client never
//	saves, and cargo check runs would compete for the CPU the queries
//	need.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Command:           "rust-analyzer",
		RequestsPerSecond: 50,
		RequestBurst:      10,
		InitializationOptions: map[string]interface{}{
			"checkOnSave": false,
		},
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client manages a single rust-analyzer process for one workspace root.
//
// Description:
//
//	Owns the process lifecycle: spawn, LSP initialize handshake, request
//	routing through the JSON-RPC protocol layer, and shutdown. The process
//	runs in its own process group so a wedged server is killable together
//	with its proc-macro children.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Client struct {
	config   ClientConfig
	rootPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	protocol     *Protocol
	capabilities ServerCapabilities
	serverInfo   *ServerInfo

	limiter *rate.Limiter

	state   ClientState
	stateMu sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}

	lastUsed   time.Time
	lastUsedMu sync.Mutex
}

// NewClient creates a client instance (not started).
//
// Inputs:
//
//	config - Process and pacing configuration
//	rootPath - Absolute path to the workspace root
//
// Outputs:
//
//	*Client - The configured (but not started) client
func NewClient(config ClientConfig, rootPath string) *Client {
	if config.Command == "" {
		config.Command = "rust-analyzer"
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.RequestBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &Client{
		config:   config,
		rootPath: rootPath,
		limiter:  limiter,
		state:    ClientStateUninitialized,
		readDone: make(chan struct{}),
		lastUsed: time.Now(),
	}
}

// Start starts the rust-analyzer process and initializes it.
//
// Description:
//
//	Spawns the process, establishes JSON-RPC communication, and performs
//	the LSP initialize handshake. On success the client is ready for
//	requests. Indexing continues in the background after Start returns;
//	early queries may see content-modified errors until it settles.
//
// Inputs:
//
//	ctx - Context bounding the spawn and handshake
//
// Outputs:
//
//	error - Non-nil if the server failed to start or initialize
//
// Errors:
//
//	ErrServerNotInstalled - rust-analyzer binary not found
//	ErrAlreadyStarted - Start called on a non-uninitialized client
//	ErrInitializeFailed - LSP initialize handshake failed
//
// Thread Safety:
//
//	Safe for concurrent use, but only the first caller starts the server.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	c.stateMu.Lock()
	if c.state != ClientStateUninitialized {
		c.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = ClientStateStarting
	c.stateMu.Unlock()

	path, err := exec.LookPath(c.config.Command)
	if err != nil {
		c.setState(ClientStateStopped)
		recordServerSpawn(ctx, false)
		slog.Warn("rust-analyzer not installed",
			slog.String("command", c.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, c.config.Command)
	}

	slog.Info("Starting rust-analyzer",
		slog.String("command", path),
		slog.String("root_path", c.rootPath),
	)

	// Server context outlives the caller's handshake context.
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.cmd = exec.CommandContext(c.ctx, path, c.config.Args...)
	c.cmd.Dir = c.rootPath
	configureProcAttr(c.cmd)

	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}

	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	c.stderr, err = c.cmd.StderrPipe()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := c.cmd.Start(); err != nil {
		c.cleanup()
		recordServerSpawn(ctx, false)
		return fmt.Errorf("start process: %w", err)
	}

	go c.drainStderr()

	c.protocol = NewProtocol(c.stdout, c.stdin)

	go func() {
		defer close(c.readDone)
		_ = c.protocol.ReadLoop(c.ctx)
	}()

	if err := c.initialize(ctx); err != nil {
		_ = c.Shutdown(ctx)
		recordServerSpawn(ctx, false)
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	c.setState(ClientStateReady)
	c.touchLastUsed()
	recordServerSpawn(ctx, true)

	name, version := "", ""
	if c.serverInfo != nil {
		name, version = c.serverInfo.Name, c.serverInfo.Version
	}
	slog.Info("rust-analyzer ready",
		slog.String("server", name),
		slog.String("version", version),
		slog.Bool("definition", c.capabilities.HasDefinitionProvider()),
		slog.Bool("type_definition", c.capabilities.HasTypeDefinitionProvider()),
		slog.Bool("hover", c.capabilities.HasHoverProvider()),
		slog.Bool("inlay_hint", c.capabilities.HasInlayHintProvider()),
	)

	return nil
}

// initialize performs the LSP initialize handshake.
func (c *Client) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   "file://" + c.rootPath,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{},
				Definition: &DefinitionCapabilities{
					LinkSupport: true,
				},
				TypeDefinition: &DefinitionCapabilities{
					LinkSupport: true,
				},
				Hover: &HoverCapabilities{
					ContentFormat: []string{"markdown", "plaintext"},
				},
				InlayHint: &InlayHintCapabilities{},
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{
				URI:  "file://" + c.rootPath,
				Name: "workspace",
			},
		},
	}

	if c.config.InitializationOptions != nil {
		params.InitializationOptions = c.config.InitializationOptions
	}

	resp, err := c.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo

	if err := c.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// drainStderr forwards rust-analyzer diagnostics to the log.
func (c *Client) drainStderr() {
	scanner := bufio.NewScanner(c.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Debug("rust-analyzer stderr",
			slog.String("line", scanner.Text()),
		)
	}
}

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit messages, then waits for the process to
//	terminate. An unresponsive server is killed along with its process
//	group.
//
// Inputs:
//
//	ctx - Context bounding the graceful phase
//
// Outputs:
//
//	error - Non-nil if shutdown encountered errors (server is still stopped)
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == ClientStateStopped || c.state == ClientStateStopping {
		c.stateMu.Unlock()
		return nil
	}
	c.state = ClientStateStopping
	c.stateMu.Unlock()

	slog.Info("Shutting down rust-analyzer",
		slog.String("root_path", c.rootPath),
	)

	defer c.cleanup()

	if c.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_, _ = c.protocol.SendRequest(shutdownCtx, "shutdown", nil)
		_ = c.protocol.SendNotification("exit", nil)

		c.protocol.Close()
	}

	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()

		select {
		case <-time.After(5 * time.Second):
			if err := killProcessGroup(c.cmd.Process.Pid); err != nil {
				_ = c.cmd.Process.Kill()
			}
			<-done
		case <-done:
		}
	}

	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.readDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	if c.stderr != nil {
		_ = c.stderr.Close()
	}
	c.setState(ClientStateStopped)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current client state.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Client) State() ClientState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Ready reports whether the client accepts requests.
func (c *Client) Ready() bool {
	return c.State() == ClientStateReady
}

// RootPath returns the workspace root path.
func (c *Client) RootPath() string {
	return c.rootPath
}

// Capabilities returns the capabilities reported during initialization.
// Zero value before the handshake completes.
func (c *Client) Capabilities() ServerCapabilities {
	return c.capabilities
}

// LastUsed returns when the client last sent a message.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Client) LastUsed() time.Time {
	c.lastUsedMu.Lock()
	defer c.lastUsedMu.Unlock()
	return c.lastUsed
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends an LSP request and waits for the response.
//
// Description:
//
//	Applies the rate limiter, then sends through the protocol layer.
//	Blocks until a response arrives or the context is done.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The LSP method to invoke
//	params - Method parameters
//
// Outputs:
//
//	*Response - The server's response
//	error - Non-nil if not ready, rate-limit wait aborted, or send failed
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Client) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if c.State() != ClientStateReady {
		return nil, ErrServerNotRunning
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
	}
	c.touchLastUsed()
	return c.protocol.SendRequest(ctx, method, params)
}

// Notify sends an LSP notification.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Client) Notify(method string, params interface{}) error {
	if c.State() != ClientStateReady {
		return ErrServerNotRunning
	}
	c.touchLastUsed()
	return c.protocol.SendNotification(method, params)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (c *Client) setState(state ClientState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

func (c *Client) touchLastUsed() {
	c.lastUsedMu.Lock()
	c.lastUsed = time.Now()
	c.lastUsedMu.Unlock()
}
