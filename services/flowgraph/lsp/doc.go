// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp manages a rust-analyzer process and speaks LSP to it.
//
// The type resolver needs four things from rust-analyzer: hover text,
// definition and type-definition locations, and inlay type hints. This
// package owns the process (spawn, initialize handshake, shutdown), the
// JSON-RPC framing, and typed wrappers for those operations.
//
// # Components
//
//   - Client: manages the rust-analyzer process for one workspace root
//   - Protocol: handles JSON-RPC communication over stdio
//   - Operations: typed operations (Hover, Definition, TypeDefinition, InlayHints)
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	client := lsp.NewClient(lsp.DefaultClientConfig(), "/path/to/project")
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Shutdown(context.Background())
//
//	ops := lsp.NewOperations(client)
//	info, err := ops.Hover(ctx, "file:///path/to/project/src/main.rs", lsp.Position{Line: 10, Character: 14})
package lsp
