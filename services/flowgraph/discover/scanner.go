// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discover finds candidate dataflow operator call sites in Rust
// source text.
//
// A candidate site is any method-style call with a receiver; free
// functions and macro invocations are not candidates. Positions point at
// the method name itself, which is where the resolver hovers. Sites are
// emitted in source order.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

var discoverTracer = otel.Tracer("hydro.discover")

// DefaultMaxSourceBytes bounds scannable source size.
const DefaultMaxSourceBytes = 1 << 20

// CallSite is one candidate operator call.
//
// Position addresses the first byte of the method name, 0-based. Columns
// are byte offsets; the operator names this pipeline resolves are ASCII,
// so they agree with the backend's character offsets.
type CallSite struct {
	// Position is the location of the method name.
	Position lsp.Position `json:"position"`

	// OperatorName is the called method's name.
	OperatorName string `json:"operatorName"`
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithMaxSourceBytes sets the source size limit. Non-positive values are
// ignored.
func WithMaxSourceBytes(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// Scanner extracts candidate call sites from Rust sources.
//
// Description:
//
//	Each Scan creates its own tree-sitter parser, so one Scanner may be
//	shared. The grammar is error-tolerant: sources with syntax errors
//	still yield the sites tree-sitter could see.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Scanner struct {
	maxBytes int
}

// NewScanner creates a Scanner with the given options.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{maxBytes: DefaultMaxSourceBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns the method-call sites in content, sorted by (line, column).
//
// Inputs:
//
//	ctx - Cancellation; checked before and after the parse
//	content - Rust source bytes, valid UTF-8
//	uri - Document identity for logging and spans
//
// Outputs:
//
//	[]CallSite - Ordered candidate sites; empty when the grammar fails.
//	error - ErrSourceTooLarge, ErrInvalidSource, or a context error.
//	        A failed parse is not an error; it logs a warning and
//	        returns an empty list.
func (s *Scanner) Scan(ctx context.Context, content []byte, uri string) ([]CallSite, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := discoverTracer.Start(ctx, "discover.Scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("discover.uri", uri),
		attribute.Int("discover.bytes", len(content)),
	)

	start := time.Now()
	defer func() { scanDuration.Observe(time.Since(start).Seconds()) }()

	if err := ctx.Err(); err != nil {
		scansTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, fmt.Errorf("scan canceled before start: %w", err)
	}
	if len(content) > s.maxBytes {
		scansTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrSourceTooLarge, len(content), s.maxBytes)
	}
	if !utf8.Valid(content) {
		scansTotal.WithLabelValues(outcomeRejected).Inc()
		return nil, ErrInvalidSource
	}

	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			scansTotal.WithLabelValues(outcomeRejected).Inc()
			return nil, fmt.Errorf("scan canceled during parse: %w", ctxErr)
		}
		scansTotal.WithLabelValues(outcomeParseFailed).Inc()
		slog.Warn("tree-sitter parse failed, no sites discovered",
			slog.String("uri", uri),
			slog.String("error", err.Error()))
		return []CallSite{}, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		scansTotal.WithLabelValues(outcomeParseFailed).Inc()
		slog.Warn("tree-sitter returned no root node", slog.String("uri", uri))
		return []CallSite{}, nil
	}
	if root.HasError() {
		slog.Debug("source has syntax errors, scanning partial tree",
			slog.String("uri", uri))
	}

	var sites []CallSite
	collectSites(root, content, &sites)

	// Pre-order traversal visits the outermost call of a chain first;
	// callers need source order.
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Position.Line != sites[j].Position.Line {
			return sites[i].Position.Line < sites[j].Position.Line
		}
		return sites[i].Position.Character < sites[j].Position.Character
	})

	scansTotal.WithLabelValues(outcomeOK).Inc()
	sitesTotal.Add(float64(len(sites)))
	span.SetAttributes(attribute.Int("discover.sites", len(sites)))
	return sites, nil
}

// collectSites appends every method-call site under node to sites.
func collectSites(node *sitter.Node, content []byte, sites *[]CallSite) {
	if node.Type() == "call_expression" {
		if site, ok := methodCallSite(node, content); ok {
			*sites = append(*sites, site)
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectSites(node.Child(i), content, sites)
	}
}

// methodCallSite extracts the site of call when it is a method-style
// call with a receiver.
func methodCallSite(call *sitter.Node, content []byte) (CallSite, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return CallSite{}, false
	}
	// Turbofish calls (x.collect::<T>()) wrap the field expression in a
	// generic_function node.
	if fn.Type() == "generic_function" {
		fn = fn.ChildByFieldName("function")
		if fn == nil {
			return CallSite{}, false
		}
	}
	if fn.Type() != "field_expression" {
		return CallSite{}, false
	}

	field := fn.ChildByFieldName("field")
	if field == nil || field.Type() != "field_identifier" {
		return CallSite{}, false
	}
	name := field.Content(content)
	if name == "" {
		return CallSite{}, false
	}

	point := field.StartPoint()
	return CallSite{
		Position: lsp.Position{
			Line:      int(point.Row),
			Character: int(point.Column),
		},
		OperatorName: name,
	}, true
}
