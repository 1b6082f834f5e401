// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query resolves the concrete type string at a document position
// by interrogating the semantic backend.
//
// Two paths exist on purpose. Chain propagation uses ResolveHover only:
// hover is the one query rust-analyzer specializes with footnoted generic
// arguments, while typeDefinition and definition land on unspecialized
// declarations. The general ResolveAny path tries typeDefinition,
// definition, inlay hints, then hover, taking the first non-empty answer;
// it serves ad-hoc position queries where any type text beats none.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

var queryTracer = otel.Tracer("hydro.query")

// =============================================================================
// METRICS
// =============================================================================

var (
	strategyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowgraph",
			Subsystem: "query",
			Name:      "strategy_attempts_total",
			Help:      "Type resolution attempts by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	resolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowgraph",
			Subsystem: "query",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end duration of type resolution calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

const (
	outcomeHit       = "hit"
	outcomeEmpty     = "empty"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
	outcomeAbandoned = "abandoned"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Backend is the slice of the semantic backend the resolver queries.
// *lsp.Operations satisfies it.
type Backend interface {
	Hover(ctx context.Context, uri string, pos lsp.Position) (*lsp.HoverInfo, error)
	Definition(ctx context.Context, uri string, pos lsp.Position) ([]lsp.Location, error)
	TypeDefinition(ctx context.Context, uri string, pos lsp.Position) ([]lsp.Location, error)
	InlayHints(ctx context.Context, uri string, rng lsp.Range) ([]lsp.InlayHint, error)
}

// LineReader resolves one line of source text by document URI. The
// definition strategies land in files that are usually not open in the
// session (hydro_lang sources under the cargo registry), so implementations
// are expected to fall back to disk.
type LineReader interface {
	LineAt(uri string, line int) (string, bool)
}

// =============================================================================
// SERVICE
// =============================================================================

// DefaultTimeout bounds a single backend query when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// Service resolves type strings at document positions.
//
// Description:
//
//	Every backend query races against the per-query timeout. A losing
//	query is abandoned, not cancelled: the backend call keeps the parent
//	context and its late result lands in a buffered channel nobody reads.
//	Strategy failures are soft; only whole-pass cancellation propagates
//	as an error.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Service struct {
	backend Backend
	lines   LineReader
	timeout time.Duration
}

// NewService creates a Service.
//
// Inputs:
//
//	backend - The semantic backend to query
//	lines - Source line access for definition-based strategies (may be nil;
//	        those strategies then report empty)
//	timeout - Per-query budget; non-positive selects DefaultTimeout
//
// Outputs:
//
//	*Service - The resolver
func NewService(backend Backend, lines LineReader, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		backend: backend,
		lines:   lines,
		timeout: timeout,
	}
}

// Timeout returns the per-query budget.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// ResolveHover resolves a type string via hover only.
//
// Description:
//
//	The chain-propagation path. Hover responses carry specialized generic
//	arguments as footnotes; the other strategies do not, and are skipped
//	here for accuracy, not speed.
//
// Inputs:
//
//	ctx - Context for whole-pass cancellation
//	uri - Document URI
//	pos - 0-indexed position of the site
//	isMethodCall - Selects signature extraction over binding extraction
//
// Outputs:
//
//	string - Extracted type text; empty when the backend had nothing usable
//	error - Non-nil only when ctx is done
func (s *Service) ResolveHover(ctx context.Context, uri string, pos lsp.Position, isMethodCall bool) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("ctx must not be nil")
	}

	ctx, span := queryTracer.Start(ctx, "Service.ResolveHover",
		spanAttributes(uri, pos, isMethodCall))
	defer span.End()
	start := time.Now()
	defer func() { resolveDuration.WithLabelValues("hover").Observe(time.Since(start).Seconds()) }()

	text, err := s.runStrategy(ctx, "hover", func(qctx context.Context) (string, error) {
		return s.hoverText(qctx, uri, pos, isMethodCall)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", nil
	}
	return text, nil
}

// ResolveAny resolves a type string trying every strategy in order.
//
// Description:
//
//	Tries typeDefinition, then definition, then inlay hints, then hover;
//	the first non-empty text wins. Timeouts and failures on individual
//	strategies fall through.
//
// Inputs:
//
//	ctx - Context for whole-pass cancellation
//	uri - Document URI
//	pos - 0-indexed position of the site
//	isMethodCall - Forwarded to the hover fallback
//
// Outputs:
//
//	string - First non-empty type text; empty when every strategy came
//	         back empty or failed
//	error - Non-nil only when ctx is done
func (s *Service) ResolveAny(ctx context.Context, uri string, pos lsp.Position, isMethodCall bool) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("ctx must not be nil")
	}

	ctx, span := queryTracer.Start(ctx, "Service.ResolveAny",
		spanAttributes(uri, pos, isMethodCall))
	defer span.End()
	start := time.Now()
	defer func() { resolveDuration.WithLabelValues("any").Observe(time.Since(start).Seconds()) }()

	strategies := []struct {
		name string
		fn   func(context.Context) (string, error)
	}{
		{"type_definition", func(qctx context.Context) (string, error) {
			return s.typeDefinitionText(qctx, uri, pos)
		}},
		{"definition", func(qctx context.Context) (string, error) {
			return s.definitionText(qctx, uri, pos)
		}},
		{"inlay_hint", func(qctx context.Context) (string, error) {
			return s.inlayHintText(qctx, uri, pos)
		}},
		{"hover", func(qctx context.Context) (string, error) {
			return s.hoverText(qctx, uri, pos, isMethodCall)
		}},
	}

	for _, st := range strategies {
		text, err := s.runStrategy(ctx, st.name, st.fn)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			continue
		}
		if text != "" {
			span.SetAttributes(attribute.String("query.winning_strategy", st.name))
			return text, nil
		}
	}
	return "", nil
}

// =============================================================================
// TIMEOUT RACE
// =============================================================================

type strategyResult struct {
	text string
	err  error
}

// runStrategy races one backend strategy against the per-query timeout.
//
// The strategy keeps the parent context: on timeout the wait is abandoned
// and the in-flight call resolves into the buffered channel whenever the
// backend gets around to it. Nothing reads that late result.
func (s *Service) runStrategy(ctx context.Context, name string, fn func(context.Context) (string, error)) (string, error) {
	ch := make(chan strategyResult, 1)
	go func() {
		text, err := fn(ctx)
		ch <- strategyResult{text: text, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		strategyAttempts.WithLabelValues(name, outcomeAbandoned).Inc()
		return "", ctx.Err()

	case <-timer.C:
		strategyAttempts.WithLabelValues(name, outcomeTimeout).Inc()
		slog.Debug("type query strategy timed out",
			slog.String("strategy", name),
			slog.Duration("timeout", s.timeout),
		)
		return "", fmt.Errorf("%w: %s after %s", ErrQueryTimeout, name, s.timeout)

	case res := <-ch:
		if res.err != nil {
			strategyAttempts.WithLabelValues(name, outcomeError).Inc()
			slog.Debug("type query strategy failed",
				slog.String("strategy", name),
				slog.String("error", res.err.Error()),
			)
			return "", fmt.Errorf("%w: %s: %v", ErrBackendQuery, name, res.err)
		}
		if res.text == "" {
			strategyAttempts.WithLabelValues(name, outcomeEmpty).Inc()
			return "", nil
		}
		strategyAttempts.WithLabelValues(name, outcomeHit).Inc()
		return res.text, nil
	}
}

// =============================================================================
// STRATEGIES
// =============================================================================

// hoverText queries hover and extracts a type string from the markdown.
func (s *Service) hoverText(ctx context.Context, uri string, pos lsp.Position, isMethodCall bool) (string, error) {
	info, err := s.backend.Hover(ctx, uri, pos)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return ExtractTypeFromHover(info.Content, isMethodCall), nil
}

// typeDefinitionText resolves the type declaration the position points at
// and reads its declaration line.
func (s *Service) typeDefinitionText(ctx context.Context, uri string, pos lsp.Position) (string, error) {
	locs, err := s.backend.TypeDefinition(ctx, uri, pos)
	if err != nil {
		return "", err
	}
	return s.declarationAt(locs), nil
}

// definitionText resolves the symbol's definition; for a method that is
// the fn line, whose declared return type is the answer.
func (s *Service) definitionText(ctx context.Context, uri string, pos lsp.Position) (string, error) {
	locs, err := s.backend.Definition(ctx, uri, pos)
	if err != nil {
		return "", err
	}
	if len(locs) == 0 || s.lines == nil {
		return "", nil
	}
	line, ok := s.lines.LineAt(locs[0].URI, locs[0].Range.Start.Line)
	if !ok {
		return "", nil
	}
	if arrow := topLevelArrowIndex(line); arrow >= 0 {
		ret := line[arrow+2:]
		if w := topLevelWhereIndex(ret); w >= 0 {
			ret = ret[:w]
		}
		return collapseWhitespace(strings.TrimRight(ret, "{ \t")), nil
	}
	return declarationText(line), nil
}

// inlayHintText finds the type hint nearest the position on its line.
func (s *Service) inlayHintText(ctx context.Context, uri string, pos lsp.Position) (string, error) {
	rng := lsp.Range{
		Start: lsp.Position{Line: pos.Line},
		End:   lsp.Position{Line: pos.Line + 1},
	}
	hints, err := s.backend.InlayHints(ctx, uri, rng)
	if err != nil {
		return "", err
	}

	best := ""
	bestDist := -1
	for _, h := range hints {
		if h.Kind != 0 && h.Kind != lsp.InlayHintKindType {
			continue
		}
		label := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(h.Label.Text), ":"))
		if label == "" {
			continue
		}
		dist := h.Position.Character - pos.Character
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = label, dist
		}
	}
	return best, nil
}

// declarationAt reads the first location's line and strips it down to the
// declared type expression.
func (s *Service) declarationAt(locs []lsp.Location) string {
	if len(locs) == 0 || s.lines == nil {
		return ""
	}
	line, ok := s.lines.LineAt(locs[0].URI, locs[0].Range.Start.Line)
	if !ok {
		return ""
	}
	return declarationText(line)
}

// declarationText reduces a declaration line to the declared type text:
// visibility and introducer keywords dropped, alias right-hand sides
// preferred, trailing body punctuation trimmed.
func declarationText(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimSuffix(s, "{")
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "pub") {
		rest := s[3:]
		if strings.HasPrefix(rest, "(") {
			if end := strings.IndexByte(rest, ')'); end >= 0 {
				rest = rest[end+1:]
			}
		}
		s = strings.TrimSpace(rest)
	}

	alias := false
	for _, kw := range []string{"struct ", "enum ", "trait ", "union ", "type "} {
		if rest, ok := strings.CutPrefix(s, kw); ok {
			alias = kw == "type "
			s = strings.TrimSpace(rest)
			break
		}
	}
	if alias {
		if _, rhs, ok := strings.Cut(s, "="); ok {
			s = strings.TrimSpace(rhs)
		}
	}
	return collapseWhitespace(s)
}

// spanAttributes builds the common span attributes for a resolution call.
func spanAttributes(uri string, pos lsp.Position, isMethodCall bool) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("query.uri", uri),
		attribute.Int("query.line", pos.Line),
		attribute.Int("query.character", pos.Character),
		attribute.Bool("query.method_call", isMethodCall),
	)
}
