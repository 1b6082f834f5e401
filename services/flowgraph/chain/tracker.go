// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain resolves operator call sites to locations, propagating the
// last known location along method chains when the backend has no usable
// type information for an individual site.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hydro-project/hydro-ide/services/flowgraph/loctype"
	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

var chainTracer = otel.Tracer("hydro.chain")

var sitesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "chain",
		Name:      "sites_total",
		Help:      "Call sites processed by resolution outcome.",
	},
	[]string{"outcome"},
)

const (
	outcomeResolved  = "resolved"
	outcomeInherited = "inherited"
	outcomeSkipped   = "skipped"
	outcomeDiscarded = "discarded"
)

// =============================================================================
// TYPES
// =============================================================================

// Site is one operator call site, positioned at the operator name token.
// Sites handed to Resolve must be pre-sorted by (line, character).
type Site struct {
	// OperatorName is the called method name (e.g. "map", "send_bincode").
	OperatorName string `json:"operator_name"`

	// Range covers the operator name token in the document.
	Range lsp.Range `json:"range"`
}

// LocationInfo is the resolved placement of one call site.
//
// Description:
//
//	Created once per resolved site during a document pass and owned by the
//	pass result list; never mutated afterwards. RawType is the text the
//	location descriptor was parsed from and FullReturnType the full type
//	text the backend reported; on the hover path they coincide, and both
//	are empty for inherited entries.
type LocationInfo struct {
	// OperatorName is the called method name.
	OperatorName string `json:"operator_name"`

	// Range covers the operator name token.
	Range lsp.Range `json:"range"`

	// RawType is the type text the descriptor was parsed from. Empty when
	// the descriptor was inherited from the chain.
	RawType string `json:"raw_type,omitempty"`

	// FullReturnType is the complete return type text the backend
	// reported for the site. Empty for inherited entries.
	FullReturnType string `json:"full_return_type,omitempty"`

	// Descriptor is the resolved placement.
	Descriptor loctype.LocationDescriptor `json:"descriptor"`

	// Inherited marks entries synthesized from the previous chain
	// location rather than resolved from backend type information.
	Inherited bool `json:"inherited,omitempty"`
}

// Resolver is the hover-only type resolution the tracker performs per
// site. *query.Service satisfies it.
type Resolver interface {
	ResolveHover(ctx context.Context, uri string, pos lsp.Position, isMethodCall bool) (string, error)
}

// LineReader resolves one line of document text, used for the
// continuation-line test.
type LineReader interface {
	LineAt(uri string, line int) (string, bool)
}

// Operators is the slice of the operator taxonomy the tracker consults.
// *config.OperatorConfig satisfies it.
type Operators interface {
	IsCoreDataflow(op string) bool
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker walks a document's call sites in order, tracking chain state.
//
// Description:
//
//	A site on a line whose left-trimmed text starts with "." continues the
//	enclosing method chain. Sites that resolve to a concrete location feed
//	that location forward; continuation sites the backend cannot type
//	inherit the last chain location, provided the operator is a known
//	core-dataflow operator. The pass state lives in Resolve's frame, so a
//	single Tracker is safe for concurrent passes.
type Tracker struct {
	resolver Resolver
	lines    LineReader
	ops      Operators
}

// NewTracker creates a Tracker.
//
// Inputs:
//
//	resolver - Hover-only type resolution
//	lines - Document line access for the continuation test
//	ops - Operator taxonomy for inheritance eligibility
func NewTracker(resolver Resolver, lines LineReader, ops Operators) *Tracker {
	return &Tracker{
		resolver: resolver,
		lines:    lines,
		ops:      ops,
	}
}

// chainState is the per-pass propagation state.
type chainState struct {
	last    *loctype.LocationDescriptor
	inChain bool
}

func (s *chainState) reset() {
	s.last = nil
	s.inChain = false
}

// Resolve produces the location list for one document pass.
//
// Description:
//
//	Sites are processed strictly in order, one backend query at a time.
//	Individual query failures and unusable type text are soft: the site is
//	skipped or inherits the chain location. Only ctx cancellation aborts
//	the pass.
//
// Inputs:
//
//	ctx - Context for whole-pass cancellation. Must not be nil.
//	uri - Document URI
//	sites - Call sites pre-sorted by (line, character)
//
// Outputs:
//
//	[]LocationInfo - One entry per site that resolved or inherited a
//	location, in site order.
//	error - Non-nil only when ctx is done; the partial pass is dropped.
func (t *Tracker) Resolve(ctx context.Context, uri string, sites []Site) ([]LocationInfo, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Resolve: ctx must not be nil")
	}

	ctx, span := chainTracer.Start(ctx, "Tracker.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("chain.uri", uri),
		attribute.Int("chain.sites", len(sites)),
	)

	var (
		state chainState
		infos []LocationInfo
	)

	for _, site := range sites {
		continuation := t.isContinuationLine(uri, site.Range.Start.Line)

		// Leaving the chain invalidates the inherited location before the
		// site is even queried.
		if !continuation && state.inChain {
			state.reset()
		}

		text, err := t.resolver.ResolveHover(ctx, uri, site.Range.Start, true)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			text = ""
		}

		var desc *loctype.LocationDescriptor
		if text != "" && !isSelfLike(text) {
			desc = loctype.Parse(text)
		}

		if desc == nil {
			if state.inChain && state.last != nil && t.ops.IsCoreDataflow(site.OperatorName) {
				infos = append(infos, LocationInfo{
					OperatorName: site.OperatorName,
					Range:        site.Range,
					Descriptor:   *state.last,
					Inherited:    true,
				})
				sitesTotal.WithLabelValues(outcomeInherited).Inc()
				slog.Debug("site inherited chain location",
					slog.String("operator", site.OperatorName),
					slog.Int("line", site.Range.Start.Line),
					slog.String("location", state.last.String()))
				continue
			}
			sitesTotal.WithLabelValues(outcomeSkipped).Inc()
			continue
		}

		// A single uppercase label is an unresolved generic parameter, not
		// a real placement.
		if isGenericNoise(desc.Label) {
			sitesTotal.WithLabelValues(outcomeDiscarded).Inc()
			slog.Debug("discarded unresolved generic location",
				slog.String("operator", site.OperatorName),
				slog.String("label", desc.Label),
				slog.String("type", text))
			continue
		}

		infos = append(infos, LocationInfo{
			OperatorName:   site.OperatorName,
			Range:          site.Range,
			RawType:        text,
			FullReturnType: text,
			Descriptor:     *desc,
		})
		sitesTotal.WithLabelValues(outcomeResolved).Inc()

		if continuation {
			state.last = desc
			state.inChain = true
		} else {
			state.reset()
		}
	}

	span.SetAttributes(attribute.Int("chain.resolved", len(infos)))
	return infos, nil
}

// isContinuationLine reports whether the site's source line, left-trimmed,
// begins with ".". Unknown lines are not continuations.
func (t *Tracker) isContinuationLine(uri string, line int) bool {
	if t.lines == nil {
		return false
	}
	text, ok := t.lines.LineAt(uri, line)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(text, " \t"), ".")
}

// isSelfLike matches type text that names the receiver rather than a
// concrete type: "Self", "Self::Out", "<Self as Trait>::Out", with an
// optional reference sigil.
func isSelfLike(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "&mut ")
	s = strings.TrimPrefix(s, "&")
	return s == "Self" || strings.HasPrefix(s, "Self::") || strings.HasPrefix(s, "<Self")
}

// isGenericNoise reports whether a label is a bare single-letter type
// parameter.
func isGenericNoise(label string) bool {
	return len(label) == 1 && label[0] >= 'A' && label[0] <= 'Z'
}
