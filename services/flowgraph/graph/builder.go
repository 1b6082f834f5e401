// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hydro-project/hydro-ide/services/flowgraph/chain"
)

var graphTracer = otel.Tracer("hydro.graph")

// LineReader resolves one line of document text, used for the chain
// continuation test. *document.Store satisfies it.
type LineReader interface {
	LineAt(uri string, line int) (string, bool)
}

// Builder assembles FlowGraphs from resolved call sites.
//
// Thread Safety: Builder is stateless between calls; safe for concurrent
// use.
type Builder struct {
	lines LineReader
}

// NewBuilder creates a Builder.
//
// Inputs:
//
//	lines - Document line access for the continuation test. May be nil,
//	in which case no chain edges are produced.
func NewBuilder(lines LineReader) *Builder {
	return &Builder{lines: lines}
}

// Build assembles the dataflow graph for one document pass.
//
// Description:
//
//	One node per location entry, in input order. An edge links
//	consecutive sites of one method chain: a site on a continuation line
//	(left-trimmed text starts with ".") extends the chain of the previous
//	continuation site, and any other site breaks the chain. The
//	continuation test is the same one the chain tracker applies, so
//	edges follow exactly the runs that location inheritance flows along.
//	Nodes sharing a location descriptor are grouped into one cluster, in
//	first-seen order.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	uri - Document URI the entries came from
//	infos - Resolved locations in site order
//
// Outputs:
//
//	*FlowGraph - The assembled graph. Slices are always non-nil.
//	error - Non-nil only for a nil ctx.
func (b *Builder) Build(ctx context.Context, uri string, infos []chain.LocationInfo) (*FlowGraph, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Build: ctx must not be nil")
	}

	_, span := graphTracer.Start(ctx, "Builder.Build")
	defer span.End()
	span.SetAttributes(
		attribute.String("graph.uri", uri),
		attribute.Int("graph.sites", len(infos)),
	)

	start := time.Now()
	defer func() { buildDuration.Observe(time.Since(start).Seconds()) }()

	var (
		nodes      = make([]GraphNode, 0, len(infos))
		edges      = make([]GraphEdge, 0)
		clusters   = make([]LocationCluster, 0)
		clusterIdx = make(map[string]int)
		seen       = make(map[string]struct{}, len(infos))
		stats      = BuildStats{Sites: len(infos)}
		prevID     string
	)

	for _, info := range infos {
		id := NodeID(info.OperatorName, info.Range.Start)
		if _, dup := seen[id]; dup {
			slog.Warn("duplicate call site dropped from graph",
				slog.String("operator", info.OperatorName),
				slog.Int("line", info.Range.Start.Line),
				slog.Int("character", info.Range.Start.Character))
			continue
		}
		seen[id] = struct{}{}

		nodes = append(nodes, GraphNode{
			ID:            id,
			ShortLabel:    info.OperatorName,
			Range:         info.Range,
			LocationKey:   info.Descriptor.CanonicalKeyString(),
			LocationLabel: info.Descriptor.String(),
			FullType:      info.FullReturnType,
			Inherited:     info.Inherited,
		})
		if info.Inherited {
			stats.Inherited++
		} else {
			stats.Resolved++
		}

		key := info.Descriptor.CanonicalKeyString()
		if idx, ok := clusterIdx[key]; ok {
			clusters[idx].NodeIDs = append(clusters[idx].NodeIDs, id)
		} else {
			clusterIdx[key] = len(clusters)
			clusters = append(clusters, LocationCluster{
				Key:     key,
				Label:   info.Descriptor.String(),
				Kind:    string(info.Descriptor.Kind),
				NodeIDs: []string{id},
			})
		}

		if b.isContinuationLine(uri, info.Range.Start.Line) {
			if prevID != "" {
				edges = append(edges, GraphEdge{FromID: prevID, ToID: id})
			}
			prevID = id
		} else {
			prevID = ""
		}
	}

	g := &FlowGraph{
		URI:          uri,
		BuiltAtMilli: time.Now().UnixMilli(),
		Nodes:        nodes,
		Edges:        edges,
		Clusters:     clusters,
		Stats:        stats,
	}

	buildsTotal.Inc()
	span.SetAttributes(
		attribute.Int("graph.nodes", len(g.Nodes)),
		attribute.Int("graph.edges", len(g.Edges)),
		attribute.Int("graph.clusters", len(g.Clusters)),
	)
	slog.Debug("dataflow graph built",
		slog.String("uri", uri),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)),
		slog.Int("clusters", len(g.Clusters)),
		slog.Int("inherited", stats.Inherited))
	return g, nil
}

// isContinuationLine reports whether the line, left-trimmed, begins with
// ".". Unknown lines are not continuations.
func (b *Builder) isContinuationLine(uri string, line int) bool {
	if b.lines == nil {
		return false
	}
	text, ok := b.lines.LineAt(uri, line)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(text, " \t"), ".")
}
