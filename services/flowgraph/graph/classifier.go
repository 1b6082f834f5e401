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
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// ClassifyEdges tags edges that cross between dataflow locations.
//
// Description:
//
//	An edge is examined against the operator names of its endpoint nodes.
//	When the target is a networking operator and the source is not, the
//	edge gains {network, network-target, remote-receiver}; the mirror
//	case gains {network, network-source, remote-sender}; two networking
//	endpoints gain {network, network-to-network}. Tag addition is a set
//	union with whatever tags the edge already carried; classification
//	never removes a tag. Edges whose endpoint IDs do not resolve against
//	nodes, and edges between two non-networking operators, are returned
//	unchanged.
//
// Inputs:
//
//	ctx - Context for tracing. A nil ctx is tolerated.
//	edges - Edges to classify; the input slice is not mutated.
//	nodes - Nodes the edge endpoints resolve against.
//	networkingOps - Operator names that move data between locations.
//
// Outputs:
//
//	[]GraphEdge - A new slice in input order, never nil.
func ClassifyEdges(ctx context.Context, edges []GraphEdge, nodes []GraphNode, networkingOps map[string]struct{}) []GraphEdge {
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := graphTracer.Start(ctx, "ClassifyEdges")
	defer span.End()
	span.SetAttributes(attribute.Int("graph.edges", len(edges)))

	byID := make(map[string]GraphNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	out := make([]GraphEdge, 0, len(edges))
	network := 0
	for _, e := range edges {
		from, okFrom := byID[e.FromID]
		to, okTo := byID[e.ToID]
		if !okFrom || !okTo {
			out = append(out, e)
			continue
		}

		_, fromNet := networkingOps[from.ShortLabel]
		_, toNet := networkingOps[to.ShortLabel]

		var added []string
		switch {
		case toNet && !fromNet:
			added = []string{TagNetwork, TagNetworkTarget, TagRemoteReceiver}
		case fromNet && !toNet:
			added = []string{TagNetwork, TagNetworkSource, TagRemoteSender}
		case fromNet && toNet:
			added = []string{TagNetwork, TagNetworkToNetwork}
		default:
			out = append(out, e)
			continue
		}

		e.Tags = unionTags(e.Tags, added...)
		out = append(out, e)
		network++
	}

	edgesClassifiedTotal.Add(float64(len(edges)))
	networkEdgesTotal.Add(float64(network))
	span.SetAttributes(attribute.Int("graph.network_edges", network))
	slog.Debug("edge classification complete",
		slog.Int("examined", len(edges)),
		slog.Int("network", network))
	return out
}

// unionTags merges tag sets into a sorted, duplicate-free slice.
func unionTags(existing []string, add ...string) []string {
	set := make(map[string]struct{}, len(existing)+len(add))
	for _, t := range existing {
		set[t] = struct{}{}
	}
	for _, t := range add {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
