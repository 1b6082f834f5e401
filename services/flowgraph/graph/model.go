// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph assembles resolved operator call sites into a dataflow
// graph: one node per site, edges along method chains, nodes grouped into
// location clusters. The package also classifies cross-location edges,
// serializes graphs deterministically, and persists snapshots in Badger.
package graph

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

// =============================================================================
// EDGE TAGS
// =============================================================================

// Edge tags applied by the classifier. A classified edge keeps every tag it
// already carried; classification only adds.
const (
	// TagNetwork marks any edge that crosses a location boundary.
	TagNetwork = "network"

	// TagNetworkSource marks an edge whose source operator is a
	// networking operator.
	TagNetworkSource = "network-source"

	// TagNetworkTarget marks an edge whose target operator is a
	// networking operator.
	TagNetworkTarget = "network-target"

	// TagNetworkToNetwork marks an edge between two networking operators.
	TagNetworkToNetwork = "network-to-network"

	// TagRemoteSender marks the sending half of a cross-location hop.
	TagRemoteSender = "remote-sender"

	// TagRemoteReceiver marks the receiving half of a cross-location hop.
	TagRemoteReceiver = "remote-receiver"
)

// =============================================================================
// TYPES
// =============================================================================

// GraphNode is one operator call site placed in the dataflow graph.
//
// Description:
//
//	ID is derived from the operator name and source position and is stable
//	across rebuilds of an unchanged document. ShortLabel is the operator
//	name as written; LocationKey and LocationLabel identify the resolved
//	location cluster the node belongs to.
type GraphNode struct {
	// ID is the stable node identity, NodeID(ShortLabel, Range.Start).
	ID string `json:"id"`

	// ShortLabel is the operator name (e.g. "map", "send_bincode").
	ShortLabel string `json:"short_label"`

	// Range covers the operator name token in the source document.
	Range lsp.Range `json:"range"`

	// LocationKey is the canonical key of the node's location descriptor.
	LocationKey string `json:"location_key"`

	// LocationLabel is the descriptor's display form, e.g.
	// "Tick<Cluster<Worker>>".
	LocationLabel string `json:"location_label"`

	// FullType is the complete return type the backend reported. Empty
	// when the location was inherited from the chain.
	FullType string `json:"full_type,omitempty"`

	// Inherited marks nodes whose location was propagated along the
	// method chain rather than resolved from type information.
	Inherited bool `json:"inherited,omitempty"`
}

// GraphEdge is a directed dataflow edge between two nodes.
type GraphEdge struct {
	// FromID is the source node ID.
	FromID string `json:"from_id"`

	// ToID is the target node ID.
	ToID string `json:"to_id"`

	// Tags carries edge annotations such as network classification.
	// Classified edges hold sorted, duplicate-free tags.
	Tags []string `json:"tags,omitempty"`
}

// Key returns the edge identity used for diffing and duplicate detection.
// Tags do not participate.
func (e GraphEdge) Key() string {
	return e.FromID + "|" + e.ToID
}

// LocationCluster groups the nodes that share one resolved location.
type LocationCluster struct {
	// Key is the location descriptor's canonical key.
	Key string `json:"key"`

	// Label is the descriptor's display form.
	Label string `json:"label"`

	// Kind is the placement category ("Process", "Cluster", "External").
	Kind string `json:"kind"`

	// NodeIDs lists member nodes in source order.
	NodeIDs []string `json:"node_ids"`
}

// BuildStats counts what one build consumed and produced.
type BuildStats struct {
	// Sites is the number of resolved call sites fed to the builder.
	Sites int `json:"sites"`

	// Resolved counts sites whose location came from backend type
	// information.
	Resolved int `json:"resolved"`

	// Inherited counts sites whose location was propagated along the
	// chain.
	Inherited int `json:"inherited"`
}

// FlowGraph is the dataflow graph of one document pass.
//
// Description:
//
//	Nodes and clusters are in source order, edges in discovery order. A
//	FlowGraph is built once and read afterwards; it is not safe to mutate
//	concurrently with readers.
type FlowGraph struct {
	// URI identifies the analyzed document.
	URI string `json:"uri"`

	// BuiltAtMilli is the build wall-clock time in Unix milliseconds.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// Nodes holds one entry per resolved call site, in source order.
	Nodes []GraphNode `json:"nodes"`

	// Edges holds the chain edges between consecutive sites.
	Edges []GraphEdge `json:"edges"`

	// Clusters groups node IDs by resolved location.
	Clusters []LocationCluster `json:"clusters"`

	// Stats describes the build that produced the graph.
	Stats BuildStats `json:"stats"`
}

// NodeID derives the stable node identity for an operator at a position.
//
// Description:
//
//	The identity hashes "op@line:char" with xxhash64 and renders it as
//	fixed-width hex. Identical sites always produce identical IDs; the
//	same operator at a different position produces a different ID.
func NodeID(operator string, pos lsp.Position) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%s@%d:%d", operator, pos.Line, pos.Character)))
}
