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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/mod/semver"
)

// SchemaVersion identifies the serialized graph layout. Bump the major on
// any change a reader of the previous layout cannot tolerate.
const SchemaVersion = "1.0"

// SerializableFlowGraph is the deterministic wire and storage form of a
// FlowGraph.
//
// Description:
//
//	Nodes are sorted by ID, edges by (from, to), clusters by key, so
//	marshaling the same graph always yields the same bytes. GraphHash is
//	the SHA-256 of the identity fields (schema version, URI, nodes,
//	edges, clusters); build time and stats never affect it, so an
//	unchanged document rebuilt later hashes identically.
type SerializableFlowGraph struct {
	SchemaVersion string            `json:"schema_version"`
	URI           string            `json:"uri"`
	BuiltAtMilli  int64             `json:"built_at_milli"`
	GraphHash     string            `json:"graph_hash"`
	Nodes         []GraphNode       `json:"nodes"`
	Edges         []GraphEdge       `json:"edges"`
	Clusters      []LocationCluster `json:"clusters"`
	Stats         BuildStats        `json:"stats"`
}

// graphIdentity is the GraphHash input.
type graphIdentity struct {
	SchemaVersion string            `json:"schema_version"`
	URI           string            `json:"uri"`
	Nodes         []GraphNode       `json:"nodes"`
	Edges         []GraphEdge       `json:"edges"`
	Clusters      []LocationCluster `json:"clusters"`
}

// ToSerializable converts the graph to its deterministic serialized form.
//
// Outputs:
//
//	*SerializableFlowGraph - Sorted copy with GraphHash populated. The
//	receiver is not modified.
//	error - Non-nil if the graph cannot be marshaled for hashing.
func (g *FlowGraph) ToSerializable() (*SerializableFlowGraph, error) {
	sg := &SerializableFlowGraph{
		SchemaVersion: SchemaVersion,
		URI:           g.URI,
		BuiltAtMilli:  g.BuiltAtMilli,
		Nodes:         append([]GraphNode(nil), g.Nodes...),
		Edges:         append([]GraphEdge(nil), g.Edges...),
		Clusters:      append([]LocationCluster(nil), g.Clusters...),
		Stats:         g.Stats,
	}
	if sg.Nodes == nil {
		sg.Nodes = []GraphNode{}
	}
	if sg.Edges == nil {
		sg.Edges = []GraphEdge{}
	}
	if sg.Clusters == nil {
		sg.Clusters = []LocationCluster{}
	}

	sort.Slice(sg.Nodes, func(i, j int) bool { return sg.Nodes[i].ID < sg.Nodes[j].ID })
	sort.Slice(sg.Edges, func(i, j int) bool {
		if sg.Edges[i].FromID != sg.Edges[j].FromID {
			return sg.Edges[i].FromID < sg.Edges[j].FromID
		}
		return sg.Edges[i].ToID < sg.Edges[j].ToID
	})
	sort.Slice(sg.Clusters, func(i, j int) bool { return sg.Clusters[i].Key < sg.Clusters[j].Key })

	identity, err := json.Marshal(graphIdentity{
		SchemaVersion: sg.SchemaVersion,
		URI:           sg.URI,
		Nodes:         sg.Nodes,
		Edges:         sg.Edges,
		Clusters:      sg.Clusters,
	})
	if err != nil {
		return nil, fmt.Errorf("hashing graph: %w", err)
	}
	sum := sha256.Sum256(identity)
	sg.GraphHash = hex.EncodeToString(sum[:])
	return sg, nil
}

// MarshalCanonical renders the serialized form as compact deterministic
// JSON.
func (sg *SerializableFlowGraph) MarshalCanonical() ([]byte, error) {
	data, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}
	return data, nil
}

// FromSerializable validates a serialized graph and rebuilds the runtime
// form.
//
// Description:
//
//	The schema major version must match this build's. Node IDs must be
//	non-empty and unique and edge endpoints non-empty; edges referring to
//	node IDs absent from the payload are tolerated, since the classifier
//	passes such edges through unchanged. Node, edge, and cluster order
//	follows the serialized form.
//
// Outputs:
//
//	*FlowGraph - The rebuilt graph.
//	error - ErrSchemaIncompatible on a major version mismatch,
//	ErrInvalidGraphPayload on structural problems.
func FromSerializable(sg *SerializableFlowGraph) (*FlowGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("nil payload: %w", ErrInvalidGraphPayload)
	}
	if err := checkSchemaVersion(sg.SchemaVersion); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(sg.Nodes))
	for _, n := range sg.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node with empty id: %w", ErrInvalidGraphPayload)
		}
		if _, dup := seen[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q: %w", n.ID, ErrInvalidGraphPayload)
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range sg.Edges {
		if e.FromID == "" || e.ToID == "" {
			return nil, fmt.Errorf("edge with empty endpoint: %w", ErrInvalidGraphPayload)
		}
	}
	for _, c := range sg.Clusters {
		if c.Key == "" {
			return nil, fmt.Errorf("cluster with empty key: %w", ErrInvalidGraphPayload)
		}
	}

	return &FlowGraph{
		URI:          sg.URI,
		BuiltAtMilli: sg.BuiltAtMilli,
		Nodes:        append([]GraphNode(nil), sg.Nodes...),
		Edges:        append([]GraphEdge(nil), sg.Edges...),
		Clusters:     append([]LocationCluster(nil), sg.Clusters...),
		Stats:        sg.Stats,
	}, nil
}

// checkSchemaVersion enforces major-version compatibility between a stored
// graph and this build.
func checkSchemaVersion(version string) error {
	if version == "" {
		return fmt.Errorf("missing schema version: %w", ErrInvalidGraphPayload)
	}
	stored := semver.Major("v" + version)
	if stored == "" {
		return fmt.Errorf("unparsable schema version %q: %w", version, ErrInvalidGraphPayload)
	}
	if stored != semver.Major("v"+SchemaVersion) {
		return fmt.Errorf("stored schema %s, supported %s: %w", version, SchemaVersion, ErrSchemaIncompatible)
	}
	return nil
}
