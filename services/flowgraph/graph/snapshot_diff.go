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
	"fmt"
	"sort"
)

// SnapshotDiff is the structural difference between two graph snapshots.
type SnapshotDiff struct {
	// BaseSnapshotID labels the base side of the comparison.
	BaseSnapshotID string `json:"base_snapshot_id"`

	// TargetSnapshotID labels the target side of the comparison.
	TargetSnapshotID string `json:"target_snapshot_id"`

	// NodesAdded are node IDs present in target but not in base, sorted.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are node IDs present in base but not in target,
	// sorted.
	NodesRemoved []string `json:"nodes_removed"`

	// NodesModified are same-ID nodes whose resolution changed, sorted
	// by node ID.
	NodesModified []NodeDiff `json:"nodes_modified"`

	// EdgesAdded counts edges in target but not in base.
	EdgesAdded int `json:"edges_added"`

	// EdgesRemoved counts edges in base but not in target.
	EdgesRemoved int `json:"edges_removed"`

	// EdgesModified counts edges present in both whose tag sets differ.
	EdgesModified int `json:"edges_modified"`

	// Summary aggregates the diff.
	Summary DiffSummary `json:"summary"`
}

// NodeDiff describes how one node changed between snapshots.
//
// Description:
//
//	A node ID encodes the operator name and source position, so a node
//	appearing in both snapshots is the same call site; what can differ
//	is how it resolved. "location_changed" means the site landed in a
//	different location cluster, "resolution_changed" that the reported
//	type or the inherited flag changed within the same cluster.
type NodeDiff struct {
	// NodeID is the node identity.
	NodeID string `json:"node_id"`

	// ShortLabel is the operator name.
	ShortLabel string `json:"short_label"`

	// ChangeType is "location_changed" or "resolution_changed".
	ChangeType string `json:"change_type"`
}

// DiffSummary aggregates a snapshot diff.
type DiffSummary struct {
	// TotalChanges sums node and edge changes of every kind.
	TotalChanges int `json:"total_changes"`

	// LocationsAffected counts distinct location clusters touched by a
	// node change.
	LocationsAffected int `json:"locations_affected"`

	// ChangeRatio is changed nodes over the larger node count, 0.0 to
	// 1.0.
	ChangeRatio float64 `json:"change_ratio"`
}

// Node change types.
const (
	ChangeLocation   = "location_changed"
	ChangeResolution = "resolution_changed"
)

// DiffSnapshots computes the structural difference between two graphs.
//
// Description:
//
//	Comparison is by node ID and by edge endpoint pair. Tag differences
//	on a surviving edge count as a modification. Since node IDs encode
//	operator and position, editing a call site surfaces as remove + add,
//	while re-resolving an unchanged site surfaces as a modification.
//
// Inputs:
//
//	base - Base graph. Must not be nil.
//	target - Target graph. Must not be nil.
//	baseSnapshotID - Label for the base side.
//	targetSnapshotID - Label for the target side.
//
// Outputs:
//
//	*SnapshotDiff - The computed difference, deterministically ordered.
//	error - Non-nil if either graph is nil.
func DiffSnapshots(base, target *FlowGraph, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		NodesAdded:       []string{},
		NodesRemoved:     []string{},
		NodesModified:    []NodeDiff{},
	}

	baseNodes := nodesByID(base.Nodes)
	targetNodes := nodesByID(target.Nodes)
	affectedLocations := make(map[string]struct{})

	for id, tNode := range targetNodes {
		bNode, exists := baseNodes[id]
		if !exists {
			diff.NodesAdded = append(diff.NodesAdded, id)
			affectedLocations[tNode.LocationKey] = struct{}{}
			continue
		}
		if !nodeChanged(bNode, tNode) {
			continue
		}
		affectedLocations[bNode.LocationKey] = struct{}{}
		affectedLocations[tNode.LocationKey] = struct{}{}
		diff.NodesModified = append(diff.NodesModified, NodeDiff{
			NodeID:     id,
			ShortLabel: tNode.ShortLabel,
			ChangeType: classifyNodeChange(bNode, tNode),
		})
	}
	for id, bNode := range baseNodes {
		if _, exists := targetNodes[id]; !exists {
			diff.NodesRemoved = append(diff.NodesRemoved, id)
			affectedLocations[bNode.LocationKey] = struct{}{}
		}
	}

	sort.Strings(diff.NodesAdded)
	sort.Strings(diff.NodesRemoved)
	sort.Slice(diff.NodesModified, func(i, j int) bool {
		return diff.NodesModified[i].NodeID < diff.NodesModified[j].NodeID
	})

	baseEdges := edgesByKey(base.Edges)
	targetEdges := edgesByKey(target.Edges)
	for key, tEdge := range targetEdges {
		bEdge, exists := baseEdges[key]
		switch {
		case !exists:
			diff.EdgesAdded++
		case !tagSetsEqual(bEdge.Tags, tEdge.Tags):
			diff.EdgesModified++
		}
	}
	for key := range baseEdges {
		if _, exists := targetEdges[key]; !exists {
			diff.EdgesRemoved++
		}
	}

	totalNodes := len(baseNodes)
	if len(targetNodes) > totalNodes {
		totalNodes = len(targetNodes)
	}
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)
	changeRatio := 0.0
	if totalNodes > 0 {
		changeRatio = float64(changedNodes) / float64(totalNodes)
	}

	diff.Summary = DiffSummary{
		TotalChanges:      changedNodes + diff.EdgesAdded + diff.EdgesRemoved + diff.EdgesModified,
		LocationsAffected: len(affectedLocations),
		ChangeRatio:       changeRatio,
	}
	return diff, nil
}

// nodeChanged reports whether two same-ID nodes resolved differently.
func nodeChanged(base, target GraphNode) bool {
	return base.LocationKey != target.LocationKey ||
		base.FullType != target.FullType ||
		base.Inherited != target.Inherited
}

// classifyNodeChange names the kind of change between two same-ID nodes.
func classifyNodeChange(base, target GraphNode) string {
	if base.LocationKey != target.LocationKey {
		return ChangeLocation
	}
	return ChangeResolution
}

// nodesByID indexes nodes by ID.
func nodesByID(nodes []GraphNode) map[string]GraphNode {
	m := make(map[string]GraphNode, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

// edgesByKey indexes edges by endpoint pair.
func edgesByKey(edges []GraphEdge) map[string]GraphEdge {
	m := make(map[string]GraphEdge, len(edges))
	for _, e := range edges {
		m[e.Key()] = e
	}
	return m
}

// tagSetsEqual compares tag slices as sets, ignoring order.
func tagSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
