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
	"reflect"
	"testing"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

func classifierNodes() []GraphNode {
	ops := []string{"map", "send_bincode", "broadcast_bincode", "for_each"}
	nodes := make([]GraphNode, 0, len(ops))
	for i, op := range ops {
		pos := lsp.Position{Line: i + 1, Character: 9}
		nodes = append(nodes, GraphNode{
			ID:         NodeID(op, pos),
			ShortLabel: op,
			Range:      lsp.Range{Start: pos, End: lsp.Position{Line: i + 1, Character: 9 + len(op)}},
		})
	}
	return nodes
}

func classifierNets() map[string]struct{} {
	return map[string]struct{}{
		"send_bincode":      {},
		"broadcast_bincode": {},
	}
}

func nodeID(nodes []GraphNode, label string) string {
	for _, n := range nodes {
		if n.ShortLabel == label {
			return n.ID
		}
	}
	return ""
}

func TestClassifyEdges(t *testing.T) {
	nodes := classifierNodes()

	tests := []struct {
		name     string
		edge     GraphEdge
		wantTags []string
	}{
		{
			name:     "target networking gains receiver tags over existing",
			edge:     GraphEdge{FromID: nodeID(nodes, "map"), ToID: nodeID(nodes, "send_bincode"), Tags: []string{"custom"}},
			wantTags: []string{"custom", TagNetwork, TagNetworkTarget, TagRemoteReceiver},
		},
		{
			name:     "source networking gains sender tags",
			edge:     GraphEdge{FromID: nodeID(nodes, "send_bincode"), ToID: nodeID(nodes, "for_each")},
			wantTags: []string{TagNetwork, TagNetworkSource, TagRemoteSender},
		},
		{
			name:     "both networking gains network-to-network",
			edge:     GraphEdge{FromID: nodeID(nodes, "send_bincode"), ToID: nodeID(nodes, "broadcast_bincode")},
			wantTags: []string{TagNetwork, TagNetworkToNetwork},
		},
		{
			name:     "neither networking stays untouched",
			edge:     GraphEdge{FromID: nodeID(nodes, "map"), ToID: nodeID(nodes, "for_each")},
			wantTags: nil,
		},
		{
			name:     "unknown endpoint passes through with tags as-is",
			edge:     GraphEdge{FromID: nodeID(nodes, "map"), ToID: "0000000000000000", Tags: []string{"z", "a"}},
			wantTags: []string{"z", "a"},
		},
		{
			name:     "union never duplicates existing classification tags",
			edge:     GraphEdge{FromID: nodeID(nodes, "map"), ToID: nodeID(nodes, "send_bincode"), Tags: []string{TagNetwork}},
			wantTags: []string{TagNetwork, TagNetworkTarget, TagRemoteReceiver},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ClassifyEdges(context.Background(), []GraphEdge{tt.edge}, nodes, classifierNets())
			if len(out) != 1 {
				t.Fatalf("got %d edges, want 1", len(out))
			}
			if !reflect.DeepEqual(out[0].Tags, tt.wantTags) {
				t.Errorf("tags = %v, want %v", out[0].Tags, tt.wantTags)
			}
			if out[0].FromID != tt.edge.FromID || out[0].ToID != tt.edge.ToID {
				t.Error("classification must not change edge endpoints")
			}
		})
	}
}

func TestClassifyEdges_InputNotMutated(t *testing.T) {
	nodes := classifierNodes()
	in := []GraphEdge{
		{FromID: nodeID(nodes, "map"), ToID: nodeID(nodes, "send_bincode"), Tags: []string{"custom"}},
	}
	ClassifyEdges(context.Background(), in, nodes, classifierNets())
	if !reflect.DeepEqual(in[0].Tags, []string{"custom"}) {
		t.Errorf("input tags mutated: %v", in[0].Tags)
	}
}

func TestClassifyEdges_PreservesOrder(t *testing.T) {
	nodes := classifierNodes()
	in := []GraphEdge{
		{FromID: nodeID(nodes, "send_bincode"), ToID: nodeID(nodes, "for_each")},
		{FromID: nodeID(nodes, "map"), ToID: nodeID(nodes, "for_each")},
		{FromID: nodeID(nodes, "map"), ToID: nodeID(nodes, "send_bincode")},
	}
	out := ClassifyEdges(context.Background(), in, nodes, classifierNets())
	if len(out) != 3 {
		t.Fatalf("got %d edges, want 3", len(out))
	}
	for i := range in {
		if out[i].FromID != in[i].FromID || out[i].ToID != in[i].ToID {
			t.Errorf("edge %d reordered", i)
		}
	}
}

func TestClassifyEdges_EmptyAndNil(t *testing.T) {
	out := ClassifyEdges(context.Background(), nil, nil, nil)
	if out == nil {
		t.Fatal("result should be non-nil")
	}
	if len(out) != 0 {
		t.Errorf("got %d edges, want 0", len(out))
	}

	//nolint:staticcheck // testing nil ctx
	out = ClassifyEdges(nil, nil, nil, nil)
	if out == nil || len(out) != 0 {
		t.Error("nil ctx should still yield an empty result")
	}
}
