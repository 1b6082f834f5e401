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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "graph",
		Name:      "builds_total",
		Help:      "Dataflow graph builds completed.",
	},
)

var buildDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "flowgraph",
		Subsystem: "graph",
		Name:      "build_duration_seconds",
		Help:      "Wall time of one graph build.",
		Buckets:   prometheus.DefBuckets,
	},
)

var edgesClassifiedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "graph",
		Name:      "edges_classified_total",
		Help:      "Edges examined by the network classifier.",
	},
)

var networkEdgesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "graph",
		Name:      "network_edges_total",
		Help:      "Edges the classifier tagged as crossing a location boundary.",
	},
)

var snapshotOpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "graph",
		Name:      "snapshot_ops_total",
		Help:      "Snapshot store operations by kind and outcome.",
	},
	[]string{"op", "outcome"},
)

const (
	opSave   = "save"
	opLoad   = "load"
	opList   = "list"
	opDelete = "delete"

	outcomeOK    = "ok"
	outcomeError = "error"
)
