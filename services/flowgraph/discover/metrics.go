// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discover

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Site Discovery
// =============================================================================

var (
	// scansTotal counts scans by outcome: ok, parse_failed, rejected.
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "discover",
		Name:      "scans_total",
		Help:      "Total document scans by outcome",
	}, []string{"outcome"})

	// sitesTotal counts call sites discovered across all scans.
	sitesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "discover",
		Name:      "sites_total",
		Help:      "Total candidate call sites discovered",
	})

	// scanDuration observes end-to-end scan latency.
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowgraph",
		Subsystem: "discover",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end duration of document scans",
		Buckets:   prometheus.DefBuckets,
	})
)

const (
	outcomeOK          = "ok"
	outcomeParseFailed = "parse_failed"
	outcomeRejected    = "rejected"
)
