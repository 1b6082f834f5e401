// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Document Store and Watcher
// =============================================================================

var (
	// documentsOpen tracks the number of open documents. Reported after
	// every open/close; last writer wins across stores.
	documentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowgraph",
		Subsystem: "document",
		Name:      "open",
		Help:      "Current number of open documents",
	})

	// diskFallbackTotal counts file reads served by the disk fallback.
	diskFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "document",
		Name:      "disk_fallback_total",
		Help:      "Total line lookups resolved by reading from disk",
	})

	// watcherEventsTotal counts raw filesystem events accepted after
	// ignore filtering.
	watcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "document",
		Name:      "watcher_events_total",
		Help:      "Total filesystem events accepted by the watcher",
	})

	// watcherBatchesTotal counts debounced change batches delivered to
	// the handler.
	watcherBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "document",
		Name:      "watcher_batches_total",
		Help:      "Total debounced change batches delivered",
	})
)
