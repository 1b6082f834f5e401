// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Result Cache
// =============================================================================

var (
	// cacheHitsTotal counts lookups that found their key.
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total result cache hits",
	})

	// cacheMissesTotal counts lookups that did not.
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total result cache misses",
	})

	// cacheEvictionsTotal counts entries removed by capacity pressure.
	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowgraph",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total result cache evictions",
	})

	// cacheEntries tracks the current entry count. Instances report their
	// size after every mutation; last writer wins, so the gauge is exact
	// for the common single-session deployment only.
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowgraph",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Current result cache entry count",
	})
)

func recordHit()      { cacheHitsTotal.Inc() }
func recordMiss()     { cacheMissesTotal.Inc() }
func recordEviction() { cacheEvictionsTotal.Inc() }

func recordEntryCount(n int) { cacheEntries.Set(float64(n)) }
