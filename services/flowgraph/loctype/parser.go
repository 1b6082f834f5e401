// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loctype

import (
	"log/slog"
	"strings"
)

// containerParamIndex maps known live-collection wrappers to the index of
// their location-bearing type parameter. Keyed collections carry the key
// type first, shifting the location parameter one position right.
var containerParamIndex = map[string]int{
	"Stream":         1,
	"Optional":       1,
	"Singleton":      1,
	"KeyedStream":    2,
	"KeyedSingleton": 2,
}

// scopeMarkers maps batch-scope wrapper names to whether stripping one
// increments TickDepth. Atomic marks an atomicity region, not a batch
// scope, so it is transparent.
var scopeMarkers = map[string]bool{
	"Tick":   true,
	"Atomic": false,
}

// Parse extracts a location descriptor from a Hydro generic type string.
//
// Description:
//
//	Handles the full surface the hover backend produces for live
//	collections and bare locations:
//
//	  Stream<(String, i32), Tick<Process<'a, Leader>>, Bounded>
//	    → {Process, "Leader", 1}
//	  KeyedStream<K, V, Cluster<'a, Worker>, ...>
//	    → {Cluster, "Worker", 0}
//	  Tick<Cluster<'_, Proposer>>
//	    → {Cluster, "Proposer", 1}
//	  &Process<'a, Leader>
//	    → {Process, "Leader", 0}
//
//	The walk is: strip one optional reference sigil; if the string is a
//	known container, split its parameters at top-level commas and recurse
//	into the location-bearing one; otherwise peel leading batch-scope
//	wrappers, match a location kind, and add the peeled depth back on.
//
// Outputs:
//
//	*LocationDescriptor - The resolved location, or nil when the string
//	carries none. Never panics: internal faults recover to nil with a
//	logged diagnostic carrying the original input.
//
// Thread Safety: Parse is pure; safe for concurrent use.
func Parse(typeString string) (desc *LocationDescriptor) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("recovered panic while parsing location type",
				slog.Any("panic", r),
				slog.String("input", typeString))
			desc = nil
		}
	}()

	s := strings.TrimSpace(typeString)
	if s == "" {
		return nil
	}
	s = stripRefSigil(s)

	if d := parseContainer(s); d != nil {
		return d
	}

	inner, tickDepth := stripScopeLayers(s)
	d := matchLocationKind(inner)
	if d == nil {
		return nil
	}
	d.TickDepth += tickDepth
	return d
}

// stripRefSigil removes at most one leading "&" or "&mut " from s.
func stripRefSigil(s string) string {
	if rest, ok := strings.CutPrefix(s, "&mut "); ok {
		return strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(s, "&"); ok {
		return strings.TrimSpace(rest)
	}
	return s
}

// parseContainer resolves the location parameter of a live-collection type.
// Returns nil when s is not a known container application.
func parseContainer(s string) *LocationDescriptor {
	name, params, ok := splitGeneric(s)
	if !ok {
		return nil
	}
	idx, ok := containerParamIndex[name]
	if !ok {
		return nil
	}
	parts := splitTopLevel(params)
	if idx >= len(parts) {
		slog.Warn("container type has too few parameters",
			slog.String("container", name),
			slog.Int("want_index", idx),
			slog.Int("have", len(parts)),
			slog.String("input", s))
		return nil
	}
	return Parse(parts[idx])
}

// stripScopeLayers peels leading batch-scope wrappers from s, returning the
// innermost expression and the number of tick-counting layers removed.
func stripScopeLayers(s string) (string, uint) {
	var depth uint
	for {
		name, inner, ok := splitGeneric(s)
		if !ok {
			return s, depth
		}
		countsTick, marker := scopeMarkers[name]
		if !marker {
			return s, depth
		}
		s = strings.TrimSpace(inner)
		if countsTick {
			depth++
		}
	}
}

// matchLocationKind matches s against the location-kind grammar.
//
// Priority order: a kind applied to parameters yields the first
// non-lifetime top-level parameter as the label; a kind with no
// extractable parameter (lifetimes only, empty list, or no angle block at
// all) yields the kind name itself.
func matchLocationKind(s string) *LocationDescriptor {
	for _, kind := range locationKinds {
		name := string(kind)
		if s == name {
			return &LocationDescriptor{Kind: kind, Label: name}
		}
		if !strings.HasPrefix(s, name+"<") {
			continue
		}
		inner, _ := matchAngleBlock(s, len(name))
		label := firstNonLifetimeParam(inner)
		if label == "" {
			label = name
		}
		return &LocationDescriptor{Kind: kind, Label: label}
	}
	return nil
}

// firstNonLifetimeParam returns the first top-level parameter of a generic
// argument list that is not a lifetime ('a, '_, 'static). Empty string when
// none exists.
func firstNonLifetimeParam(params string) string {
	for _, p := range splitTopLevel(params) {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "'") {
			continue
		}
		return p
	}
	return ""
}
