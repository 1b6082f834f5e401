// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loctype parses Hydro generic type strings into location
// descriptors. The parser is total: malformed input yields nil, never a
// panic or an error that escapes the package.
package loctype

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// LocationKind identifies where an operator executes.
type LocationKind string

// Location kinds recognized by the parser.
const (
	// KindProcess is a single-node placement.
	KindProcess LocationKind = "Process"

	// KindCluster is a sharded group placement.
	KindCluster LocationKind = "Cluster"

	// KindExternal is a placement outside the flow (e.g. an external client).
	KindExternal LocationKind = "External"
)

// locationKinds is the match order for kind detection. Order matters only
// for determinism; the names never prefix each other.
var locationKinds = []LocationKind{KindProcess, KindCluster, KindExternal}

// Valid reports whether k is one of the recognized location kinds.
func (k LocationKind) Valid() bool {
	switch k {
	case KindProcess, KindCluster, KindExternal:
		return true
	}
	return false
}

// LocationDescriptor is the resolved placement of a dataflow operator.
//
// Description:
//
//	Kind is the placement category, Label the type parameter naming the
//	concrete process/cluster (falling back to the kind name when the type
//	had no extractable parameter), and TickDepth the number of batch-scope
//	wrappers the location was nested under.
//
// Thread Safety: LocationDescriptor is an immutable value type; safe for
// concurrent use.
type LocationDescriptor struct {
	// Kind is the placement category.
	Kind LocationKind `json:"kind"`

	// Label names the concrete placement (e.g. "Leader", "Proposer").
	// Never empty: defaults to the kind name.
	Label string `json:"label"`

	// TickDepth counts enclosing Tick<> batch scopes. Zero for top-level
	// locations.
	TickDepth uint `json:"tick_depth"`
}

// String renders the descriptor in its canonical re-parseable form, e.g.
// "Tick<Process<Leader>>" for {Process, Leader, 1}. Parsing the canonical
// form yields an identical descriptor.
func (d LocationDescriptor) String() string {
	var sb strings.Builder
	for i := uint(0); i < d.TickDepth; i++ {
		sb.WriteString("Tick<")
	}
	sb.WriteString(string(d.Kind))
	sb.WriteByte('<')
	sb.WriteString(d.Label)
	sb.WriteByte('>')
	for i := uint(0); i < d.TickDepth; i++ {
		sb.WriteByte('>')
	}
	return sb.String()
}

// CanonicalKey returns a stable 64-bit identity for the descriptor.
//
// Description:
//
//	Equal descriptors always produce equal keys; distinct descriptors
//	produce distinct keys with overwhelming probability, since the key is
//	an xxhash64 rather than a collision-free encoding. Used to group
//	graph nodes into location clusters and to build node identities.
func (d LocationDescriptor) CanonicalKey() uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s\x00%s\x00%d", d.Kind, d.Label, d.TickDepth))
}

// CanonicalKeyString returns CanonicalKey as fixed-width hex, suitable for
// use in map keys and serialized cluster IDs.
func (d LocationDescriptor) CanonicalKeyString() string {
	return fmt.Sprintf("%016x", d.CanonicalKey())
}
