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
	"testing"
)

func TestParse_Containers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *LocationDescriptor
	}{
		{
			name:  "stream with ticked process",
			input: "Stream<(String, i32), Tick<Process<'a, Leader>>, Bounded>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 1},
		},
		{
			name:  "optional with ticked cluster",
			input: "Optional<(), Tick<Cluster<'_, Proposer>>, Bounded>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Proposer", TickDepth: 1},
		},
		{
			name:  "singleton on a process",
			input: "Singleton<usize, Process<'a, Coordinator>, Unbounded>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Coordinator", TickDepth: 0},
		},
		{
			name:  "keyed stream carries key type first",
			input: "KeyedStream<u32, String, Cluster<'a, Worker>, Unbounded, TotalOrder>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Worker", TickDepth: 0},
		},
		{
			name:  "keyed singleton carries key type first",
			input: "KeyedSingleton<u32, usize, Tick<Process<'a, Acceptor>>, Bounded>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Acceptor", TickDepth: 1},
		},
		{
			name:  "outer container wins over nested one",
			input: "Stream<Stream<i32, Process<'a, Inner>, Unbounded>, Cluster<'a, Outer>, Unbounded>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Outer", TickDepth: 0},
		},
		{
			name:  "closure element type with function arrow",
			input: "Stream<impl Fn(i32) -> bool, Process<'a, Leader>, Unbounded>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 0},
		},
		{
			name:  "location parameter is not a location",
			input: "Stream<i32, u32, Unbounded>",
			want:  nil,
		},
		{
			name:  "too few parameters",
			input: "Stream<i32>",
			want:  nil,
		},
		{
			name:  "unknown container",
			input: "Vec<Process<'a, Leader>>",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assertDescriptor(t, got, tt.want)
		})
	}
}

func TestParse_BareLocations(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *LocationDescriptor
	}{
		{
			name:  "process with lifetime and label",
			input: "Process<'a, Leader>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 0},
		},
		{
			name:  "cluster with anonymous lifetime",
			input: "Cluster<'_, Worker>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Worker", TickDepth: 0},
		},
		{
			name:  "external location",
			input: "External<'a, Client>",
			want:  &LocationDescriptor{Kind: KindExternal, Label: "Client", TickDepth: 0},
		},
		{
			name:  "bare kind without parameters",
			input: "Process",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Process", TickDepth: 0},
		},
		{
			name:  "lifetime-only parameters fall back to kind name",
			input: "Process<'a>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Process", TickDepth: 0},
		},
		{
			name:  "static lifetime is skipped",
			input: "Cluster<'static, Replica>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Replica", TickDepth: 0},
		},
		{
			name:  "shared reference",
			input: "&Cluster<'a, Worker>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Worker", TickDepth: 0},
		},
		{
			name:  "mutable reference",
			input: "&mut Tick<Process<'a, Leader>>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 1},
		},
		{
			name:  "surrounding whitespace",
			input: "  Process<'a, Leader>  ",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assertDescriptor(t, got, tt.want)
		})
	}
}

func TestParse_ScopeLayers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *LocationDescriptor
	}{
		{
			name:  "single tick",
			input: "Tick<Cluster<'_, Proposer>>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Proposer", TickDepth: 1},
		},
		{
			name:  "nested ticks accumulate",
			input: "Tick<Tick<Process<'a, Leader>>>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 2},
		},
		{
			name:  "atomic is transparent",
			input: "Atomic<Process<'a, Leader>>",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 0},
		},
		{
			name:  "tick around atomic",
			input: "Tick<Atomic<Cluster<'_, Worker>>>",
			want:  &LocationDescriptor{Kind: KindCluster, Label: "Worker", TickDepth: 1},
		},
		{
			name:  "inner whitespace between layers",
			input: "Tick< Process<'a, Leader> >",
			want:  &LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			assertDescriptor(t, got, tt.want)
		})
	}
}

func TestParse_NoLocation(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"u32",
		"String",
		"(i32, String)",
		"hydro_lang::location::process",
		"Tick<u32>",
		"&",
		"Processed<'a, X>",
	}
	for _, input := range inputs {
		if got := Parse(input); got != nil {
			t.Errorf("Parse(%q) = %+v, want nil", input, got)
		}
	}
}

// Parsing a descriptor's canonical rendering yields the descriptor back.
func TestParse_CanonicalRoundTrip(t *testing.T) {
	descs := []LocationDescriptor{
		{Kind: KindProcess, Label: "Leader", TickDepth: 0},
		{Kind: KindCluster, Label: "Proposer", TickDepth: 1},
		{Kind: KindExternal, Label: "Client", TickDepth: 0},
		{Kind: KindProcess, Label: "Process", TickDepth: 3},
	}
	for _, d := range descs {
		got := Parse(d.String())
		if got == nil {
			t.Errorf("Parse(%q) = nil, want %+v", d.String(), d)
			continue
		}
		if *got != d {
			t.Errorf("Parse(%q) = %+v, want %+v", d.String(), *got, d)
		}
	}
}

// Whitespace placement must not change the parse result.
func TestParse_WhitespaceInvariance(t *testing.T) {
	variants := []string{
		"Stream<(String, i32), Tick<Process<'a, Leader>>, Bounded>",
		"Stream<(String,i32),Tick<Process<'a,Leader>>,Bounded>",
		"Stream< (String, i32), Tick< Process<'a, Leader> >, Bounded >",
	}
	want := LocationDescriptor{Kind: KindProcess, Label: "Leader", TickDepth: 1}
	for _, v := range variants {
		got := Parse(v)
		if got == nil || *got != want {
			t.Errorf("Parse(%q) = %+v, want %+v", v, got, want)
		}
	}
}

func assertDescriptor(t *testing.T, got, want *LocationDescriptor) {
	t.Helper()
	if want == nil {
		if got != nil {
			t.Errorf("got %+v, want nil", *got)
		}
		return
	}
	if got == nil {
		t.Fatalf("got nil, want %+v", *want)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", *got, *want)
	}
}
