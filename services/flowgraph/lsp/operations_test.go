// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseLocations(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantURI string
		wantErr bool
	}{
		{
			name:  "null result",
			input: `null`,
			want:  0,
		},
		{
			name:  "empty result",
			input: ``,
			want:  0,
		},
		{
			name:    "single location",
			input:   `{"uri":"file:///proj/src/lib.rs","range":{"start":{"line":3,"character":0},"end":{"line":3,"character":6}}}`,
			want:    1,
			wantURI: "file:///proj/src/lib.rs",
		},
		{
			name:    "location array",
			input:   `[{"uri":"file:///proj/src/lib.rs","range":{"start":{"line":3,"character":0},"end":{"line":3,"character":6}}}]`,
			want:    1,
			wantURI: "file:///proj/src/lib.rs",
		},
		{
			name:    "location link array",
			input:   `[{"targetUri":"file:///cargo/hydro_lang/stream.rs","targetRange":{"start":{"line":100,"character":0},"end":{"line":200,"character":1}},"targetSelectionRange":{"start":{"line":100,"character":11},"end":{"line":100,"character":17}}}]`,
			want:    1,
			wantURI: "file:///cargo/hydro_lang/stream.rs",
		},
		{
			name:  "empty array",
			input: `[]`,
			want:  0,
		},
		{
			name:    "garbage",
			input:   `42`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locs, err := parseLocations(json.RawMessage(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLocations: %v", err)
			}
			if len(locs) != tt.want {
				t.Fatalf("got %d locations, want %d", len(locs), tt.want)
			}
			if tt.wantURI != "" && locs[0].URI != tt.wantURI {
				t.Errorf("URI = %q, want %q", locs[0].URI, tt.wantURI)
			}
		})
	}

	t.Run("link selection range wins over full range", func(t *testing.T) {
		input := `[{"targetUri":"file:///t.rs","targetRange":{"start":{"line":1,"character":0},"end":{"line":9,"character":0}},"targetSelectionRange":{"start":{"line":2,"character":4},"end":{"line":2,"character":10}}}]`
		locs, err := parseLocations(json.RawMessage(input))
		if err != nil {
			t.Fatalf("parseLocations: %v", err)
		}
		if locs[0].Range.Start.Line != 2 || locs[0].Range.Start.Character != 4 {
			t.Errorf("range start = %+v, want selection range start", locs[0].Range.Start)
		}
	})
}

func TestInlayHintLabel_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain string label",
			input: `": Stream<i32, Process<'_, Worker>, Unbounded>"`,
			want:  ": Stream<i32, Process<'_, Worker>, Unbounded>",
		},
		{
			name:  "label parts concatenate",
			input: `[{"value":": "},{"value":"Stream","location":{"uri":"file:///s.rs","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":6}}}},{"value":"<i32>"}]`,
			want:  ": Stream<i32>",
		},
		{
			name:  "empty parts",
			input: `[]`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var label InlayHintLabel
			if err := json.Unmarshal([]byte(tt.input), &label); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if label.Text != tt.want {
				t.Errorf("Text = %q, want %q", label.Text, tt.want)
			}
		})
	}

	t.Run("full hint decodes", func(t *testing.T) {
		input := `{"position":{"line":12,"character":18},"label":": KeyedStream<u64, String, Cluster<'_, Worker>>","kind":1,"paddingLeft":false}`
		var hint InlayHint
		if err := json.Unmarshal([]byte(input), &hint); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if hint.Kind != InlayHintKindType {
			t.Errorf("Kind = %d, want %d", hint.Kind, InlayHintKindType)
		}
		if hint.Position.Line != 12 {
			t.Errorf("Line = %d, want 12", hint.Position.Line)
		}
	})
}

func TestURIConversion(t *testing.T) {
	t.Run("round trip preserves path", func(t *testing.T) {
		path := "/home/user/hydro project/src/main.rs"
		uri := PathToURI(path)
		if got := URIToPath(uri); got != path {
			t.Errorf("round trip = %q, want %q", got, path)
		}
	})

	t.Run("encodes spaces", func(t *testing.T) {
		uri := PathToURI("/a b/c.rs")
		if uri != "file:///a%20b/c.rs" {
			t.Errorf("uri = %q", uri)
		}
	})

	t.Run("decodes plain uri", func(t *testing.T) {
		if got := URIToPath("file:///proj/src/main.rs"); got != "/proj/src/main.rs" {
			t.Errorf("got %q", got)
		}
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"content modified", &RPCError{Code: -32801, Message: "content modified"}, true},
		{"server error", &RPCError{Code: -32050, Message: "busy"}, true},
		{"method not found", &RPCError{Code: -32601, Message: "nope"}, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped rpc error", &RPCError{Code: -32099, Message: "closing"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRPCError_Helpers(t *testing.T) {
	if !(&RPCError{Code: -32801}).IsContentModified() {
		t.Error("expected content modified")
	}
	if !(&RPCError{Code: -32601}).IsMethodNotFound() {
		t.Error("expected method not found")
	}
	if !(&RPCError{Code: -32800}).IsRequestCancelled() {
		t.Error("expected request cancelled")
	}
	if (&RPCError{Code: -32000}).IsContentModified() {
		t.Error("server error is not content modified")
	}

	e := &RPCError{Code: -32801, Message: "content modified"}
	if e.Error() != "lsp error -32801: content modified" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestClientState_String(t *testing.T) {
	tests := []struct {
		state ClientState
		want  string
	}{
		{ClientStateUninitialized, "uninitialized"},
		{ClientStateStarting, "starting"},
		{ClientStateReady, "ready"},
		{ClientStateStopping, "stopping"},
		{ClientStateStopped, "stopped"},
		{ClientState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(ClientConfig{}, "/proj")
	if c.config.Command != "rust-analyzer" {
		t.Errorf("command = %q, want rust-analyzer", c.config.Command)
	}
	if c.limiter != nil {
		t.Error("zero rate should disable the limiter")
	}
	if c.State() != ClientStateUninitialized {
		t.Errorf("state = %v, want uninitialized", c.State())
	}

	c = NewClient(ClientConfig{RequestsPerSecond: 10}, "/proj")
	if c.limiter == nil {
		t.Error("positive rate should enable the limiter")
	}
}
