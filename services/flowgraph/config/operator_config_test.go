// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_Embedded(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default failed on embedded YAML: %v", err)
	}

	if cfg.Query.TimeoutMs != 3000 {
		t.Errorf("expected timeout_ms = 3000, got %d", cfg.Query.TimeoutMs)
	}
	if cfg.Query.MaxDocumentBytes != 1048576 {
		t.Errorf("expected max_document_bytes = 1048576, got %d", cfg.Query.MaxDocumentBytes)
	}
	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("expected max_entries = 100, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Backend.RequestsPerSecond != 50 {
		t.Errorf("expected requests_per_second = 50, got %v", cfg.Backend.RequestsPerSecond)
	}
	if cfg.Backend.RequestBurst != 10 {
		t.Errorf("expected request_burst = 10, got %d", cfg.Backend.RequestBurst)
	}
}

func TestDefault_OperatorMembership(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	if !cfg.IsNetworking("send_bincode") {
		t.Error("send_bincode should be networking")
	}
	if !cfg.IsNetworking("broadcast_bincode") {
		t.Error("broadcast_bincode should be networking")
	}
	if cfg.IsNetworking("map") {
		t.Error("map should not be networking")
	}

	if !cfg.IsCoreDataflow("map") {
		t.Error("map should be core dataflow")
	}
	if !cfg.IsCoreDataflow("batch") {
		t.Error("batch should be core dataflow")
	}
	if cfg.IsCoreDataflow("send_bincode") {
		t.Error("send_bincode should not be core dataflow")
	}

	if !cfg.IsSink("for_each") {
		t.Error("for_each should be a sink")
	}
	if !cfg.IsSink("dest_sink") {
		t.Error("dest_sink should be a sink")
	}
	if cfg.IsSink("map") {
		t.Error("map should not be a sink")
	}

	// for_each both continues data through its closure and terminates the
	// chain; it belongs to both sets.
	if !cfg.IsCoreDataflow("for_each") {
		t.Error("for_each should also be core dataflow")
	}
}

func TestQueryTimeout(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if got := cfg.QueryTimeout(); got != 3*time.Second {
		t.Errorf("expected 3s, got %v", got)
	}
}

func TestLoad_NoOverride(t *testing.T) {
	ctx := context.Background()

	cfg, err := Load(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Load without override file: %v", err)
	}
	if cfg.Query.TimeoutMs != 3000 {
		t.Errorf("expected defaults, got timeout_ms = %d", cfg.Query.TimeoutMs)
	}

	cfg, err = Load(ctx, "")
	if err != nil {
		t.Fatalf("Load with empty root: %v", err)
	}
	if !cfg.IsNetworking("send_bincode") {
		t.Error("expected default networking set")
	}
}

func TestLoad_OverrideScalars(t *testing.T) {
	root := t.TempDir()
	override := []byte(`
query:
  timeout_ms: 500
cache:
  max_entries: 7
`)
	if err := os.WriteFile(filepath.Join(root, OverrideFileName), override, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(context.Background(), root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Query.TimeoutMs != 500 {
		t.Errorf("expected overridden timeout_ms = 500, got %d", cfg.Query.TimeoutMs)
	}
	if cfg.Cache.MaxEntries != 7 {
		t.Errorf("expected overridden max_entries = 7, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Query.MaxDocumentBytes != 1048576 {
		t.Errorf("untouched scalar changed: %d", cfg.Query.MaxDocumentBytes)
	}
	if !cfg.IsCoreDataflow("map") {
		t.Error("untouched operator list changed")
	}
}

func TestLoad_OverrideListsReplaceWholesale(t *testing.T) {
	root := t.TempDir()
	override := []byte(`
operators:
  networking:
    - my_custom_send
`)
	if err := os.WriteFile(filepath.Join(root, OverrideFileName), override, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(context.Background(), root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsNetworking("my_custom_send") {
		t.Error("override entry missing from networking set")
	}
	if cfg.IsNetworking("send_bincode") {
		t.Error("replaced list still contains default entry")
	}
	if !cfg.IsCoreDataflow("map") {
		t.Error("unrelated list was replaced")
	}
}

func TestLoad_NonPositiveScalarOverrideIgnored(t *testing.T) {
	root := t.TempDir()
	override := []byte(`
query:
  timeout_ms: -50
`)
	if err := os.WriteFile(filepath.Join(root, OverrideFileName), override, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(context.Background(), root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Query.TimeoutMs != 3000 {
		t.Errorf("non-positive override must not apply, got %d", cfg.Query.TimeoutMs)
	}
}

func TestLoad_MalformedOverride(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, OverrideFileName), []byte("operators: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(context.Background(), root); err == nil {
		t.Fatal("expected parse error for malformed override")
	}
}

func TestLoad_NilContext(t *testing.T) {
	_, err := Load(nil, "") //nolint:staticcheck // testing nil ctx
	if err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestParse_Validation(t *testing.T) {
	valid := `
operators:
  networking: [send_bincode]
  core_dataflow: [map]
  sink: [for_each]
query:
  timeout_ms: 1000
  max_document_bytes: 1024
cache:
  max_entries: 10
backend:
  requests_per_second: 5
  request_burst: 2
`
	if _, err := parse([]byte(valid)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  string
		replace string
	}{
		{"empty networking", "networking: [send_bincode]", "networking: []"},
		{"empty core dataflow", "core_dataflow: [map]", "core_dataflow: []"},
		{"zero timeout", "timeout_ms: 1000", "timeout_ms: 0"},
		{"zero document cap", "max_document_bytes: 1024", "max_document_bytes: 0"},
		{"zero cache capacity", "max_entries: 10", "max_entries: 0"},
		{"zero request rate", "requests_per_second: 5", "requests_per_second: 0"},
		{"zero burst", "request_burst: 2", "request_burst: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(valid, tt.mutate, tt.replace, 1)
			if _, err := parse([]byte(doc)); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}

	if _, err := parse(nil); err == nil {
		t.Error("expected error for empty data")
	}
}
