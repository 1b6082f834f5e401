// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the operator taxonomy and analysis settings that
// drive chain propagation and edge classification. Defaults are embedded;
// a per-project YAML file can override them. Configs are explicit
// instances handed to each analysis session, never process-wide state.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// configTracer traces config loading operations.
var configTracer = otel.Tracer("hydro.config")

// MaxYAMLFileSize caps override file reads. Operator taxonomies are tiny;
// anything near this limit is not a config file.
const MaxYAMLFileSize = 1 << 20

// OverrideFileName is the per-project override looked up under the project
// root.
const OverrideFileName = "flowgraph.config.yaml"

//go:embed operator_config.yaml
var defaultOperatorConfigYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// OperatorConfig is the full analysis configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type OperatorConfig struct {
	// Operators holds the named operator sets.
	Operators OperatorSets `yaml:"operators"`

	// Query holds backend query settings.
	Query QuerySettings `yaml:"query"`

	// Cache holds result cache settings.
	Cache CacheSettings `yaml:"cache"`

	// Backend holds LSP client settings.
	Backend BackendSettings `yaml:"backend"`

	networking   map[string]struct{}
	coreDataflow map[string]struct{}
	sink         map[string]struct{}
}

// OperatorSets are the ordered operator name sets. Order is preserved for
// deterministic iteration; membership checks go through the lookup maps
// built at load time.
type OperatorSets struct {
	// Networking operators move data across a location boundary.
	Networking []string `yaml:"networking"`

	// CoreDataflow operators continue a chain without changing location.
	CoreDataflow []string `yaml:"core_dataflow"`

	// Sink operators terminate a chain.
	Sink []string `yaml:"sink"`
}

// QuerySettings bound individual backend queries and analyzable input.
type QuerySettings struct {
	// TimeoutMs is the per-strategy backend query timeout in milliseconds.
	TimeoutMs int `yaml:"timeout_ms"`

	// MaxDocumentBytes rejects oversized documents before analysis.
	MaxDocumentBytes int `yaml:"max_document_bytes"`
}

// CacheSettings size the per-session result cache.
type CacheSettings struct {
	// MaxEntries is the result cache capacity.
	MaxEntries int `yaml:"max_entries"`
}

// BackendSettings throttle the LSP client.
type BackendSettings struct {
	// RequestsPerSecond caps the sustained LSP request rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// RequestBurst is the rate limiter burst size.
	RequestBurst int `yaml:"request_burst"`
}

// QueryTimeout returns the per-strategy timeout as a duration.
func (c *OperatorConfig) QueryTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutMs) * time.Millisecond
}

// IsNetworking reports whether op crosses a location boundary.
func (c *OperatorConfig) IsNetworking(op string) bool {
	_, ok := c.networking[op]
	return ok
}

// IsCoreDataflow reports whether op is eligible for chain-propagation
// inheritance.
func (c *OperatorConfig) IsCoreDataflow(op string) bool {
	_, ok := c.coreDataflow[op]
	return ok
}

// IsSink reports whether op terminates a chain.
func (c *OperatorConfig) IsSink(op string) bool {
	_, ok := c.sink[op]
	return ok
}

// NetworkingSet returns the networking lookup set. The returned map is
// shared; callers must not mutate it.
func (c *OperatorConfig) NetworkingSet() map[string]struct{} {
	return c.networking
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded default configuration.
//
// Outputs:
//
//	*OperatorConfig - The validated defaults. Never nil on success.
//	error - Non-nil only if the embedded YAML is corrupt (a build defect).
func Default() (*OperatorConfig, error) {
	return parse(defaultOperatorConfigYAML)
}

// Load returns the defaults merged with the optional per-project override.
//
// Description:
//
//	Reads <projectRoot>/flowgraph.config.yaml when present. A missing file
//	(or empty projectRoot) yields the defaults with no error; only an
//	existing-but-invalid override fails. Non-empty override lists replace
//	the corresponding default list wholesale; positive scalar overrides
//	replace the default value.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	projectRoot - Absolute project root path. May be empty.
//
// Outputs:
//
//	*OperatorConfig - The merged, validated configuration.
//	error - Non-nil if the override exists but cannot be read or parsed,
//	or if the merged config fails validation.
func Load(ctx context.Context, projectRoot string) (*OperatorConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Load: ctx must not be nil")
	}

	_, span := configTracer.Start(ctx, "config.Load")
	defer span.End()
	span.SetAttributes(attribute.String("project_root", projectRoot))

	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if projectRoot == "" {
		return cfg, nil
	}

	overridePath := filepath.Join(projectRoot, OverrideFileName)
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", OverrideFileName, err)
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%s exceeds maximum size (%d > %d)", OverrideFileName, len(data), MaxYAMLFileSize)
	}

	var override OperatorConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", OverrideFileName, err)
	}

	merge(cfg, &override)
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("validating merged config: %w", err)
	}

	slog.Info("operator config override applied",
		slog.String("path", overridePath),
		slog.Int("networking", len(cfg.Operators.Networking)),
		slog.Int("core_dataflow", len(cfg.Operators.CoreDataflow)),
		slog.Int("sink", len(cfg.Operators.Sink)))

	return cfg, nil
}

// parse unmarshals and validates a full config document.
func parse(data []byte) (*OperatorConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty config data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("config data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg OperatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge applies non-empty override fields onto base.
func merge(base, override *OperatorConfig) {
	if len(override.Operators.Networking) > 0 {
		base.Operators.Networking = override.Operators.Networking
	}
	if len(override.Operators.CoreDataflow) > 0 {
		base.Operators.CoreDataflow = override.Operators.CoreDataflow
	}
	if len(override.Operators.Sink) > 0 {
		base.Operators.Sink = override.Operators.Sink
	}
	if override.Query.TimeoutMs > 0 {
		base.Query.TimeoutMs = override.Query.TimeoutMs
	}
	if override.Query.MaxDocumentBytes > 0 {
		base.Query.MaxDocumentBytes = override.Query.MaxDocumentBytes
	}
	if override.Cache.MaxEntries > 0 {
		base.Cache.MaxEntries = override.Cache.MaxEntries
	}
	if override.Backend.RequestsPerSecond > 0 {
		base.Backend.RequestsPerSecond = override.Backend.RequestsPerSecond
	}
	if override.Backend.RequestBurst > 0 {
		base.Backend.RequestBurst = override.Backend.RequestBurst
	}
}

// finalize validates scalars and builds the membership lookup maps.
func (c *OperatorConfig) finalize() error {
	if len(c.Operators.Networking) == 0 {
		return fmt.Errorf("operators.networking must not be empty")
	}
	if len(c.Operators.CoreDataflow) == 0 {
		return fmt.Errorf("operators.core_dataflow must not be empty")
	}
	if c.Query.TimeoutMs <= 0 {
		return fmt.Errorf("query.timeout_ms must be positive, got %d", c.Query.TimeoutMs)
	}
	if c.Query.MaxDocumentBytes <= 0 {
		return fmt.Errorf("query.max_document_bytes must be positive, got %d", c.Query.MaxDocumentBytes)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Backend.RequestsPerSecond <= 0 {
		return fmt.Errorf("backend.requests_per_second must be positive, got %v", c.Backend.RequestsPerSecond)
	}
	if c.Backend.RequestBurst <= 0 {
		return fmt.Errorf("backend.request_burst must be positive, got %d", c.Backend.RequestBurst)
	}

	c.networking = toSet(c.Operators.Networking)
	c.coreDataflow = toSet(c.Operators.CoreDataflow)
	c.sink = toSet(c.Operators.Sink)
	return nil
}

// toSet builds a membership map from an ordered name list.
func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
