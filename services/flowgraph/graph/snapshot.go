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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/hydro-project/hydro-ide/services/flowgraph/storage/badger"
)

// BadgerDB key prefixes for graph snapshots.
const (
	keyPrefixSnapData = "flow:snap:"
	keyPrefixSnapMeta = "flow:snapmeta:"
)

// snapshotIDHashLen is how much of the GraphHash the snapshot ID carries.
const snapshotIDHashLen = 12

// SnapshotMetadata describes one saved graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is the storage identity: the first 12 hex characters of
	// the GraphHash, a dash, and the save time in Unix milliseconds.
	SnapshotID string `json:"snapshot_id"`

	// URI is the document the graph was built from.
	URI string `json:"uri"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is the save time in Unix milliseconds.
	CreatedAtMilli int64 `json:"created_at_milli"`

	// NodeCount, EdgeCount, and ClusterCount size the stored graph.
	NodeCount    int `json:"node_count"`
	EdgeCount    int `json:"edge_count"`
	ClusterCount int `json:"cluster_count"`

	// SchemaVersion is the serialization layout the payload was written
	// with.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the gzip payload size in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA-256 of the compressed payload, checked on
	// load.
	ContentHash string `json:"content_hash"`
}

// SnapshotStore saves and loads graph snapshots in BadgerDB.
//
// Description:
//
//	Snapshots are gzip-compressed canonical JSON under flow:snap:<id>,
//	with metadata under flow:snapmeta:<id>. An optional TTL expires both
//	keys together.
//
// Thread Safety: Safe for concurrent use; BadgerDB handles its own
// concurrency control.
type SnapshotStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
	ttl    time.Duration
}

// SnapshotOption configures a SnapshotStore.
type SnapshotOption func(*SnapshotStore)

// WithSnapshotTTL expires snapshots d after save. Non-positive d keeps
// snapshots until deleted.
func WithSnapshotTTL(d time.Duration) SnapshotOption {
	return func(s *SnapshotStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewSnapshotStore creates a SnapshotStore.
//
// Inputs:
//
//	db - An opened database. Must not be nil. The caller owns the DB
//	lifecycle.
//	logger - Logger for diagnostic output. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*SnapshotStore - The configured store.
//	error - Non-nil if db or logger is nil.
func NewSnapshotStore(db *badgerstore.DB, logger *slog.Logger, opts ...SnapshotOption) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	s := &SnapshotStore{db: db, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save persists a graph snapshot.
//
// Description:
//
//	Serializes the graph canonically, gzip-compresses it, and writes
//	data and metadata in a single transaction. The snapshot ID combines
//	the GraphHash prefix with the save time, so saving an identical
//	graph twice yields two snapshots that share a hash prefix.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	g - The graph to snapshot. Must not be nil.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*SnapshotMetadata - Metadata for the saved snapshot.
//	error - Non-nil if serialization or storage fails.
func (s *SnapshotStore) Save(ctx context.Context, g *FlowGraph, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}

	sg, err := g.ToSerializable()
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opSave, outcomeError).Inc()
		return nil, err
	}
	jsonData, err := sg.MarshalCanonical()
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opSave, outcomeError).Inc()
		return nil, err
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	payload := compressed.Bytes()

	createdAt := time.Now().UnixMilli()
	snapshotID := fmt.Sprintf("%s-%d", sg.GraphHash[:snapshotIDHashLen], createdAt)

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		URI:            g.URI,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: createdAt,
		NodeCount:      len(sg.Nodes),
		EdgeCount:      len(sg.Edges),
		ClusterCount:   len(sg.Clusters),
		SchemaVersion:  sg.SchemaVersion,
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		dataEntry := dgbadger.NewEntry([]byte(keyPrefixSnapData+snapshotID), payload)
		metaEntry := dgbadger.NewEntry([]byte(keyPrefixSnapMeta+snapshotID), metaJSON)
		if s.ttl > 0 {
			dataEntry = dataEntry.WithTTL(s.ttl)
			metaEntry = metaEntry.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(dataEntry); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.SetEntry(metaEntry); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opSave, outcomeError).Inc()
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	snapshotOpsTotal.WithLabelValues(opSave, outcomeOK).Inc()
	s.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("uri", g.URI),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize))
	return meta, nil
}

// Load retrieves a snapshot by ID.
//
// Description:
//
//	Reads data and metadata, verifies the payload against the stored
//	content hash, decompresses, and rebuilds the graph through
//	FromSerializable, which enforces schema compatibility.
//
// Outputs:
//
//	*FlowGraph - The reconstructed graph.
//	*SnapshotMetadata - The stored metadata.
//	error - ErrSnapshotNotFound if the ID is unknown, ErrCorruptSnapshot
//	if the payload fails integrity or decoding, ErrSchemaIncompatible on
//	a schema major mismatch.
func (s *SnapshotStore) Load(ctx context.Context, snapshotID string) (*FlowGraph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}

	var payload, metaJSON []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		dataItem, err := txn.Get([]byte(keyPrefixSnapData + snapshotID))
		if err != nil {
			return err
		}
		if payload, err = dataItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying data: %w", err)
		}
		metaItem, err := txn.Get([]byte(keyPrefixSnapMeta + snapshotID))
		if err != nil {
			return err
		}
		if metaJSON, err = metaItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil, nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrSnapshotNotFound)
		}
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %v: %w", snapshotID, err, ErrCorruptSnapshot)
	}
	if meta.ContentHash != "" && meta.ContentHash != hashBytes(payload) {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		return nil, nil, fmt.Errorf("integrity check failed for %s: %w", snapshotID, ErrCorruptSnapshot)
	}

	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %v: %w", snapshotID, err, ErrCorruptSnapshot)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		return nil, nil, fmt.Errorf("reading snapshot %s: %v: %w", snapshotID, err, ErrCorruptSnapshot)
	}

	var sg SerializableFlowGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		return nil, nil, fmt.Errorf("unmarshaling graph for %s: %v: %w", snapshotID, err, ErrCorruptSnapshot)
	}
	g, err := FromSerializable(&sg)
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opLoad, outcomeError).Inc()
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}

	snapshotOpsTotal.WithLabelValues(opLoad, outcomeOK).Inc()
	return g, &meta, nil
}

// List returns snapshot metadata, newest first.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	uri - Optional document filter. Empty matches all snapshots.
//	limit - Maximum results. Non-positive defaults to 100.
//
// Outputs:
//
//	[]*SnapshotMetadata - Matching snapshots ordered by save time
//	descending.
//	error - Non-nil if the read fails.
func (s *SnapshotStore) List(ctx context.Context, uri string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	var results []*SnapshotMetadata
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSnapMeta)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			item := it.Item()
			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt snapshot metadata",
					slog.String("key", string(item.Key())),
					slog.Any("error", err))
				continue
			}
			if uri != "" && meta.URI != uri {
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opList, outcomeError).Inc()
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAtMilli != results[j].CreatedAtMilli {
			return results[i].CreatedAtMilli > results[j].CreatedAtMilli
		}
		return results[i].SnapshotID < results[j].SnapshotID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	snapshotOpsTotal.WithLabelValues(opList, outcomeOK).Inc()
	return results, nil
}

// Delete removes a snapshot's data and metadata.
//
// Outputs:
//
//	error - ErrSnapshotNotFound if the ID is unknown, otherwise non-nil
//	only when the delete fails.
func (s *SnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get([]byte(keyPrefixSnapMeta + snapshotID)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(keyPrefixSnapData + snapshotID)); err != nil {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete([]byte(keyPrefixSnapMeta + snapshotID)); err != nil {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		snapshotOpsTotal.WithLabelValues(opDelete, outcomeError).Inc()
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("snapshot %s: %w", snapshotID, ErrSnapshotNotFound)
		}
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	snapshotOpsTotal.WithLabelValues(opDelete, outcomeOK).Inc()
	s.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// SnapshotHashPrefix extracts the GraphHash prefix from a snapshot ID.
// Returns the empty string when the ID has no recognizable prefix.
func SnapshotHashPrefix(snapshotID string) string {
	prefix, _, found := strings.Cut(snapshotID, "-")
	if !found || len(prefix) != snapshotIDHashLen {
		return ""
	}
	return prefix
}

// hashBytes returns the hex-encoded SHA-256 of a byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
