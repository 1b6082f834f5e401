// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// snapshot_dump inspects the flowgraph server's snapshot store.
//
// The server persists analyzed dataflow graphs in BadgerDB: metadata as
// JSON under flow:snapmeta:<id>, the gzip-compressed graph under
// flow:snap:<id>. This tool opens the store read-only and prints a
// human-readable summary of every snapshot: ID, document URI, label,
// sizes, TTL remaining, and whether the payload matches its recorded
// content hash.
//
// Usage:
//
//	snapshot_dump [--path /path/to/snapshot/db]
//
// If --path is not given, reads FLOWGRAPH_SNAPSHOT_DIR from the
// environment, falling back to ~/.hydro-ide/snapshots.
//
// Exit codes:
//
//	0: success (including "empty store", which prints a message and exits 0)
//	1: error opening or reading the database
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Key prefixes must match the snapshot store exactly.
const (
	snapDataPrefix = "flow:snap:"
	snapMetaPrefix = "flow:snapmeta:"
)

// snapshotMeta mirrors the store's metadata JSON.
type snapshotMeta struct {
	SnapshotID     string `json:"snapshot_id"`
	URI            string `json:"uri"`
	GraphHash      string `json:"graph_hash"`
	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	ClusterCount   int    `json:"cluster_count"`
	SchemaVersion  string `json:"schema_version"`
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

func main() {
	pathFlag := flag.String("path", "", "Path to snapshot BadgerDB directory (overrides FLOWGRAPH_SNAPSHOT_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("FLOWGRAPH_SNAPSHOT_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".hydro-ide", "snapshots")
	}

	fmt.Printf("Snapshot store path: %s\n", dbPath)

	// Check existence before trying to open, for a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Store directory does not exist. The server has not yet saved any snapshots.")
		fmt.Println("Run the flowgraph server and POST /v1/flowgraph/graph/snapshot to populate it.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		meta        snapshotMeta
		expiresAt   time.Time
		hasExpiry   bool
		payloadSize int
		payloadOK   bool
		decodeErr   error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(snapMetaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			snapshotID := strings.TrimPrefix(string(item.Key()), snapMetaPrefix)

			var e entry
			e.meta.SnapshotID = snapshotID

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy metadata: %w", err)
				entries = append(entries, e)
				continue
			}
			if err := json.Unmarshal(raw, &e.meta); err != nil {
				e.decodeErr = fmt.Errorf("decode metadata: %w", err)
				entries = append(entries, e)
				continue
			}

			// Cross-check the payload against the recorded content hash.
			// A mismatch means the store would refuse to load this one.
			payloadItem, err := txn.Get([]byte(snapDataPrefix + snapshotID))
			if err != nil {
				e.decodeErr = fmt.Errorf("payload missing: %w", err)
				entries = append(entries, e)
				continue
			}
			payload, err := payloadItem.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy payload: %w", err)
				entries = append(entries, e)
				continue
			}
			e.payloadSize = len(payload)
			sum := sha256.Sum256(payload)
			e.payloadOK = hex.EncodeToString(sum[:]) == e.meta.ContentHash

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo snapshots found.")
		fmt.Println("The store exists but nothing has been saved to it yet.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d snapshot%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	var totalCompressed int64
	for i, e := range entries {
		fmt.Printf("\n[%d] Snapshot:  %s\n", i+1, e.meta.SnapshotID)

		if e.decodeErr != nil {
			fmt.Printf("    ERROR:     %v\n", e.decodeErr)
			continue
		}

		fmt.Printf("    URI:       %s\n", e.meta.URI)
		if e.meta.Label != "" {
			fmt.Printf("    Label:     %s\n", e.meta.Label)
		}
		fmt.Printf("    Created:   %s\n", time.UnixMilli(e.meta.CreatedAtMilli).Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("    Schema:    %s\n", e.meta.SchemaVersion)
		fmt.Printf("    Graph:     %d nodes, %d edges, %d clusters (hash %s)\n",
			e.meta.NodeCount, e.meta.EdgeCount, e.meta.ClusterCount, shortHash(e.meta.GraphHash))
		fmt.Printf("    Payload:   %s, %s\n", formatBytes(e.payloadSize), integrity(e.payloadOK))

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:       EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:       %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:       no expiry set\n")
		}

		totalCompressed += int64(e.payloadSize)
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d snapshot%s, %s compressed, store path: %s\n",
		len(entries), plural(len(entries), "", "s"), formatBytes(int(totalCompressed)), dbPath)
}

// shortHash truncates a hex hash for display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// integrity renders the payload hash check result.
func integrity(ok bool) string {
	if ok {
		return "content hash OK"
	}
	return "CONTENT HASH MISMATCH"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "snapshot_dump: "+format+"\n", args...)
	os.Exit(1)
}
