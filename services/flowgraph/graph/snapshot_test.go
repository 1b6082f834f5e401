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
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/hydro-project/hydro-ide/services/flowgraph/storage/badger"
)

// newTestDB opens an in-memory database.
func newTestDB(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSnapshotStore(t *testing.T, opts ...SnapshotOption) *SnapshotStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := NewSnapshotStore(newTestDB(t), logger, opts...)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	return store
}

func TestNewSnapshotStore_NilArguments(t *testing.T) {
	if _, err := NewSnapshotStore(nil, slog.Default()); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := NewSnapshotStore(newTestDB(t), nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	g := serializationFixture()

	meta, err := store.Save(ctx, g, "before refactor")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	sg, err := g.ToSerializable()
	if err != nil {
		t.Fatalf("ToSerializable: %v", err)
	}
	if !strings.HasPrefix(meta.SnapshotID, sg.GraphHash[:snapshotIDHashLen]+"-") {
		t.Errorf("snapshot id %q should start with the graph hash prefix", meta.SnapshotID)
	}
	if meta.URI != g.URI {
		t.Errorf("uri = %q, want %q", meta.URI, g.URI)
	}
	if meta.GraphHash != sg.GraphHash {
		t.Errorf("graph hash = %q, want %q", meta.GraphHash, sg.GraphHash)
	}
	if meta.Label != "before refactor" {
		t.Errorf("label = %q", meta.Label)
	}
	if meta.NodeCount != 3 || meta.EdgeCount != 2 || meta.ClusterCount != 2 {
		t.Errorf("counts = %d/%d/%d", meta.NodeCount, meta.EdgeCount, meta.ClusterCount)
	}
	if meta.SchemaVersion != SchemaVersion {
		t.Errorf("schema = %q", meta.SchemaVersion)
	}
	if meta.CompressedSize <= 0 || meta.ContentHash == "" {
		t.Error("payload accounting missing")
	}

	loaded, loadedMeta, err := store.Load(ctx, meta.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedMeta.SnapshotID != meta.SnapshotID {
		t.Errorf("loaded meta id = %q", loadedMeta.SnapshotID)
	}
	reloaded, err := loaded.ToSerializable()
	if err != nil {
		t.Fatalf("ToSerializable: %v", err)
	}
	if reloaded.GraphHash != sg.GraphHash {
		t.Errorf("loaded graph hash = %q, want %q", reloaded.GraphHash, sg.GraphHash)
	}
	if loaded.Stats != g.Stats {
		t.Errorf("loaded stats = %+v", loaded.Stats)
	}
}

func TestSnapshotStore_SaveWithTTLStillLoads(t *testing.T) {
	store := newTestSnapshotStore(t, WithSnapshotTTL(time.Hour))
	ctx := context.Background()

	meta, err := store.Save(ctx, serializationFixture(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, _, err := store.Load(ctx, meta.SnapshotID); err != nil {
		t.Fatalf("Load before expiry: %v", err)
	}
}

func TestSnapshotStore_LoadUnknown(t *testing.T) {
	store := newTestSnapshotStore(t)
	_, _, err := store.Load(context.Background(), "deadbeefdead-1")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotStore_LoadCorruptPayload(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()
	meta, err := store.Save(ctx, serializationFixture(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	err = store.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(keyPrefixSnapData+meta.SnapshotID), []byte("not gzip"))
	})
	if err != nil {
		t.Fatalf("corrupting payload: %v", err)
	}

	_, _, err = store.Load(ctx, meta.SnapshotID)
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("err = %v, want ErrCorruptSnapshot", err)
	}
}

func TestSnapshotStore_ListFilterAndLimit(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()

	first := serializationFixture()
	second := serializationFixture()
	second.URI = "file:///w/src/other.rs"
	third := serializationFixture()
	third.Nodes[0].LocationKey = "kk9"

	var ids []string
	for _, g := range []*FlowGraph{first, second, third} {
		meta, err := store.Save(ctx, g, "")
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, meta.SnapshotID)
		// Distinct save timestamps keep list ordering observable.
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list size = %d, want 3", len(all))
	}
	if all[0].SnapshotID != ids[2] || all[2].SnapshotID != ids[0] {
		t.Errorf("list not newest-first: %s, %s, %s", all[0].SnapshotID, all[1].SnapshotID, all[2].SnapshotID)
	}

	filtered, err := store.List(ctx, "file:///w/src/other.rs", 0)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SnapshotID != ids[1] {
		t.Errorf("filtered list = %+v", filtered)
	}

	limited, err := store.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited size = %d, want 2", len(limited))
	}
}

func TestSnapshotStore_Delete(t *testing.T) {
	store := newTestSnapshotStore(t)
	ctx := context.Background()

	meta, err := store.Save(ctx, serializationFixture(), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, meta.SnapshotID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Load(ctx, meta.SnapshotID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("load after delete = %v, want ErrSnapshotNotFound", err)
	}
	if err := store.Delete(ctx, meta.SnapshotID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("second delete = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotHashPrefix(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"well formed", "a1b2c3d4e5f6-1700000000000", "a1b2c3d4e5f6"},
		{"no separator", "a1b2c3d4e5f6", ""},
		{"short prefix", "a1b2-1700000000000", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SnapshotHashPrefix(tt.id); got != tt.want {
				t.Errorf("SnapshotHashPrefix(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
