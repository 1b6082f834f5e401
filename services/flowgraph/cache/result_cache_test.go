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
	"fmt"
	"sync"
	"testing"
)

func TestResultCache_GetSet(t *testing.T) {
	c := NewResultCache[string](10)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("k1", "v1", nil)
	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got != "v1" {
		t.Errorf("got %q, want v1", got)
	}

	c.Set("k1", "v2", nil)
	got, _ = c.Get("k1")
	if got != "v2" {
		t.Errorf("overwrite: got %q, want v2", got)
	}
	if c.Size() != 1 {
		t.Errorf("size = %d after overwrite, want 1", c.Size())
	}
}

func TestResultCache_LRUEviction(t *testing.T) {
	c := NewResultCache[int](3)

	c.Set("k1", 1, nil)
	c.Set("k2", 2, nil)
	c.Set("k3", 3, nil)

	// Touch k1 so k2 becomes the least recently used.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 missing before eviction")
	}

	c.Set("k4", 4, nil)

	if c.Has("k2") {
		t.Error("k2 should have been evicted")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if !c.Has(key) {
			t.Errorf("%s should have survived eviction", key)
		}
	}
	if c.Size() != 3 {
		t.Errorf("size = %d, want 3", c.Size())
	}
}

func TestResultCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewResultCache[int](2)

	c.Set("a", 1, nil)
	c.Set("b", 2, nil)
	c.Set("a", 3, nil)

	if !c.Has("a") || !c.Has("b") {
		t.Error("overwrite must not evict")
	}

	// a was refreshed, so b is now the eviction candidate.
	c.Set("c", 4, nil)
	if c.Has("b") {
		t.Error("b should have been evicted")
	}
	if !c.Has("a") || !c.Has("c") {
		t.Error("a and c should be present")
	}
}

func TestResultCache_GetEntry(t *testing.T) {
	c := NewResultCache[string](2)

	c.Set("k1", "v1", map[string]string{"scope": "document"})

	entry, ok := c.GetEntry("k1")
	if !ok {
		t.Fatal("expected entry")
	}
	if entry.Value != "v1" {
		t.Errorf("value = %q, want v1", entry.Value)
	}
	if entry.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if entry.Metadata["scope"] != "document" {
		t.Errorf("metadata = %v", entry.Metadata)
	}

	if _, ok := c.GetEntry("absent"); ok {
		t.Error("expected no entry for absent key")
	}

	// GetEntry must not refresh recency: k1 stays the eviction candidate.
	c.Set("k2", "v2", nil)
	c.GetEntry("k1")
	c.Set("k3", "v3", nil)
	if c.Has("k1") {
		t.Error("GetEntry must not protect k1 from eviction")
	}

	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("GetEntry must not count: hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}

func TestResultCache_Keys(t *testing.T) {
	c := NewResultCache[int](5)
	c.Set("k1", 1, nil)
	c.Set("k2", 2, nil)
	c.Set("k3", 3, nil)
	c.Get("k1")

	keys := c.Keys()
	want := []string{"k1", "k3", "k2"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestResultCache_ClearPrefix(t *testing.T) {
	c := NewResultCache[int](10)

	uriA := "file:///work/src/main.rs"
	uriB := "file:///work/src/lib.rs"
	c.Set(MakeKey(uriA, 1, "document", ""), 1, nil)
	c.Set(MakeKey(uriA, 2, "document", ""), 2, nil)
	c.Set(MakeKey(uriA, 2, "workspace", "/work/src/main.rs"), 3, nil)
	c.Set(MakeKey(uriB, 7, "document", ""), 4, nil)

	removed := c.ClearPrefix(DocumentPrefix(uriA))
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if c.Size() != 1 {
		t.Errorf("size = %d, want 1", c.Size())
	}
	if !c.Has(MakeKey(uriB, 7, "document", "")) {
		t.Error("other document must survive")
	}

	if removed := c.ClearPrefix(DocumentPrefix("file:///nope.rs")); removed != 0 {
		t.Errorf("removed = %d for unknown prefix, want 0", removed)
	}
}

func TestResultCache_ClearAndClearAll(t *testing.T) {
	c := NewResultCache[int](10)
	c.Set("k1", 1, nil)
	c.Set("k2", 2, nil)
	c.Get("k1")
	c.Get("absent")

	c.Clear("k1")
	if c.Has("k1") {
		t.Error("k1 still present after Clear")
	}
	c.Clear("never-existed")

	c.ClearAll()
	if c.Size() != 0 {
		t.Errorf("size = %d after ClearAll, want 0", c.Size())
	}
	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("counters not reset: hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}

func TestResultCache_SetMaxSize(t *testing.T) {
	c := NewResultCache[int](5)
	for i := 1; i <= 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, nil)
	}
	c.Get("k1")

	c.SetMaxSize(2)
	if c.Size() != 2 {
		t.Fatalf("size = %d after shrink, want 2", c.Size())
	}
	if !c.Has("k1") || !c.Has("k5") {
		t.Errorf("most recently used keys should survive, have %v", c.Keys())
	}

	c.SetMaxSize(0)
	if c.Stats().MaxSize != DefaultMaxSize {
		t.Errorf("max size = %d, want default %d", c.Stats().MaxSize, DefaultMaxSize)
	}
}

func TestResultCache_Stats(t *testing.T) {
	c := NewResultCache[int](0)

	stats := c.Stats()
	if stats.MaxSize != DefaultMaxSize {
		t.Errorf("max size = %d, want default %d", stats.MaxSize, DefaultMaxSize)
	}
	if stats.HitRate != 0 {
		t.Errorf("hit rate = %f before any lookup, want 0", stats.HitRate)
	}

	c.Set("k1", 1, nil)
	c.Get("k1")
	c.Get("k1")
	c.Get("absent")
	c.Get("absent2")

	stats = c.Stats()
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("hits=%d misses=%d, want 2/2", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %f, want 0.5", stats.HitRate)
	}
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
}

func TestResultCache_Concurrent(t *testing.T) {
	c := NewResultCache[int](50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*7+i)%60)
				c.Set(key, i, nil)
				c.Get(key)
				if i%20 == 0 {
					c.ClearPrefix("k1")
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Size() > 50 {
		t.Errorf("size = %d exceeds capacity 50", c.Size())
	}
}
