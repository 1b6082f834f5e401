// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the capacity-bounded result memoizer used to wrap
// document analysis passes, plus the textual cache-key codec shared with
// callers.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxSize is the cache capacity used when the configured value is
// zero or negative.
const DefaultMaxSize = 100

// Entry is a stored cache value with its insertion timestamp and optional
// caller-supplied metadata. Entries are owned exclusively by the cache;
// callers receive copies of the value, never the entry.
type Entry[T any] struct {
	// Value is the cached payload.
	Value T

	// Timestamp records when the entry was inserted or last overwritten.
	Timestamp time.Time

	// Metadata carries optional caller annotations (e.g. scope kind,
	// site counts). Nil when none were supplied.
	Metadata map[string]string
}

// lruRecord is the list payload tracking recency. The list front is the
// most recently used key.
type lruRecord[T any] struct {
	key   string
	entry Entry[T]
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	// Entries is the current number of cached keys.
	Entries int `json:"entries"`

	// Hits counts Get calls that found their key.
	Hits uint64 `json:"hits"`

	// Misses counts Get calls that did not.
	Misses uint64 `json:"misses"`

	// HitRate is Hits / (Hits + Misses), or 0 before any lookup.
	HitRate float64 `json:"hit_rate"`

	// MaxSize is the current capacity.
	MaxSize int `json:"max_size"`
}

// ResultCache is a string-keyed, capacity-bounded memoizer with LRU
// eviction and hit/miss accounting.
//
// Description:
//
//	Used to memoize whole document analysis passes keyed on document
//	identity + version (see MakeKey). Stale-version entries are never
//	purged proactively; version bumps simply miss and the old entries age
//	out through recency eviction.
//
// Thread Safety:
//
//	Safe for concurrent use. A mutex guards the map and recency list;
//	hit/miss counters are atomic so Stats never blocks readers.
type ResultCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewResultCache creates a cache with the given capacity. Non-positive
// capacities fall back to DefaultMaxSize.
func NewResultCache[T any](maxSize int) *ResultCache[T] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ResultCache[T]{
		maxSize: maxSize,
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Get returns the value for key, marking it most recently used.
//
// Outputs:
//
//	T - The cached value, or the zero value on a miss.
//	bool - Whether the key was present.
func (c *ResultCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		recordMiss()
		var zero T
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.hits.Add(1)
	recordHit()
	return elem.Value.(*lruRecord[T]).entry.Value, true
}

// Set inserts or overwrites the value for key and marks it most recently
// used. When the cache is full, least-recently-used keys are evicted until
// the new entry fits. metadata may be nil.
func (c *ResultCache[T]) Set(key string, value T, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if elem, ok := c.entries[key]; ok {
		rec := elem.Value.(*lruRecord[T])
		rec.entry = Entry[T]{Value: value, Timestamp: now, Metadata: metadata}
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxSize {
		if !c.evictOldestLocked() {
			break
		}
	}

	rec := &lruRecord[T]{
		key:   key,
		entry: Entry[T]{Value: value, Timestamp: now, Metadata: metadata},
	}
	c.entries[key] = c.order.PushFront(rec)
	recordEntryCount(len(c.entries))
}

// GetEntry returns a copy of the stored entry, including timestamp and
// metadata, without touching recency order or hit/miss counters. Debug and
// inspection path; Get is the lookup path.
func (c *ResultCache[T]) GetEntry(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return elem.Value.(*lruRecord[T]).entry, true
}

// Keys returns the cached keys ordered most to least recently used.
func (c *ResultCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruRecord[T]).key)
	}
	return keys
}

// Has reports membership without touching recency order or hit/miss
// counters.
func (c *ResultCache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Clear removes a single key and its recency record. Unknown keys are a
// no-op.
func (c *ResultCache[T]) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return
	}
	c.order.Remove(elem)
	delete(c.entries, key)
	recordEntryCount(len(c.entries))
}

// ClearPrefix removes every key with the given prefix. Returns the number
// of entries removed. Used for whole-document invalidation, where all scope
// variants of one document share the "<uri>::" prefix.
func (c *ResultCache[T]) ClearPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.order.Remove(elem)
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		recordEntryCount(len(c.entries))
	}
	return removed
}

// ClearAll removes every entry and recency record and resets the hit/miss
// counters to zero.
func (c *ResultCache[T]) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
	c.hits.Store(0)
	c.misses.Store(0)
	recordEntryCount(0)
}

// SetMaxSize updates the capacity, immediately evicting least-recently-used
// entries until the size fits. Non-positive values fall back to
// DefaultMaxSize.
func (c *ResultCache[T]) SetMaxSize(n int) {
	if n <= 0 {
		n = DefaultMaxSize
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxSize = n
	for len(c.entries) > c.maxSize {
		if !c.evictOldestLocked() {
			break
		}
	}
	recordEntryCount(len(c.entries))
}

// Size returns the current number of entries.
func (c *ResultCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the effectiveness counters.
func (c *ResultCache[T]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	maxSize := c.maxSize
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries: entries,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		MaxSize: maxSize,
	}
}

// evictOldestLocked removes the least-recently-used entry. Returns false
// when the list is empty. Caller must hold c.mu.
func (c *ResultCache[T]) evictOldestLocked() bool {
	oldest := c.order.Back()
	if oldest == nil {
		return false
	}
	rec := oldest.Value.(*lruRecord[T])
	c.order.Remove(oldest)
	delete(c.entries, rec.key)
	recordEviction()
	return true
}
