// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB behind a small transactional surface.
// Callers open one DB in main, hand it to the stores that need it, and
// close it on shutdown; stores never own the DB lifecycle.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the database directory. Created if missing. Ignored when
	// InMemory is set.
	Path string

	// InMemory keeps all data in memory, discarded on Close. Used by
	// tests and by callers running without a data directory.
	InMemory bool

	// ReadOnly opens the database without write access. The directory
	// must already exist.
	ReadOnly bool

	// SyncWrites forces an fsync per write transaction.
	SyncWrites bool
}

// DefaultConfig returns the on-disk configuration with no path set; the
// caller fills in Path.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for an ephemeral database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an opened BadgerDB.
//
// Thread Safety: Safe for concurrent use; transactions are per-call.
type DB struct {
	db *badger.DB
}

// OpenDB opens a database.
//
// Description:
//
//	On-disk databases get their directory created when missing. Badger's
//	own logger is silenced; operational logging happens at call sites.
//
// Outputs:
//
//	*DB - The opened database. The caller must Close it.
//	error - Non-nil if the configuration is invalid or the open fails.
func OpenDB(cfg Config) (*DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, fmt.Errorf("badger: path must not be empty for an on-disk database")
	default:
		if !cfg.ReadOnly {
			if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
				return nil, fmt.Errorf("badger: creating data directory: %w", err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithReadOnly(cfg.ReadOnly).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// WithTxn runs fn inside a read-write transaction.
//
// Description:
//
//	The transaction commits when fn returns nil and discards otherwise.
//	ctx is checked before the transaction starts; Badger transactions
//	themselves do not observe cancellation.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return d.db.View(fn)
}

// RunValueLogGC triggers one value-log garbage collection cycle. A cycle
// that finds nothing to rewrite is not an error.
func (d *DB) RunValueLogGC(discardRatio float64) error {
	err := d.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: transaction aborted: %w", err)
	}
	return nil
}
