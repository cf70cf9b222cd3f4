// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the embedded multi-index key-value store backing
// the bibliographic lookup service.
//
// Each logical domain (crossref, pubmed, istex, hal) owns one environment:
// a BadgerDB instance holding a set of named tables. Tables are key-prefix
// namespaces within the environment, so a single environment serves the
// primary id→document table and its cross-reference tables without
// referential-integrity enforcement between them.
//
// Concurrency model: single writer, bounded readers. At most one live write
// transaction exists per environment (the WriteScope); reads each open a
// short-lived read transaction drawn from a bounded slot pool. Exhausting
// the pool returns ErrOverloaded immediately instead of blocking.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxKeySize bounds encoded keys, matching the fixed-capacity
	// key buffers used by the codec.
	DefaultMaxKeySize = 510

	// DefaultMaxReaders is the default size of the read-transaction slot
	// pool per environment.
	DefaultMaxReaders = 126
)

// Config holds configuration for one storage environment.
type Config struct {
	// Path is the parent directory for environment data. The environment
	// stores its files under Path/<domain>. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// MaxKeySize bounds encoded key length. Defaults to DefaultMaxKeySize.
	MaxKeySize int

	// MaxReaders bounds the number of concurrent read transactions.
	// Defaults to DefaultMaxReaders.
	MaxReaders int

	// Logger receives storage-engine log output. If nil, the engine's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes, 510-byte keys
// and a 126-slot reader pool.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		MaxKeySize: DefaultMaxKeySize,
		MaxReaders: DefaultMaxReaders,
	}
}

// InMemoryConfig returns configuration optimized for testing: in-memory
// mode, asynchronous writes.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		MaxKeySize: DefaultMaxKeySize,
		MaxReaders: DefaultMaxReaders,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Table is a pure handle to a named table within an environment.
//
// A table is a key-prefix namespace; the handle carries no state beyond the
// resolved prefix and stays valid for the lifetime of the environment.
type Table struct {
	name   string
	prefix []byte
}

// Name returns the table name, e.g. "crossref_doc".
func (t *Table) Name() string { return t.name }

// Prefix returns the on-disk key prefix of the table namespace, for
// cursor scans over the whole table.
func (t *Table) Prefix() []byte { return t.prefix }

// key returns the on-disk key for k within the table namespace.
func (t *Table) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	out = append(out, t.prefix...)
	return append(out, k...)
}

// Env is one storage environment: the BadgerDB instance for a single
// logical domain plus its named tables and transaction slot pools.
//
// Create one Env per domain at process start and Close it at shutdown.
// All methods are safe for concurrent use.
type Env struct {
	domain     string
	db         *badger.DB
	maxKeySize int
	logger     *slog.Logger

	// readers bounds concurrent read transactions; writer serializes
	// write scopes so at most one live write transaction exists.
	readers *semaphore.Weighted
	writer  *semaphore.Weighted

	mu     sync.Mutex
	tables map[string]*Table
	closed bool
}

// Open creates or reopens the environment for a domain.
//
// Description:
//
//	Opens the BadgerDB instance under cfg.Path/<domain>, creating the
//	directory if needed. Opening is idempotent at the filesystem level:
//	reopening an existing environment sees all previously committed data.
//	Tables are created on first Table call; an environment with no tables
//	is valid but empty.
//
// Inputs:
//
//	domain - Logical domain name, e.g. "crossref". Must be non-empty.
//	cfg - Environment configuration. Path is required unless InMemory.
//
// Outputs:
//
//	*Env - The opened environment. Caller must Close it.
//	error - Non-nil if the domain is empty or the database cannot open.
func Open(domain string, cfg Config) (*Env, error) {
	if domain == "" {
		return nil, errors.New("domain must not be empty")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent environment")
	}
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = DefaultMaxKeySize
	}
	if cfg.MaxReaders <= 0 {
		cfg.MaxReaders = DefaultMaxReaders
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := filepath.Join(cfg.Path, domain)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create environment directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open environment %s: %w", domain, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Env{
		domain:     domain,
		db:         db,
		maxKeySize: cfg.MaxKeySize,
		logger:     logger.With(slog.String("domain", domain)),
		readers:    semaphore.NewWeighted(int64(cfg.MaxReaders)),
		writer:     semaphore.NewWeighted(1),
		tables:     make(map[string]*Table),
	}, nil
}

// Domain returns the logical domain name of the environment.
func (e *Env) Domain() string { return e.domain }

// MaxKeySize returns the configured maximum encoded key length.
func (e *Env) MaxKeySize() int { return e.maxKeySize }

// Table returns the handle for a named table, creating the namespace on
// first use. Handle lookup is pure: the same name always yields a handle
// over the same prefix.
func (e *Env) Table(name string) *Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tables[name]; ok {
		return t
	}
	// NUL terminator keeps "x_doc" from shadowing "x_doc2".
	t := &Table{name: name, prefix: append([]byte(name), 0)}
	e.tables[name] = t
	return t
}

// ReadTxn acquires a reader slot and opens a short-lived read transaction.
//
// Returns ErrOverloaded immediately when all slots are held; this never
// blocks. The caller must Close the returned transaction to release the
// slot.
func (e *Env) ReadTxn() (*ReadTxn, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEnvClosed
	}
	if !e.readers.TryAcquire(1) {
		return nil, fmt.Errorf("%w (domain %s)", ErrOverloaded, e.domain)
	}
	return &ReadTxn{env: e, txn: e.db.NewTransaction(false)}, nil
}

// View runs fn inside a read transaction and releases its slot on return.
func (e *Env) View(fn func(txn *badger.Txn) error) error {
	rt, err := e.ReadTxn()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.txn)
}

// Get reads the value stored under key in the given table.
//
// Returns ErrNotFound when the key has no entry and ErrOverloaded when no
// reader slot is free.
func (e *Env) Get(t *Table, key []byte) ([]byte, error) {
	var out []byte
	err := e.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Size returns the approximate number of live keys in a table, counted by
// a keys-only prefix scan.
func (e *Env) Size(t *Table) (uint64, error) {
	var n uint64
	err := e.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = t.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Sizes returns per-table approximate entry counts for all tables opened
// so far on this environment.
func (e *Env) Sizes() (map[string]uint64, error) {
	e.mu.Lock()
	tables := make([]*Table, 0, len(e.tables))
	for _, t := range e.tables {
		tables = append(tables, t)
	}
	e.mu.Unlock()

	sizes := make(map[string]uint64, len(tables))
	for _, t := range tables {
		n, err := e.Size(t)
		if err != nil {
			return nil, err
		}
		sizes[t.name] = n
	}
	return sizes, nil
}

// FullSize sums the entry counts of every table in the environment.
func (e *Env) FullSize() (uint64, error) {
	sizes, err := e.Sizes()
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

// NewWriteScope opens the single write scope for the environment.
//
// Description:
//
//	Acquires the writer slot, blocking until any previous scope closes or
//	ctx is done, then opens a live write transaction bound to the scope.
//	At most one write scope exists per environment at a time.
//
// Inputs:
//
//	ctx - Bounds the wait for the writer slot.
//
// Outputs:
//
//	*WriteScope - The scope. Caller must Close (commit) or Discard it.
//	error - Context error if the slot could not be acquired.
func (e *Env) NewWriteScope(ctx context.Context) (*WriteScope, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEnvClosed
	}
	if err := e.writer.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire writer slot: %w", err)
	}
	return &WriteScope{env: e, txn: e.db.NewTransaction(true)}, nil
}

// Close closes the environment. Outstanding transactions must be closed
// first. Safe to call multiple times.
func (e *Env) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.db.Close()
}

// ReadTxn is one short-lived read transaction holding a reader slot.
type ReadTxn struct {
	env  *Env
	txn  *badger.Txn
	done bool
}

// Txn exposes the underlying transaction for cursor scans.
func (r *ReadTxn) Txn() *badger.Txn { return r.txn }

// Close discards the transaction and releases the reader slot.
// Safe to call multiple times.
func (r *ReadTxn) Close() {
	if r.done {
		return
	}
	r.done = true
	r.txn.Discard()
	r.env.readers.Release(1)
}
