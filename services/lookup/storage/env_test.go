// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPutGet verifies basic writes through a scope are visible to reads.
func TestPutGet(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	docs := env.Table("crossref_doc")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Put(docs, []byte("10.1/a"), []byte("payload")))
	require.NoError(t, scope.Close())

	val, err := env.Get(docs, []byte("10.1/a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)

	_, err = env.Get(docs, []byte("10.1/missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestTableIsolation verifies table namespaces do not shadow each other.
func TestTableIsolation(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	docs := env.Table("crossref_doc")
	xref := env.Table("crossref_xref")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Put(docs, []byte("k"), []byte("doc")))
	require.NoError(t, scope.Put(xref, []byte("k"), []byte("ref")))
	require.NoError(t, scope.Close())

	val, err := env.Get(docs, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), val)

	val, err = env.Get(xref, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ref"), val)

	// Same name yields the same handle.
	assert.Same(t, docs, env.Table("crossref_doc"))
}

// TestLastWriteWins verifies unique keys with last-write-wins semantics.
func TestLastWriteWins(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	docs := env.Table("crossref_doc")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Put(docs, []byte("k"), []byte("first")))
	require.NoError(t, scope.Commit())
	require.NoError(t, scope.Put(docs, []byte("k"), []byte("second")))
	require.NoError(t, scope.Close())

	val, err := env.Get(docs, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), val)

	n, err := env.Size(docs)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

// TestReaderSlotExhaustion verifies the (pool+1)-th concurrent reader is
// rejected with ErrOverloaded instead of blocking.
func TestReaderSlotExhaustion(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.MaxReaders = 2
	env, err := Open("crossref", cfg)
	require.NoError(t, err)
	defer env.Close()

	r1, err := env.ReadTxn()
	require.NoError(t, err)
	r2, err := env.ReadTxn()
	require.NoError(t, err)

	_, err = env.ReadTxn()
	assert.ErrorIs(t, err, ErrOverloaded)

	// Releasing one slot makes the pool available again.
	r1.Close()
	r3, err := env.ReadTxn()
	require.NoError(t, err)
	r3.Close()
	r2.Close()
}

// TestSingleWriter verifies the writer slot serializes write scopes.
func TestSingleWriter(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = env.NewWriteScope(ctx)
	assert.Error(t, err)

	require.NoError(t, scope.Close())
	scope2, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	scope2.Discard()
}

// TestDiscardDropsUncommitted verifies only fully committed batches are
// visible after a simulated mid-batch failure.
func TestDiscardDropsUncommitted(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	docs := env.Table("crossref_doc")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Put(docs, []byte("committed"), []byte("v")))
	require.NoError(t, scope.Commit())
	require.NoError(t, scope.Put(docs, []byte("inflight"), []byte("v")))
	scope.Discard()

	_, err = env.Get(docs, []byte("committed"))
	assert.NoError(t, err)
	_, err = env.Get(docs, []byte("inflight"))
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestScopeClosed verifies operations fail after Close.
func TestScopeClosed(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	docs := env.Table("crossref_doc")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Close())

	assert.ErrorIs(t, scope.Put(docs, []byte("k"), []byte("v")), ErrScopeClosed)
	assert.ErrorIs(t, scope.Commit(), ErrScopeClosed)
	assert.NoError(t, scope.Close())
}

// TestFullSize verifies FullSize sums across tables.
func TestFullSize(t *testing.T) {
	env, err := Open("crossref", InMemoryConfig())
	require.NoError(t, err)
	defer env.Close()

	docs := env.Table("crossref_doc")
	xref := env.Table("crossref_xref")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, scope.Put(docs, []byte(k), []byte("v")))
	}
	require.NoError(t, scope.Put(xref, []byte("x"), []byte("a")))
	require.NoError(t, scope.Close())

	sizes, err := env.Sizes()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sizes["crossref_doc"])
	assert.Equal(t, uint64(1), sizes["crossref_xref"])

	total, err := env.FullSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
}

// TestPersistence verifies committed data survives close and reopen.
func TestPersistence(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SyncWrites = false

	env, err := Open("crossref", cfg)
	require.NoError(t, err)
	docs := env.Table("crossref_doc")

	scope, err := env.NewWriteScope(context.Background())
	require.NoError(t, err)
	require.NoError(t, scope.Put(docs, []byte("k"), []byte("v")))
	require.NoError(t, scope.Close())
	require.NoError(t, env.Close())

	env2, err := Open("crossref", cfg)
	require.NoError(t, err)
	defer env2.Close()

	val, err := env2.Get(env2.Table("crossref_doc"), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}
