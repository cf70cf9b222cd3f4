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
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// WriteScope wraps the single live write transaction of an environment.
//
// A long ingestion loop holds one scope for its whole run and calls Commit
// at batch boundaries; Commit finalizes the current transaction and
// immediately opens a fresh one on the same scope, so the writer slot is
// never held across an unbounded transaction. Reads never go through the
// scope: they open their own read transactions via Env.ReadTxn.
//
// A WriteScope is not safe for concurrent use.
type WriteScope struct {
	env    *Env
	txn    *badger.Txn
	writes int
	closed bool
}

// Put appends a key/value write to the live transaction.
//
// When the transaction reaches the storage engine's size limit the scope
// commits it and retries the write in the fresh transaction, so a single
// oversized batch degrades to an extra checkpoint instead of an error.
func (s *WriteScope) Put(t *Table, key, value []byte) error {
	if s.closed {
		return ErrScopeClosed
	}
	err := s.txn.Set(t.key(key), value)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := s.Commit(); err != nil {
			return err
		}
		err = s.txn.Set(t.key(key), value)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", t.name, err)
	}
	s.writes++
	return nil
}

// Writes returns the number of writes applied since the last Commit.
func (s *WriteScope) Writes() int { return s.writes }

// Commit finalizes and closes the current transaction, then opens a fresh
// write transaction bound to the same scope. The write counter resets.
//
// An IO failure here is fatal for the in-flight batch and is returned to
// the caller; the scope stays usable with a fresh transaction.
func (s *WriteScope) Commit() error {
	if s.closed {
		return ErrScopeClosed
	}
	if err := s.txn.Commit(); err != nil {
		s.txn = s.env.db.NewTransaction(true)
		s.writes = 0
		return fmt.Errorf("commit batch: %w", err)
	}
	s.txn = s.env.db.NewTransaction(true)
	s.writes = 0
	return nil
}

// Close commits any pending writes, discards the transaction and releases
// the writer slot. When no writes are pending since the last Commit the
// final commit is skipped. Safe to call multiple times.
func (s *WriteScope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.release()
	if s.writes > 0 {
		if err := s.txn.Commit(); err != nil {
			return fmt.Errorf("final commit: %w", err)
		}
		return nil
	}
	s.txn.Discard()
	return nil
}

// Discard drops all uncommitted writes and releases the writer slot.
// Fully committed batches remain visible; the in-flight batch is lost.
// Safe to call multiple times, and after Close as a no-op.
func (s *WriteScope) Discard() {
	if s.closed {
		return
	}
	s.closed = true
	s.txn.Discard()
	s.release()
}

func (s *WriteScope) release() {
	s.env.writer.Release(1)
}
