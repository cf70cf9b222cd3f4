// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/bibresolve/services/lookup/storage"
)

// lastIndexedKey is the reserved key in each doc table holding the
// completion timestamp of the last full harvest, stored compressed.
const lastIndexedKey = "last-indexed-date"

// defaultListSize caps List scans when the caller supplies no limit.
const defaultListSize = 100

// domainStore binds one storage environment to its doc and xref tables.
type domainStore struct {
	env   *storage.Env
	codec *storage.Codec
	docs  *storage.Table
	xref  *storage.Table

	// last caches the persisted last-indexed timestamp. The
	// read-then-populate sequence is a critical section.
	lastMu        sync.Mutex
	lastPopulated bool
	last          time.Time
}

func newDomainStore(env *storage.Env) *domainStore {
	return &domainStore{
		env:   env,
		codec: storage.NewCodec(env),
		docs:  env.Table(env.Domain() + "_doc"),
		xref:  env.Table(env.Domain() + "_xref"),
	}
}

// getDoc reads and decompresses the document stored under id.
func (st *domainStore) getDoc(id string) (json.RawMessage, error) {
	key, err := st.codec.EncodeKey(id)
	if err != nil {
		return nil, err
	}
	val, err := st.env.Get(st.docs, key)
	if err != nil {
		return nil, err
	}
	return st.codec.Decompress(val)
}

// getRef reads an uncompressed cross-reference value stored under key.
func (st *domainStore) getRef(refKey string) (string, error) {
	key, err := st.codec.EncodeKey(refKey)
	if err != nil {
		return "", err
	}
	val, err := st.env.Get(st.xref, key)
	if err != nil {
		return "", err
	}
	return st.codec.DecodeRef(val), nil
}

// putDoc writes a compressed document under id inside the given scope.
func (st *domainStore) putDoc(scope *storage.WriteScope, id string, doc []byte) error {
	key, err := st.codec.EncodeKey(id)
	if err != nil {
		return err
	}
	val, err := st.codec.Compress(doc)
	if err != nil {
		return err
	}
	return scope.Put(st.docs, key, val)
}

// putRef writes an uncompressed cross-reference entry inside the scope.
func (st *domainStore) putRef(scope *storage.WriteScope, refKey, id string) error {
	key, err := st.codec.EncodeKey(refKey)
	if err != nil {
		return err
	}
	return scope.Put(st.xref, key, st.codec.EncodeRef(id))
}

// Engine exposes the resolution API and the store operation over the
// per-domain storage environments.
//
// The engine owns no environment lifecycle: environments are constructed
// by the caller (one per domain, one instance per process or test scope)
// and injected here. All methods are safe for concurrent use; writes go
// through a caller-supplied WriteScope.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	stores map[Domain]*domainStore
	chain  []resolution
	parser CitationParser
}

// NewEngine builds an engine over the injected per-domain environments.
//
// Description:
//
//	Wires one domainStore per environment and builds the fixed-priority
//	resolution chain. Every domain in Domains must have an environment.
//
// Inputs:
//
//	cfg - Service configuration (post-validation flags, thresholds).
//	envs - One opened storage environment per domain.
//	logger - Structured logger; nil falls back to slog.Default.
//
// Outputs:
//
//	*Engine - The engine. Environments stay owned by the caller.
//	error - Non-nil if a domain environment is missing.
func NewEngine(cfg Config, envs map[Domain]*storage.Env, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		stores: make(map[Domain]*domainStore, len(envs)),
	}
	for _, d := range Domains {
		env, ok := envs[d]
		if !ok {
			return nil, fmt.Errorf("%w: no environment for %q", ErrUnknownDomain, d)
		}
		e.stores[d] = newDomainStore(env)
	}
	e.chain = e.buildChain()
	return e, nil
}

// WithParser sets the citation parser collaborator used by free-text
// resolution. Returns the engine for chaining.
func (e *Engine) WithParser(p CitationParser) *Engine {
	e.parser = p
	return e
}

func (e *Engine) store(d Domain) (*domainStore, error) {
	st, ok := e.stores[d]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, d)
	}
	return st, nil
}

// Store writes a record into up to two tables inside the caller-supplied
// scope: the primary doc entry and, only when the cross-reference field is
// present, the secondary xref entry. Crossref records additionally write
// the composite metadata keys pointing at the primary identifier.
//
// Codec failures are logged and returned wrapped in storage.ErrCodec; the
// caller skips the record and keeps ingesting. Other errors are storage
// failures fatal for the in-flight batch.
func (e *Engine) Store(rec *Record, scope *storage.WriteScope) error {
	st, err := e.store(rec.Domain)
	if err != nil {
		return err
	}
	if err := e.storeRecord(st, rec, scope); err != nil {
		if errors.Is(err, storage.ErrCodec) {
			e.logger.Error("cannot store record, skipping",
				slog.String("domain", string(rec.Domain)),
				slog.String("id", rec.ID),
				slog.String("error", err.Error()))
		}
		return err
	}
	return nil
}

func (e *Engine) storeRecord(st *domainStore, rec *Record, scope *storage.WriteScope) error {
	switch rec.Domain {
	case DomainCrossref:
		if err := st.putDoc(scope, rec.ID, rec.Document); err != nil {
			return err
		}
		if rec.JournalTitle != "" && rec.Volume != "" && rec.FirstPage != "" {
			if err := st.putRef(scope, journalKey(rec.JournalTitle, rec.Volume, rec.FirstPage), rec.ID); err != nil {
				return err
			}
			if rec.FirstAuthor != "" {
				if err := st.putRef(scope, journalAuthorKey(rec.JournalTitle, rec.Volume, rec.FirstPage, rec.FirstAuthor), rec.ID); err != nil {
					return err
				}
			}
		}
		if rec.ArticleTitle != "" && rec.FirstAuthor != "" {
			return st.putRef(scope, articleKey(rec.ArticleTitle, rec.FirstAuthor), rec.ID)
		}
		return nil

	case DomainPubmed:
		// PMID and PMC entries both point at the DOI; no document body.
		if err := st.putRef(scope, refKey(KindPMID, rec.ID), rec.DOI); err != nil {
			return err
		}
		if rec.PMC != "" {
			return st.putRef(scope, refKey(KindPMC, rec.PMC), rec.DOI)
		}
		return nil

	case DomainIstex:
		return st.putRef(scope, rec.ID, rec.DOI)

	case DomainHAL:
		if err := st.putDoc(scope, rec.ID, rec.Document); err != nil {
			return err
		}
		if rec.DOI != "" {
			return st.putRef(scope, rec.DOI, rec.ID)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownDomain, rec.Domain)
}

// readDoc degrades a decode failure on a single record to not-found,
// keeping the surrounding resolution moving. Overload and storage errors
// propagate untouched.
func (e *Engine) readDoc(st *domainStore, id string) (json.RawMessage, error) {
	doc, err := st.getDoc(id)
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, storage.ErrCodec) && !errors.Is(err, storage.ErrKeyTooLarge) {
		e.logger.Error("cannot decode stored document, treating as absent",
			slog.String("domain", st.env.Domain()),
			slog.String("id", id),
			slog.String("error", err.Error()))
		codecFailuresTotal.WithLabelValues(st.env.Domain()).Inc()
		return nil, ErrNotFound
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if errors.Is(err, storage.ErrOverloaded) {
		overloadRejectionsTotal.Inc()
	}
	return nil, err
}

// readRef maps the same degradation rules over a cross-reference read.
func (e *Engine) readRef(st *domainStore, refKey string) (string, error) {
	ref, err := st.getRef(refKey)
	if err == nil {
		return ref, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotFound
	}
	if errors.Is(err, storage.ErrCodec) && !errors.Is(err, storage.ErrKeyTooLarge) {
		return "", ErrNotFound
	}
	if errors.Is(err, storage.ErrOverloaded) {
		overloadRejectionsTotal.Inc()
	}
	return "", err
}

// Sizes returns approximate per-table entry counts across all domains.
func (e *Engine) Sizes() (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, d := range Domains {
		sizes, err := e.stores[d].env.Sizes()
		if err != nil {
			if errors.Is(err, storage.ErrOverloaded) {
				overloadRejectionsTotal.Inc()
			}
			return nil, err
		}
		for name, n := range sizes {
			out[name] = n
		}
	}
	return out, nil
}

// FullSize sums the per-table entry counts across all domains.
func (e *Engine) FullSize() (uint64, error) {
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

// ListEntry is one (identifier, document) pair from a capped scan.
type ListEntry struct {
	ID       string          `json:"id"`
	Document json.RawMessage `json:"document"`
}

// List returns up to total (id, document) pairs from a domain's doc table
// via a capped cursor scan. Records that fail to decompress are logged and
// skipped; the reserved last-indexed entry is excluded.
func (e *Engine) List(d Domain, total int) ([]ListEntry, error) {
	st, err := e.store(d)
	if err != nil {
		return nil, err
	}
	if total <= 0 {
		total = defaultListSize
	}

	rt, err := st.env.ReadTxn()
	if err != nil {
		if errors.Is(err, storage.ErrOverloaded) {
			overloadRejectionsTotal.Inc()
		}
		return nil, err
	}
	defer rt.Close()

	prefix := st.docs.Prefix()
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := rt.Txn().NewIterator(opts)
	defer it.Close()

	entries := make([]ListEntry, 0, total)
	for it.Rewind(); it.Valid() && len(entries) < total; it.Next() {
		item := it.Item()
		id := string(item.Key()[len(prefix):])
		if id == lastIndexedKey {
			continue
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		doc, err := st.codec.Decompress(val)
		if err != nil {
			e.logger.Error("cannot decompress document during scan, skipping",
				slog.String("domain", string(d)), slog.String("id", id))
			continue
		}
		entries = append(entries, ListEntry{ID: id, Document: doc})
	}
	return entries, nil
}

// LastIndexed returns the completion timestamp of the last full harvest
// for a domain. The value is cached in memory after the first read and
// lazily loaded from storage when absent; ok is false when no harvest has
// completed yet.
func (e *Engine) LastIndexed(d Domain) (t time.Time, ok bool, err error) {
	st, err := e.store(d)
	if err != nil {
		return time.Time{}, false, err
	}

	st.lastMu.Lock()
	defer st.lastMu.Unlock()
	if st.lastPopulated {
		return st.last, true, nil
	}

	key, err := st.codec.EncodeKey(lastIndexedKey)
	if err != nil {
		return time.Time{}, false, err
	}
	val, err := st.env.Get(st.docs, key)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		if errors.Is(err, storage.ErrOverloaded) {
			overloadRejectionsTotal.Inc()
		}
		return time.Time{}, false, err
	}
	parsed, err := st.codec.DecodeTime(val)
	if err != nil {
		e.logger.Error("cannot decode persisted last-indexed date",
			slog.String("domain", string(d)), slog.String("error", err.Error()))
		return time.Time{}, false, nil
	}
	st.last = parsed
	st.lastPopulated = true
	return parsed, true, nil
}

// SetLastIndexed updates the in-memory cache and persists the timestamp
// under the reserved key in the domain's doc table, in its own write
// scope. Must not be called while an ingestion scope is open on the same
// domain; ctx bounds the wait for the writer slot.
func (e *Engine) SetLastIndexed(ctx context.Context, d Domain, t time.Time) error {
	st, err := e.store(d)
	if err != nil {
		return err
	}

	st.lastMu.Lock()
	st.last = t
	st.lastPopulated = true
	st.lastMu.Unlock()

	scope, err := st.env.NewWriteScope(ctx)
	if err != nil {
		return err
	}
	key, err := st.codec.EncodeKey(lastIndexedKey)
	if err != nil {
		scope.Discard()
		return err
	}
	val, err := st.codec.EncodeTime(t)
	if err != nil {
		scope.Discard()
		return err
	}
	if err := scope.Put(st.docs, key, val); err != nil {
		scope.Discard()
		return err
	}
	return scope.Close()
}

// normalized trims, lower-cases and whitespace-collapses a field the same
// way keys are encoded, so comparisons stay byte-identical between the
// ingestion path and the query path.
func normalized(s string) string {
	return storage.NormalizeKey(s)
}

// isBlank reports whether a parameter is empty after trimming.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
