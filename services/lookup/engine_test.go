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
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.SyncWrites = false
	cfg.StoringBatchSize = 10
	cfg.IndexingBatchSize = 5
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

// mustStore writes records through a short-lived scope per domain.
func mustStore(t *testing.T, e *Engine, recs ...*Record) {
	t.Helper()
	byDomain := make(map[Domain][]*Record)
	for _, rec := range recs {
		byDomain[rec.Domain] = append(byDomain[rec.Domain], rec)
	}
	for d, group := range byDomain {
		st, err := e.store(d)
		require.NoError(t, err)
		scope, err := st.env.NewWriteScope(context.Background())
		require.NoError(t, err)
		for _, rec := range group {
			require.NoError(t, e.Store(rec, scope))
		}
		require.NoError(t, scope.Close())
	}
}

func crossrefRecord(doi, title, author, journal, volume, page string) *Record {
	doc, _ := json.Marshal(map[string]string{
		"doi":          doi,
		"title":        title,
		"first_author": author,
		"journal":      journal,
		"volume":       volume,
		"first_page":   page,
	})
	return &Record{
		Domain:       DomainCrossref,
		ID:           doi,
		DOI:          doi,
		ArticleTitle: title,
		FirstAuthor:  author,
		JournalTitle: journal,
		Volume:       volume,
		FirstPage:    page,
		Document:     doc,
	}
}

func TestStoreThenLookupAnyCase(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	mustStore(t, e, crossrefRecord("10.1038/NATURE12373", "A study", "Garnier", "Nature", "500", "190"))

	for _, variant := range []string{"10.1038/nature12373", "10.1038/NATURE12373", "10.1038/Nature12373", " 10.1038/nature12373 "} {
		doc, err := e.ResolveByID(KindDOI, variant)
		require.NoError(t, err, "variant %q", variant)
		assert.Equal(t, "10.1038/nature12373", doc.ID)
		assert.NotNil(t, doc.Document)
	}
}

func TestResolveEmptyStore(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Engine().ResolveByID(KindDOI, "10.1/x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlankIdentifier(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Engine().ResolveByID(KindDOI, "   ")
	assert.ErrorIs(t, err, ErrBlankIdentifier)
}

func TestUnknownIdentifierKind(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Engine().ResolveByID(IdentifierKind("isbn"), "123")
	assert.ErrorIs(t, err, ErrUnknownIdentifierKind)
}

func TestCrossReferenceChains(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	mustStore(t, e,
		crossrefRecord("10.1/a", "Alpha", "Ada", "Nature", "1", "10"),
		&Record{Domain: DomainPubmed, ID: "31104356", DOI: "10.1/a", PMC: "PMC6515053"},
		&Record{Domain: DomainIstex, ID: "0123456789abcdef0123456789abcdef01234567", DOI: "10.1/a"},
	)

	doc, err := e.ResolveByID(KindPMID, "31104356")
	require.NoError(t, err)
	assert.Equal(t, "10.1/a", doc.DOI)

	doc, err = e.ResolveByID(KindPMC, "PMC6515053")
	require.NoError(t, err)
	assert.Equal(t, "10.1/a", doc.DOI)

	doc, err = e.ResolveByID(KindIstex, "0123456789ABCDEF0123456789abcdef01234567")
	require.NoError(t, err)
	assert.Equal(t, "10.1/a", doc.DOI)
}

func TestHalRecords(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	withDOI := &Record{
		Domain:   DomainHAL,
		ID:       "hal-01234567",
		DOI:      "10.1/hal",
		Document: json.RawMessage(`{"doi":"10.1/hal","title":"HAL deposit"}`),
	}
	withoutDOI := &Record{
		Domain:   DomainHAL,
		ID:       "hal-07654321",
		Document: json.RawMessage(`{"title":"Preprint without doi"}`),
	}
	mustStore(t, e, withDOI, withoutDOI)

	doc, err := e.ResolveByID(KindHAL, "HAL-01234567")
	require.NoError(t, err)
	assert.Equal(t, "hal-01234567", doc.ID)
	assert.Equal(t, "10.1/hal", doc.DOI)

	doc, err = e.ResolveByID(KindHAL, "hal-07654321")
	require.NoError(t, err)
	assert.Empty(t, doc.DOI)

	// The record without a DOI silently skipped the secondary write.
	st, err := e.store(DomainHAL)
	require.NoError(t, err)
	n, err := st.env.Size(st.xref)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestFixedPriorityOrder(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	// Three distinct records reachable by DOI, PMID and composite key.
	mustStore(t, e,
		crossrefRecord("10.1/doi-path", "Doi paper", "Dupont", "Journal A", "1", "1"),
		crossrefRecord("10.1/pmid-path", "Pmid paper", "Durand", "Journal B", "2", "2"),
		crossrefRecord("10.1/journal-path", "Journal paper", "Martin", "Nature", "12", "345"),
		&Record{Domain: DomainPubmed, ID: "1234", DOI: "10.1/pmid-path"},
	)

	doc, err := e.Resolve(Query{
		DOI:          "10.1/doi-path",
		PMID:         "1234",
		JournalTitle: "Nature",
		Volume:       "12",
		FirstPage:    "345",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.1/doi-path", doc.ID)
	assert.Equal(t, "doi", doc.MatchedBy)
}

func TestFallThroughOnNotFound(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	mustStore(t, e,
		crossrefRecord("10.1/pmid-path", "Pmid paper", "Durand", "Journal B", "2", "2"),
		&Record{Domain: DomainPubmed, ID: "1234", DOI: "10.1/pmid-path"},
	)

	doc, err := e.Resolve(Query{DOI: "10.1/unknown", PMID: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "pmid", doc.MatchedBy)
	assert.Equal(t, "10.1/pmid-path", doc.ID)
}

func TestCompositeKeyCaseInsensitive(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	mustStore(t, e, crossrefRecord("10.1/n", "Some paper", "Martin", "Nature", "12", "345"))

	lower, err := e.ResolveByJournalMetadata("Nature", "12", "345", "")
	require.NoError(t, err)
	upper, err := e.ResolveByJournalMetadata("NATURE", "12", "345", "")
	require.NoError(t, err)
	assert.Equal(t, lower.ID, upper.ID)
	assert.Equal(t, "10.1/n", lower.ID)
}

func TestJournalMetadataAuthorDisambiguation(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	// Author-qualified key wins when the author is supplied; the plain
	// key still serves queries without one.
	mustStore(t, e, crossrefRecord("10.1/m", "Paper", "Martin", "Nature", "12", "345"))

	doc, err := e.ResolveByJournalMetadata("Nature", "12", "345", "Martin")
	require.NoError(t, err)
	assert.Equal(t, "10.1/m", doc.ID)

	// Unknown author falls back to the unqualified key.
	doc, err = e.ResolveByJournalMetadata("Nature", "12", "345", "Nobody")
	require.NoError(t, err)
	assert.Equal(t, "10.1/m", doc.ID)
}

func TestArticleMetadataPostValidation(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	mustStore(t, e, crossrefRecord("10.1/a", "Deep learning for citations", "Lample", "JMLR", "1", "1"))

	doc, err := e.ResolveByArticleMetadata("Deep learning for citations", "Lample", true)
	require.NoError(t, err)
	assert.Equal(t, "10.1/a", doc.ID)

	// Small variations still reach the key hash only on an exact
	// normalized match, so validate similarity on the stored fields by
	// querying with the exact key but checking a near-identical author.
	doc, err = e.ResolveByArticleMetadata("Deep learning for citations", "lample", true)
	require.NoError(t, err)
	assert.Equal(t, "10.1/a", doc.ID)

	// A colliding key with very different metadata is rejected. Build the
	// collision by storing a record whose stored fields diverge from its
	// own key fields.
	bad := crossrefRecord("10.1/bad", "Completely unrelated subject", "Someone", "X", "9", "9")
	bad.ArticleTitle = "Shared title"
	bad.FirstAuthor = "Shared author"
	mustStore(t, e, bad)

	_, err = e.ResolveByArticleMetadata("Shared title", "Shared author", true)
	assert.ErrorIs(t, err, ErrPostValidation)

	// Without post-validation the same candidate is accepted.
	doc, err = e.ResolveByArticleMetadata("Shared title", "Shared author", false)
	require.NoError(t, err)
	assert.Equal(t, "10.1/bad", doc.ID)
}

func TestPostValidationRejectionContinuesChain(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	bad := crossrefRecord("10.1/bad", "Unrelated", "Other", "X", "9", "9")
	bad.ArticleTitle = "Wanted title"
	bad.FirstAuthor = "Wanted author"
	mustStore(t, e,
		bad,
		crossrefRecord("10.1/good", "Wanted title", "Wanted author", "Nature", "3", "7"),
	)

	postValidate := true
	doc, err := e.Resolve(Query{
		ArticleTitle: "Wanted title",
		FirstAuthor:  "Wanted author",
		PostValidate: &postValidate,
		JournalTitle: "Nature",
		Volume:       "3",
		FirstPage:    "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "journal-metadata", doc.MatchedBy)
	assert.Equal(t, "10.1/good", doc.ID)
}

func TestInsufficientParameters(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Engine().Resolve(Query{FirstAuthor: "Martin"})
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = svc.Engine().Resolve(Query{})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

type fakeParser struct {
	q   *Query
	err error
}

func (p *fakeParser) Parse(string) (*Query, error) { return p.q, p.err }

func TestResolveByBiblio(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	mustStore(t, e, crossrefRecord("10.1/n", "Paper", "Martin", "Nature", "12", "345"))

	// No parser configured.
	_, err := e.ResolveByBiblio("Martin. Nature 12:345")
	assert.ErrorIs(t, err, ErrNoParser)

	e.WithParser(&fakeParser{q: &Query{JournalTitle: "Nature", Volume: "12", FirstPage: "345"}})
	doc, err := e.ResolveByBiblio("Martin. Nature 12:345")
	require.NoError(t, err)
	assert.Equal(t, "10.1/n", doc.ID)

	// Parsed citations missing the composite fields are insufficient.
	e.WithParser(&fakeParser{q: &Query{FirstAuthor: "Martin"}})
	_, err = e.ResolveByBiblio("Martin, untraceable")
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestSizesAndFullSize(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	const m = 7
	recs := make([]*Record, 0, m)
	for i := 0; i < m; i++ {
		doi := fmt.Sprintf("10.1/size-%d", i)
		recs = append(recs, crossrefRecord(doi, fmt.Sprintf("Paper %d", i), "Author", "Journal", "1", fmt.Sprintf("%d", i)))
	}
	mustStore(t, e, recs...)

	sizes, err := e.Sizes()
	require.NoError(t, err)
	// Each record writes one doc entry and three composite xref entries.
	assert.Equal(t, uint64(m), sizes["crossref_doc"])
	assert.Equal(t, uint64(3*m), sizes["crossref_xref"])

	full, err := e.FullSize()
	require.NoError(t, err)
	var sum uint64
	for _, n := range sizes {
		sum += n
	}
	assert.Equal(t, sum, full)
}

func TestList(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	for i := 0; i < 5; i++ {
		mustStore(t, e, crossrefRecord(fmt.Sprintf("10.1/l-%d", i), "T", "A", "J", "1", "1"))
	}
	require.NoError(t, e.SetLastIndexed(context.Background(), DomainCrossref, time.Now()))

	entries, err := e.List(DomainCrossref, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// The reserved last-indexed entry never shows up in scans.
	entries, err = e.List(DomainCrossref, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	for _, entry := range entries {
		assert.NotEqual(t, lastIndexedKey, entry.ID)
		assert.True(t, json.Valid(entry.Document))
	}
}

func TestLastIndexedCache(t *testing.T) {
	svc := newTestService(t)
	e := svc.Engine()

	_, ok, err := e.LastIndexed(DomainCrossref)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, e.SetLastIndexed(context.Background(), DomainCrossref, now))

	got, ok, err := e.LastIndexed(DomainCrossref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, now.Equal(got))

	// Other domains keep their own value.
	_, ok, err = e.LastIndexed(DomainHAL)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastIndexedLazyLoad(t *testing.T) {
	cfg := testConfig()
	cfg.InMemory = false
	cfg.DataPath = t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := NewService(cfg, logger)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, svc.Engine().SetLastIndexed(context.Background(), DomainCrossref, now))
	require.NoError(t, svc.Close())

	// A fresh service starts with an unpopulated cache and loads the
	// persisted value on first read.
	svc2, err := NewService(cfg, logger)
	require.NoError(t, err)
	defer svc2.Close()

	got, ok, err := svc2.Engine().LastIndexed(DomainCrossref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, now.Equal(got))
}
