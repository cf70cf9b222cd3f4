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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource replays a fixed slice of records.
type sliceSource struct {
	recs []*Record
	pos  int
}

func (s *sliceSource) Next(context.Context) (*Record, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	rec := s.recs[s.pos]
	s.pos++
	return rec, nil
}

// countingIndexer records batch sizes and refresh calls.
type countingIndexer struct {
	batches   []int
	refreshed int
}

func (ix *countingIndexer) Index(_ context.Context, docs []json.RawMessage, _ bool) (int, int) {
	ix.batches = append(ix.batches, len(docs))
	return len(docs), 0
}

func (ix *countingIndexer) Refresh(context.Context, string) error {
	ix.refreshed++
	return nil
}

func crossrefRecords(n int) []*Record {
	recs := make([]*Record, 0, n)
	for i := 0; i < n; i++ {
		doi := fmt.Sprintf("10.1/ing-%d", i)
		recs = append(recs, crossrefRecord(doi, fmt.Sprintf("Title %d", i), "Author", "Journal", "1", fmt.Sprintf("%d", i)))
	}
	return recs
}

func TestIngestCommitCadence(t *testing.T) {
	cases := []struct {
		records int
		commits int
	}{
		{records: 25, commits: 3}, // 10 + 10 + tail of 5
		{records: 20, commits: 2}, // exact multiple, no tail commit
		{records: 3, commits: 1},
		{records: 0, commits: 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_records", tc.records), func(t *testing.T) {
			svc := newTestService(t)
			ing := NewIngestor(svc.Engine(), DomainCrossref, nil)

			stats, err := ing.Run(context.Background(), &sliceSource{recs: crossrefRecords(tc.records)})
			require.NoError(t, err)
			assert.Equal(t, tc.records, stats.Valid)
			assert.Equal(t, tc.commits, stats.Commits)
			assert.Zero(t, stats.Invalid)
		})
	}
}

func TestIngestStoresEverything(t *testing.T) {
	svc := newTestService(t)
	ing := NewIngestor(svc.Engine(), DomainCrossref, nil)

	_, err := ing.Run(context.Background(), &sliceSource{recs: crossrefRecords(25)})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		doc, err := svc.Engine().ResolveByID(KindDOI, fmt.Sprintf("10.1/ing-%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("10.1/ing-%d", i), doc.ID)
	}
}

func TestIngestSkipsInvalidRecords(t *testing.T) {
	svc := newTestService(t)
	ing := NewIngestor(svc.Engine(), DomainCrossref, nil)

	recs := []*Record{
		crossrefRecord("10.1/ok-1", "T", "A", "J", "1", "1"),
		{Domain: DomainCrossref, ID: "10.1/no-doc"},              // missing payload
		{Domain: DomainPubmed, ID: "123", DOI: "10.1/x"},         // wrong domain
		{Domain: DomainCrossref, ID: "  ", Document: []byte(`{}`)}, // blank id
		crossrefRecord("10.1/ok-2", "T", "A", "J", "1", "2"),
	}
	stats, err := ing.Run(context.Background(), &sliceSource{recs: recs})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 3, stats.Invalid)

	_, err = svc.Engine().ResolveByID(KindDOI, "10.1/ok-2")
	assert.NoError(t, err)
	_, err = svc.Engine().ResolveByID(KindDOI, "10.1/no-doc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIngestIndexingBatches(t *testing.T) {
	svc := newTestService(t)
	ix := &countingIndexer{}
	ing := NewIngestor(svc.Engine(), DomainCrossref, ix)

	// IndexingBatchSize is 5 in the test config: 12 documents flush as
	// 5 + 5 + tail of 2.
	stats, err := ing.Run(context.Background(), &sliceSource{recs: crossrefRecords(12)})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 2}, ix.batches)
	assert.Equal(t, 12, stats.IndexedOK)
	assert.Zero(t, stats.IndexedKO)
	assert.Equal(t, 1, ix.refreshed)
}

func TestIngestCrossReferenceDomainSkipsIndexing(t *testing.T) {
	svc := newTestService(t)
	ix := &countingIndexer{}
	ing := NewIngestor(svc.Engine(), DomainPubmed, ix)

	recs := []*Record{
		{Domain: DomainPubmed, ID: "1", DOI: "10.1/a"},
		{Domain: DomainPubmed, ID: "2", DOI: "10.1/b"},
	}
	stats, err := ing.Run(context.Background(), &sliceSource{recs: recs})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Valid)
	// Records without document payloads never reach the indexer.
	assert.Empty(t, ix.batches)
	assert.Zero(t, stats.IndexedOK)
}

func TestIngestPersistsLastIndexed(t *testing.T) {
	svc := newTestService(t)
	ing := NewIngestor(svc.Engine(), DomainCrossref, nil)

	_, ok, err := svc.Engine().LastIndexed(DomainCrossref)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = ing.Run(context.Background(), &sliceSource{recs: crossrefRecords(3)})
	require.NoError(t, err)

	ts, ok, err := svc.Engine().LastIndexed(DomainCrossref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, ts.IsZero())
}

func TestIngestCancelledContext(t *testing.T) {
	svc := newTestService(t)
	ing := NewIngestor(svc.Engine(), DomainCrossref, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ing.Run(ctx, &sliceSource{recs: crossrefRecords(5)})
	assert.ErrorIs(t, err, context.Canceled)
}
