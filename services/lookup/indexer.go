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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Indexer is the external search-indexing collaborator contract: it
// accepts a batch of serialized JSON documents plus an update flag and
// reports per-document success/failure counts. Refresh is invoked once at
// full-harvest completion.
//
// The engine never awaits indexing; the ingestor invokes it
// fire-and-count-counters style.
type Indexer interface {
	Index(ctx context.Context, docs []json.RawMessage, update bool) (ok, failed int)
	Refresh(ctx context.Context, index string) error
}

// NopIndexer accepts every batch without doing anything. Used when no
// indexing service is configured, and in tests.
type NopIndexer struct{}

func (NopIndexer) Index(_ context.Context, docs []json.RawMessage, _ bool) (int, int) {
	return len(docs), 0
}

func (NopIndexer) Refresh(context.Context, string) error { return nil }

// HTTPIndexer posts document batches to an external indexing service over
// HTTP, retrying transient failures with exponential backoff. A batch
// that still fails after the retry budget counts every document as
// failed; the ingestion run keeps going.
type HTTPIndexer struct {
	baseURL string
	index   string
	client  *http.Client
	logger  *slog.Logger

	// maxElapsed bounds the total retry time per batch.
	maxElapsed time.Duration
}

// NewHTTPIndexer builds an indexer posting to baseURL/<index>/_bulk.
func NewHTTPIndexer(baseURL, index string, logger *slog.Logger) *HTTPIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPIndexer{
		baseURL:    baseURL,
		index:      index,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		maxElapsed: 2 * time.Minute,
	}
}

type bulkRequest struct {
	Update    bool              `json:"update"`
	Documents []json.RawMessage `json:"documents"`
}

// Index posts the batch, retrying with exponential backoff until the
// retry budget is spent or ctx is done.
func (ix *HTTPIndexer) Index(ctx context.Context, docs []json.RawMessage, update bool) (int, int) {
	if len(docs) == 0 {
		return 0, 0
	}
	body, err := json.Marshal(bulkRequest{Update: update, Documents: docs})
	if err != nil {
		ix.logger.Error("cannot marshal indexing batch", slog.String("error", err.Error()))
		return 0, len(docs)
	}

	operation := func() error {
		return ix.post(ctx, fmt.Sprintf("%s/%s/_bulk", ix.baseURL, ix.index), body)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = ix.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		ix.logger.Error("indexing batch failed after retries",
			slog.Int("documents", len(docs)), slog.String("error", err.Error()))
		return 0, len(docs)
	}
	return len(docs), 0
}

// Refresh asks the indexing service to make everything indexed so far
// visible to searches.
func (ix *HTTPIndexer) Refresh(ctx context.Context, index string) error {
	return ix.post(ctx, fmt.Sprintf("%s/%s/_refresh", ix.baseURL, index), nil)
}

func (ix *HTTPIndexer) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ix.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("indexing service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("indexing service rejected request: %d", resp.StatusCode))
	}
	return nil
}
