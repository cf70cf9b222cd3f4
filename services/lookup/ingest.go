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
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/bibresolve/services/lookup/storage"
)

// RecordSource is the harvester collaborator contract: a stream of parsed
// bibliographic records. Next returns io.EOF at stream end. The harvester
// owns content validation; the ingestor checks required fields only.
type RecordSource interface {
	Next(ctx context.Context) (*Record, error)
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Commits   int `json:"commits"`
	IndexedOK int `json:"indexed_ok"`
	IndexedKO int `json:"indexed_ko"`
}

// Ingestor drives bulk loading of one domain from a harvested-record
// stream into the engine.
//
// The ingestor holds the domain's single write scope for the whole run
// and checkpoints it every StoringBatchSize records, bounding how long
// any one write transaction lives so readers are not starved. Every
// IndexingBatchSize records the accumulated documents are handed to the
// external indexing collaborator in a fire-and-count-counters style.
type Ingestor struct {
	engine  *Engine
	domain  Domain
	indexer Indexer
	cfg     Config
	logger  *slog.Logger
}

// NewIngestor builds an ingestor for one domain. indexer may be nil to
// disable indexing hand-offs.
func NewIngestor(engine *Engine, domain Domain, indexer Indexer) *Ingestor {
	return &Ingestor{
		engine:  engine,
		domain:  domain,
		indexer: indexer,
		cfg:     engine.cfg,
		logger:  engine.logger.With(slog.String("domain", string(domain))),
	}
}

// Run consumes the record stream to completion.
//
// Description:
//
//	Per record: required-field validation, Engine.Store under the active
//	scope, counter updates. Codec failures skip the single record;
//	storage failures abort the run with the in-flight batch discarded.
//	At stream end the final batch commits, the last-indexed timestamp is
//	persisted and the external index is refreshed.
//
// Inputs:
//
//	ctx - Cancels the run between records.
//	src - The harvester record stream.
//
// Outputs:
//
//	IngestStats - Counters for the run, also exported as metrics.
//	error - Non-nil on storage failure, source failure or cancellation.
func (ing *Ingestor) Run(ctx context.Context, src RecordSource) (IngestStats, error) {
	st, err := ing.engine.store(ing.domain)
	if err != nil {
		return IngestStats{}, err
	}

	scope, err := st.env.NewWriteScope(ctx)
	if err != nil {
		return IngestStats{}, err
	}
	defer scope.Discard()

	var stats IngestStats
	batch := make([]json.RawMessage, 0, ing.cfg.IndexingBatchSize)
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read record: %w", err)
		}

		if err := ing.validate(rec); err != nil {
			stats.Invalid++
			recordsSkippedTotal.WithLabelValues(string(ing.domain), "invalid").Inc()
			ing.logger.Warn("skipping invalid record",
				slog.String("id", rec.ID), slog.String("error", err.Error()))
			continue
		}

		if err := ing.engine.Store(rec, scope); err != nil {
			if errors.Is(err, storage.ErrCodec) {
				stats.Invalid++
				recordsSkippedTotal.WithLabelValues(string(ing.domain), "codec").Inc()
				continue
			}
			return stats, fmt.Errorf("store record %s: %w", rec.ID, err)
		}
		stats.Valid++
		recordsStoredTotal.WithLabelValues(string(ing.domain)).Inc()

		if rec.Document != nil {
			batch = append(batch, rec.Document)
		}

		if stats.Valid%ing.cfg.StoringBatchSize == 0 {
			if err := scope.Commit(); err != nil {
				return stats, err
			}
			stats.Commits++
			batchCommitsTotal.WithLabelValues(string(ing.domain)).Inc()
		}
		if len(batch) >= ing.cfg.IndexingBatchSize {
			ing.flushIndex(ctx, batch, &stats)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		ing.flushIndex(ctx, batch, &stats)
	}

	// Final commit covers the tail batch; skipped when the record count
	// landed exactly on a checkpoint.
	pending := scope.Writes() > 0
	if err := scope.Close(); err != nil {
		return stats, err
	}
	if pending {
		stats.Commits++
		batchCommitsTotal.WithLabelValues(string(ing.domain)).Inc()
	}

	if err := ing.engine.SetLastIndexed(ctx, ing.domain, time.Now()); err != nil {
		return stats, fmt.Errorf("persist last-indexed date: %w", err)
	}
	if ing.indexer != nil {
		if err := ing.indexer.Refresh(ctx, ing.cfg.IndexName); err != nil {
			ing.logger.Warn("index refresh failed", slog.String("error", err.Error()))
		}
	}

	ing.logger.Info("ingestion complete",
		slog.Int("valid", stats.Valid),
		slog.Int("invalid", stats.Invalid),
		slog.Int("commits", stats.Commits),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

// validate checks the required fields for the record's domain. Content
// validation belongs to the harvester.
func (ing *Ingestor) validate(rec *Record) error {
	if rec.Domain != ing.domain {
		return fmt.Errorf("%w: record domain %q, ingestor domain %q", ErrMissingFields, rec.Domain, ing.domain)
	}
	if isBlank(rec.ID) {
		return fmt.Errorf("%w: blank primary identifier", ErrMissingFields)
	}
	switch rec.Domain {
	case DomainCrossref, DomainHAL:
		if rec.Document == nil {
			return fmt.Errorf("%w: missing document payload", ErrMissingFields)
		}
	case DomainPubmed, DomainIstex:
		if isBlank(rec.DOI) {
			return fmt.Errorf("%w: cross-reference record without doi", ErrMissingFields)
		}
	}
	return nil
}

func (ing *Ingestor) flushIndex(ctx context.Context, batch []json.RawMessage, stats *IngestStats) {
	if ing.indexer == nil {
		return
	}
	ok, failed := ing.indexer.Index(ctx, batch, true)
	stats.IndexedOK += ok
	stats.IndexedKO += failed
	indexedDocumentsTotal.WithLabelValues("ok").Add(float64(ok))
	indexedDocumentsTotal.WithLabelValues("failed").Add(float64(failed))
	if failed > 0 {
		ing.logger.Warn("indexing batch partially failed",
			slog.Int("ok", ok), slog.Int("failed", failed))
	}
}
