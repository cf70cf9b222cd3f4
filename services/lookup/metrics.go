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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bibresolve_lookups_total",
		Help: "Resolution attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	codecFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bibresolve_codec_failures_total",
		Help: "Stored payloads that failed to decode, degraded to not-found",
	}, []string{"domain"})

	overloadRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bibresolve_overload_rejections_total",
		Help: "Reads rejected because the reader-slot pool was exhausted",
	})

	recordsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bibresolve_records_stored_total",
		Help: "Records stored during ingestion by domain",
	}, []string{"domain"})

	recordsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bibresolve_records_skipped_total",
		Help: "Records skipped during ingestion by domain and reason",
	}, []string{"domain", "reason"})

	batchCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bibresolve_batch_commits_total",
		Help: "Write-transaction checkpoints during ingestion by domain",
	}, []string{"domain"})

	indexedDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bibresolve_indexed_documents_total",
		Help: "Documents handed to the external indexer by status",
	}, []string{"status"})
)
