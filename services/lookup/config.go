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
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config holds the lookup service configuration.
type Config struct {
	// DataPath is the parent directory for the per-domain storage
	// environments. Required unless InMemory is set.
	DataPath string `validate:"required_without=InMemory"`

	// InMemory runs every environment in memory. Testing only.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// MaxKeySize bounds encoded key length per environment.
	MaxKeySize int `validate:"gt=0"`

	// MaxReaders bounds concurrent read transactions per environment.
	MaxReaders int `validate:"gt=0"`

	// StoringBatchSize is the number of stored records between
	// commit-and-reopen checkpoints during bulk ingestion.
	StoringBatchSize int `validate:"gt=0"`

	// IndexingBatchSize is the number of records between hand-offs to the
	// external indexing collaborator.
	IndexingBatchSize int `validate:"gt=0"`

	// PostValidateArticle enables the title/author similarity re-check on
	// the article-metadata strategy when the query does not say.
	PostValidateArticle bool

	// PostValidateJournal extends the similarity re-check to the
	// journal-metadata strategy. Off by default.
	PostValidateJournal bool

	// SimilarityThreshold is the minimum Jaro-Winkler similarity a
	// post-validated candidate must reach on each supplied field.
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`

	// IndexName is the external search index refreshed at the end of a
	// full harvest.
	IndexName string

	// IndexerURL is the base URL of the external indexing service. Blank
	// disables indexing hand-offs.
	IndexerURL string
}

// DefaultConfig returns production defaults. Batch sizes mirror the values
// the bulk loaders have always used: checkpoint every 10000 records, hand
// 500 documents at a time to the indexer.
func DefaultConfig(dataPath string) Config {
	return Config{
		DataPath:            dataPath,
		SyncWrites:          true,
		MaxKeySize:          510,
		MaxReaders:          126,
		StoringBatchSize:    10000,
		IndexingBatchSize:   500,
		PostValidateArticle: true,
		SimilarityThreshold: 0.7,
		IndexName:           "biblio",
	}
}

// Validate checks the configuration for structural errors.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid lookup config: %w", err)
	}
	return nil
}
