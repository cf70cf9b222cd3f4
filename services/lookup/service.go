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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/bibresolve/services/lookup/storage"
)

// Service owns the per-domain storage environments and the engine built
// over them. One Service exists per process (or per test scope); there is
// no global singleton accessor.
type Service struct {
	cfg    Config
	logger *slog.Logger
	envs   map[Domain]*storage.Env
	engine *Engine
}

// NewService opens every domain environment and builds the engine.
//
// Description:
//
//	Validates the configuration, opens one storage environment per
//	domain under cfg.DataPath and wires the engine. On any failure the
//	environments opened so far are closed before returning.
//
// Inputs:
//
//	cfg - Service configuration; see Config.
//	logger - Structured logger; nil falls back to slog.Default.
//
// Outputs:
//
//	*Service - The service. Caller must Close it at shutdown.
//	error - Non-nil on invalid config or environment open failure.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	storageCfg := storage.Config{
		Path:       cfg.DataPath,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
		MaxKeySize: cfg.MaxKeySize,
		MaxReaders: cfg.MaxReaders,
		Logger:     logger,
	}

	envs := make(map[Domain]*storage.Env, len(Domains))
	for _, d := range Domains {
		env, err := storage.Open(string(d), storageCfg)
		if err != nil {
			for _, opened := range envs {
				opened.Close()
			}
			return nil, fmt.Errorf("open %s environment: %w", d, err)
		}
		envs[d] = env
	}

	engine, err := NewEngine(cfg, envs, logger)
	if err != nil {
		for _, env := range envs {
			env.Close()
		}
		return nil, err
	}

	return &Service{cfg: cfg, logger: logger, envs: envs, engine: engine}, nil
}

// Engine returns the lookup engine.
func (s *Service) Engine() *Engine { return s.engine }

// NewIngestor returns an ingestor for one domain, wired to the configured
// indexing collaborator. With no IndexerURL configured indexing hand-offs
// are disabled.
func (s *Service) NewIngestor(domain Domain) *Ingestor {
	var indexer Indexer
	if s.cfg.IndexerURL != "" {
		indexer = NewHTTPIndexer(s.cfg.IndexerURL, s.cfg.IndexName, s.logger)
	}
	return NewIngestor(s.engine, domain, indexer)
}

// Close closes every domain environment. Safe to call multiple times.
func (s *Service) Close() error {
	var errs []error
	for _, env := range s.envs {
		if err := env.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
