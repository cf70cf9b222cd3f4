// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lookup starts the bibresolve lookup API server.
//
// The server resolves bibliographic identifiers (DOI, PMID, PMC, ISTEX,
// HAL) and partial metadata to canonical document records backed by
// embedded per-domain storage environments.
//
// Usage:
//
//	go run ./cmd/lookup -data /var/lib/bibresolve
//	go run ./cmd/lookup -data /var/lib/bibresolve -port 9090
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/service/health
//
//	# Resolve a DOI
//	curl http://localhost:8080/service/lookup/doi/10.1038/nature12373
//
//	# Resolve by journal metadata
//	curl 'http://localhost:8080/service/lookup?jtitle=Nature&volume=500&firstPage=190'
//
//	# Storage sizes
//	curl http://localhost:8080/service/data/size
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/bibresolve/pkg/logging"
	"github.com/AleutianAI/bibresolve/services/lookup"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	data := flag.String("data", "", "Parent directory for storage environments (required)")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (optional)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	readers := flag.Int("readers", 126, "Concurrent read-transaction slots per environment")
	indexerURL := flag.String("indexer", "", "Base URL of the external indexing service (optional)")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  *logDir,
		Service: "lookup",
	})
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if *data == "" {
		slog.Error("the -data flag is required")
		os.Exit(1)
	}

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := lookup.DefaultConfig(*data)
	cfg.MaxReaders = *readers
	cfg.IndexerURL = *indexerURL

	svc, err := lookup.NewService(cfg, logger.Logger)
	if err != nil {
		slog.Error("Failed to open lookup service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers := lookup.NewHandlers(svc.Engine())

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}

	root := router.Group("/")
	lookup.RegisterRoutes(root, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down lookup server")
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close storage environments", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting lookup server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
