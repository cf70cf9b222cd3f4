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
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/bibresolve/pkg/validation"
	"github.com/AleutianAI/bibresolve/services/lookup/storage"
)

// ServiceVersion is the lookup service version.
const ServiceVersion = "0.1.0"

// maxBiblioBytes caps the free-text citation body size.
const maxBiblioBytes = 1 << 16

// Handlers contains the HTTP handlers for the lookup service. The API
// layer is a thin parameter dispatch over the engine; all resolution
// logic lives in the engine.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates handlers for the given engine.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleLookup handles GET /service/lookup.
//
// Dispatches whichever query parameters the caller supplied through the
// engine's fixed-priority resolution chain.
func (h *Handlers) HandleLookup(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLookup")

	var q Query
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": requestID})
		return
	}

	doc, err := h.engine.Resolve(q)
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	writeDocument(c, doc)
}

// HandleByDOI handles GET /service/lookup/doi/*doi. The catch-all route
// parameter carries a leading slash.
func (h *Handlers) HandleByDOI(c *gin.Context) {
	h.handleByID(c, KindDOI, strings.TrimPrefix(c.Param("doi"), "/"), validation.ValidateDOI)
}

// HandleByPMID handles GET /service/lookup/pmid/:pmid.
func (h *Handlers) HandleByPMID(c *gin.Context) {
	h.handleByID(c, KindPMID, c.Param("pmid"), validation.ValidatePMID)
}

// HandleByPMC handles GET /service/lookup/pmc/:pmc.
func (h *Handlers) HandleByPMC(c *gin.Context) {
	h.handleByID(c, KindPMC, c.Param("pmc"), validation.ValidatePMC)
}

// HandleByIstexID handles GET /service/lookup/istexid/:istexid.
func (h *Handlers) HandleByIstexID(c *gin.Context) {
	h.handleByID(c, KindIstex, c.Param("istexid"), validation.ValidateIstexID)
}

// HandleByHalID handles GET /service/lookup/halid/:halid.
func (h *Handlers) HandleByHalID(c *gin.Context) {
	h.handleByID(c, KindHAL, c.Param("halid"), validation.ValidateHalID)
}

func (h *Handlers) handleByID(c *gin.Context, kind IdentifierKind, id string, validate func(string) error) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "kind", string(kind))

	if err := validate(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": requestID})
		return
	}
	doc, err := h.engine.ResolveByID(kind, id)
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	writeDocument(c, doc)
}

// HandleBiblio handles POST /service/lookup: a raw citation string body
// routed through the citation parser and the composite-key path.
func (h *Handlers) HandleBiblio(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleBiblio")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBiblioBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body", "request_id": requestID})
		return
	}
	doc, err := h.engine.ResolveByBiblio(string(body))
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	writeDocument(c, doc)
}

// HandleSize handles GET /service/data/size: per-table and total entry
// counts.
func (h *Handlers) HandleSize(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSize")

	sizes, err := h.engine.Sizes()
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	var total uint64
	for _, n := range sizes {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"sizes": sizes, "full_size": total})
}

// HandleLastIndexed handles GET /service/data/last_indexed.
func (h *Handlers) HandleLastIndexed(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLastIndexed")

	domain := Domain(c.DefaultQuery("domain", string(DomainCrossref)))
	t, ok, err := h.engine.LastIndexed(domain)
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed harvest", "request_id": requestID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"domain": domain, "last_indexed": t.Format(time.RFC3339)})
}

// HandleList handles GET /service/data: a capped scan of a domain's
// stored documents.
func (h *Handlers) HandleList(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleList")

	var params struct {
		Domain string `form:"domain,default=crossref"`
		Total  int    `form:"total"`
	}
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": requestID})
		return
	}
	entries, err := h.engine.List(Domain(params.Domain), params.Total)
	if err != nil {
		writeError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// HandleHealth handles GET /service/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

// writeDocument returns the raw stored JSON payload when present, or the
// matched identifiers for pure cross-reference hits.
func writeDocument(c *gin.Context, doc MatchingDocument) {
	if doc.Document != nil {
		c.Data(http.StatusOK, "application/json", doc.Document)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// writeError maps the error taxonomy to HTTP statuses: invalid parameters
// and blank identifiers are client errors, overload is retryable, the
// rest are internal.
func writeError(c *gin.Context, logger *slog.Logger, requestID string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching document", "request_id": requestID})
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, ErrBlankIdentifier),
		errors.Is(err, ErrUnknownIdentifierKind),
		errors.Is(err, ErrUnknownDomain),
		errors.Is(err, ErrNoParser):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "request_id": requestID})
	case errors.Is(err, storage.ErrOverloaded):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage overloaded, retry with backoff", "request_id": requestID})
	default:
		logger.Error("lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "request_id": requestID})
	}
}
