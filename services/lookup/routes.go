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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all lookup routes with the router group.
//
// Lookup endpoints:
//
//	GET  /service/lookup                 - Resolve by whichever parameters were supplied
//	GET  /service/lookup/doi/*doi        - Resolve by DOI
//	GET  /service/lookup/pmid/:pmid      - Resolve by PMID
//	GET  /service/lookup/pmc/:pmc        - Resolve by PMC ID
//	GET  /service/lookup/istexid/:istexid - Resolve by ISTEX ID
//	GET  /service/lookup/halid/:halid    - Resolve by HAL ID
//	POST /service/lookup                 - Resolve a free-text citation (text/plain body)
//
// Data endpoints:
//
//	GET  /service/data                   - Capped scan of stored documents
//	GET  /service/data/size              - Per-table and total entry counts
//	GET  /service/data/last_indexed      - Completion time of the last harvest
//	GET  /service/health                 - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	svc := rg.Group("/service")

	lk := svc.Group("/lookup")
	lk.GET("", h.HandleLookup)
	lk.POST("", h.HandleBiblio)
	// DOIs contain slashes; a catch-all parameter keeps them in one segment.
	lk.GET("/doi/*doi", h.HandleByDOI)
	lk.GET("/pmid/:pmid", h.HandleByPMID)
	lk.GET("/pmc/:pmc", h.HandleByPMC)
	lk.GET("/istexid/:istexid", h.HandleByIstexID)
	lk.GET("/halid/:halid", h.HandleByHalID)

	data := svc.Group("/data")
	data.GET("", h.HandleList)
	data.GET("/size", h.HandleSize)
	data.GET("/last_indexed", h.HandleLastIndexed)

	svc.GET("/health", h.HandleHealth)
}
