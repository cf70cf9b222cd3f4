// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lookup resolves bibliographic identifiers and partial metadata to
// canonical document records backed by embedded per-domain storage
// environments.
package lookup

import "encoding/json"

// IdentifierKind names a resolvable identifier type.
type IdentifierKind string

const (
	KindDOI   IdentifierKind = "doi"
	KindPMID  IdentifierKind = "pmid"
	KindPMC   IdentifierKind = "pmc"
	KindIstex IdentifierKind = "istexid"
	KindHAL   IdentifierKind = "halid"
)

// Domain names a logical storage domain. Each domain owns one storage
// environment with a doc table and an xref table.
type Domain string

const (
	// DomainCrossref holds the canonical doi→document records plus the
	// composite metadata keys pointing at them.
	DomainCrossref Domain = "crossref"

	// DomainPubmed holds pmid→doi and pmc→doi cross-references.
	DomainPubmed Domain = "pubmed"

	// DomainIstex holds istexid→doi cross-references.
	DomainIstex Domain = "istex"

	// DomainHAL holds halid→document records with doi→halid
	// cross-references.
	DomainHAL Domain = "hal"
)

// Domains lists every domain an engine serves, in a fixed order.
var Domains = []Domain{DomainCrossref, DomainPubmed, DomainIstex, DomainHAL}

// Record is one parsed bibliographic record handed over by a harvester.
//
// ID is the primary identifier within the record's domain: the DOI for
// crossref records, the HAL ID for hal records, the PMID for pubmed
// cross-reference records and the ISTEX ID for istex ones. The remaining
// identifier fields are optional cross-references; a blank cross-reference
// silently skips the corresponding secondary write.
type Record struct {
	Domain Domain `json:"domain"`
	ID     string `json:"id"`

	DOI  string `json:"doi,omitempty"`
	PMID string `json:"pmid,omitempty"`
	PMC  string `json:"pmc,omitempty"`

	// Bibliographic metadata used to derive composite lookup keys.
	ArticleTitle string `json:"title,omitempty"`
	FirstAuthor  string `json:"first_author,omitempty"`
	JournalTitle string `json:"journal,omitempty"`
	Volume       string `json:"volume,omitempty"`
	FirstPage    string `json:"first_page,omitempty"`

	// Document is the canonical JSON payload stored compressed in the
	// primary table. Nil for pure cross-reference records.
	Document json.RawMessage `json:"document,omitempty"`
}

// MatchingDocument is a successful resolution result: the matched primary
// identifier and the raw JSON payload, plus the strategy that produced it.
type MatchingDocument struct {
	ID        string          `json:"id"`
	DOI       string          `json:"doi,omitempty"`
	Document  json.RawMessage `json:"document,omitempty"`
	MatchedBy string          `json:"matched_by,omitempty"`
}

// Query carries whichever lookup parameters the caller supplied. The
// engine evaluates resolution strategies in fixed priority order against
// the populated fields.
type Query struct {
	DOI     string `form:"doi"`
	PMID    string `form:"pmid"`
	PMC     string `form:"pmc"`
	IstexID string `form:"istexid"`
	HalID   string `form:"halid"`

	ArticleTitle string `form:"atitle"`
	FirstAuthor  string `form:"firstAuthor"`
	JournalTitle string `form:"jtitle"`
	Volume       string `form:"volume"`
	FirstPage    string `form:"firstPage"`

	// Biblio is a raw citation string routed through the citation parser
	// and then the composite-key path.
	Biblio string `form:"biblio"`

	// PostValidate overrides the engine default for the article-metadata
	// similarity re-check. Nil means use the configured default.
	PostValidate *bool `form:"postValidate"`
}

// CitationParser is the collaborator that turns a free-text citation
// string into structured query fields. Citation parsing itself is outside
// the engine; implementations typically call an external service such as
// GROBID.
type CitationParser interface {
	Parse(biblio string) (*Query, error)
}
