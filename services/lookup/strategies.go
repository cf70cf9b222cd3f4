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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xrash/smetrics"
)

// resolution is one (predicate, strategy) pair of the fallback chain.
type resolution struct {
	name    string
	applies func(q Query) bool
	run     func(q Query) (MatchingDocument, error)
}

// buildChain returns the fixed-priority resolution chain. Order matters:
// direct identifiers first (DOI, PMID, PMC, ISTEX, HAL), then article
// metadata, then journal metadata, then the parsed free-text citation.
func (e *Engine) buildChain() []resolution {
	return []resolution{
		{
			name:    "doi",
			applies: func(q Query) bool { return !isBlank(q.DOI) },
			run:     func(q Query) (MatchingDocument, error) { return e.byDOI(q.DOI) },
		},
		{
			name:    "pmid",
			applies: func(q Query) bool { return !isBlank(q.PMID) },
			run:     func(q Query) (MatchingDocument, error) { return e.byRef(DomainPubmed, refKey(KindPMID, q.PMID)) },
		},
		{
			name:    "pmc",
			applies: func(q Query) bool { return !isBlank(q.PMC) },
			run:     func(q Query) (MatchingDocument, error) { return e.byRef(DomainPubmed, refKey(KindPMC, q.PMC)) },
		},
		{
			name:    "istexid",
			applies: func(q Query) bool { return !isBlank(q.IstexID) },
			run:     func(q Query) (MatchingDocument, error) { return e.byRef(DomainIstex, q.IstexID) },
		},
		{
			name:    "halid",
			applies: func(q Query) bool { return !isBlank(q.HalID) },
			run:     func(q Query) (MatchingDocument, error) { return e.byHalID(q.HalID) },
		},
		{
			name:    "article-metadata",
			applies: func(q Query) bool { return !isBlank(q.ArticleTitle) && !isBlank(q.FirstAuthor) },
			run: func(q Query) (MatchingDocument, error) {
				postValidate := e.cfg.PostValidateArticle
				if q.PostValidate != nil {
					postValidate = *q.PostValidate
				}
				return e.byArticleMetadata(q.ArticleTitle, q.FirstAuthor, postValidate)
			},
		},
		{
			name: "journal-metadata",
			applies: func(q Query) bool {
				return !isBlank(q.JournalTitle) && !isBlank(q.Volume) && !isBlank(q.FirstPage)
			},
			run: func(q Query) (MatchingDocument, error) {
				return e.byJournalMetadata(q.JournalTitle, q.Volume, q.FirstPage, q.FirstAuthor)
			},
		},
		{
			name:    "biblio",
			applies: func(q Query) bool { return !isBlank(q.Biblio) && e.parser != nil },
			run:     func(q Query) (MatchingDocument, error) { return e.ResolveByBiblio(q.Biblio) },
		},
	}
}

// Resolve evaluates the fallback chain against whichever parameters the
// caller supplied. The first applicable strategy that yields a match wins;
// not-found and post-validation rejections fall through to the next
// applicable strategy. When no strategy applies the parameter set is
// insufficient and the call fails with ErrInvalidParameters.
func (e *Engine) Resolve(q Query) (MatchingDocument, error) {
	applicable := false
	for _, s := range e.chain {
		if !s.applies(q) {
			continue
		}
		applicable = true
		doc, err := s.run(q)
		switch {
		case err == nil:
			doc.MatchedBy = s.name
			lookupsTotal.WithLabelValues(s.name, "match").Inc()
			return doc, nil
		case errors.Is(err, ErrNotFound):
			lookupsTotal.WithLabelValues(s.name, "not_found").Inc()
		case errors.Is(err, ErrPostValidation):
			lookupsTotal.WithLabelValues(s.name, "rejected").Inc()
		default:
			lookupsTotal.WithLabelValues(s.name, "error").Inc()
			return MatchingDocument{}, err
		}
	}
	if !applicable {
		return MatchingDocument{}, ErrInvalidParameters
	}
	return MatchingDocument{}, ErrNotFound
}

// ResolveByID resolves a single identifier of the given kind.
func (e *Engine) ResolveByID(kind IdentifierKind, id string) (MatchingDocument, error) {
	if isBlank(id) {
		return MatchingDocument{}, fmt.Errorf("%w (%s)", ErrBlankIdentifier, kind)
	}
	switch kind {
	case KindDOI:
		return e.byDOI(id)
	case KindPMID:
		return e.byRef(DomainPubmed, refKey(KindPMID, id))
	case KindPMC:
		return e.byRef(DomainPubmed, refKey(KindPMC, id))
	case KindIstex:
		return e.byRef(DomainIstex, id)
	case KindHAL:
		return e.byHalID(id)
	}
	return MatchingDocument{}, fmt.Errorf("%w: %q", ErrUnknownIdentifierKind, kind)
}

// ResolveByArticleMetadata resolves by article title and first author,
// optionally re-checking the candidate's similarity before accepting it.
func (e *Engine) ResolveByArticleMetadata(atitle, firstAuthor string, postValidate bool) (MatchingDocument, error) {
	if isBlank(atitle) || isBlank(firstAuthor) {
		return MatchingDocument{}, ErrInvalidParameters
	}
	return e.byArticleMetadata(atitle, firstAuthor, postValidate)
}

// ResolveByJournalMetadata resolves by journal title (or short title or
// ISSN), volume and first page, optionally disambiguated by first author.
func (e *Engine) ResolveByJournalMetadata(jtitle, volume, firstPage, firstAuthor string) (MatchingDocument, error) {
	if isBlank(jtitle) || isBlank(volume) || isBlank(firstPage) {
		return MatchingDocument{}, ErrInvalidParameters
	}
	return e.byJournalMetadata(jtitle, volume, firstPage, firstAuthor)
}

// ResolveByBiblio parses a free-text citation string with the configured
// parser collaborator and routes the result through the composite-key
// path.
func (e *Engine) ResolveByBiblio(biblio string) (MatchingDocument, error) {
	if isBlank(biblio) {
		return MatchingDocument{}, ErrInvalidParameters
	}
	if e.parser == nil {
		return MatchingDocument{}, ErrNoParser
	}
	parsed, err := e.parser.Parse(biblio)
	if err != nil {
		return MatchingDocument{}, fmt.Errorf("parse citation: %w", err)
	}
	if isBlank(parsed.JournalTitle) || isBlank(parsed.Volume) || isBlank(parsed.FirstPage) {
		return MatchingDocument{}, ErrInvalidParameters
	}
	return e.byJournalMetadata(parsed.JournalTitle, parsed.Volume, parsed.FirstPage, parsed.FirstAuthor)
}

// byDOI resolves the canonical record directly from the crossref doc
// table.
func (e *Engine) byDOI(doi string) (MatchingDocument, error) {
	st, err := e.store(DomainCrossref)
	if err != nil {
		return MatchingDocument{}, err
	}
	doc, err := e.readDoc(st, doi)
	if err != nil {
		return MatchingDocument{}, err
	}
	id := normalized(doi)
	return MatchingDocument{ID: id, DOI: id, Document: doc}, nil
}

// byRef resolves a secondary identifier to its DOI through a domain's
// xref table, then fetches the canonical record.
func (e *Engine) byRef(d Domain, key string) (MatchingDocument, error) {
	st, err := e.store(d)
	if err != nil {
		return MatchingDocument{}, err
	}
	doi, err := e.readRef(st, key)
	if err != nil {
		return MatchingDocument{}, err
	}
	return e.byDOI(doi)
}

// byHalID resolves a domain-specific record directly from the hal doc
// table; hal records carry their own payloads.
func (e *Engine) byHalID(halID string) (MatchingDocument, error) {
	st, err := e.store(DomainHAL)
	if err != nil {
		return MatchingDocument{}, err
	}
	doc, err := e.readDoc(st, halID)
	if err != nil {
		return MatchingDocument{}, err
	}
	return MatchingDocument{ID: normalized(halID), DOI: docDOI(doc), Document: doc}, nil
}

func (e *Engine) byArticleMetadata(atitle, firstAuthor string, postValidate bool) (MatchingDocument, error) {
	doc, err := e.byRef(DomainCrossref, articleKey(atitle, firstAuthor))
	if err != nil {
		return MatchingDocument{}, err
	}
	if postValidate {
		if err := e.postValidate(doc.Document, atitle, firstAuthor); err != nil {
			return MatchingDocument{}, err
		}
	}
	return doc, nil
}

func (e *Engine) byJournalMetadata(jtitle, volume, firstPage, firstAuthor string) (MatchingDocument, error) {
	var doc MatchingDocument
	var err error
	if !isBlank(firstAuthor) {
		doc, err = e.byRef(DomainCrossref, journalAuthorKey(jtitle, volume, firstPage, firstAuthor))
		if errors.Is(err, ErrNotFound) {
			doc, err = e.byRef(DomainCrossref, journalKey(jtitle, volume, firstPage))
		}
	} else {
		doc, err = e.byRef(DomainCrossref, journalKey(jtitle, volume, firstPage))
	}
	if err != nil {
		return MatchingDocument{}, err
	}
	if e.cfg.PostValidateJournal && !isBlank(firstAuthor) {
		if err := e.postValidate(doc.Document, "", firstAuthor); err != nil {
			return MatchingDocument{}, err
		}
	}
	return doc, nil
}

// candidateFields is the subset of a stored document compared during
// post-validation.
type candidateFields struct {
	DOI         string `json:"doi"`
	Title       string `json:"title"`
	FirstAuthor string `json:"first_author"`
}

// postValidate re-checks the returned candidate's title and first-author
// similarity before accepting it. Each supplied field must reach the
// configured Jaro-Winkler threshold; a failed check rejects the candidate
// and resolution continues with the next strategy.
func (e *Engine) postValidate(doc json.RawMessage, wantTitle, wantAuthor string) error {
	var fields candidateFields
	if err := json.Unmarshal(doc, &fields); err != nil {
		return fmt.Errorf("%w: unparsable candidate", ErrPostValidation)
	}
	if !isBlank(wantTitle) && !similar(wantTitle, fields.Title, e.cfg.SimilarityThreshold) {
		return fmt.Errorf("%w: title mismatch", ErrPostValidation)
	}
	if !isBlank(wantAuthor) && !similar(wantAuthor, fields.FirstAuthor, e.cfg.SimilarityThreshold) {
		return fmt.Errorf("%w: first author mismatch", ErrPostValidation)
	}
	return nil
}

func similar(a, b string, threshold float64) bool {
	a, b = normalized(a), normalized(b)
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4) >= threshold
}

// docDOI extracts the DOI field from a stored document, best effort.
func docDOI(doc json.RawMessage) string {
	var fields candidateFields
	if err := json.Unmarshal(doc, &fields); err != nil {
		return ""
	}
	return normalized(fields.DOI)
}

// refKey tags a secondary identifier with its kind inside a shared xref
// table, e.g. "pmid:31104356".
func refKey(kind IdentifierKind, id string) string {
	return string(kind) + ":" + normalized(id)
}

// Composite keys hash the normalized metadata fields in a fixed order.
// The construction is byte-identical between the ingestion path and the
// query path; changing the normalization or the field order makes stored
// records permanently unreachable.

func journalKey(jtitle, volume, firstPage string) string {
	return "jk:" + metadataHash(jtitle, volume, firstPage)
}

func journalAuthorKey(jtitle, volume, firstPage, firstAuthor string) string {
	return "jka:" + metadataHash(jtitle, volume, firstPage, firstAuthor)
}

func articleKey(atitle, firstAuthor string) string {
	return "ak:" + metadataHash(atitle, firstAuthor)
}

func metadataHash(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(normalized(f)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
