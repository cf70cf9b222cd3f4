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

import "errors"

// Sentinel errors for the lookup service.
var (
	// ErrNotFound indicates no stored record matched the query.
	ErrNotFound = errors.New("no matching document")

	// ErrBlankIdentifier indicates a required identifier was blank.
	ErrBlankIdentifier = errors.New("the supplied identifier is blank")

	// ErrInvalidParameters indicates the supplied parameter combination
	// satisfies no resolution strategy.
	ErrInvalidParameters = errors.New("the supplied parameters were not sufficient to select a query")

	// ErrPostValidation indicates the matched candidate failed the
	// title/author similarity re-check. Resolution continues with the
	// next applicable strategy.
	ErrPostValidation = errors.New("candidate rejected by post-validation")

	// ErrNoParser indicates a free-text citation was supplied but no
	// citation parser collaborator is configured.
	ErrNoParser = errors.New("no citation parser configured")

	// ErrUnknownIdentifierKind indicates an unsupported identifier kind.
	ErrUnknownIdentifierKind = errors.New("unknown identifier kind")

	// ErrUnknownDomain indicates a record or request referenced a domain
	// the engine was not built with.
	ErrUnknownDomain = errors.New("unknown storage domain")

	// ErrMissingFields indicates a harvested record is missing the
	// required fields for its domain.
	ErrMissingFields = errors.New("record is missing required fields")
)
