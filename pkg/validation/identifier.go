// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers arriving
// at the API boundary.
//
// Identifiers end up as storage keys, so validating their shape up front
// keeps junk out of the key space and rejects obviously malformed
// requests before they reach a read transaction.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// doiPattern matches DOIs: a "10." prefix, a 4-9 digit registrant code,
// a slash and a non-empty suffix.
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// pmidPattern matches PubMed identifiers: 1-9 digits.
var pmidPattern = regexp.MustCompile(`^\d{1,9}$`)

// pmcPattern matches PubMed Central identifiers: "PMC" plus digits.
var pmcPattern = regexp.MustCompile(`^pmc\d{1,9}$`)

// istexPattern matches ISTEX identifiers: 40 hex characters (SHA-1).
var istexPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// halPattern matches HAL identifiers: "hal-" plus 8 digits, with an
// optional version suffix like "v2".
var halPattern = regexp.MustCompile(`^hal-\d{8}(v\d+)?$`)

// ValidateDOI validates a DOI shape, case-insensitively.
//
// Example:
//
//	err := validation.ValidateDOI("10.1038/nature12373")
func ValidateDOI(doi string) error {
	if !doiPattern.MatchString(normalize(doi)) {
		return fmt.Errorf("invalid DOI: %q", doi)
	}
	return nil
}

// ValidatePMID validates a PubMed identifier.
func ValidatePMID(pmid string) error {
	if !pmidPattern.MatchString(normalize(pmid)) {
		return fmt.Errorf("invalid PMID: %q", pmid)
	}
	return nil
}

// ValidatePMC validates a PubMed Central identifier.
func ValidatePMC(pmc string) error {
	if !pmcPattern.MatchString(normalize(pmc)) {
		return fmt.Errorf("invalid PMC ID: %q", pmc)
	}
	return nil
}

// ValidateIstexID validates an ISTEX identifier.
func ValidateIstexID(id string) error {
	if !istexPattern.MatchString(normalize(id)) {
		return fmt.Errorf("invalid ISTEX ID: %q", id)
	}
	return nil
}

// ValidateHalID validates a HAL identifier.
func ValidateHalID(id string) error {
	if !halPattern.MatchString(normalize(id)) {
		return fmt.Errorf("invalid HAL ID: %q", id)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
