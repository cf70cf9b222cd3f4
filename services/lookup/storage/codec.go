// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/klauspost/compress/gzip"
)

// Codec encodes keys and values for one environment.
//
// Keys are normalized identifier strings written into a fixed-capacity
// buffer bounded by the environment max key size. Values are either
// gzip-compressed (JSON documents, timestamps) or plain identifier bytes:
// cross-reference values are short enough that compression overhead exceeds
// the benefit, so they are deliberately stored uncompressed. Decode paths
// are exact inverses; any failure surfaces as ErrCodec so the caller can
// degrade the single affected record instead of aborting the scan or batch.
type Codec struct {
	maxKeySize int
}

// NewCodec returns a codec bounded by the environment's max key size.
func NewCodec(env *Env) *Codec {
	return &Codec{maxKeySize: env.MaxKeySize()}
}

// NormalizeKey lower-cases, trims and whitespace-collapses an identifier.
//
// The identifier space is case-insensitive: every key passes through this
// exact normalization on both the store and the lookup path, otherwise
// stored records become permanently unreachable.
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.ContainsFunc(s, unicode.IsSpace) {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// EncodeKey normalizes an identifier and encodes it into a fixed-capacity
// key buffer. Blank keys and keys longer than the environment max key size
// fail with ErrCodec.
func (c *Codec) EncodeKey(s string) ([]byte, error) {
	s = NormalizeKey(s)
	if s == "" {
		return nil, fmt.Errorf("%w: blank key", ErrCodec)
	}
	if len(s) > c.maxKeySize {
		return nil, fmt.Errorf("%w: %w (%d > %d)", ErrCodec, ErrKeyTooLarge, len(s), c.maxKeySize)
	}
	buf := make([]byte, 0, c.maxKeySize)
	return append(buf, s...), nil
}

// Compress gzip-compresses a value payload.
func (c *Codec) Compress(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(value); err != nil {
		return nil, fmt.Errorf("%w: compress: %w", ErrCodec, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: compress: %w", ErrCodec, err)
	}
	return buf.Bytes(), nil
}

// Decompress is the exact inverse of Compress. Corrupted or incompatible
// payloads fail with ErrCodec.
func (c *Codec) Decompress(value []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrCodec, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrCodec, err)
	}
	return out, nil
}

// EncodeRef encodes a cross-reference identifier value, uncompressed.
func (c *Codec) EncodeRef(id string) []byte {
	return []byte(NormalizeKey(id))
}

// DecodeRef decodes a cross-reference identifier value.
func (c *Codec) DecodeRef(value []byte) string {
	return string(value)
}

// EncodeTime encodes a timestamp value, compressed like a document.
func (c *Codec) EncodeTime(t time.Time) ([]byte, error) {
	return c.Compress([]byte(t.UTC().Format(time.RFC3339Nano)))
}

// DecodeTime is the inverse of EncodeTime.
func (c *Codec) DecodeTime(value []byte) (time.Time, error) {
	raw, err := c.Decompress(value)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp: %w", ErrCodec, err)
	}
	return t, nil
}
