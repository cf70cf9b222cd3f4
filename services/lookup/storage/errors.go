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

import "errors"

// Sentinel errors for the storage layer.
var (
	// ErrOverloaded indicates the bounded reader-slot pool is exhausted.
	// This is a transient backpressure signal; callers should retry with
	// backoff rather than treat it as a failure.
	ErrOverloaded = errors.New("storage overloaded: no free reader slots")

	// ErrNotFound indicates the key has no entry in the table.
	ErrNotFound = errors.New("key not found")

	// ErrCodec indicates an encode/compress or decode/decompress failure.
	// Callers degrade the affected record to not-found (reads) or
	// skipped (writes) instead of propagating it further.
	ErrCodec = errors.New("codec failure")

	// ErrKeyTooLarge indicates a key exceeds the environment max key size.
	ErrKeyTooLarge = errors.New("key exceeds maximum key size")

	// ErrEnvClosed indicates the environment has been closed.
	ErrEnvClosed = errors.New("storage environment is closed")

	// ErrScopeClosed indicates the write scope has already been closed.
	ErrScopeClosed = errors.New("write scope is closed")
)
