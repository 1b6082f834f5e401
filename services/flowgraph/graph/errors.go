// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "errors"

var (
	// ErrInvalidGraphPayload reports a serialized graph that fails
	// structural validation. Fatal to the requesting call only; the
	// caller surfaces it as a rejected request and never retries.
	ErrInvalidGraphPayload = errors.New("invalid graph payload")

	// ErrSnapshotNotFound reports a snapshot ID with no stored data.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCorruptSnapshot reports stored snapshot bytes that fail the
	// integrity check or cannot be decompressed.
	ErrCorruptSnapshot = errors.New("snapshot data corrupt")

	// ErrSchemaIncompatible reports a stored graph whose schema major
	// version differs from this build's.
	ErrSchemaIncompatible = errors.New("snapshot schema incompatible")
)
