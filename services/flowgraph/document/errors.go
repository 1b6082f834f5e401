// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import "errors"

var (
	// ErrDocumentTooLarge is returned when a document exceeds the
	// configured maximum analyzable size.
	ErrDocumentTooLarge = errors.New("document exceeds maximum analyzable size")

	// ErrUnknownDocument is returned when an operation targets a URI
	// that is not open in the store.
	ErrUnknownDocument = errors.New("document not open in store")
)
