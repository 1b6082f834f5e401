// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import "errors"

// Sentinel errors for type resolution.
//
// Both are soft at the resolution level: a timed-out or failed strategy
// falls through to the next one, and a pass that exhausts all strategies
// reports "no type information" as empty output, not as an error.
var (
	// ErrQueryTimeout indicates a single backend query exceeded its budget.
	ErrQueryTimeout = errors.New("backend query timeout")

	// ErrBackendQuery indicates the backend rejected or failed a query.
	ErrBackendQuery = errors.New("backend query failed")
)
