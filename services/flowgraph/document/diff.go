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

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

// PatchImpact reports which documents a unified diff touches.
type PatchImpact struct {
	// ChangedURIs lists every file the patch modifies, creates or
	// deletes, in patch order without duplicates.
	ChangedURIs []string `json:"changed_uris"`

	// StaleURIs is the subset of ChangedURIs currently open in the
	// store. Their buffered text no longer matches the patched file.
	StaleURIs []string `json:"stale_uris"`
}

// ApplyUnifiedDiff maps a unified diff onto the store's documents.
//
// Description:
//
//	Parses patch, resolves each changed file against root and reports the
//	affected URIs. The store applies the invalidation it owns: fallback
//	lines for changed files are dropped so the next LineAt re-reads disk.
//	Open documents are only reported as stale; their text belongs to the
//	editor and is replaced through Update, not here.
//
// Inputs:
//
//	root - Workspace root for resolving relative patch paths
//	patch - Unified diff text, git-style "a/"+"b/" prefixes allowed
//
// Outputs:
//
//	*PatchImpact - Changed and stale URIs.
//	error - Non-nil when the diff does not parse.
func (s *Store) ApplyUnifiedDiff(root, patch string) (*PatchImpact, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing unified diff: %w", err)
	}

	impact := &PatchImpact{}
	seen := make(map[string]struct{}, len(fileDiffs))
	for _, fd := range fileDiffs {
		name := patchedName(fd)
		if name == "" {
			continue
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		uri := lsp.PathToURI(path)
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}
		impact.ChangedURIs = append(impact.ChangedURIs, uri)

		s.mu.Lock()
		delete(s.disk, uri)
		_, open := s.docs[uri]
		s.mu.Unlock()
		if open {
			impact.StaleURIs = append(impact.StaleURIs, uri)
		}
	}
	return impact, nil
}

// patchedName returns the post-patch file name of fd, or the pre-patch
// name for deletions. Git's "a/" and "b/" prefixes are stripped.
func patchedName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	if name == "" || name == "/dev/null" {
		return ""
	}
	if rest, ok := strings.CutPrefix(name, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "b/"); ok {
		return rest
	}
	return name
}
