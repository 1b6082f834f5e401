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
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
)

const twoFilePatch = `--- a/src/main.rs
+++ b/src/main.rs
@@ -1,3 +1,3 @@
 fn main() {
-    let a = 1;
+    let a = 2;
 }
--- a/src/other.rs
+++ b/src/other.rs
@@ -1,1 +1,2 @@
 pub fn helper() {}
+pub fn helper_two() {}
`

func TestApplyUnifiedDiff_ReportsStaleDocuments(t *testing.T) {
	root := "/workspace/hydro"
	mainURI := lsp.PathToURI(filepath.Join(root, "src", "main.rs"))
	otherURI := lsp.PathToURI(filepath.Join(root, "src", "other.rs"))

	store := NewStore(0)
	if _, err := store.Open(mainURI, 7, "fn main() {\n    let a = 1;\n}\n"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	impact, err := store.ApplyUnifiedDiff(root, twoFilePatch)
	if err != nil {
		t.Fatalf("ApplyUnifiedDiff() error: %v", err)
	}

	wantChanged := []string{mainURI, otherURI}
	if !reflect.DeepEqual(impact.ChangedURIs, wantChanged) {
		t.Errorf("ChangedURIs = %v, want %v", impact.ChangedURIs, wantChanged)
	}
	wantStale := []string{mainURI}
	if !reflect.DeepEqual(impact.StaleURIs, wantStale) {
		t.Errorf("StaleURIs = %v, want %v", impact.StaleURIs, wantStale)
	}
}

func TestApplyUnifiedDiff_DeletionUsesOriginalName(t *testing.T) {
	patch := `--- a/src/dead.rs
+++ /dev/null
@@ -1,1 +0,0 @@
-pub fn gone() {}
`
	store := NewStore(0)
	impact, err := store.ApplyUnifiedDiff("/workspace/hydro", patch)
	if err != nil {
		t.Fatalf("ApplyUnifiedDiff() error: %v", err)
	}

	want := []string{lsp.PathToURI("/workspace/hydro/src/dead.rs")}
	if !reflect.DeepEqual(impact.ChangedURIs, want) {
		t.Errorf("ChangedURIs = %v, want %v", impact.ChangedURIs, want)
	}
	if len(impact.StaleURIs) != 0 {
		t.Errorf("StaleURIs = %v, want empty", impact.StaleURIs)
	}
}

func TestApplyUnifiedDiff_DropsDiskFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	if err := os.WriteFile(path, []byte("v1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	uri := lsp.PathToURI(path)

	store := NewStore(0)
	if line, ok := store.LineAt(uri, 0); !ok || line != "v1" {
		t.Fatalf("LineAt() = %q, %v; want v1", line, ok)
	}

	if err := os.WriteFile(path, []byte("v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	patch := "--- " + path + "\n+++ " + path + "\n@@ -1,1 +1,1 @@\n-v1\n+v2\n"
	impact, err := store.ApplyUnifiedDiff(dir, patch)
	if err != nil {
		t.Fatalf("ApplyUnifiedDiff() error: %v", err)
	}
	if len(impact.ChangedURIs) != 1 || impact.ChangedURIs[0] != uri {
		t.Fatalf("ChangedURIs = %v, want [%s]", impact.ChangedURIs, uri)
	}

	if line, ok := store.LineAt(uri, 0); !ok || line != "v2" {
		t.Errorf("LineAt() after patch = %q, %v; want re-read v2", line, ok)
	}
}

func TestApplyUnifiedDiff_DuplicateEntriesCollapse(t *testing.T) {
	patch := `--- a/src/main.rs
+++ b/src/main.rs
@@ -1,1 +1,1 @@
-fn main() {}
+fn main() { run(); }
--- a/src/main.rs
+++ b/src/main.rs
@@ -5,1 +5,1 @@
-fn run() {}
+fn run() { body(); }
`
	store := NewStore(0)
	impact, err := store.ApplyUnifiedDiff("/workspace/hydro", patch)
	if err != nil {
		t.Fatalf("ApplyUnifiedDiff() error: %v", err)
	}

	want := []string{lsp.PathToURI("/workspace/hydro/src/main.rs")}
	if !reflect.DeepEqual(impact.ChangedURIs, want) {
		t.Errorf("ChangedURIs = %v, want %v", impact.ChangedURIs, want)
	}
}

func TestApplyUnifiedDiff_MalformedHunk(t *testing.T) {
	patch := `--- a/src/main.rs
+++ b/src/main.rs
@@ bogus @@
`
	store := NewStore(0)
	if _, err := store.ApplyUnifiedDiff("/workspace/hydro", patch); err == nil {
		t.Fatal("ApplyUnifiedDiff() accepted a malformed hunk header")
	}
}
