// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hydro-project/hydro-ide/services/flowgraph"
	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	"github.com/hydro-project/hydro-ide/services/flowgraph/lsp"
	badgerstore "github.com/hydro-project/hydro-ide/services/flowgraph/storage/badger"
)

// analyzeConcurrency caps parallel document analyses. Passes on distinct
// documents hit distinct cache keys, so four keeps rust-analyzer busy
// without flooding it.
const analyzeConcurrency = 4

var (
	analyzeWorkspace    string
	analyzeScope        string
	analyzeSaveSnapshot bool
	analyzeSnapshotDir  string
	analyzeJSON         bool

	analyzeCmd = &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Resolve dataflow locations for one or more Rust files",
		Long: `Starts a local analysis engine (rust-analyzer must be installed),
opens a session for the workspace, and analyzes each file. Files are
analyzed in parallel; the operator sites within one file are always
resolved in source order.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runAnalyzeCommand,
	}
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeWorkspace, "workspace", "w", "", "Workspace root (default: current directory)")
	analyzeCmd.Flags().StringVar(&analyzeScope, "scope", flowgraph.ScopeDocument, "Analysis scope (document, workspace)")
	analyzeCmd.Flags().BoolVar(&analyzeSaveSnapshot, "snapshot", false, "Save each analyzed graph as a snapshot")
	analyzeCmd.Flags().StringVar(&analyzeSnapshotDir, "snapshot-dir", "", "Snapshot BadgerDB directory (default $FLOWGRAPH_SNAPSHOT_DIR or ~/.hydro-ide/snapshots)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print results as JSON instead of styled text")
}

func runAnalyzeCommand(_ *cobra.Command, args []string) {
	workspace, err := resolveWorkspace(analyzeWorkspace)
	if err != nil {
		log.Fatalf("--workspace: %v", err)
	}
	if analyzeScope != flowgraph.ScopeDocument && analyzeScope != flowgraph.ScopeWorkspace {
		log.Fatalf("--scope must be %q or %q", flowgraph.ScopeDocument, flowgraph.ScopeWorkspace)
	}

	// Engine logs go to stderr at warn level so stdout stays parseable.
	cfg := flowgraph.DefaultServiceConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var store *graph.SnapshotStore
	var db *badgerstore.DB
	if analyzeSaveSnapshot {
		dir, err := snapshotDBDir(analyzeSnapshotDir)
		if err != nil {
			log.Fatalf("snapshot directory: %v", err)
		}
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = dir
		db, err = badgerstore.OpenDB(bcfg)
		if err != nil {
			log.Fatalf("opening snapshot DB at %s: %v", dir, err)
		}
		store, err = graph.NewSnapshotStore(db, cfg.Logger)
		if err != nil {
			log.Fatalf("snapshot store: %v", err)
		}
		cfg.Snapshots = store
	}

	svc := flowgraph.NewService(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := svc.Close(closeCtx); err != nil {
			slog.Error("failed to close analysis service", "error", err)
		}
		if db != nil {
			if err := db.Close(); err != nil {
				slog.Error("failed to close snapshot DB", "error", err)
			}
		}
	}()

	fmt.Fprintf(os.Stderr, "Opening session for %s (rust-analyzer indexing may take a while)...\n", workspace)
	sess, _, err := svc.OpenSession(ctx, workspace)
	if err != nil {
		log.Fatalf("opening session: %v", err)
	}

	results := make([]*flowgraph.AnalysisResult, len(args))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, analyzeConcurrency)

	for i, arg := range args {
		i, arg := i, arg // capture
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := analyzeFile(gctx, sess, workspace, arg)
			if err != nil {
				return fmt.Errorf("%s: %w", arg, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	if analyzeJSON {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			log.Fatalf("encoding results: %v", err)
		}
		fmt.Println(string(out))
	} else {
		for _, res := range results {
			printAnalysisResult(res)
		}
	}

	if analyzeSaveSnapshot {
		for _, res := range results {
			flow, ok := sess.Latest(res.URI)
			if !ok {
				continue
			}
			meta, err := store.Save(ctx, flow, "")
			if err != nil {
				log.Fatalf("saving snapshot for %s: %v", res.URI, err)
			}
			fmt.Printf("Saved snapshot %s (%s)\n", meta.SnapshotID, res.URI)
		}
	}
}

// analyzeFile pushes one file into the session and runs a pass over it.
func analyzeFile(ctx context.Context, sess *flowgraph.AnalysisSession, workspace, path string) (*flowgraph.AnalysisResult, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, path)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	uri := lsp.PathToURI(abs)
	if _, _, err := sess.OpenDocument(ctx, uri, 1, string(content)); err != nil {
		return nil, fmt.Errorf("opening document: %w", err)
	}

	res, _, err := sess.Analyze(ctx, uri, analyzeScope)
	if err != nil {
		return nil, fmt.Errorf("analyzing: %w", err)
	}
	return res, nil
}

func resolveWorkspace(flagValue string) (string, error) {
	dir := flagValue
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", dir)
	}
	return abs, nil
}

func printAnalysisResult(res *flowgraph.AnalysisResult) {
	fmt.Println(filePathStyle.Render(lsp.URIToPath(res.URI)))

	if len(res.Locations) == 0 {
		fmt.Println("  (no dataflow operators found)")
		fmt.Println()
		return
	}

	for _, loc := range res.Locations {
		fmt.Printf("  %s  %s",
			statsStyle.Render(fmt.Sprintf("%4d:%-3d", loc.Range.Start.Line+1, loc.Range.Start.Character+1)),
			loc.OperatorName,
		)
		fmt.Printf("  %s", titleStyle.Render(loc.Descriptor.String()))
		if loc.Inherited {
			fmt.Printf("  %s", inheritedStyle.Render("(inherited)"))
		}
		fmt.Println()
	}

	if res.Graph != nil {
		fmt.Printf("  %s\n", statsStyle.Render(fmt.Sprintf(
			"%d nodes, %d edges, %d locations  [%dms]",
			len(res.Graph.Nodes), len(res.Graph.Edges), len(res.Graph.Clusters), res.ElapsedMillis,
		)))
	}
	fmt.Println()
}
