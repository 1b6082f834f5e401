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
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hydro-project/hydro-ide/services/flowgraph/graph"
	badgerstore "github.com/hydro-project/hydro-ide/services/flowgraph/storage/badger"
)

var (
	snapshotsDir   string
	snapshotsURI   string
	snapshotsLimit int

	snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect stored dataflow graph snapshots",
		Long: `Reads the snapshot BadgerDB directly. Stop the flowgraph server
first, or point --snapshot-dir at a copy: BadgerDB allows one writer.`,
	}
	snapshotsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Run:   runSnapshotsList,
	}
	snapshotsShowCmd = &cobra.Command{
		Use:   "show [snapshot-id]",
		Short: "Show one snapshot's metadata and location clusters",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshotsShow,
	}
	snapshotsDiffCmd = &cobra.Command{
		Use:   "diff [base-id] [target-id]",
		Short: "Diff two snapshots",
		Args:  cobra.ExactArgs(2),
		Run:   runSnapshotsDiff,
	}
	snapshotsDeleteCmd = &cobra.Command{
		Use:   "delete [snapshot-id]",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshotsDelete,
	}
)

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.PersistentFlags().StringVar(&snapshotsDir, "snapshot-dir", "", "Snapshot BadgerDB directory (default $FLOWGRAPH_SNAPSHOT_DIR or ~/.hydro-ide/snapshots)")
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsListCmd.Flags().StringVar(&snapshotsURI, "uri", "", "Only list snapshots of this document URI")
	snapshotsListCmd.Flags().IntVar(&snapshotsLimit, "limit", 20, "Maximum snapshots to list")
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	snapshotsCmd.AddCommand(snapshotsDiffCmd)
	snapshotsCmd.AddCommand(snapshotsDeleteCmd)
}

// openSnapshotDB opens the snapshot database for CLI use. Deletion needs
// a writable handle; everything else opens read-only so a dump cannot
// touch the data.
func openSnapshotDB(readOnly bool) (*badgerstore.DB, *graph.SnapshotStore) {
	dir, err := snapshotDBDir(snapshotsDir)
	if err != nil {
		log.Fatalf("snapshot directory: %v", err)
	}

	bcfg := badgerstore.DefaultConfig()
	bcfg.Path = dir
	bcfg.ReadOnly = readOnly
	db, err := badgerstore.OpenDB(bcfg)
	if err != nil {
		log.Fatalf("opening snapshot DB at %s: %v (is the flowgraph server holding the lock?)", dir, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := graph.NewSnapshotStore(db, logger)
	if err != nil {
		log.Fatalf("snapshot store: %v", err)
	}
	return db, store
}

func closeSnapshotDB(db *badgerstore.DB) {
	if err := db.Close(); err != nil {
		slog.Error("failed to close snapshot DB", "error", err)
	}
}

func runSnapshotsList(_ *cobra.Command, _ []string) {
	db, store := openSnapshotDB(true)
	defer closeSnapshotDB(db)

	metas, err := store.List(context.Background(), snapshotsURI, snapshotsLimit)
	if err != nil {
		log.Fatalf("listing snapshots: %v", err)
	}
	if len(metas) == 0 {
		fmt.Println("No snapshots stored.")
		return
	}

	for _, meta := range metas {
		created := time.UnixMilli(meta.CreatedAtMilli).Format(time.RFC3339)
		line := fmt.Sprintf("%s  %s  %3d nodes %3d edges",
			titleStyle.Render(meta.SnapshotID), created, meta.NodeCount, meta.EdgeCount)
		if meta.Label != "" {
			line += "  " + meta.Label
		}
		fmt.Println(line)
		fmt.Printf("  %s\n", statsStyle.Render(meta.URI))
	}
	fmt.Printf("\n%d snapshot(s)\n", len(metas))
}

func runSnapshotsShow(_ *cobra.Command, args []string) {
	db, store := openSnapshotDB(true)
	defer closeSnapshotDB(db)

	g, meta, err := store.Load(context.Background(), args[0])
	if err != nil {
		log.Fatalf("loading snapshot: %v", err)
	}

	fmt.Println(titleStyle.Render(meta.SnapshotID))
	fmt.Printf("  URI:     %s\n", meta.URI)
	fmt.Printf("  Created: %s\n", time.UnixMilli(meta.CreatedAtMilli).Format(time.RFC3339))
	if meta.Label != "" {
		fmt.Printf("  Label:   %s\n", meta.Label)
	}
	fmt.Printf("  Hash:    %s\n", meta.GraphHash)
	fmt.Printf("  Size:    %d nodes, %d edges, %d clusters (%d bytes gzipped)\n",
		meta.NodeCount, meta.EdgeCount, meta.ClusterCount, meta.CompressedSize)

	for _, cluster := range g.Clusters {
		fmt.Printf("\n  %s %s\n", titleStyle.Render(cluster.Label), statsStyle.Render("("+cluster.Kind+")"))
		for _, nodeID := range cluster.NodeIDs {
			fmt.Printf("    %s\n", nodeID)
		}
	}
}

func runSnapshotsDiff(_ *cobra.Command, args []string) {
	db, store := openSnapshotDB(true)
	defer closeSnapshotDB(db)

	ctx := context.Background()
	base, _, err := store.Load(ctx, args[0])
	if err != nil {
		log.Fatalf("loading base snapshot: %v", err)
	}
	target, _, err := store.Load(ctx, args[1])
	if err != nil {
		log.Fatalf("loading target snapshot: %v", err)
	}

	diff, err := graph.DiffSnapshots(base, target, args[0], args[1])
	if err != nil {
		log.Fatalf("diffing snapshots: %v", err)
	}

	fmt.Printf("%s %s..%s\n\n", titleStyle.Render("Diff"), diff.BaseSnapshotID, diff.TargetSnapshotID)

	for _, id := range diff.NodesAdded {
		fmt.Println(addedStyle.Render("+ " + id))
	}
	for _, id := range diff.NodesRemoved {
		fmt.Println(removedStyle.Render("- " + id))
	}
	for _, nd := range diff.NodesModified {
		fmt.Println(changedStyle.Render(fmt.Sprintf("~ %s (%s, %s)", nd.NodeID, nd.ShortLabel, nd.ChangeType)))
	}

	if diff.EdgesAdded+diff.EdgesRemoved+diff.EdgesModified > 0 {
		fmt.Printf("\nEdges: %s %s %s\n",
			addedStyle.Render(fmt.Sprintf("+%d", diff.EdgesAdded)),
			removedStyle.Render(fmt.Sprintf("-%d", diff.EdgesRemoved)),
			changedStyle.Render(fmt.Sprintf("~%d", diff.EdgesModified)),
		)
	}

	fmt.Printf("\n%s\n", statsStyle.Render(fmt.Sprintf(
		"%d change(s), %d location(s) affected, change ratio %.2f",
		diff.Summary.TotalChanges, diff.Summary.LocationsAffected, diff.Summary.ChangeRatio,
	)))
}

func runSnapshotsDelete(_ *cobra.Command, args []string) {
	db, store := openSnapshotDB(false)
	defer closeSnapshotDB(db)

	if err := store.Delete(context.Background(), args[0]); err != nil {
		log.Fatalf("deleting snapshot: %v", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
}
