// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowctl is the CLI companion to the flowgraph server.
//
// analyze and parse run a local engine and need no server; snapshots
// reads the snapshot BadgerDB directly; stats talks to a running
// flowgraph server.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "flowctl",
		Short: "A CLI for Hydro dataflow location analysis",
		Long: `Flowctl resolves Hydro operator chains to their dataflow locations
and prints the resulting graphs, without an editor in the loop.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// =============================================================================
// Server Address
// =============================================================================

// serverBaseURL resolves the flowgraph server address for remote
// commands. FLOWGRAPH_SERVER_URL overrides the default.
func serverBaseURL() string {
	if url := os.Getenv("FLOWGRAPH_SERVER_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// snapshotDBDir resolves the snapshot BadgerDB directory the same way
// the server does: flag value, then $FLOWGRAPH_SNAPSHOT_DIR, then
// ~/.hydro-ide/snapshots.
func snapshotDBDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if dir := os.Getenv("FLOWGRAPH_SNAPSHOT_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve snapshot directory: %w", err)
	}
	return filepath.Join(home, ".hydro-ide", "snapshots"), nil
}

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	filePathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	addedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	removedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	changedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	inheritedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

func init() {
	// Plain output when stdout is not a terminal, so piped output stays
	// free of escape sequences.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		plain := lipgloss.NewStyle()
		titleStyle = plain
		filePathStyle = plain
		statsStyle = plain
		addedStyle = plain
		removedStyle = plain
		changedStyle = plain
		inheritedStyle = plain
	}
}
