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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsSession string

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show session and cache statistics from a running flowgraph server",
		Long: `Without --session, lists the open sessions on the server. With
--session, shows that session's result cache statistics.

Set FLOWGRAPH_SERVER_URL to address a non-default server.`,
		Run: runStatsCommand,
	}
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsSession, "session", "s", "", "Session ID to show cache statistics for")
}

// readyResponse mirrors GET /v1/flowgraph/ready.
type readyResponse struct {
	Ready            bool            `json:"ready"`
	SessionCount     int             `json:"session_count"`
	SnapshotsEnabled bool            `json:"snapshots_enabled"`
	Sessions         []sessionStatus `json:"sessions,omitempty"`
}

type sessionStatus struct {
	SessionID     string `json:"session_id"`
	WorkspaceRoot string `json:"workspace_root"`
	BackendState  string `json:"backend_state"`
	Ready         bool   `json:"ready"`
}

// cacheStatsResponse mirrors GET /v1/flowgraph/cache/stats.
type cacheStatsResponse struct {
	SessionID string `json:"session_id"`
	Stats     struct {
		Entries int     `json:"entries"`
		Hits    uint64  `json:"hits"`
		Misses  uint64  `json:"misses"`
		HitRate float64 `json:"hit_rate"`
		MaxSize int     `json:"max_size"`
	} `json:"stats"`
}

func runStatsCommand(_ *cobra.Command, _ []string) {
	if statsSession == "" {
		printServerSessions()
		return
	}
	printSessionCacheStats(statsSession)
}

func printServerSessions() {
	var ready readyResponse
	// A warming server answers /ready with 503 and the same body.
	if err := getJSON(serverBaseURL()+"/v1/flowgraph/ready", &ready, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		log.Fatalf("Error: %v", err)
	}

	state := addedStyle.Render("ready")
	if !ready.Ready {
		state = changedStyle.Render("warming up")
	}
	snapshots := "disabled"
	if ready.SnapshotsEnabled {
		snapshots = "enabled"
	}
	fmt.Printf("%s  %s, %d session(s), snapshots %s\n",
		titleStyle.Render("Server:"), state, ready.SessionCount, snapshots)

	for _, sess := range ready.Sessions {
		backend := sess.BackendState
		if sess.Ready {
			backend = addedStyle.Render(backend)
		} else {
			backend = changedStyle.Render(backend)
		}
		fmt.Printf("  %s  %s  %s\n", titleStyle.Render(sess.SessionID), backend, statsStyle.Render(sess.WorkspaceRoot))
	}
}

func printSessionCacheStats(sessionID string) {
	statsURL := fmt.Sprintf("%s/v1/flowgraph/cache/stats?session_id=%s",
		serverBaseURL(), url.QueryEscape(sessionID))

	var stats cacheStatsResponse
	if err := getJSON(statsURL, &stats, http.StatusOK); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("%s %s\n", titleStyle.Render("Session:"), stats.SessionID)
	fmt.Printf("  Entries:  %d / %d\n", stats.Stats.Entries, stats.Stats.MaxSize)
	fmt.Printf("  Hits:     %d\n", stats.Stats.Hits)
	fmt.Printf("  Misses:   %d\n", stats.Stats.Misses)
	fmt.Printf("  Hit rate: %.1f%%\n", stats.Stats.HitRate*100)
}

// getJSON fetches targetURL and decodes the body into out. Statuses not
// in okStatuses fail with the response body in the error.
func getJSON(targetURL string, out any, okStatuses ...int) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(targetURL)
	if err != nil {
		return fmt.Errorf("flowgraph server unavailable at %s: %w", serverBaseURL(), err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	ok := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
