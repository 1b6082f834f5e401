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
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hydro-project/hydro-ide/services/flowgraph/loctype"
)

var (
	parseJSON bool

	parseCmd = &cobra.Command{
		Use:   "parse [type-string]",
		Short: "Parse a Rust type string into a dataflow location descriptor",
		Long: `Runs the location-type parser on a type string the way the analysis
engine runs it on rust-analyzer hover output. Useful for checking how a
particular Stream/Singleton/Optional type will be placed.

Examples:

  flowctl parse "Stream<i32, Process<'a, Leader>, Unbounded>"
  flowctl parse "Tick<Cluster<'a, Workers>>"`,
		Args: cobra.MinimumNArgs(1),
		Run:  runParseCommand,
	}
)

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "Print the descriptor as JSON")
}

func runParseCommand(_ *cobra.Command, args []string) {
	// Type strings contain spaces after commas; accept them unquoted.
	typeString := strings.Join(args, " ")

	desc := loctype.Parse(typeString)
	if desc == nil {
		fmt.Fprintf(os.Stderr, "Not a recognized location type: %s\n", typeString)
		os.Exit(1)
	}

	if parseJSON {
		out, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			log.Fatalf("encoding descriptor: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("%s %s\n", titleStyle.Render("Location:"), desc.String())
	fmt.Printf("  Kind:       %s\n", desc.Kind)
	fmt.Printf("  Label:      %s\n", desc.Label)
	fmt.Printf("  Tick depth: %d\n", desc.TickDepth)
	fmt.Printf("  Cluster ID: %s\n", statsStyle.Render(desc.CanonicalKeyString()))
}
