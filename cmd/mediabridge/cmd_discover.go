/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/logging"
	"github.com/friendsincode/mediabridge/internal/upnpclient"
)

var (
	discoverWait    int
	discoverVerbose bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search the network once and print discovered services",
	Long:  "discover sends SSDP searches for media servers and renderers, fetches their descriptions and prints the services grouped by kind as JSON.",
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverWait, "wait", 2, "Seconds to wait for search responses")
	discoverCmd.Flags().BoolVarP(&discoverVerbose, "verbose", "v", false, "Log progress to stderr")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	log := logging.Stderr(discoverVerbose)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(discoverWait+10)*time.Second)
	defer cancel()

	client := upnpclient.New(upnpclient.Options{Timeout: 5 * time.Second}, log)
	registry := discovery.NewRegistry(0, log)
	defer registry.Close()
	scanner := discovery.NewScanner(registry, discovery.NewDescriber(client.StandardClient(), time.Minute), discovery.ScannerConfig{
		SearchWait: discoverWait,
	}, log)

	scanner.Search(ctx)
	registry.Flush()
	snap := registry.Snapshot()

	fmt.Fprintf(os.Stderr, "Found %d services\n", len(snap.Services))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap.ByKind); err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	return nil
}
