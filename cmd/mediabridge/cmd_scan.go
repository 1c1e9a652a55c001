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
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mediabridge/internal/library"
	"github.com/friendsincode/mediabridge/internal/logging"
	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/models"
)

var (
	scanDirs    []string
	scanOutput  string
	scanWorkers int
	scanVerbose bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan media roots and print the library manifest",
	Long: `scan walks the media roots, reads tags and durations, and prints the items
the server would index as JSON.

Examples:
  mediabridge scan --dir /srv/music -o manifest.json
  mediabridge scan  # uses MEDIABRIDGE_MEDIA_ROOTS, output to stdout`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringArrayVar(&scanDirs, "dir", nil, "Media directory to scan (repeatable, default: configured media roots)")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Output file (default: stdout)")
	scanCmd.Flags().IntVarP(&scanWorkers, "workers", "w", 0, "Parallel tag readers (default: configured scan workers)")
	scanCmd.Flags().BoolVarP(&scanVerbose, "verbose", "v", false, "Log progress to stderr")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	log := logging.Stderr(scanVerbose)

	dirs := scanDirs
	if len(dirs) == 0 {
		dirs = cfg.MediaRoots
	}
	workers := scanWorkers
	if workers < 1 {
		workers = cfg.ScanWorkers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(os.Stderr, "Scanning %d director(y/ies) with %d workers...\n", len(dirs), workers)
	start := time.Now()

	lib := &mediaengine.FSLibrary{
		Roots:    dirs,
		Workers:  workers,
		Analyzer: mediaengine.NewAnalyzer(cfg.DiscovererBin, log),
		Logger:   log,
	}
	idx := library.NewIndex(log)
	if err := library.Load(ctx, lib, idx); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	manifest := Manifest{
		Version:   1,
		ScannedAt: start.UTC(),
		RootDirs:  dirs,
		Items:     []models.MediaItem{},
	}
	walkIndex(idx, models.RootID, &manifest)
	manifest.Stats.TotalItems = len(manifest.Items)
	manifest.Stats.DurationSeconds = time.Since(start).Seconds()

	fmt.Fprintf(os.Stderr, "Scan complete: %d items in %d containers, %.1fs\n",
		manifest.Stats.TotalItems, manifest.Stats.Containers, manifest.Stats.DurationSeconds)

	out := os.Stdout
	if scanOutput != "" {
		f, err := os.Create(scanOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if scanOutput != "" {
		fmt.Fprintf(os.Stderr, "Manifest written to %s\n", scanOutput)
	}
	return nil
}

// walkIndex appends items in browse order, depth first.
func walkIndex(idx *library.Index, id string, m *Manifest) {
	for _, node := range idx.BrowseChildren(id) {
		switch n := node.(type) {
		case *models.Container:
			m.Stats.Containers++
			walkIndex(idx, n.ID, m)
		case *models.MediaItem:
			m.Items = append(m.Items, *n)
		}
	}
}
