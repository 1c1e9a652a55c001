/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LocalConfig configures a LocalEngine.
type LocalConfig struct {
	Roots         []string
	GStreamerBin  string
	DiscovererBin string
	AudioSink     string
	ScanWorkers   int
	WatchSettle   time.Duration
}

// LocalEngine is the MediaSource backed by local folders and GStreamer.
type LocalEngine struct {
	*FSLibrary
	*GStreamerDecoder
	*PCMPlayer
	FileArtwork
}

// NewLocalEngine wires the filesystem library, decoder, player and artwork
// reader together. ctx bounds the player's sink process.
func NewLocalEngine(ctx context.Context, cfg LocalConfig, logger zerolog.Logger) *LocalEngine {
	logger = logger.With().Str("component", "mediaengine").Logger()
	analyzer := NewAnalyzer(cfg.DiscovererBin, logger)
	decoder := &GStreamerDecoder{Bin: cfg.GStreamerBin, Analyzer: analyzer, Logger: logger}
	return &LocalEngine{
		FSLibrary: &FSLibrary{
			Roots:    cfg.Roots,
			Workers:  cfg.ScanWorkers,
			Analyzer: analyzer,
			Settle:   cfg.WatchSettle,
			Logger:   logger,
		},
		GStreamerDecoder: decoder,
		PCMPlayer:        NewPCMPlayer(ctx, decoder, cfg.GStreamerBin, cfg.AudioSink, logger),
	}
}

var _ MediaSource = (*LocalEngine)(nil)
