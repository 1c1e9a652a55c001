/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"time"

	"github.com/friendsincode/mediabridge/internal/models"
)

// Manifest is the JSON document printed by the scan command.
type Manifest struct {
	Version   int                `json:"version"`
	ScannedAt time.Time          `json:"scanned_at"`
	RootDirs  []string           `json:"root_dirs"`
	Items     []models.MediaItem `json:"items"`
	Stats     ManifestStats      `json:"stats"`
}

// ManifestStats holds aggregate scan statistics.
type ManifestStats struct {
	TotalItems      int     `json:"total_items"`
	Containers      int     `json:"containers"`
	DurationSeconds float64 `json:"duration_seconds"`
}
