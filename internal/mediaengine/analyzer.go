/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultDiscovererBin is the probe tool used when none is configured.
const DefaultDiscovererBin = "gst-discoverer-1.0"

// ProbeResult holds what gst-discoverer reports about a file.
type ProbeResult struct {
	DurationMs  int64
	SampleRate  int
	Channels    int
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	TrackNumber string
}

// Seconds returns the duration in seconds.
func (p ProbeResult) Seconds() float64 {
	return float64(p.DurationMs) / 1000
}

// Analyzer probes media files using GStreamer
type Analyzer struct {
	bin    string
	logger zerolog.Logger
}

// NewAnalyzer creates a new media analyzer
func NewAnalyzer(bin string, logger zerolog.Logger) *Analyzer {
	if bin == "" {
		bin = DefaultDiscovererBin
	}
	return &Analyzer{
		bin:    bin,
		logger: logger.With().Str("component", "analyzer").Logger(),
	}
}

// Probe runs gst-discoverer-1.0 for duration and tag metadata
func (a *Analyzer) Probe(ctx context.Context, filePath string) (ProbeResult, error) {
	var res ProbeResult
	cmd := exec.CommandContext(ctx, a.bin, "-v", filePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return res, fmt.Errorf("gst-discoverer failed: %w", err)
	}
	a.parseDiscovererOutput(string(output), &res)
	a.logger.Debug().Str("file", filePath).Int64("duration_ms", res.DurationMs).Msg("probed media")
	return res, nil
}

var (
	// gst-discoverer prints fractional seconds with variable precision (often nanoseconds, 9 digits).
	// Example: "Duration: 0:58:12.345000000" (the .345000000 is 345ms, not 345000000ms).
	durationRegex   = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)(?:\.(\d+))?`)
	samplerateRegex = regexp.MustCompile(`(?i)sample rate:\s*(\d+)`)
	channelsRegex   = regexp.MustCompile(`(?i)channels:\s*(\d+)`)

	tagPatterns = map[string]*regexp.Regexp{
		"title":        regexp.MustCompile(`(?i)^\s*title:\s*(.+)$`),
		"artist":       regexp.MustCompile(`(?i)^\s*artist:\s*(.+)$`),
		"album":        regexp.MustCompile(`(?i)^\s*album:\s*(.+)$`),
		"track-number": regexp.MustCompile(`(?i)^\s*track-number:\s*(\d+)`),
		"album-artist": regexp.MustCompile(`(?i)^\s*album-artist:\s*(.+)$`),
	}
)

// parseDiscovererOutput parses gst-discoverer-1.0 output
func (a *Analyzer) parseDiscovererOutput(output string, res *ProbeResult) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := durationRegex.FindStringSubmatch(line); m != nil {
			hours, _ := strconv.Atoi(m[1])
			minutes, _ := strconv.Atoi(m[2])
			seconds, _ := strconv.Atoi(m[3])
			res.DurationMs = int64(hours)*3600000 + int64(minutes)*60000 + int64(seconds)*1000 + fracToMilliseconds(m[4])
			continue
		}
		if m := samplerateRegex.FindStringSubmatch(line); m != nil && res.SampleRate == 0 {
			res.SampleRate, _ = strconv.Atoi(m[1])
			continue
		}
		if m := channelsRegex.FindStringSubmatch(line); m != nil && res.Channels == 0 {
			res.Channels, _ = strconv.Atoi(m[1])
			continue
		}

		for tag, pattern := range tagPatterns {
			m := pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			value := strings.TrimSpace(m[1])
			switch tag {
			case "title":
				res.Title = value
			case "artist":
				res.Artist = value
			case "album":
				res.Album = value
			case "track-number":
				res.TrackNumber = value
			case "album-artist":
				res.AlbumArtist = value
			}
		}
	}
}

func fracToMilliseconds(frac string) int64 {
	// frac is the digits after the decimal point in seconds, variable precision (e.g. "12", "004", "345000000").
	// Convert to milliseconds via: floor(frac * 1000 / 10^len(frac)).
	if frac == "" {
		return 0
	}
	fracInt, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || fracInt < 0 {
		return 0
	}
	denom := int64(1)
	for i := 0; i < len(frac); i++ {
		denom *= 10
		// guard against pathological precision
		if denom <= 0 {
			return 0
		}
	}
	return (fracInt * 1000) / denom
}
