/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package medialink builds and parses the server's stream and artwork URLs.
package medialink

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	DecodePrefix   = "/decode/"
	AlbumArtPrefix = "/albumart/"
)

var (
	streamPattern  = regexp.MustCompile(`^/decode/(.+)/subsong(\d+)\.(\w+)$`)
	artworkPattern = regexp.MustCompile(`^/albumart/(.+)/cover(\d+)\.(\w+)$`)
	drivePattern   = regexp.MustCompile(`^[A-Za-z]:/`)
)

// Target identifies a file, subsong and output format addressed by a URL.
type Target struct {
	FilePath string
	Subsong  int
	Format   string
}

func encodePath(filePath string) string {
	p := strings.TrimPrefix(strings.ReplaceAll(filePath, "\\", "/"), "/")
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func decodePath(escaped string) (string, error) {
	p, err := url.PathUnescape(escaped)
	if err != nil {
		return "", err
	}
	if drivePattern.MatchString(p) {
		return p, nil
	}
	return "/" + p, nil
}

// StreamURL returns the decode URL of filePath/subsong in format.
func StreamURL(baseURL, filePath string, subsong int, format string) string {
	return strings.TrimRight(baseURL, "/") + DecodePrefix + encodePath(filePath) + "/subsong" + strconv.Itoa(subsong) + "." + format
}

// ArtworkURL returns the album art URL of filePath/subsong.
func ArtworkURL(baseURL, filePath string, subsong int) string {
	return strings.TrimRight(baseURL, "/") + AlbumArtPrefix + encodePath(filePath) + "/cover" + strconv.Itoa(subsong) + ".jpg"
}

// ParseStreamPath parses an escaped request path such as
// /decode/music/a.flac/subsong0.wav.
func ParseStreamPath(escapedPath string) (Target, bool) {
	return parse(streamPattern, escapedPath)
}

// ParseArtworkPath parses an escaped request path such as
// /albumart/music/a.flac/cover0.jpg.
func ParseArtworkPath(escapedPath string) (Target, bool) {
	return parse(artworkPattern, escapedPath)
}

func parse(re *regexp.Regexp, escapedPath string) (Target, bool) {
	m := re.FindStringSubmatch(escapedPath)
	if m == nil {
		return Target{}, false
	}
	fp, err := decodePath(m[1])
	if err != nil {
		return Target{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Target{}, false
	}
	return Target{FilePath: fp, Subsong: n, Format: strings.ToLower(m[3])}, true
}

// ResolveSelf reports whether uri points at this server's own stream
// endpoint under baseURL and, if so, returns the addressed file.
func ResolveSelf(baseURL, uri string) (Target, bool) {
	base := strings.TrimRight(baseURL, "/")
	if base == "" || !strings.HasPrefix(uri, base+DecodePrefix) {
		return Target{}, false
	}
	rest := uri[len(base):]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	return ParseStreamPath(rest)
}
