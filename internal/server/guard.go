/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/friendsincode/mediabridge/internal/medialink"
)

var (
	streamTarget  = medialink.ParseStreamPath
	artworkTarget = medialink.ParseArtworkPath
)

func mediaRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		out = append(out, filepath.Clean(abs))
	}
	return out
}

func insideRoot(roots []string, path string) bool {
	path = filepath.Clean(filepath.FromSlash(path))
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// withinRoots rejects media requests addressing files outside roots.
// Unparsable paths fall through so next can answer them.
func withinRoots(roots []string, parse func(string) (medialink.Target, bool), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t, ok := parse(r.URL.EscapedPath()); ok && !insideRoot(roots, t.FilePath) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
