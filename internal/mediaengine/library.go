/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/mediabridge/internal/models"
)

var mediaExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".ogg": true, ".oga": true, ".m4a": true,
	".aac": true, ".wav": true, ".wma": true, ".opus": true, ".aiff": true,
}

// IsMediaFile reports whether name has a supported audio extension.
func IsMediaFile(name string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}

// FSLibrary enumerates audio files below a set of root folders.
type FSLibrary struct {
	Roots    []string
	Workers  int
	Analyzer *Analyzer
	// Settle is how long file events are coalesced before being reported.
	Settle time.Duration
	Logger zerolog.Logger

	mu    sync.Mutex
	known map[string]bool
}

// Dump scans every root and returns one item per file.
func (l *FSLibrary) Dump(ctx context.Context) ([]models.MediaItem, error) {
	workers := l.Workers
	if workers <= 0 {
		workers = 4
	}

	type job struct{ root, path string }
	var jobs []job
	for _, root := range l.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				l.Logger.Warn().Err(err).Str("path", path).Msg("library walk error")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.IsDir() && IsMediaFile(d.Name()) {
				jobs = append(jobs, job{root: root, path: path})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	items := make([]models.MediaItem, len(jobs))
	ok := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			item, err := l.readItem(gctx, j.root, j.path)
			if err != nil {
				l.Logger.Warn().Err(err).Str("path", j.path).Msg("skipping unreadable file")
				return nil
			}
			items[i] = item
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := items[:0]
	l.mu.Lock()
	l.known = make(map[string]bool, len(items))
	for i := range items {
		if ok[i] {
			out = append(out, items[i])
			l.known[items[i].FilePath] = true
		}
	}
	l.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out, nil
}

func (l *FSLibrary) rootFor(path string) string {
	for _, root := range l.Roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return root
		}
	}
	return filepath.Dir(path)
}

// displayPath is path relative to root, prefixed with the root folder name.
func displayPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(filepath.Join(filepath.Base(root), rel))
}

// readItem builds the record of one file. The display path is prefixed with
// the root folder name so several roots can share the tree.
func (l *FSLibrary) readItem(ctx context.Context, root, path string) (models.MediaItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.MediaItem{}, err
	}
	item := models.MediaItem{
		Path:     displayPath(root, path),
		FilePath: path,
		Subsong:  0,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Time:     info.ModTime().Unix(),
	}

	if f, err := os.Open(path); err == nil {
		if m, err := tag.ReadFrom(f); err == nil {
			if t := strings.TrimSpace(m.Title()); t != "" {
				item.Title = t
			}
			item.Artist = m.Artist()
			item.AlbumArtist = m.AlbumArtist()
			item.Album = m.Album()
			if n, total := m.Track(); n > 0 {
				item.TrackNumber = fmt.Sprintf("%d", n)
				if total > 0 {
					item.TrackNumber = fmt.Sprintf("%d/%d", n, total)
				}
			}
		}
		f.Close()
	}

	if l.Analyzer != nil {
		if probe, err := l.Analyzer.Probe(ctx, path); err == nil {
			item.Length = probe.Seconds()
			if item.Artist == "" {
				item.Artist = probe.Artist
			}
			if item.Album == "" {
				item.Album = probe.Album
			}
			if item.AlbumArtist == "" {
				item.AlbumArtist = probe.AlbumArtist
			}
			if item.TrackNumber == "" {
				item.TrackNumber = probe.TrackNumber
			}
		}
	}
	return item, nil
}

// Watch follows filesystem changes below the roots until ctx ends.
func (l *FSLibrary) Watch(ctx context.Context, fn func(LibraryEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range l.Roots {
		l.watchTree(watcher, root)
	}

	settle := l.Settle
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	ticker := time.NewTicker(settle)
	defer ticker.Stop()

	pending := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					l.watchTree(watcher, ev.Name)
					_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() && IsMediaFile(d.Name()) {
							pending[p] = true
						}
						return nil
					})
					continue
				}
			}
			if IsMediaFile(ev.Name) {
				pending[ev.Name] = true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.Logger.Warn().Err(err).Msg("library watcher error")
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			l.flush(ctx, pending, fn)
			pending = make(map[string]bool)
		}
	}
}

func (l *FSLibrary) flush(ctx context.Context, pending map[string]bool, fn func(LibraryEvent)) {
	var added, updated, removed []models.MediaItem

	l.mu.Lock()
	if l.known == nil {
		l.known = make(map[string]bool)
	}
	l.mu.Unlock()

	for path := range pending {
		l.mu.Lock()
		wasKnown := l.known[path]
		l.mu.Unlock()

		if _, err := os.Stat(path); err != nil {
			if wasKnown {
				removed = append(removed, models.MediaItem{Path: displayPath(l.rootFor(path), path), FilePath: path})
				l.mu.Lock()
				delete(l.known, path)
				l.mu.Unlock()
			}
			continue
		}
		item, err := l.readItem(ctx, l.rootFor(path), path)
		if err != nil {
			continue
		}
		l.mu.Lock()
		l.known[path] = true
		l.mu.Unlock()
		if wasKnown {
			updated = append(updated, item)
		} else {
			added = append(added, item)
		}
	}

	if len(removed) > 0 {
		fn(LibraryEvent{Kind: LibraryRemove, Items: removed})
	}
	if len(added) > 0 {
		fn(LibraryEvent{Kind: LibraryAdd, Items: added})
	}
	if len(updated) > 0 {
		fn(LibraryEvent{Kind: LibraryUpdate, Items: updated})
	}
}

func (l *FSLibrary) watchTree(w *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			l.Logger.Warn().Err(err).Str("dir", path).Msg("cannot watch directory")
		}
		return nil
	})
}
