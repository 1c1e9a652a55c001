/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/friendsincode/mediabridge/internal/models"
)

const curatedFile = "index.json"

// CuratedStore persists one named subtree of the index as a directory tree
// where each directory holds an index.json array of its direct items.
type CuratedStore struct {
	Dir  string
	Name string
}

// ContainerID returns the id of the curated subtree root.
func (c CuratedStore) ContainerID() string {
	return models.RootID + "/" + c.Name
}

// Load reads every index.json below Dir into idx and returns the item count.
func (c CuratedStore) Load(idx *Index) (int, error) {
	if c.Dir == "" {
		return 0, nil
	}
	count := 0
	err := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || d.Name() != curatedFile {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var items []models.MediaItem
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		for _, item := range items {
			idx.Link(item)
			count++
		}
		return nil
	})
	return count, err
}

// Put stores items under the curated container at rel, replacing whatever
// that container held directly, then persists the node.
func (c CuratedStore) Put(idx *Index, rel string, items []models.MediaItem) error {
	rel = strings.Trim(strings.ReplaceAll(rel, "\\", "/"), "/")
	containerID := c.ContainerID()
	if rel != "" {
		containerID += "/" + rel
	}

	for _, node := range idx.BrowseChildren(containerID) {
		if item, ok := node.(*models.MediaItem); ok {
			_ = idx.RemoveID(item.ID)
		}
	}

	stored := make([]models.MediaItem, 0, len(items))
	for _, item := range items {
		name := item.Title
		if name == "" {
			name = filepath.Base(strings.ReplaceAll(item.FilePath, "\\", "/"))
		}
		item.Path = strings.TrimPrefix(strings.TrimPrefix(containerID, models.RootID), "/") + "/" + strings.ReplaceAll(name, "/", "_")
		item.ID = idx.Link(item)
		stored = append(stored, item)
	}
	return c.write(rel, stored)
}

func (c CuratedStore) write(rel string, items []models.MediaItem) error {
	if c.Dir == "" {
		return fmt.Errorf("curated store directory not configured")
	}
	dir := filepath.Join(c.Dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(filepath.Clean(dir), filepath.Clean(c.Dir)) {
		return fmt.Errorf("curated path %q escapes store", rel)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create curated dir: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode curated list: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, curatedFile), data, 0o644)
}
