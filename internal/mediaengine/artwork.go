/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dhowden/tag"
)

var folderArtNames = []string{"cover.jpg", "cover.png", "folder.jpg", "folder.png", "front.jpg", "front.png", "AlbumArt.jpg"}

// FileArtwork reads embedded pictures and falls back to folder images.
type FileArtwork struct{}

// Artwork returns the raw picture bytes for filePath.
func (FileArtwork) Artwork(ctx context.Context, filePath string, subsong int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f, err := os.Open(filePath); err == nil {
		m, terr := tag.ReadFrom(f)
		f.Close()
		if terr == nil {
			if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
				return pic.Data, nil
			}
		}
	} else if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoArtwork, filePath)
	}

	dir := filepath.Dir(filePath)
	for _, name := range folderArtNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoArtwork, filePath)
}
