/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/telemetry"
)

// Apply folds one library change into the index. An update for an item the
// index has never seen is treated as an add.
func (x *Index) Apply(ev mediaengine.LibraryEvent) {
	switch ev.Kind {
	case mediaengine.LibraryDump:
		x.Clear()
		for _, item := range ev.Items {
			x.Add(item)
		}
	case mediaengine.LibraryAdd:
		for _, item := range ev.Items {
			x.Add(item)
		}
	case mediaengine.LibraryUpdate:
		for _, item := range ev.Items {
			if err := x.Update(item); errors.Is(err, ErrNotFound) {
				x.Add(item)
			}
		}
	case mediaengine.LibraryRemove:
		for _, item := range ev.Items {
			if err := x.Remove(item); err != nil {
				x.logger.Debug().Str("path", item.FilePath).Msg("remove of unindexed item")
			}
		}
	default:
		x.logger.Warn().Str("kind", string(ev.Kind)).Msg("unknown library event")
	}
	telemetry.LibraryItems.Set(float64(x.Len()))
}

// Load replaces the index contents with a full library dump.
func Load(ctx context.Context, src mediaengine.Library, idx *Index) error {
	items, err := src.Dump(ctx)
	if err != nil {
		return fmt.Errorf("library dump: %w", err)
	}
	idx.Apply(mediaengine.LibraryEvent{Kind: mediaengine.LibraryDump, Items: items})
	return nil
}

// Follow applies library changes to idx until ctx is done.
func Follow(ctx context.Context, src mediaengine.Library, idx *Index, logger zerolog.Logger) error {
	err := src.Watch(ctx, func(ev mediaengine.LibraryEvent) {
		idx.Apply(ev)
		logger.Debug().Str("kind", string(ev.Kind)).Int("items", len(ev.Items)).Msg("library changed")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("library watch: %w", err)
	}
	return nil
}
