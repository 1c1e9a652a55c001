/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package artwork serves album art thumbnails, generating and caching them on
// first request.
package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/storage"
	"github.com/friendsincode/mediabridge/internal/telemetry"
)

// DefaultHeight is the thumbnail height in pixels.
const DefaultHeight = 300

// Outcome describes how a thumbnail request was satisfied.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeGenerated   Outcome = "generated"
	OutcomePlaceholder Outcome = "placeholder"
)

// Provider turns host artwork into cached thumbnails.
type Provider struct {
	source mediaengine.ArtworkSource
	store  storage.ObjectStore
	height int
	logger zerolog.Logger

	group singleflight.Group

	placeholderOnce sync.Once
	placeholder     []byte
}

// NewProvider creates a provider reading pictures from source and caching
// thumbnails in store.
func NewProvider(source mediaengine.ArtworkSource, store storage.ObjectStore, logger zerolog.Logger) *Provider {
	return &Provider{
		source: source,
		store:  store,
		height: DefaultHeight,
		logger: logger.With().Str("component", "artwork").Logger(),
	}
}

type result struct {
	data    []byte
	outcome Outcome
}

// Thumbnail returns the thumbnail for t, stored under key. Concurrent
// requests for the same key share one generation.
func (p *Provider) Thumbnail(ctx context.Context, key string, t medialink.Target) ([]byte, Outcome, error) {
	if data, err := p.store.Get(ctx, key); err == nil {
		return data, OutcomeHit, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn().Err(err).Str("key", key).Msg("artwork cache read failed")
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		raw, err := p.source.Artwork(ctx, t.FilePath, t.Subsong)
		if errors.Is(err, mediaengine.ErrNoArtwork) {
			return result{data: p.defaultImage(), outcome: OutcomePlaceholder}, nil
		}
		if err != nil {
			return nil, err
		}
		thumb, err := p.resize(raw)
		if err != nil {
			p.logger.Debug().Err(err).Str("file", t.FilePath).Msg("undecodable artwork")
			return result{data: p.defaultImage(), outcome: OutcomePlaceholder}, nil
		}
		if err := p.store.Put(ctx, key, thumb); err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("artwork cache write failed")
		}
		return result{data: thumb, outcome: OutcomeGenerated}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res := v.(result)
	return res.data, res.outcome, nil
}

// resize scales raw down to the configured height, keeping the aspect ratio.
func (p *Provider) resize(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode artwork: %w", err)
	}
	if img.Bounds().Dy() > p.height {
		img = imaging.Resize(img, 0, p.height, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Provider) defaultImage() []byte {
	p.placeholderOnce.Do(func() {
		img := imaging.New(p.height, p.height, color.NRGBA{R: 0x2b, G: 0x2b, B: 0x2b, A: 0xff})
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG); err == nil {
			p.placeholder = buf.Bytes()
		}
	})
	return p.placeholder
}

// ServeHTTP handles GET /albumart/<path>/cover<N>.<ext>.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	escaped := r.URL.EscapedPath()
	t, ok := medialink.ParseArtworkPath(escaped)
	if !ok {
		http.NotFound(w, r)
		return
	}
	key, err := url.PathUnescape(strings.TrimPrefix(escaped, medialink.AlbumArtPrefix))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data, outcome, err := p.Thumbnail(r.Context(), key, t)
	if err != nil {
		p.logger.Warn().Err(err).Str("file", t.FilePath).Msg("artwork lookup failed")
		http.Error(w, "artwork unavailable", http.StatusInternalServerError)
		return
	}
	telemetry.ArtworkRequestsTotal.WithLabelValues(string(outcome)).Inc()

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	if outcome == OutcomePlaceholder {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	}
	_, _ = w.Write(data)
}
