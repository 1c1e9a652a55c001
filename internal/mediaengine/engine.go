/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediaengine defines the host engine the server drives and ships a
// local implementation backed by the filesystem and GStreamer.
package mediaengine

import (
	"context"
	"errors"

	"github.com/friendsincode/mediabridge/internal/models"
)

var (
	// ErrNoArtwork is returned when a track has no picture.
	ErrNoArtwork = errors.New("mediaengine: no artwork")
	// ErrSubsongUnavailable is returned when a file has no such subsong.
	ErrSubsongUnavailable = errors.New("mediaengine: subsong unavailable")
	// ErrNothingLoaded is returned by transport calls before anything was loaded.
	ErrNothingLoaded = errors.New("mediaengine: nothing loaded")
)

// PCMFormat describes interleaved signed little-endian PCM.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond returns the PCM byte rate.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns the size of one frame in bytes.
func (f PCMFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// DefaultPCM is the format every decode source produces.
var DefaultPCM = PCMFormat{SampleRate: 44100, Channels: 2, BitsPerSample: 16}

// DecodeSource yields decoded PCM in chunks. ReadChunk returns io.EOF once the
// source is exhausted.
type DecodeSource interface {
	Format() PCMFormat
	// TotalFrames is the expected frame count, 0 when unknown.
	TotalFrames() int64
	ReadChunk() ([]byte, error)
	Close() error
}

// LibraryEventKind enumerates library change notifications.
type LibraryEventKind string

const (
	LibraryDump   LibraryEventKind = "dump"
	LibraryAdd    LibraryEventKind = "add"
	LibraryUpdate LibraryEventKind = "update"
	LibraryRemove LibraryEventKind = "remove"
)

// LibraryEvent carries items affected by a library change.
type LibraryEvent struct {
	Kind  LibraryEventKind
	Items []models.MediaItem
}

// PlayerEventKind enumerates host playback notifications.
type PlayerEventKind string

const (
	PlayerStarted PlayerEventKind = "play:start"
	PlayerPaused  PlayerEventKind = "play:pause"
	PlayerEnded   PlayerEventKind = "play:ended"
)

// PlayerEvent is a host playback notification.
type PlayerEvent struct {
	Kind PlayerEventKind
}

// Position is the elapsed and total time of the loaded track in seconds.
type Position struct {
	Elapsed  float64
	Duration float64
}

// Library enumerates tracks and reports changes.
type Library interface {
	Dump(ctx context.Context) ([]models.MediaItem, error)
	// Watch delivers changes until ctx is done.
	Watch(ctx context.Context, fn func(LibraryEvent)) error
}

// Decoder opens PCM decode sources.
type Decoder interface {
	OpenDecoder(ctx context.Context, filePath string, subsong int) (DecodeSource, error)
}

// Player controls local playback.
type Player interface {
	LoadFile(ctx context.Context, filePath string, subsong int) error
	LoadURI(ctx context.Context, uri string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() (Position, error)
	Volume() float64
	SetVolume(v float64) error
	Events() <-chan PlayerEvent
}

// ArtworkSource returns encoded cover art for a track.
type ArtworkSource interface {
	Artwork(ctx context.Context, filePath string, subsong int) ([]byte, error)
}

// MediaSource is everything the server needs from the host engine.
type MediaSource interface {
	Library
	Decoder
	Player
	ArtworkSource
}
