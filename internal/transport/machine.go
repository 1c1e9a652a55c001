/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport models the playback state of the local renderer and
// implements the AVTransport and RenderingControl actions on top of the host
// player.
package transport

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/timefmt"
)

// NotImplemented is the placeholder reported for unsupported capabilities.
const NotImplemented = "NOT_IMPLEMENTED"

// maxCount is reported for RelCount/AbsCount, which are not tracked.
const maxCount = "2147483647"

// Host is the part of the media engine the machine drives.
type Host interface {
	LoadFile(ctx context.Context, filePath string, subsong int) error
	LoadURI(ctx context.Context, uri string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() (mediaengine.Position, error)
	Volume() float64
	SetVolume(v float64) error
}

// Machine is the transport state of the single local playback instance.
type Machine struct {
	host    Host
	baseURL string
	logger  zerolog.Logger

	mu       sync.Mutex
	state    models.TransportState
	uri      string
	metadata string
	onChange []func(models.TransportState)
}

// NewMachine creates a machine in the NO_MEDIA_PRESENT state.
func NewMachine(host Host, baseURL string, logger zerolog.Logger) *Machine {
	return &Machine{
		host:    host,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "transport").Logger(),
		state:   models.TransportNoMediaPresent,
	}
}

// OnChange registers fn to be called after every state transition.
func (m *Machine) OnChange(fn func(models.TransportState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// State returns the current transport state.
func (m *Machine) State() models.TransportState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s models.TransportState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fns := append(([]func(models.TransportState))(nil), m.onChange...)
	m.mu.Unlock()

	m.logger.Debug().Str("state", string(s)).Msg("transport state changed")
	for _, fn := range fns {
		fn(s)
	}
}

// Play asks the host to start playback.
func (m *Machine) Play() error {
	if err := m.host.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	m.setState(models.TransportPlaying)
	return nil
}

// Pause asks the host to pause playback.
func (m *Machine) Pause() error {
	if err := m.host.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	m.setState(models.TransportPaused)
	return nil
}

// Stop pauses the host and rewinds to the start.
func (m *Machine) Stop() error {
	if err := m.host.Pause(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := m.host.Seek(0); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	m.setState(models.TransportStopped)
	return nil
}

// Seek forwards a time target to the host. Count-based units are accepted
// and ignored.
func (m *Machine) Seek(unit, target string) error {
	switch unit {
	case "REL_TIME", "ABS_TIME", "":
		if err := m.host.Seek(timefmt.Seconds(target)); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
	default:
		m.logger.Debug().Str("unit", unit).Msg("unsupported seek unit")
	}
	return nil
}

// SetAVTransportURI loads uri. Stream URLs of this server are resolved back
// to the file they address; anything else is handed to the host as-is.
func (m *Machine) SetAVTransportURI(ctx context.Context, uri, metadata string) error {
	var err error
	if target, ok := medialink.ResolveSelf(m.baseURL, uri); ok {
		err = m.host.LoadFile(ctx, target.FilePath, target.Subsong)
	} else {
		err = m.host.LoadURI(ctx, uri)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", uri, err)
	}

	m.mu.Lock()
	m.uri = uri
	m.metadata = metadata
	m.mu.Unlock()
	m.setState(models.TransportStopped)
	return nil
}

// HandleHostEvent maps a host playback notification to a state.
func (m *Machine) HandleHostEvent(ev mediaengine.PlayerEvent) {
	switch ev.Kind {
	case mediaengine.PlayerStarted:
		m.setState(models.TransportPlaying)
	case mediaengine.PlayerPaused:
		m.setState(models.TransportPaused)
	case mediaengine.PlayerEnded:
		m.setState(models.TransportStopped)
	}
}

// Run applies host events until ctx is done or events is closed.
func (m *Machine) Run(ctx context.Context, events <-chan mediaengine.PlayerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.HandleHostEvent(ev)
		}
	}
}

func (m *Machine) position() mediaengine.Position {
	pos, err := m.host.Position()
	if err != nil {
		return mediaengine.Position{}
	}
	return pos
}

// PositionInfo answers GetPositionInfo.
func (m *Machine) PositionInfo() map[string]string {
	pos := m.position()
	m.mu.Lock()
	defer m.mu.Unlock()
	track := "1"
	if m.uri == "" {
		track = "0"
	}
	return map[string]string{
		"Track":         track,
		"TrackDuration": timefmt.MMSS(pos.Duration),
		"TrackMetaData": m.metadata,
		"TrackURI":      m.uri,
		"RelTime":       timefmt.MMSS(pos.Elapsed),
		"AbsTime":       timefmt.MMSS(pos.Elapsed),
		"RelCount":      maxCount,
		"AbsCount":      maxCount,
	}
}

// TransportInfo answers GetTransportInfo.
func (m *Machine) TransportInfo() map[string]string {
	return map[string]string{
		"CurrentTransportState":  string(m.State()),
		"CurrentTransportStatus": "OK",
		"CurrentSpeed":           "1",
	}
}

// MediaInfo answers GetMediaInfo.
func (m *Machine) MediaInfo() map[string]string {
	pos := m.position()
	m.mu.Lock()
	defer m.mu.Unlock()
	tracks := "1"
	if m.uri == "" {
		tracks = "0"
	}
	return map[string]string{
		"NrTracks":           tracks,
		"MediaDuration":      timefmt.MMSS(pos.Duration),
		"CurrentURI":         m.uri,
		"CurrentURIMetaData": m.metadata,
		"NextURI":            "",
		"NextURIMetaData":    "",
		"PlayMedium":         "NETWORK",
		"RecordMedium":       NotImplemented,
		"WriteStatus":        NotImplemented,
	}
}

// TransportSettings answers GetTransportSettings.
func (m *Machine) TransportSettings() map[string]string {
	return map[string]string{"PlayMode": "NORMAL", "RecQualityMode": NotImplemented}
}

// CurrentTransportActions answers GetCurrentTransportActions.
func (m *Machine) CurrentTransportActions() map[string]string {
	return map[string]string{"Actions": NotImplemented}
}

// DeviceCapabilities answers GetDeviceCapabilities.
func (m *Machine) DeviceCapabilities() map[string]string {
	return map[string]string{
		"PlayMedia":       "NETWORK",
		"RecMedia":        NotImplemented,
		"RecQualityModes": NotImplemented,
	}
}

// Volume returns the host volume on the 0-100 wire scale.
func (m *Machine) Volume() int {
	return int(math.Round(m.host.Volume() * 100))
}

// SetVolume sets the host volume from the 0-100 wire scale.
func (m *Machine) SetVolume(desired string) error {
	n, err := strconv.Atoi(desired)
	if err != nil {
		return fmt.Errorf("invalid volume %q", desired)
	}
	n = max(0, min(100, n))
	return m.host.SetVolume(float64(n) / 100)
}
