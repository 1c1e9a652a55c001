/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package renderer drives remote media renderers: it caches their playing
// state, polls their position, advances the play queue when a track ends
// and fans state out to the clients watching each renderer.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/events"
	"github.com/friendsincode/mediabridge/internal/logbuffer"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/telemetry"
	"github.com/friendsincode/mediabridge/internal/timefmt"
	"github.com/friendsincode/mediabridge/internal/upnpclient"
)

// ErrPollTimeout is returned when a position poll is abandoned.
var ErrPollTimeout = errors.New("renderer: position poll timed out")

// DefaultPollTimeout bounds a single position poll.
const DefaultPollTimeout = 30 * time.Second

// Invoker calls actions on remote services.
type Invoker interface {
	Invoke(ctx context.Context, svc models.DiscoveredService, action string, args map[string]string) (map[string]string, error)
}

// EventWatcher subscribes to service events.
type EventWatcher interface {
	Watch(ctx context.Context, svc models.DiscoveredService, fn func(map[string]string)) (func(), error)
}

// Directory resolves locations to services.
type Directory interface {
	Get(location string) (models.DiscoveredService, bool)
	Sibling(location string, kind models.ServiceKind) (models.DiscoveredService, bool)
	OnRemove(fn func(models.DiscoveredService)) func()
}

// StateStore persists playing state across restarts.
type StateStore interface {
	Load(ctx context.Context, location string) (*models.PlayingState, error)
	Save(ctx context.Context, state *models.PlayingState) error
}

// Config tunes the controller.
type Config struct {
	PollTimeout time.Duration
	// PositionGuard, when positive, suppresses auto-advance for a STOPPED
	// report whose last known elapsed position is below this many seconds.
	PositionGuard float64
}

// Deps are the controller's collaborators. Watcher, Store and Diagnostics
// are optional.
type Deps struct {
	Directory   Directory
	Invoker     Invoker
	Watcher     EventWatcher
	Bus         events.Broker
	Store       StateStore
	Diagnostics *logbuffer.Buffer
}

type entry struct {
	mu       sync.Mutex
	loaded   bool
	state    models.PlayingState
	observed models.TransportState // last state reported by the renderer or implied by a command

	subscribed bool
	unwatch    func()

	timer    *time.Timer
	timerGen int
}

// Controller owns the per-location renderer state.
type Controller struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	unhook  func()
}

// New creates a controller.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With().Str("component", "renderer").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	c.unhook = deps.Directory.OnRemove(func(svc models.DiscoveredService) {
		c.detach(svc.Location)
	})
	return c
}

// Close stops every poll timer and event subscription.
func (c *Controller) Close() {
	c.cancel()
	c.unhook()
	c.mu.Lock()
	locs := make([]string, 0, len(c.entries))
	for loc := range c.entries {
		locs = append(locs, loc)
	}
	c.mu.Unlock()
	for _, loc := range locs {
		c.detach(loc)
	}
}

// lock returns the entry for location locked, creating and loading it on
// first use.
func (c *Controller) lock(location string) *entry {
	c.mu.Lock()
	e, ok := c.entries[location]
	if !ok {
		e = &entry{state: models.PlayingState{Location: location, Queue: []models.MediaItem{}}}
		c.entries[location] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if !e.loaded {
		e.loaded = true
		if c.deps.Store != nil {
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			saved, err := c.deps.Store.Load(ctx, location)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Str("location", location).Msg("load renderer state failed")
			} else if saved != nil {
				e.state = *saved
				if e.state.Queue == nil {
					e.state.Queue = []models.MediaItem{}
				}
			}
		}
	}
	return e
}

// State returns the cached state for location. The second result is false
// when the location was never used.
func (c *Controller) State(location string) (models.PlayingState, bool) {
	c.mu.Lock()
	_, ok := c.entries[location]
	c.mu.Unlock()
	if !ok && c.deps.Store == nil {
		return models.PlayingState{}, false
	}
	e := c.lock(location)
	defer e.mu.Unlock()
	if !ok && e.state.UpdatedAt.IsZero() && e.state.Track == nil && len(e.state.Queue) == 0 {
		return models.PlayingState{}, false
	}
	return cloneState(e.state), true
}

// Subscribe attaches an event listener for location once and returns the
// cached state immediately.
func (c *Controller) Subscribe(ctx context.Context, location string) models.PlayingState {
	e := c.lock(location)
	need := !e.subscribed
	e.subscribed = true
	snapshot := cloneState(e.state)
	e.mu.Unlock()

	if !need || c.deps.Watcher == nil {
		return snapshot
	}
	svc, ok := c.deps.Directory.Get(location)
	if !ok || svc.EventSubURL == "" {
		// not discovered yet, a later Subscribe retries
		e.mu.Lock()
		e.subscribed = false
		e.mu.Unlock()
		return snapshot
	}
	unwatch, err := c.deps.Watcher.Watch(ctx, svc, func(vars map[string]string) {
		c.HandleEvent(location, vars)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		c.logger.Debug().Err(err).Str("location", location).Msg("event subscription failed")
		e.subscribed = false
		return snapshot
	}
	if !e.subscribed {
		// detached while subscribing
		go unwatch()
		return snapshot
	}
	e.unwatch = unwatch
	return snapshot
}

// detach drops timers and listeners for location. Cached state is kept.
func (c *Controller) detach(location string) {
	c.mu.Lock()
	e, ok := c.entries[location]
	c.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	c.stopTimerLocked(e)
	unwatch := e.unwatch
	e.unwatch = nil
	e.subscribed = false
	e.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// Invoke calls method on the service at location. It returns nil when the
// service or action is unknown or the call fails; the failure is recorded
// as a diagnostic rather than returned.
func (c *Controller) Invoke(ctx context.Context, location, method string, inputs map[string]string) map[string]string {
	svc, ok := c.deps.Directory.Get(location)
	if !ok {
		c.diagnose(location, method, fmt.Errorf("%w: %s", upnpclient.ErrUnknownService, location))
		return nil
	}
	return c.invokeService(ctx, svc, method, inputs)
}

func (c *Controller) invokeService(ctx context.Context, svc models.DiscoveredService, method string, inputs map[string]string) map[string]string {
	out, err := c.deps.Invoker.Invoke(ctx, svc, method, inputs)
	if err != nil {
		c.diagnose(svc.Location, method, err)
		return nil
	}
	if out == nil {
		out = map[string]string{}
	}
	return out
}

func (c *Controller) diagnose(location, method string, err error) {
	c.logger.Warn().Err(err).Str("location", location).Str("action", method).Msg("action failed")
	if c.deps.Diagnostics != nil {
		c.deps.Diagnostics.Record("warn", "renderer", "action failed", map[string]interface{}{
			"location": location,
			"action":   method,
			"error":    err.Error(),
		})
	}
}

// PollPosition fetches the elapsed time of location on demand. It fails
// with ErrPollTimeout once the configured bound passes.
func (c *Controller) PollPosition(ctx context.Context, location, instanceID string) (float64, error) {
	svc, ok := c.deps.Directory.Get(location)
	if !ok {
		return 0, fmt.Errorf("%w: %s", upnpclient.ErrUnknownService, location)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	type result struct {
		out map[string]string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := c.deps.Invoker.Invoke(ctx, svc, "GetPositionInfo", map[string]string{"InstanceID": instanceID})
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			telemetry.RendererPollFailuresTotal.Inc()
			return 0, r.err
		}
		sec := timefmt.Seconds(r.out["RelTime"])
		e := c.lock(location)
		e.state.Time = sec
		c.publishLocked(location, map[string]any{"playingTime": sec})
		e.mu.Unlock()
		return sec, nil
	case <-ctx.Done():
		telemetry.RendererPollFailuresTotal.Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrPollTimeout
		}
		return 0, ctx.Err()
	}
}

// HandleEvent applies a GENA event for location.
func (c *Controller) HandleEvent(location string, vars map[string]string) {
	lc, ok := vars["LastChange"]
	if !ok {
		return
	}
	changes, err := upnpclient.ParseLastChange(lc)
	if err != nil {
		c.logger.Debug().Err(err).Str("location", location).Msg("bad LastChange")
		return
	}

	e := c.lock(location)
	defer e.mu.Unlock()
	var values map[string]string
	for _, ch := range changes {
		if ch.InstanceID == e.state.InstanceID || values == nil {
			values = ch.Values
		}
	}
	if values == nil {
		return
	}

	if v, ok := values["RelativeTimePosition"]; ok && v != "NOT_IMPLEMENTED" {
		e.state.Time = timefmt.Seconds(v)
		c.publishLocked(location, map[string]any{"playingTime": e.state.Time})
	}
	if v, ok := values["TransportState"]; ok {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.PollTimeout)
		defer cancel()
		c.observeLocked(ctx, location, e, models.TransportState(v))
	}
}

// observeLocked records a renderer-reported state. A transition into
// STOPPED triggers auto-advance.
func (c *Controller) observeLocked(ctx context.Context, location string, e *entry, st models.TransportState) {
	if st == "" {
		return
	}
	prev := e.observed
	e.observed = st
	if st == prev {
		return
	}
	switch st {
	case models.TransportPlaying, models.TransportPaused, models.TransportStopped:
		e.state.State = st
	}
	if st == models.TransportStopped {
		c.logger.Info().Str("location", location).Msg("renderer stopped")
		c.advanceLocked(ctx, location, e)
	}
}

// advanceLocked plays the queue entry after the current track, wrapping at
// the end. A missing queue or current track means the queue has ended.
func (c *Controller) advanceLocked(ctx context.Context, location string, e *entry) {
	st := &e.state
	if len(st.Queue) == 0 || st.Track == nil {
		return
	}
	idx := st.IndexOfTrack()
	if idx < 0 {
		return
	}
	if c.cfg.PositionGuard > 0 && st.Time < c.cfg.PositionGuard {
		c.logger.Debug().Str("location", location).Float64("elapsed", st.Time).Msg("stop before guard position, not advancing")
		return
	}
	next := (idx + 1) % len(st.Queue)
	track := st.Queue[next]
	c.logger.Info().Str("location", location).Int("index", next).Int("queue", len(st.Queue)).Str("track", track.ID).Msg("advancing queue")
	if c.playLocked(ctx, location, e, track) {
		telemetry.AutoAdvancesTotal.Inc()
	}
}

// playLocked loads track on the renderer, starts it and polls.
func (c *Controller) playLocked(ctx context.Context, location string, e *entry, track models.MediaItem) bool {
	svc, ok := c.deps.Directory.Get(location)
	if !ok {
		c.diagnose(location, "SetAVTransportURI", fmt.Errorf("%w: %s", upnpclient.ErrUnknownService, location))
		return false
	}
	if len(track.Resources) == 0 {
		c.diagnose(location, "SetAVTransportURI", fmt.Errorf("track %s has no resources", track.ID))
		return false
	}
	meta, err := contentdir.ItemMetadata("", track)
	if err != nil {
		c.diagnose(location, "SetAVTransportURI", err)
		return false
	}
	instance := e.state.InstanceID
	if c.invokeService(ctx, svc, "SetAVTransportURI", map[string]string{
		"InstanceID":         instance,
		"CurrentURI":         track.Resources[0].URL,
		"CurrentURIMetaData": meta,
	}) == nil {
		return false
	}
	e.observed = models.TransportStopped
	c.invokeService(ctx, svc, "Play", map[string]string{"InstanceID": instance, "Speed": "1"})

	t := track
	e.state.Track = &t
	e.state.State = models.TransportPlaying
	e.state.Time = 0
	c.persistLocked(e)
	c.publishLocked(location, cloneState(e.state))
	c.scheduleLocked(location, e, 0)
	return true
}

// StartPolling begins the position poll loop for location.
func (c *Controller) StartPolling(location string) {
	e := c.lock(location)
	defer e.mu.Unlock()
	c.scheduleLocked(location, e, 0)
}

// StopPolling cancels the poll loop for location.
func (c *Controller) StopPolling(location string) {
	e := c.lock(location)
	defer e.mu.Unlock()
	c.stopTimerLocked(e)
}

func (c *Controller) scheduleLocked(location string, e *entry, d time.Duration) {
	c.stopTimerLocked(e)
	gen := e.timerGen
	e.timer = time.AfterFunc(d, func() { c.pollTick(location, gen) })
}

func (c *Controller) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

// NextPollDelay aligns the next poll to the next whole second of playback.
func NextPollDelay(elapsed float64) time.Duration {
	rest := math.Floor(elapsed) + 1 - elapsed
	if rest < 0.1 {
		rest++
	}
	return time.Duration(rest * float64(time.Second))
}

func (c *Controller) pollTick(location string, gen int) {
	if c.ctx.Err() != nil {
		return
	}
	e := c.lock(location)
	defer e.mu.Unlock()
	if gen != e.timerGen {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.PollTimeout)
	defer cancel()

	instance := map[string]string{"InstanceID": e.state.InstanceID}
	info := c.Invoke(ctx, location, "GetTransportInfo", instance)
	if info == nil {
		telemetry.RendererPollFailuresTotal.Inc()
	} else {
		c.observeLocked(ctx, location, e, models.TransportState(info["CurrentTransportState"]))
	}
	if gen != e.timerGen {
		// advance rescheduled or polling stopped
		return
	}

	elapsed := 0.0
	if info != nil && models.TransportState(info["CurrentTransportState"]) == models.TransportPlaying {
		if pos := c.Invoke(ctx, location, "GetPositionInfo", instance); pos != nil {
			elapsed = timefmt.Seconds(pos["RelTime"])
			e.state.Time = elapsed
			c.publishLocked(location, map[string]any{"playingTime": elapsed})
		} else {
			telemetry.RendererPollFailuresTotal.Inc()
		}
	}
	if gen == e.timerGen {
		c.scheduleLocked(location, e, NextPollDelay(elapsed))
	}
}

// CommandRequest is one UI transport command.
type CommandRequest struct {
	Method   string
	Inputs   map[string]string
	Metadata *models.MediaItem // SetAVTransportURI only
	Update   *models.StateUpdate
}

// Command runs a transport command against location, merges the optional
// state update and broadcasts the resulting state to the location's room.
// Volume commands go to the RenderingControl service of the same device.
func (c *Controller) Command(ctx context.Context, location string, req CommandRequest) map[string]string {
	e := c.lock(location)
	defer e.mu.Unlock()

	inputs := make(map[string]string, len(req.Inputs)+3)
	for k, v := range req.Inputs {
		inputs[k] = v
	}

	var out map[string]string
	switch req.Method {
	case "Noop":
		out = map[string]string{}
	case "SetVolume", "GetVolume":
		rc, ok := c.deps.Directory.Sibling(location, models.KindRenderingControl)
		if !ok {
			c.diagnose(location, req.Method, fmt.Errorf("%w: no RenderingControl beside %s", upnpclient.ErrUnknownService, location))
			break
		}
		out = c.invokeService(ctx, rc, req.Method, inputs)
	case "SetAVTransportURI":
		if req.Metadata == nil || len(req.Metadata.Resources) == 0 {
			c.diagnose(location, req.Method, errors.New("metadata with at least one resource is required"))
			break
		}
		meta, err := contentdir.ItemMetadata("", *req.Metadata)
		if err != nil {
			c.diagnose(location, req.Method, err)
			break
		}
		inputs["CurrentURI"] = req.Metadata.Resources[0].URL
		inputs["InstanceID"] = e.state.InstanceID
		inputs["CurrentURIMetaData"] = meta
		out = c.Invoke(ctx, location, req.Method, inputs)
		e.observed = models.TransportStopped
	default:
		switch req.Method {
		case "Play":
			c.scheduleLocked(location, e, 0)
		case "Pause":
			c.stopTimerLocked(e)
		case "Stop":
			e.observed = models.TransportStopped
		}
		out = c.Invoke(ctx, location, req.Method, inputs)
	}

	if req.Update != nil {
		req.Update.Apply(&e.state)
	}
	c.persistLocked(e)
	c.publishLocked(location, cloneState(e.state))
	return out
}

func (c *Controller) persistLocked(e *entry) {
	if c.deps.Store == nil {
		return
	}
	e.state.UpdatedAt = time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	s := cloneState(e.state)
	if err := c.deps.Store.Save(ctx, &s); err != nil {
		c.logger.Warn().Err(err).Str("location", e.state.Location).Msg("save renderer state failed")
	}
}

func (c *Controller) publishLocked(location string, data any) {
	if c.deps.Bus == nil {
		return
	}
	c.deps.Bus.PublishRoom(location, events.Payload{
		"type": string(events.EventAVUpdate),
		"url":  location,
		"data": data,
	})
}

func cloneState(s models.PlayingState) models.PlayingState {
	out := s
	if s.Track != nil {
		t := *s.Track
		out.Track = &t
	}
	out.Queue = append([]models.MediaItem{}, s.Queue...)
	return out
}
