/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package discovery tracks UPnP services announced on the local network.
package discovery

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/telemetry"
)

// DefaultDebounce is the coalescing window for snapshot fan-out.
const DefaultDebounce = 200 * time.Millisecond

// Snapshot is the full set of known services at one point in time.
type Snapshot struct {
	Services []models.DiscoveredService                        `json:"services"`
	ByKind   map[models.ServiceKind][]models.DiscoveredService `json:"byKind"`
}

// Registry holds discovered services keyed by location.
type Registry struct {
	debounce time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	services map[string]models.DiscoveredService
	order    []string // arrival order of locations

	subMu     sync.Mutex
	nextSub   int
	listeners map[int]func(Snapshot)
	removals  map[int]func(models.DiscoveredService)

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewRegistry creates an empty registry. debounce <= 0 selects DefaultDebounce.
func NewRegistry(debounce time.Duration, logger zerolog.Logger) *Registry {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Registry{
		debounce:  debounce,
		logger:    logger.With().Str("component", "discovery").Logger(),
		services:  make(map[string]models.DiscoveredService),
		listeners: make(map[int]func(Snapshot)),
		removals:  make(map[int]func(models.DiscoveredService)),
	}
}

// Announce inserts or overwrites svc by location.
func (r *Registry) Announce(svc models.DiscoveredService) {
	if svc.Location == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.services[svc.Location]; !ok {
		r.order = append(r.order, svc.Location)
		r.logger.Info().Str("location", svc.Location).Str("type", svc.ServiceType).Msg("service added")
	}
	r.services[svc.Location] = svc
	r.mu.Unlock()
	r.schedule()
}

// Disappear removes the service at location.
func (r *Registry) Disappear(location string) {
	r.mu.Lock()
	svc, ok := r.services[location]
	if ok {
		delete(r.services, location)
		r.order = removeString(r.order, location)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Info().Str("location", location).Msg("service removed")
	r.notifyRemoval(svc)
	r.schedule()
}

// DisappearDevice removes every service described by descriptionURL.
func (r *Registry) DisappearDevice(descriptionURL string) int {
	var gone []string
	r.mu.RLock()
	for _, loc := range r.order {
		if r.services[loc].DeviceDescriptionURL == descriptionURL {
			gone = append(gone, loc)
		}
	}
	r.mu.RUnlock()
	for _, loc := range gone {
		r.Disappear(loc)
	}
	return len(gone)
}

// Get returns the service at location.
func (r *Registry) Get(location string) (models.DiscoveredService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[location]
	return svc, ok
}

// Sibling returns the service of the given kind that belongs to the same
// device as the service at location.
func (r *Registry) Sibling(location string, kind models.ServiceKind) (models.DiscoveredService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.services[location]
	if !ok {
		return models.DiscoveredService{}, false
	}
	for _, loc := range r.order {
		svc := r.services[loc]
		if svc.Kind() == kind && svc.DeviceDescriptionURL == src.DeviceDescriptionURL {
			return svc, true
		}
	}
	return models.DiscoveredService{}, false
}

// Snapshot returns the current services in arrival order.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		Services: make([]models.DiscoveredService, 0, len(r.order)),
		ByKind:   make(map[models.ServiceKind][]models.DiscoveredService),
	}
	for _, loc := range r.order {
		svc := r.services[loc]
		snap.Services = append(snap.Services, svc)
		if k := svc.Kind(); k != "" {
			snap.ByKind[k] = append(snap.ByKind[k], svc)
		}
	}
	return snap
}

// Subscribe registers fn for debounced snapshots. The returned func
// cancels the subscription.
func (r *Registry) Subscribe(fn func(Snapshot)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = fn
	return func() {
		r.subMu.Lock()
		delete(r.listeners, id)
		r.subMu.Unlock()
	}
}

// OnRemove registers fn to run synchronously whenever a service disappears.
func (r *Registry) OnRemove(fn func(models.DiscoveredService)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.removals[id] = fn
	return func() {
		r.subMu.Lock()
		delete(r.removals, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) notifyRemoval(svc models.DiscoveredService) {
	r.subMu.Lock()
	fns := make([]func(models.DiscoveredService), 0, len(r.removals))
	for _, fn := range r.removals {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(svc)
	}
}

// schedule (re)arms the debounce timer. Cancel-before-reschedule keeps at
// most one pending fan-out.
func (r *Registry) schedule() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, r.flush)
}

// Flush cancels any pending debounce and fans out immediately.
func (r *Registry) Flush() {
	r.timerMu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerMu.Unlock()
	r.flush()
}

func (r *Registry) flush() {
	snap := r.Snapshot()
	counts := map[models.ServiceKind]int{}
	for k, list := range snap.ByKind {
		counts[k] = len(list)
	}
	for _, k := range []models.ServiceKind{models.KindContentDirectory, models.KindAVTransport, models.KindRenderingControl, models.KindConnectionManager} {
		telemetry.DiscoveredServices.WithLabelValues(string(k)).Set(float64(counts[k]))
	}

	r.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Close stops a pending fan-out.
func (r *Registry) Close() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
