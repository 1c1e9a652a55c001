/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api serves the control point's JSON API and event websocket to
// UI clients.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/events"
	"github.com/friendsincode/mediabridge/internal/library"
	"github.com/friendsincode/mediabridge/internal/logbuffer"
	"github.com/friendsincode/mediabridge/internal/renderer"
	"github.com/friendsincode/mediabridge/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	controller  *renderer.Controller
	registry    *discovery.Registry
	bus         events.Broker
	index       *library.Index
	curated     library.CuratedStore
	diagnostics *logbuffer.Buffer
	logBuffer   *logbuffer.Buffer
	logger      zerolog.Logger
}

// New creates the API router wrapper.
func New(controller *renderer.Controller, registry *discovery.Registry, bus events.Broker, logger zerolog.Logger) *API {
	return &API{
		controller: controller,
		registry:   registry,
		bus:        bus,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetLibrary enables the curated list endpoints.
func (a *API) SetLibrary(index *library.Index, curated library.CuratedStore) {
	a.index = index
	a.curated = curated
}

// SetDiagnostics sets the buffer holding failed action records.
func (a *API) SetDiagnostics(buf *logbuffer.Buffer) {
	a.diagnostics = buf
}

// SetLogBuffer sets the buffer holding recent process logs.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logBuffer = buf
}

// Routes registers the controller routes on r.
func (a *API) Routes(r chi.Router) {
	r.Post("/upnp/{method}", a.handleInvoke)
	r.Post("/upnp-content-directory/{method}", a.handleContentDirectory)
	r.Post("/upnp-avtransport/{method}", a.handleAVTransport)
	r.Post("/upnp-position", a.handlePosition)
	r.Get("/av-state/*", a.handleAVState)
	r.Get("/ssdp-devices", a.handleSSDPDevices)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/events", a.handleEvents)

		r.Get("/diagnostics", a.handleDiagnostics)
		r.Get("/diagnostics/stats", a.handleDiagnosticStats)
		r.Delete("/diagnostics", a.handleClearDiagnostics)

		r.Get("/logs", a.handleSystemLogs)
		r.Get("/logs/stats", a.handleLogStats)

		r.Get("/curated/*", a.handleCuratedGet)
		r.Post("/curated/*", a.handleCuratedPut)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
