/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/mediabridge/internal/logbuffer"
)

func parseLogQuery(r *http.Request, defaultLimit int) logbuffer.QueryParams {
	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Location:   q.Get("location"),
		Search:     q.Get("search"),
		Descending: q.Get("order") != "asc",
		Limit:      defaultLimit,
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}
	return params
}

func (a *API) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if a.diagnostics == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics_unavailable")
		return
	}
	entries := a.diagnostics.Query(parseLogQuery(r, 200))
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleDiagnosticStats(w http.ResponseWriter, r *http.Request) {
	if a.diagnostics == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics_unavailable")
		return
	}
	params := parseLogQuery(r, 0)
	params.Limit = 0
	writeJSON(w, http.StatusOK, a.diagnostics.Stats(params))
}

func (a *API) handleClearDiagnostics(w http.ResponseWriter, r *http.Request) {
	if a.diagnostics == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics_unavailable")
		return
	}
	a.diagnostics.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_unavailable")
		return
	}
	entries := a.logBuffer.Query(parseLogQuery(r, 500))
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_unavailable")
		return
	}
	params := parseLogQuery(r, 0)
	params.Limit = 0
	writeJSON(w, http.StatusOK, a.logBuffer.Stats(params))
}
