/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/mediabridge/internal/models"
)

func (a *API) curatedContainer(rel string) string {
	id := a.curated.ContainerID()
	if rel = strings.Trim(rel, "/"); rel != "" {
		id += "/" + rel
	}
	return id
}

// handleCuratedGet lists the items stored directly under a curated container.
func (a *API) handleCuratedGet(w http.ResponseWriter, r *http.Request) {
	if a.index == nil || a.curated.Name == "" {
		writeError(w, http.StatusServiceUnavailable, "curated_unavailable")
		return
	}
	items := []models.MediaItem{}
	for _, node := range a.index.BrowseChildren(a.curatedContainer(chi.URLParam(r, "*"))) {
		if item, ok := node.(*models.MediaItem); ok {
			items = append(items, *item)
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCuratedPut replaces the items of a curated container and saves it.
func (a *API) handleCuratedPut(w http.ResponseWriter, r *http.Request) {
	if a.index == nil || a.curated.Dir == "" {
		writeError(w, http.StatusServiceUnavailable, "curated_unavailable")
		return
	}
	var items []models.MediaItem
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	rel := chi.URLParam(r, "*")
	if strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid_path")
		return
	}
	if err := a.curated.Put(a.index, rel, items); err != nil {
		a.logger.Error().Err(err).Str("path", rel).Msg("save curated list failed")
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"container": a.curatedContainer(rel),
		"count":     len(items),
	})
}
