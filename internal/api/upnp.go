/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/renderer"
)

const maxBodyBytes = 4 << 20

// actionRequest is the body of the /upnp* routes. Inputs are action
// arguments; scalar JSON values are passed as their text. SetAVTransportURI
// takes a Metadata object instead of CurrentURI.
type actionRequest struct {
	URL    string                     `json:"url"`
	Inputs map[string]json.RawMessage `json:"inputs"`
	Update *models.StateUpdate        `json:"update,omitempty"`
}

type actionArgs struct {
	url      string
	inputs   map[string]string
	metadata *models.MediaItem
	update   *models.StateUpdate
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionArgs, error) {
	var req actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return actionArgs{}, err
	}
	if req.URL == "" {
		return actionArgs{}, errors.New("url required")
	}
	args := actionArgs{url: req.URL, inputs: make(map[string]string, len(req.Inputs)), update: req.Update}
	for name, raw := range req.Inputs {
		if name == "Metadata" {
			var item models.MediaItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return actionArgs{}, err
			}
			args.metadata = &item
			continue
		}
		args.inputs[name] = inputText(raw)
	}
	return args, nil
}

func inputText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}

// handleInvoke calls an action as-is. A failed call answers null.
func (a *API) handleInvoke(w http.ResponseWriter, r *http.Request) {
	args, err := decodeAction(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	out := a.controller.Invoke(r.Context(), args.url, chi.URLParam(r, "method"), args.inputs)
	writeJSON(w, http.StatusOK, out)
}

// handleContentDirectory calls Browse or Search and answers the parsed
// DIDL-Lite entries.
func (a *API) handleContentDirectory(w http.ResponseWriter, r *http.Request) {
	args, err := decodeAction(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	out := a.controller.Invoke(r.Context(), args.url, chi.URLParam(r, "method"), args.inputs)
	if out == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	items, err := contentdir.Parse(out["Result"])
	if err != nil {
		a.logger.Warn().Err(err).Str("location", args.url).Msg("unreadable browse result")
		writeError(w, http.StatusBadGateway, "invalid_result")
		return
	}
	if items == nil {
		items = []models.MediaItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleAVTransport runs a transport command through the renderer
// controller, which keeps the location's state and broadcasts it.
func (a *API) handleAVTransport(w http.ResponseWriter, r *http.Request) {
	args, err := decodeAction(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	out := a.controller.Command(r.Context(), args.url, renderer.CommandRequest{
		Method:   chi.URLParam(r, "method"),
		Inputs:   args.inputs,
		Metadata: args.metadata,
		Update:   args.update,
	})
	writeJSON(w, http.StatusOK, out)
}

// handlePosition polls the elapsed time of a renderer on demand.
func (a *API) handlePosition(w http.ResponseWriter, r *http.Request) {
	args, err := decodeAction(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sec, err := a.controller.PollPosition(r.Context(), args.url, args.inputs["InstanceID"])
	if err != nil {
		if errors.Is(err, renderer.ErrPollTimeout) {
			writeError(w, http.StatusGatewayTimeout, "poll_timeout")
			return
		}
		writeError(w, http.StatusBadGateway, "poll_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"playingTime": sec})
}

// handleAVState answers the cached state of the location in the path, or
// an empty object for an unknown location.
func (a *API) handleAVState(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		location += "?" + r.URL.RawQuery
	}
	state, ok := a.controller.State(location)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleSSDPDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.Snapshot().Services)
}
