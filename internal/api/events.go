/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/events"
	"github.com/friendsincode/mediabridge/internal/telemetry"
)

const (
	msgSubscribe   = "upnp-sub"
	msgUnsubscribe = "upnp-unsub"
)

type clientMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// handleEvents streams ssdp-update to every client and av-update to the
// clients that joined a renderer location's room.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebsocketConnections.Inc()
	defer telemetry.WebsocketConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := a.bus.Subscribe(events.EventSSDPUpdate)
	defer a.bus.Unsubscribe(events.EventSSDPUpdate, sub)

	replays := make(chan events.Payload, 4)
	go a.readClient(ctx, cancel, conn, sub, replays)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		var payload events.Payload
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			payload = events.Payload{"type": "ping"}
		case p, ok := <-sub:
			if !ok {
				return
			}
			payload = p
		case p := <-replays:
			payload = p
		}
		if err := writeEvent(ctx, conn, payload); err != nil {
			a.logger.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

// readClient applies room membership messages until the connection ends.
// Joining a room replays the cached state of that location.
func (a *API) readClient(ctx context.Context, cancel context.CancelFunc, conn *ws.Conn, sub events.Subscriber, replays chan<- events.Payload) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.URL == "" {
			continue
		}
		switch msg.Type {
		case msgSubscribe:
			a.bus.Join(msg.URL, sub)
			state := a.controller.Subscribe(ctx, msg.URL)
			select {
			case replays <- events.Payload{"type": string(events.EventAVUpdate), "url": msg.URL, "data": state}:
			case <-ctx.Done():
				return
			}
		case msgUnsubscribe:
			a.bus.Leave(msg.URL, sub)
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, payload events.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, data)
}

// PublishDiscovery forwards registry snapshots to the bus as ssdp-update
// events. The returned func stops forwarding.
func PublishDiscovery(registry *discovery.Registry, bus events.Broker) func() {
	return registry.Subscribe(func(snap discovery.Snapshot) {
		bus.Publish(events.EventSSDPUpdate, events.Payload{
			"type": string(events.EventSSDPUpdate),
			"data": snap.Services,
		})
	})
}
