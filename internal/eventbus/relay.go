/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays bus events between mediabridge instances so that
// clients connected to any instance see the same renderer updates.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/events"
)

// Kind selects the relay implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindNATS   Kind = "nats"
)

// Config selects and configures a relay.
type Config struct {
	Kind  Kind
	Redis RedisConfig
	NATS  NATSConfig
}

// New returns the broker for cfg. Relays fall back to the in-memory bus
// when their backend is unreachable.
func New(cfg Config, logger zerolog.Logger) (events.Broker, error) {
	logger = logger.With().Str("component", "eventbus").Logger()
	nodeID := generateNodeID()
	switch cfg.Kind {
	case "", KindMemory:
		return events.NewBus(), nil
	case KindRedis:
		return NewRedisBus(cfg.Redis, nodeID, logger)
	case KindNATS:
		return NewNATSBus(cfg.NATS, nodeID, logger)
	default:
		return nil, fmt.Errorf("unknown event bus kind %q", cfg.Kind)
	}
}

// relayMessage is the wire form of a relayed event. Room is set for room
// publications, EventType for typed ones.
type relayMessage struct {
	EventType events.EventType `json:"event_type,omitempty"`
	Room      string           `json:"room,omitempty"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, room string, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(relayMessage{
		EventType: eventType,
		Room:      room,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*relayMessage, error) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal relay message: %w", err)
	}
	return &msg, nil
}

// deliverLocal hands a message received from another node to local
// subscribers. Messages from nodeID itself are dropped.
func deliverLocal(local *events.Bus, msg *relayMessage, nodeID string) bool {
	if msg.NodeID == nodeID {
		return false
	}
	if msg.Room != "" {
		local.PublishRoom(msg.Room, msg.Payload)
	} else {
		local.Publish(msg.EventType, msg.Payload)
	}
	return true
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
