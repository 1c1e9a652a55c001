/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/events"
)

// NATSBus relays events through a NATS subject.
type NATSBus struct {
	*events.Bus

	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  zerolog.Logger
	nodeID  string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL     string
	Token   string
	Subject string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "mediabridge.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus creates a NATS-backed event bus.
// Falls back to in-memory delivery if NATS is unavailable.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	def := DefaultNATSConfig()
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}

	nb := &NATSBus{
		Bus:     events.NewBus(),
		subject: cfg.Subject,
		logger:  logger,
		nodeID:  nodeID,
	}

	opts := []nats.Option{
		nats.Name("mediabridge " + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS connection failed, using in-memory fallback")
		return nb, nil
	}
	sub, err := conn.Subscribe(cfg.Subject, nb.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}
	nb.conn = conn
	nb.sub = sub
	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("NATS event relay initialized")
	return nb, nil
}

func (nb *NATSBus) handleMessage(m *nats.Msg) {
	msg, err := unmarshalMessage(m.Data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal NATS message")
		return
	}
	deliverLocal(nb.Bus, msg, nb.nodeID)
}

// Publish sends payload to local subscribers and relays it.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.Bus.Publish(eventType, payload)
	nb.relay(eventType, "", payload)
}

// PublishRoom sends payload to local room members and relays it.
func (nb *NATSBus) PublishRoom(room string, payload events.Payload) {
	nb.Bus.PublishRoom(room, payload)
	nb.relay("", room, payload)
}

func (nb *NATSBus) relay(eventType events.EventType, room string, payload events.Payload) {
	if nb.conn == nil {
		return
	}
	data, err := marshalMessage(eventType, room, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}
	if err := nb.conn.Publish(nb.subject, data); err != nil {
		nb.logger.Error().Err(err).Msg("failed to publish to NATS")
	}
}

// Fallback reports whether the relay is bypassed.
func (nb *NATSBus) Fallback() bool { return nb.conn == nil }

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if err := nb.sub.Unsubscribe(); err != nil {
		nb.logger.Debug().Err(err).Msg("NATS unsubscribe failed")
	}
	nb.conn.Close()
	return nil
}
