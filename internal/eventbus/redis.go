/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/events"
)

// RedisBus relays events through a Redis pub/sub channel.
type RedisBus struct {
	*events.Bus

	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	logger  zerolog.Logger
	nodeID  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int
	lastCheck   time.Time
	checkEvery  time.Duration
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Channel:       "mediabridge.events",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus.
// Falls back to in-memory delivery if Redis is unavailable (circuit breaker pattern).
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisConfig().Channel
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultRedisConfig().CheckInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rb := &RedisBus{
		Bus:        events.NewBus(),
		client:     client,
		channel:    cfg.Channel,
		logger:     logger,
		nodeID:     nodeID,
		maxFails:   cfg.MaxFailures,
		checkEvery: cfg.CheckInterval,
		ctx:        ctx,
		cancel:     cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis connection failed, using in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	} else {
		rb.startReceiver()
		logger.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("Redis event relay initialized")
	}

	rb.wg.Add(1)
	go rb.reconnectLoop()
	return rb, nil
}

func (rb *RedisBus) startReceiver() {
	rb.pubsub = rb.client.Subscribe(rb.ctx, rb.channel)
	rb.wg.Add(1)
	go rb.receiveMessages(rb.pubsub)
}

// receiveMessages handles incoming Redis pub/sub messages.
func (rb *RedisBus) receiveMessages(pubsub *redis.PubSub) {
	defer rb.wg.Done()
	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis channel closed")
				rb.handleFailure()
				return
			}
			relayed, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
				continue
			}
			if deliverLocal(rb.Bus, relayed, rb.nodeID) {
				rb.logger.Debug().Str("source_node", relayed.NodeID).Msg("delivered relayed event")
			}
		}
	}
}

// Publish sends payload to local subscribers and relays it.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.Bus.Publish(eventType, payload)
	rb.relay(eventType, "", payload)
}

// PublishRoom sends payload to local room members and relays it.
func (rb *RedisBus) PublishRoom(room string, payload events.Payload) {
	rb.Bus.PublishRoom(room, payload)
	rb.relay("", room, payload)
}

func (rb *RedisBus) relay(eventType events.EventType, room string, payload events.Payload) {
	rb.mu.Lock()
	fallback := rb.useFallback
	rb.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalMessage(eventType, room, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}
	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, rb.channel, data).Err(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Fallback reports whether the relay is currently bypassed.
func (rb *RedisBus) Fallback() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.useFallback
}

// handleFailure implements circuit breaker logic.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

func (rb *RedisBus) reconnectLoop() {
	defer rb.wg.Done()
	ticker := time.NewTicker(rb.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case <-ticker.C:
			if err := rb.tryReconnect(); err != nil {
				rb.logger.Debug().Err(err).Msg("Redis reconnect skipped")
			}
		}
	}
}

// tryReconnect re-enables the relay once Redis answers again.
func (rb *RedisBus) tryReconnect() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.useFallback {
		return nil
	}
	if time.Since(rb.lastCheck) < rb.checkEvery {
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(rb.ctx, 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}
	rb.useFallback = false
	rb.failCount = 0
	if rb.pubsub == nil {
		rb.startReceiver()
	}
	rb.logger.Info().Msg("reconnected to Redis, disabling fallback")
	return nil
}

// Close stops the relay and closes the Redis client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.mu.Lock()
	pubsub := rb.pubsub
	rb.mu.Unlock()
	if pubsub != nil {
		pubsub.Close()
	}
	rb.wg.Wait()
	if err := rb.client.Close(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	return nil
}
