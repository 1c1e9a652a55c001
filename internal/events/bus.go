/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// EventAVUpdate carries a renderer's playing state to the clients that
	// joined the renderer's room.
	EventAVUpdate EventType = "av-update"
	// EventSSDPUpdate carries the discovered service snapshot to everyone.
	EventSSDPUpdate EventType = "ssdp-update"
	// EventTransport reports local renderer transport changes.
	EventTransport EventType = "transport"
	// EventLibrary reports media index changes.
	EventLibrary EventType = "library"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Broker is the bus surface shared by the in-memory bus and the relays.
type Broker interface {
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
	Publish(eventType EventType, payload Payload)
	Join(room string, sub Subscriber) bool
	Leave(room string, sub Subscriber)
	PublishRoom(room string, payload Payload)
	Close() error
}

// Bus implements a simple in-process pubsub with rooms. A room is a set of
// subscribers that receive payloads published to that room only.
type Bus struct {
	mu    sync.RWMutex
	subs  map[EventType][]Subscriber
	rooms map[string]map[Subscriber]struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:  make(map[EventType][]Subscriber),
		rooms: make(map[string]map[Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	deliver(b.subs[eventType], payload)
}

// Join adds sub to room. It reports false if sub already was a member.
func (b *Bus) Join(room string, sub Subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[Subscriber]struct{})
		b.rooms[room] = members
	}
	if _, dup := members[sub]; dup {
		return false
	}
	members[sub] = struct{}{}
	return true
}

// Leave removes sub from room.
func (b *Bus) Leave(room string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(room, sub)
}

func (b *Bus) leaveLocked(room string, sub Subscriber) {
	members := b.rooms[room]
	delete(members, sub)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
}

// Members returns the number of subscribers in room.
func (b *Bus) Members(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

// PublishRoom sends payload to the members of room.
func (b *Bus) PublishRoom(room string, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.rooms[room] {
		deliver([]Subscriber{sub}, payload)
	}
}

// deliver never blocks, so it runs under the read lock and cannot race a
// concurrent Unsubscribe closing the channel.
func deliver(subs []Subscriber, payload Payload) {
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber from eventType and every room, then
// closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	for room := range b.rooms {
		b.leaveLocked(room, sub)
	}
	close(sub)
}

// Close is a no-op for the in-memory bus.
func (b *Bus) Close() error { return nil }
