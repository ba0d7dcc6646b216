// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber event queue size.
const DefaultSubscriberBuffer = 32

// Subscription receives job events for one API key.
type Subscription struct {
	C <-chan Event

	ch          chan Event
	fingerprint string
	dropped     atomic.Int64
	hub         *Hub
	once        sync.Once
}

// Dropped returns how many events were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans job events out to subscribers filtered by key fingerprint.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub. buffer <= 0 uses DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber for events of jobs tracked under
// fingerprint. An empty fingerprint receives every event.
func (h *Hub) Subscribe(fingerprint string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, fingerprint: fingerprint, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.fingerprint != "" && sub.fingerprint != ev.Job.KeyFingerprint {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
