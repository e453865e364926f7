// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"sync"
	"sync/atomic"
)

// Handler receives envelopes from the bus.
//
// Handlers run on a per-subscriber delivery goroutine. A handler that
// blocks delays only its own subscriber; the publisher never waits.
type Handler func(Event)

// defaultBuffer is the per-subscriber queue depth before the bus
// starts dropping envelopes for that subscriber.
const defaultBuffer = 256

// Bus fans out envelopes to zero or more subscribers.
//
// # Description
//
// Publish is non-blocking: each subscriber owns a buffered queue
// drained by a dedicated goroutine, and envelopes that would overflow
// a full queue are dropped for that subscriber only. Within one
// subscriber, delivery order matches publish order.
//
// # Thread Safety
//
// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	// dropped counts envelopes discarded due to full queues.
	dropped atomic.Int64
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a handler and returns a cancel function.
//
// Inputs:
//
//	handler - Called once per published envelope, in publish order
//
// Outputs:
//
//	func() - Cancels the subscription and stops delivery
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++

	sub := &subscriber{
		ch:   make(chan Event, defaultBuffer),
		done: make(chan struct{}),
	}
	b.subs[id] = sub

	go func() {
		for evt := range sub.ch {
			handler(evt)
		}
		close(sub.done)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
			<-sub.done
		})
	}
}

// Publish delivers an envelope to every subscriber without blocking.
//
// Envelopes that would overflow a subscriber's queue are dropped for
// that subscriber and counted in Dropped.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of envelopes discarded because a
// subscriber queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close cancels all subscriptions and waits for in-flight deliveries
// to drain. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		<-sub.done
	}
}
