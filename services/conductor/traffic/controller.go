// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package traffic implements priority-aware admission control for
// node execution.
//
// A Controller holds a fixed number of slots (default 1). Callers
// acquire a slot before doing external work and release it after.
// When slots are contended, waiters are served strictly by priority,
// arrival-order within a priority level.
package traffic

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/flowmesh/pkg/logging"
)

// Priority orders waiting acquisitions. Lower values win.
type Priority int

const (
	// PriorityVIP is reserved for director and system nodes.
	PriorityVIP Priority = 0

	// PriorityHigh is for latency-sensitive callers.
	PriorityHigh Priority = 1

	// PriorityStandard is the default for agent nodes.
	PriorityStandard Priority = 2

	// PriorityBulk is for critic and auditor nodes whose work can
	// always wait.
	PriorityBulk Priority = 3
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityVIP:
		return "VIP"
	case PriorityHigh:
		return "HIGH"
	case PriorityStandard:
		return "STANDARD"
	case PriorityBulk:
		return "BULK"
	default:
		return "UNKNOWN"
	}
}

// ErrControllerClosed is returned by Acquire after Close.
var ErrControllerClosed = errors.New("traffic controller closed")

// ticket represents one waiting acquisition.
type ticket struct {
	name     string
	priority Priority

	// seq is a monotonic arrival stamp used as the tie-breaker
	// within a priority level.
	seq uint64

	// grant is closed when the ticket receives a slot.
	grant chan struct{}

	// cancelled marks tickets abandoned by context expiry; the
	// dispatcher skips them lazily.
	cancelled bool

	index int
}

// ticketHeap orders tickets by (priority asc, seq asc).
type ticketHeap []*ticket

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h ticketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *ticketHeap) Push(x any) {
	t := x.(*ticket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Controller is the process-wide admission gate.
//
// # Description
//
// Fast path: when no one is waiting and a slot is free, Acquire
// returns immediately. Slow path: the caller joins a priority queue
// and is granted a slot by the dispatcher when one frees. Pause
// gates new grants only; slots already held remain held.
//
// # Thread Safety
//
// Controller is safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	capacity int
	active   int
	paused   bool
	closed   bool

	queue ticketHeap
	seq   uint64

	logger  *logging.Logger
	metrics *Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a controller with the given concurrency cap.
// A cap below 1 is raised to 1.
func NewController(capacity int, opts ...Option) *Controller {
	if capacity < 1 {
		capacity = 1
	}
	c := &Controller{capacity: capacity}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	return c
}

// Acquire blocks until the caller holds a slot or ctx expires.
//
// Description:
//
//	The caller is admitted immediately when the controller is not
//	paused, a slot is free, and no one is waiting. Otherwise the
//	caller waits its turn: strict priority order, arrival order
//	within a level.
//
// Inputs:
//
//	ctx - Bounds the wait
//	name - Caller name, for logging
//	priority - Admission priority
//
// Outputs:
//
//	error - ctx.Err() on expiry, ErrControllerClosed after Close
func (c *Controller) Acquire(ctx context.Context, name string, priority Priority) error {
	start := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}

	// Fast path.
	if !c.paused && c.active < c.capacity && c.queue.Len() == 0 {
		c.active++
		active := c.active
		c.mu.Unlock()

		c.observeAcquire(active, 0, 0)
		return nil
	}

	// Slow path: join the queue.
	c.seq++
	t := &ticket{
		name:     name,
		priority: priority,
		seq:      c.seq,
		grant:    make(chan struct{}),
	}
	heap.Push(&c.queue, t)
	waiting := c.queue.Len()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Waiting.Set(float64(waiting))
	}
	c.logger.Debug("traffic wait",
		"name", name,
		"priority", priority.String(),
		"waiting", waiting,
	)

	select {
	case <-t.grant:
		c.mu.Lock()
		if t.cancelled {
			// Close drained the queue while we waited.
			c.mu.Unlock()
			return ErrControllerClosed
		}
		active := c.active
		waiting := c.queue.Len()
		c.mu.Unlock()

		c.observeAcquire(active, waiting, time.Since(start))
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if t.index >= 0 {
			heap.Remove(&c.queue, t.index)
		} else if !t.cancelled {
			// Grant and cancellation raced; give the slot back.
			c.active--
			c.dispatchLocked()
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot and wakes the highest-priority waiter.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active > 0 {
		c.active--
	}
	if c.metrics != nil {
		c.metrics.Active.Set(float64(c.active))
	}
	c.dispatchLocked()
}

// Pause stops new grants. Slots already held remain held.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.logger.Info("traffic paused", "active", c.active, "waiting", c.queue.Len())
}

// Resume re-enables grants and wakes eligible waiters.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.logger.Info("traffic resumed", "active", c.active, "waiting", c.queue.Len())
	c.dispatchLocked()
}

// Paused reports whether new grants are gated.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// ActiveCount returns the number of slots currently held.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// WaitingCount returns the number of queued acquisitions.
func (c *Controller) WaitingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Capacity returns the fixed concurrency cap.
func (c *Controller) Capacity() int {
	return c.capacity
}

// Close fails all current and future acquisitions. Held slots may
// still be released.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for c.queue.Len() > 0 {
		t := heap.Pop(&c.queue).(*ticket)
		t.cancelled = true
		close(t.grant)
	}
}

// dispatchLocked grants freed slots to waiting tickets. Caller holds
// c.mu.
func (c *Controller) dispatchLocked() {
	for !c.paused && !c.closed && c.active < c.capacity && c.queue.Len() > 0 {
		t := heap.Pop(&c.queue).(*ticket)
		if t.cancelled {
			continue
		}
		c.active++
		close(t.grant)
	}
	if c.metrics != nil {
		c.metrics.Active.Set(float64(c.active))
		c.metrics.Waiting.Set(float64(c.queue.Len()))
	}
}

func (c *Controller) observeAcquire(active, waiting int, waited time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.Active.Set(float64(active))
	c.metrics.Waiting.Set(float64(waiting))
	c.metrics.WaitSeconds.Observe(waited.Seconds())
}
