// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Registry holds named providers and throttles calls per provider.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Provider
	limiters map[string]*rate.Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Provider),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register adds a provider under id. rps caps requests per second;
// zero or negative means unthrottled. Re-registering an id replaces
// the previous provider.
func (r *Registry) Register(id string, p Provider, rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backends[id] = p
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		r.limiters[id] = rate.NewLimiter(rate.Limit(rps), burst)
	} else {
		delete(r.limiters, id)
	}
	slog.Info("Registered provider", "provider", id, "rps", rps)
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.backends[id]
	return p, ok
}

// Names returns the registered provider ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for id := range r.backends {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Generate routes a request to the named provider, blocking on its
// rate limiter first. The model in req overrides the provider
// default.
func (r *Registry) Generate(ctx context.Context, id string, req Request) (string, error) {
	r.mu.RLock()
	p, ok := r.backends[id]
	limiter := r.limiters[id]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait for %q: %w", id, err)
		}
	}
	return p.Generate(ctx, req)
}

// Close closes every registered provider, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, p := range r.backends {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %q: %w", id, err)
		}
	}
	r.backends = make(map[string]Provider)
	r.limiters = make(map[string]*rate.Limiter)
	return firstErr
}
