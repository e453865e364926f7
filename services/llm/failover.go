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
	"strings"
	"sync"
	"time"
)

// Reason classifies why a provider call failed.
type Reason string

const (
	ReasonRateLimit        Reason = "rate_limit"
	ReasonTimeout          Reason = "timeout"
	ReasonAPIError         Reason = "api_error"
	ReasonAuthentication   Reason = "authentication"
	ReasonQuotaExceeded    Reason = "quota_exceeded"
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonUnknown          Reason = "unknown"
)

// cooldowns maps a failure reason to how long the failed entry sits
// out of candidate selection.
var cooldowns = map[Reason]time.Duration{
	ReasonRateLimit:        300 * time.Second,
	ReasonQuotaExceeded:    3600 * time.Second,
	ReasonTimeout:          60 * time.Second,
	ReasonAPIError:         120 * time.Second,
	ReasonAuthentication:   0,
	ReasonModelUnavailable: 600 * time.Second,
	ReasonUnknown:          60 * time.Second,
}

// ClassifyError maps an error message onto a failure reason by
// substring. Rate limits are checked before quota because both often
// mention "limit".
func ClassifyError(msg string) Reason {
	lowered := strings.ToLower(msg)

	containsAny := func(needles ...string) bool {
		for _, n := range needles {
			if strings.Contains(lowered, n) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("rate limit", "too many requests", "429", "throttl"):
		return ReasonRateLimit
	case containsAny("timeout", "timed out"):
		return ReasonTimeout
	case containsAny("quota", "exceeded", "limit exceeded"):
		return ReasonQuotaExceeded
	case containsAny("auth", "unauthorized", "401", "403", "api key"):
		return ReasonAuthentication
	case containsAny("not found", "404", "unavailable", "does not exist"):
		return ReasonModelUnavailable
	case containsAny("error", "500", "502", "503"):
		return ReasonAPIError
	}
	return ReasonUnknown
}

// Health tracks one (provider, model) entry.
type Health struct {
	ProviderID string
	Model      string
	Priority   int

	SuccessCount  int
	FailureCount  int
	LastSuccess   time.Time
	LastFailure   time.Time
	CooldownUntil time.Time

	// AvgResponseTime is an exponential moving average, alpha 0.1.
	AvgResponseTime time.Duration
}

// SuccessRate returns successes over total attempts, 1.0 when
// untried.
func (h *Health) SuccessRate() float64 {
	total := h.SuccessCount + h.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(h.SuccessCount) / float64(total)
}

func (h *Health) recordSuccess(now time.Time, elapsed time.Duration) {
	h.SuccessCount++
	h.LastSuccess = now
	if h.AvgResponseTime == 0 {
		h.AvgResponseTime = elapsed
	} else {
		h.AvgResponseTime = time.Duration(float64(h.AvgResponseTime)*0.9 + float64(elapsed)*0.1)
	}
}

func (h *Health) recordFailure(now time.Time, reason Reason) {
	h.FailureCount++
	h.LastFailure = now
	h.CooldownUntil = now.Add(cooldowns[reason])
}

// capabilityGroups are fixed model-equivalence classes used to build
// automatic fallback chains when no explicit chain exists.
var capabilityGroups = map[string][]string{
	"high_capability": {
		"opus", "claude-opus", "gpt-4", "gemini-1.5-pro",
		"llama-3.3-70b-versatile", "deepseek-r1",
	},
	"balanced": {
		"sonnet", "claude-sonnet", "gpt-4-turbo", "gemini-1.5-flash",
		"llama3-8b-8192", "mistral", "llama3",
	},
	"fast": {
		"haiku", "claude-haiku", "gpt-3.5-turbo", "gemini-2.0-flash",
		"phi3", "mixtral-8x7b-32768",
	},
}

// Candidate is one (provider, model) pair in a fallback chain.
type Candidate struct {
	Provider string
	Model    string
}

func (c Candidate) key() string { return c.Provider + "/" + c.Model }

// FailoverConfig tunes the failover manager.
type FailoverConfig struct {
	Enabled    bool
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultFailoverConfig returns the standard settings: enabled,
// three retries, one second between attempts.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{Enabled: true, MaxRetries: 3, RetryDelay: time.Second}
}

// Task executes one generation attempt against a concrete
// (provider, model) pair.
type Task func(ctx context.Context, provider, model string) (string, error)

// OnFailover is invoked between attempts with the pair being
// abandoned, the pair being tried next, and the classified reason.
type OnFailover func(oldProvider, oldModel, newProvider, newModel string, reason Reason)

// FailoverManager reroutes generation across registered
// (provider, model) entries when a backend degrades.
//
// # Description
//
// Candidate order for a failing pair: an explicit fallback chain if
// one is configured; otherwise the tier system when a task category
// is known (a tier switch also reports a limit hit against the
// failing provider); otherwise every available entry in the same
// capability group ordered by priority then success rate; finally
// any available entry by priority. A completion string starting with
// "Error:" counts as a failure even when the task returned no error.
//
// # Thread Safety
//
// FailoverManager is safe for concurrent use.
type FailoverManager struct {
	mu      sync.Mutex
	config  FailoverConfig
	entries map[string]*Health
	chains  map[string][]Candidate
	tiers   *TierManager

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// NewFailoverManager creates a manager. tiers may be nil to disable
// category-aware fallback.
func NewFailoverManager(config FailoverConfig, tiers *TierManager) *FailoverManager {
	return &FailoverManager{
		config:  config,
		entries: make(map[string]*Health),
		chains:  make(map[string][]Candidate),
		tiers:   tiers,
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// RegisterProvider adds every model of a provider as a failover
// entry. Lower priority is preferred.
func (m *FailoverManager) RegisterProvider(providerID string, models []string, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, model := range models {
		key := providerID + "/" + model
		m.entries[key] = &Health{ProviderID: providerID, Model: model, Priority: priority}
		slog.Info("Registered failover entry", "key", key, "priority", priority)
	}
}

// SetFallbackChain pins an explicit candidate order for a pair.
func (m *FailoverManager) SetFallbackChain(providerID, model string, fallbacks []Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[providerID+"/"+model] = append([]Candidate(nil), fallbacks...)
}

// Execute runs task with automatic failover.
//
// Outputs:
//
//	string - The successful completion
//	Candidate - The (provider, model) pair that produced it
//	error - Non-nil when every attempt failed
func (m *FailoverManager) Execute(ctx context.Context, providerID, model string, task Task, onFailover OnFailover, category string) (string, Candidate, error) {
	current := Candidate{Provider: providerID, Model: model}

	if !m.config.Enabled {
		result, err := task(ctx, providerID, model)
		return result, current, err
	}

	attempted := map[string]bool{current.key(): true}
	var lastErr error

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		start := m.now()
		result, err := task(ctx, current.Provider, current.Model)
		if err == nil && strings.HasPrefix(result, "Error:") {
			err = fmt.Errorf("%s", result)
		}
		if err == nil {
			m.recordSuccess(current, m.now().Sub(start))
			return result, current, nil
		}
		if ctx.Err() != nil {
			return "", current, ctx.Err()
		}

		lastErr = err
		reason := ClassifyError(err.Error())
		slog.Warn("Failover triggered",
			"key", current.key(),
			"reason", string(reason),
			"error", truncate(err.Error(), 100),
		)
		m.recordFailure(current, reason)

		next, ok := m.nextCandidate(current, category, attempted)
		if !ok {
			break
		}
		if onFailover != nil {
			onFailover(current.Provider, current.Model, next.Provider, next.Model, reason)
		}
		slog.Info("Failing over", "from", current.key(), "to", next.key())
		attempted[next.key()] = true
		current = next

		m.sleep(ctx, m.config.RetryDelay)
		if ctx.Err() != nil {
			return "", current, ctx.Err()
		}
	}

	return "", current, fmt.Errorf("all failover attempts exhausted: %w", lastErr)
}

// Status reports availability and health per registered entry.
func (m *FailoverManager) Status() map[string]Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Health, len(m.entries))
	for key, h := range m.entries {
		out[key] = *h
	}
	return out
}

func (m *FailoverManager) recordSuccess(c Candidate, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.entries[c.key()]; ok {
		h.recordSuccess(m.now(), elapsed)
	}
}

func (m *FailoverManager) recordFailure(c Candidate, reason Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.entries[c.key()]; ok {
		h.recordFailure(m.now(), reason)
	}
}

// nextCandidate picks the first untried, available fallback for the
// failing pair.
func (m *FailoverManager) nextCandidate(failing Candidate, category string, attempted map[string]bool) (Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.candidatesLocked(failing, category) {
		if attempted[c.key()] {
			continue
		}
		if h, ok := m.entries[c.key()]; ok && !m.availableLocked(h) {
			continue
		}
		return c, true
	}
	return Candidate{}, false
}

func (m *FailoverManager) availableLocked(h *Health) bool {
	return m.now().After(h.CooldownUntil)
}

func (m *FailoverManager) candidatesLocked(failing Candidate, category string) []Candidate {
	if chain, ok := m.chains[failing.key()]; ok {
		return chain
	}

	if m.tiers != nil && category != "" {
		if best, ok := m.tiers.Best(category, failing.Provider); ok {
			if best != failing {
				m.tiers.ReportLimitHit(failing.Provider)
				return []Candidate{best}
			}
		}
	}

	group := groupOf(failing.Model)
	var candidates []Candidate
	if group != "" {
		members := capabilityGroups[group]
		for key, h := range m.entries {
			if key == failing.key() || !m.availableLocked(h) {
				continue
			}
			if inGroup(h.Model, members) {
				candidates = append(candidates, Candidate{Provider: h.ProviderID, Model: h.Model})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			hi, hj := m.entries[candidates[i].key()], m.entries[candidates[j].key()]
			if hi.Priority != hj.Priority {
				return hi.Priority < hj.Priority
			}
			if hi.SuccessRate() != hj.SuccessRate() {
				return hi.SuccessRate() > hj.SuccessRate()
			}
			return candidates[i].key() < candidates[j].key()
		})
	}

	if len(candidates) == 0 {
		for key, h := range m.entries {
			if key == failing.key() || !m.availableLocked(h) {
				continue
			}
			candidates = append(candidates, Candidate{Provider: h.ProviderID, Model: h.Model})
		}
		sort.Slice(candidates, func(i, j int) bool {
			hi, hj := m.entries[candidates[i].key()], m.entries[candidates[j].key()]
			if hi.Priority != hj.Priority {
				return hi.Priority < hj.Priority
			}
			return candidates[i].key() < candidates[j].key()
		})
	}
	return candidates
}

func groupOf(model string) string {
	for group, members := range capabilityGroups {
		if inGroup(model, members) {
			return group
		}
	}
	return ""
}

func inGroup(model string, members []string) bool {
	for _, m := range members {
		if strings.EqualFold(model, m) {
			return true
		}
	}
	return false
}
