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
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Tier ranks model capability, S best through D local/low-resource.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

var tierOrder = []Tier{TierS, TierA, TierB, TierC, TierD}

// Task categories recognized by the tier tables.
const (
	CategoryCoding    = "coding"
	CategoryWriting   = "writing"
	CategoryDesigning = "designing"
	CategoryGraphics  = "graphics"
	CategoryArt       = "art"
	CategoryGeneral   = "general"
)

// limitHitCooldown is how long a provider sits out of tier selection
// after reporting a usage-limit hit.
const limitHitCooldown = 3600 * time.Second

// tierTables maps category -> tier -> preferred (provider, model)
// entries in ranking order.
var tierTables = map[string]map[Tier][]Candidate{
	CategoryCoding: {
		TierS: {{"openai", "gpt-4"}, {"openai", "gpt-4-turbo"}},
		TierA: {{"groq", "llama-3.3-70b-versatile"}, {"ollama", "deepseek-r1"}},
		TierB: {{"ollama", "qwen2.5-coder"}, {"ollama", "phi4"}},
		TierC: {{"ollama", "llama3.1"}, {"ollama", "mistral"}},
		TierD: {{"ollama", "llama3.2:3b"}, {"ollama", "phi3"}},
	},
	CategoryWriting: {
		TierS: {{"openai", "gpt-4"}},
		TierA: {{"google_ai", "gemini-1.5-pro"}, {"ollama", "deepseek-r1"}},
		TierB: {{"ollama", "llama3.1"}, {"ollama", "qwen3"}},
		TierC: {{"google_ai", "gemini-1.5-flash"}, {"ollama", "mistral"}},
		TierD: {{"ollama", "llama3.2:3b"}, {"ollama", "phi3"}},
	},
	CategoryDesigning: {
		TierS: {{"openai", "gpt-4"}},
		TierA: {{"google_ai", "gemini-1.5-pro"}, {"ollama", "llama3.2-vision"}},
		TierB: {{"google_ai", "gemini-2.0-flash"}, {"ollama", "deepseek-r1"}},
		TierC: {{"ollama", "llama3.1"}, {"ollama", "gemma3"}},
		TierD: {{"ollama", "llama3.2:3b"}},
	},
	CategoryGraphics: {
		TierS: {{"openai", "gpt-4"}},
		TierA: {{"google_ai", "gemini-1.5-pro"}, {"ollama", "qwen3"}},
		TierB: {{"ollama", "llama3.1"}, {"google_ai", "gemini-1.5-flash"}},
		TierC: {{"ollama", "gemma3"}, {"ollama", "phi4"}},
		TierD: {{"ollama", "llama3.2:3b"}},
	},
	CategoryArt: {
		TierS: {{"openai", "gpt-4"}},
		TierA: {{"google_ai", "gemini-1.5-pro"}, {"ollama", "qwen3"}},
		TierB: {{"ollama", "llama3.1"}, {"google_ai", "gemini-1.5-flash"}},
		TierC: {{"ollama", "gemma3"}, {"ollama", "phi4"}},
		TierD: {{"ollama", "llama3.2:3b"}},
	},
	CategoryGeneral: {
		TierS: {{"openai", "gpt-4"}},
		TierA: {{"ollama", "deepseek-r1"}, {"groq", "llama-3.3-70b-versatile"}},
		TierB: {{"ollama", "llama3.1"}, {"ollama", "qwen3"}},
		TierC: {{"google_ai", "gemini-1.5-flash"}, {"ollama", "mistral"}},
		TierD: {{"ollama", "llama3.2:3b"}, {"ollama", "phi3"}},
	},
}

// TierManager picks the best available model for a task category,
// demoting providers that have reported usage-limit hits.
//
// # Thread Safety
//
// TierManager is safe for concurrent use.
type TierManager struct {
	mu        sync.Mutex
	cooldowns map[string]time.Time
	now       func() time.Time
}

// NewTierManager creates a manager with no active cooldowns.
func NewTierManager() *TierManager {
	return &TierManager{
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Best returns the highest-tier entry for a category whose provider
// is not on cooldown. When the current provider appears at the
// highest reachable tier it is preferred, avoiding a pointless
// switch.
func (t *TierManager) Best(category, currentProvider string) (Candidate, bool) {
	table, ok := tierTables[strings.ToLower(category)]
	if !ok {
		return Candidate{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	for _, tier := range tierOrder {
		entries := table[tier]
		var firstAvailable *Candidate
		for i, entry := range entries {
			if until, cooling := t.cooldowns[entry.Provider]; cooling {
				if now.Before(until) {
					continue
				}
				delete(t.cooldowns, entry.Provider)
			}
			if entry.Provider == currentProvider {
				return entry, true
			}
			if firstAvailable == nil {
				firstAvailable = &entries[i]
			}
		}
		if firstAvailable != nil {
			return *firstAvailable, true
		}
	}

	slog.Warn("No available tier models", "category", category)
	return Candidate{}, false
}

// ReportLimitHit puts a provider on a one-hour cooldown.
func (t *TierManager) ReportLimitHit(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	until := t.now().Add(limitHitCooldown)
	t.cooldowns[provider] = until
	slog.Info("Provider hit usage limit", "provider", provider, "cooldown_until", until)
}

// Tiers returns the ranking table for a category.
func (t *TierManager) Tiers(category string) map[Tier][]Candidate {
	table, ok := tierTables[strings.ToLower(category)]
	if !ok {
		return nil
	}
	out := make(map[Tier][]Candidate, len(table))
	for tier, entries := range table {
		out[tier] = append([]Candidate(nil), entries...)
	}
	return out
}

// categoryKeywords drives InferCategory; first category with a
// keyword hit wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryCoding, []string{"code", "program", "function", "debug", "compile", "script", "api", "refactor"}},
	{CategoryWriting, []string{"write", "essay", "article", "story", "blog", "draft", "copy"}},
	{CategoryDesigning, []string{"design", "layout", "wireframe", "mockup", "ui", "ux"}},
	{CategoryGraphics, []string{"graphic", "logo", "render", "sprite", "texture"}},
	{CategoryArt, []string{"art", "paint", "draw", "illustration", "sketch"}},
}

// InferCategory classifies a prompt with simple keyword matching,
// defaulting to general.
func InferCategory(prompt string) string {
	lowered := strings.ToLower(prompt)
	for _, entry := range categoryKeywords {
		for _, word := range entry.words {
			if strings.Contains(lowered, word) {
				return entry.category
			}
		}
	}
	return CategoryGeneral
}
