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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTiers(t *testing.T) (*TierManager, *time.Time) {
	t.Helper()
	tm := NewTierManager()
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return clock }
	return tm, &clock
}

func TestBestPrefersTopTier(t *testing.T) {
	tm, _ := newTestTiers(t)

	best, ok := tm.Best(CategoryCoding, "")
	require.True(t, ok)
	assert.Equal(t, Candidate{Provider: "openai", Model: "gpt-4"}, best)
}

func TestBestDemotesAfterLimitHit(t *testing.T) {
	tm, _ := newTestTiers(t)
	tm.ReportLimitHit("openai")

	best, ok := tm.Best(CategoryCoding, "")
	require.True(t, ok)
	assert.NotEqual(t, "openai", best.Provider)
	assert.Equal(t, "groq", best.Provider, "first available entry of the next tier")
}

func TestBestPrefersCurrentProviderWithinTier(t *testing.T) {
	tm, _ := newTestTiers(t)
	tm.ReportLimitHit("openai")

	best, ok := tm.Best(CategoryCoding, "ollama")
	require.True(t, ok)
	assert.Equal(t, "ollama", best.Provider)
}

func TestLimitCooldownExpires(t *testing.T) {
	tm, clock := newTestTiers(t)
	tm.ReportLimitHit("openai")

	*clock = clock.Add(limitHitCooldown + time.Second)

	best, ok := tm.Best(CategoryCoding, "")
	require.True(t, ok)
	assert.Equal(t, "openai", best.Provider)
}

func TestBestUnknownCategory(t *testing.T) {
	tm, _ := newTestTiers(t)
	_, ok := tm.Best("interpretive-dance", "")
	assert.False(t, ok)
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"Refactor this function to remove the api call", CategoryCoding},
		{"Write a short story about winter", CategoryWriting},
		{"Produce a wireframe for the settings page", CategoryDesigning},
		{"Create a logo for the project", CategoryGraphics},
		{"Paint a landscape in watercolor style", CategoryArt},
		{"Summarize yesterday's meeting", CategoryGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferCategory(tt.prompt), tt.prompt)
	}
}
