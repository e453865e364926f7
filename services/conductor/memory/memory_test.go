// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory_store.json"))
	require.NoError(t, err)
	return s
}

func TestAddAndSearch(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("the dragon guards the mountain pass", []string{"lore"})
	require.NoError(t, err)
	_, err = s.Add("recipe for sourdough bread starter", []string{"cooking"})
	require.NoError(t, err)

	matches := s.Search("dragon mountain", nil, 5)
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0].Entry.Content, "dragon")
}

func TestSearchTagBoost(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("project status update", []string{"roadmap"})
	require.NoError(t, err)
	_, err = s.Add("project status update", []string{"archive"})
	require.NoError(t, err)
	_, err = s.Add("unrelated cooking recipe notes", nil)
	require.NoError(t, err)

	matches := s.Search("project status archive", nil, 5)
	require.Len(t, matches, 2)
	assert.Contains(t, matches[0].Entry.Tags, "archive")
}

func TestSearchNoiseFloor(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("completely unrelated quantum chromodynamics text", nil)
	require.NoError(t, err)

	matches := s.Search("zzz yyy xxx", nil, 5)
	assert.Empty(t, matches)
}

func TestSearchDeterministicOrder(t *testing.T) {
	s := newTestStore(t)

	// Two tied matches plus filler so the shared token keeps a
	// positive IDF.
	_, err := s.Add("zephyr alpha", nil)
	require.NoError(t, err)
	_, err = s.Add("zephyr beta", nil)
	require.NoError(t, err)
	_, err = s.Add("filler about gardening", nil)
	require.NoError(t, err)
	_, err = s.Add("filler about astronomy", nil)
	require.NoError(t, err)

	first := s.Search("zephyr", nil, 5)
	require.Len(t, first, 2)
	assert.Equal(t, "zephyr alpha", first[0].Entry.Content, "ties break by insertion order")

	for i := 0; i < 5; i++ {
		again := s.Search("zephyr", nil, 5)
		require.Len(t, again, 2)
		for j := range first {
			assert.Equal(t, first[j].Entry.ID, again[j].Entry.ID)
		}
	}
}

func TestAddTruncatesOversizedContent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(strings.Repeat("fact ", MaxContentLength/5+100), nil)
	require.NoError(t, err)

	matches := s.Search("fact", nil, 1)
	require.Len(t, matches, 1)
	assert.Len(t, matches[0].Entry.Content, MaxContentLength)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory_store.json")

	s, err := NewStore(path)
	require.NoError(t, err)
	id, err := s.Add("persisted fact", []string{"t"})
	require.NoError(t, err)
	_, err = s.Add("unrelated gardening trivia", nil)
	require.NoError(t, err)

	reopened, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, 2, reopened.Len())

	matches := reopened.Search("persisted fact", nil, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].Entry.ID)
	assert.NotEmpty(t, matches[0].Entry.Tokens, "token cache survives reload")
}

func TestSummaryBufferContext(t *testing.T) {
	b := NewSummaryBuffer()
	assert.Empty(t, b.Context())

	b.Add("user", "hello")
	b.Add("assistant", "hi there")

	ctx := b.Context()
	assert.Contains(t, ctx, "## Recent Messages:")
	assert.Contains(t, ctx, "user: hello")
	assert.NotContains(t, ctx, "Cumulative Summary")
}

func TestSummaryBufferPrune(t *testing.T) {
	b := NewSummaryBuffer()
	for i := 0; i < 12; i++ {
		b.Add("user", fmt.Sprintf("message %d", i))
	}

	var sawTranscript string
	pruned := b.Prune(context.Background(), func(_ context.Context, transcript string) (string, error) {
		sawTranscript = transcript
		return "they exchanged twelve greetings", nil
	})

	require.True(t, pruned)
	assert.Equal(t, 7, b.Len())
	assert.Contains(t, sawTranscript, "message 0")
	assert.Contains(t, sawTranscript, "message 4")
	assert.NotContains(t, sawTranscript, "message 5")

	ctx := b.Context()
	assert.Contains(t, ctx, "twelve greetings")
	assert.Contains(t, ctx, "message 11")
}

func TestSummaryBufferPruneBelowThreshold(t *testing.T) {
	b := NewSummaryBuffer()
	for i := 0; i < 10; i++ {
		b.Add("user", "m")
	}
	assert.False(t, b.Prune(context.Background(), nil))
	assert.Equal(t, 10, b.Len())
}

func TestSummaryBufferPruneSummarizerFailure(t *testing.T) {
	b := NewSummaryBuffer()
	for i := 0; i < 11; i++ {
		b.Add("user", fmt.Sprintf("m%d", i))
	}

	pruned := b.Prune(context.Background(), func(context.Context, string) (string, error) {
		return "", errors.New("backend down")
	})

	// Failure is non-fatal: the oldest messages are still dropped.
	require.True(t, pruned)
	assert.Equal(t, 6, b.Len())
	assert.NotContains(t, b.Context(), "m0")
}
