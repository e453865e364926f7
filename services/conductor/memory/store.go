// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory implements the long-term retrieval store used by
// memory nodes and the per-run summary-buffer conversation memory
// used by agent nodes.
//
// The retrieval store is deterministic on purpose: scoring depends
// only on the corpus and the query, never on map iteration order, so
// test runs and replays return identical rankings.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store limits.
const (
	// MaxEntries caps the corpus; the oldest entry is evicted when
	// the cap is reached.
	MaxEntries = 10000

	// MaxContentLength caps a single entry's content.
	MaxContentLength = 50000

	// maxTokenizeLength bounds tokenizer input so a pathological
	// document cannot stall retrieval.
	maxTokenizeLength = 100000

	// ScoreThreshold is the noise floor below which matches are not
	// returned.
	ScoreThreshold = 0.05
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Entry is one stored memory. The serialized shape matches
// memory_store.json: {id, content, tags, timestamp, _tokens}.
type Entry struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp string   `json:"timestamp"`

	// Tokens is the cached token set for scoring.
	Tokens []string `json:"_tokens"`
}

// Match is a scored retrieval result.
type Match struct {
	Entry Entry
	Score float64
}

// Store is the on-disk retrieval corpus.
//
// Scoring: 0.4 Jaccard similarity + 0.4 summed IDF of overlapping
// tokens + 0.2 tag match, against a 0.05 noise floor.
//
// # Thread Safety
//
// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
}

// NewStore opens (or creates) a store backed by the given JSON file.
// A missing file yields an empty store; a corrupt file is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory store: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parse memory store: %w", err)
	}
	return s, nil
}

// Add stores content with optional tags and returns the new entry id.
// Oversized content is truncated; when the corpus is full the oldest
// entry is evicted first.
func (s *Store) Add(content string, tags []string) (string, error) {
	if len(content) > MaxContentLength {
		content = content[:MaxContentLength]
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Content:   content,
		Tags:      append([]string(nil), tags...),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Tokens:    tokenize(content),
	}

	s.mu.Lock()
	if len(s.entries) >= MaxEntries {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)
	err := s.saveLocked()
	s.mu.Unlock()

	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// Search returns the top-k entries scoring above the noise floor,
// ordered by score descending with insertion order as the tie-break.
//
// An entry tag earns its bonus when it appears among the query
// tokens or in the caller-supplied tag list.
func (s *Store) Search(query string, tags []string, topK int) []Match {
	if topK <= 0 {
		topK = 5
	}
	queryTokens := tokenize(query)
	querySet := toSet(queryTokens)
	tagSet := toSet(tags)
	for token := range querySet {
		tagSet[token] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docCount := len(s.entries)
	if docCount == 0 {
		return nil
	}

	// Document frequency per token, for IDF weighting.
	df := make(map[string]int)
	for _, e := range s.entries {
		for token := range toSet(e.Tokens) {
			df[token]++
		}
	}

	type scored struct {
		index int
		match Match
	}
	var results []scored

	for i, e := range s.entries {
		entrySet := toSet(e.Tokens)

		overlap := 0
		idfSum := 0.0
		for token := range querySet {
			if entrySet[token] {
				overlap++
				idfSum += math.Log(float64(docCount) / float64(df[token]+1))
			}
		}

		jaccard := 0.0
		if union := len(querySet) + len(entrySet) - overlap; union > 0 {
			jaccard = float64(overlap) / float64(union)
		}

		tagScore := 0.0
		for _, tag := range e.Tags {
			if tagSet[strings.ToLower(tag)] {
				tagScore += 0.5
			}
		}

		score := 0.4*jaccard + 0.4*idfSum + 0.2*tagScore
		if score > ScoreThreshold {
			results = append(results, scored{index: i, match: Match{Entry: e, Score: score}})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].match.Score != results[j].match.Score {
			return results[i].match.Score > results[j].match.Score
		}
		return results[i].index < results[j].index
	})

	if len(results) > topK {
		results = results[:topK]
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = r.match
	}
	return matches
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// saveLocked writes the corpus atomically: temp file then rename.
// Caller holds s.mu.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("create memory store dir: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write memory store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit memory store: %w", err)
	}
	return nil
}

// tokenize lowercases and splits content into word tokens, bounded
// by maxTokenizeLength.
func tokenize(content string) []string {
	if len(content) > maxTokenizeLength {
		content = content[:maxTokenizeLength]
	}
	return wordPattern.FindAllString(strings.ToLower(content), -1)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}
