// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package blackboard implements the process-local shared state map
// mutated by agent output tags and operator interventions.
//
// Agents write to the blackboard through two tag forms embedded in
// their output:
//
//	<set_state key="K" value="V"/>
//	<set_state key="K">multi-line value</set_state>
//
// Every write triggers a change notification carrying a copy of the
// full map, so observers never hold a reference to live state.
package blackboard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Tag grammar for state writes. The long form is non-greedy and spans
// newlines.
var (
	shortTagPattern = regexp.MustCompile(`<set_state\s+key="([^"]+)"\s+value="([^"]*)"\s*/>`)
	longTagPattern  = regexp.MustCompile(`(?s)<set_state\s+key="([^"]+)"\s*>(.*?)</set_state>`)
)

// FeedbackKey returns the reserved blackboard key that carries
// operator feedback for a node.
func FeedbackKey(nodeID string) string {
	return nodeID + "_feedback"
}

// Blackboard is a string-keyed shared state map with change
// notification.
//
// # Thread Safety
//
// Blackboard is safe for concurrent use. The change callback is
// invoked while no internal lock is held and receives a fresh copy
// of the map.
type Blackboard struct {
	mu    sync.RWMutex
	state map[string]any

	// onChange receives a copy of the full map after every write.
	onChange func(map[string]any)
}

// New creates an empty blackboard. onChange may be nil.
func New(onChange func(map[string]any)) *Blackboard {
	return &Blackboard{
		state:    make(map[string]any),
		onChange: onChange,
	}
}

// Set writes a key and broadcasts the updated map.
func (b *Blackboard) Set(key string, value any) {
	b.mu.Lock()
	b.state[key] = value
	snapshot := b.copyLocked()
	b.mu.Unlock()

	b.notify(snapshot)
}

// Get returns the value for key and whether it exists.
func (b *Blackboard) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.state[key]
	return v, ok
}

// GetString returns the value for key rendered as a string, or ""
// when absent.
func (b *Blackboard) GetString(key string) string {
	v, ok := b.Get(key)
	if !ok {
		return ""
	}
	if s, isString := v.(string); isString {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Snapshot returns a copy of the full map.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLocked()
}

// Restore replaces the full map with a copy of state and broadcasts
// the result. Used by snapshot replay.
func (b *Blackboard) Restore(state map[string]any) {
	b.mu.Lock()
	b.state = make(map[string]any, len(state))
	for k, v := range state {
		b.state[k] = v
	}
	snapshot := b.copyLocked()
	b.mu.Unlock()

	b.notify(snapshot)
}

// Clear removes all keys and broadcasts the empty map.
func (b *Blackboard) Clear() {
	b.mu.Lock()
	b.state = make(map[string]any)
	snapshot := b.copyLocked()
	b.mu.Unlock()

	b.notify(snapshot)
}

// Len returns the number of keys.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.state)
}

// AppendFeedback records operator feedback for a node under the
// reserved feedback key. A second intervention before the first is
// consumed appends on a new line rather than overwriting.
func (b *Blackboard) AppendFeedback(nodeID, text string) {
	key := FeedbackKey(nodeID)

	b.mu.Lock()
	if existing, ok := b.state[key]; ok {
		b.state[key] = fmt.Sprintf("%v\n%s", existing, text)
	} else {
		b.state[key] = text
	}
	snapshot := b.copyLocked()
	b.mu.Unlock()

	b.notify(snapshot)
}

// TakeFeedback removes and returns pending feedback for a node.
// Feedback is one-shot: a second call returns false until a new
// intervention arrives.
func (b *Blackboard) TakeFeedback(nodeID string) (string, bool) {
	key := FeedbackKey(nodeID)

	b.mu.Lock()
	v, ok := b.state[key]
	if ok {
		delete(b.state, key)
	}
	b.mu.Unlock()

	if !ok {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}

// ExtractTags parses set_state tags out of an agent output, applies
// the writes in document order (short form first), and returns the
// output with the tags removed.
//
// Outputs:
//
//	string - The output stripped of set_state tags
//	int - Number of writes applied
func (b *Blackboard) ExtractTags(output string) (string, int) {
	writes := 0

	for _, match := range shortTagPattern.FindAllStringSubmatch(output, -1) {
		b.Set(match[1], match[2])
		writes++
	}
	cleaned := shortTagPattern.ReplaceAllString(output, "")

	for _, match := range longTagPattern.FindAllStringSubmatch(cleaned, -1) {
		b.Set(match[1], strings.TrimSpace(match[2]))
		writes++
	}
	cleaned = longTagPattern.ReplaceAllString(cleaned, "")

	return strings.TrimSpace(cleaned), writes
}

// Render formats the blackboard for inclusion in a system prompt.
// Keys are sorted so rendering is deterministic. Returns "" when the
// board is empty.
func (b *Blackboard) Render() string {
	snapshot := b.Snapshot()
	if len(snapshot) == 0 {
		return ""
	}

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("## Shared State (Blackboard):\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %v\n", k, snapshot[k])
	}
	return sb.String()
}

func (b *Blackboard) copyLocked() map[string]any {
	out := make(map[string]any, len(b.state))
	for k, v := range b.state {
		out[k] = v
	}
	return out
}

func (b *Blackboard) notify(snapshot map[string]any) {
	if b.onChange != nil {
		b.onChange(snapshot)
	}
}
