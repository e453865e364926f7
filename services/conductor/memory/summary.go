// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Summary-buffer sizing.
const (
	// bufferThreshold is the message count past which the oldest
	// messages are folded into the running summary.
	bufferThreshold = 10

	// summarizeBatch is how many of the oldest messages are folded
	// per prune.
	summarizeBatch = 5
)

// Summarizer condenses a transcript chunk into a short summary.
// Agent nodes pass their own provider here so the same backend that
// generates replies also maintains the memory.
type Summarizer func(ctx context.Context, transcript string) (string, error)

// Message is one conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SummaryBuffer keeps the most recent messages verbatim plus a
// running summary of everything older.
//
// # Thread Safety
//
// SummaryBuffer is safe for concurrent use.
type SummaryBuffer struct {
	mu       sync.Mutex
	summary  string
	messages []Message
}

// NewSummaryBuffer creates an empty buffer.
func NewSummaryBuffer() *SummaryBuffer {
	return &SummaryBuffer{}
}

// Add appends a message to the buffer.
func (b *SummaryBuffer) Add(role, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, Message{Role: role, Content: content})
}

// Len returns the number of buffered (unsummarized) messages.
func (b *SummaryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Context renders the memory for injection into a system prompt.
// Returns "" when the buffer is empty and no summary exists.
func (b *SummaryBuffer) Context() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.summary == "" && len(b.messages) == 0 {
		return ""
	}

	var sb strings.Builder
	if b.summary != "" {
		sb.WriteString("## Cumulative Summary of Earlier Conversation:\n")
		sb.WriteString(b.summary)
		sb.WriteString("\n\n")
	}
	if len(b.messages) > 0 {
		sb.WriteString("## Recent Messages:\n")
		for _, m := range b.messages {
			fmt.Fprintf(&sb, "- %s: %s\n", m.Role, m.Content)
		}
	}
	return sb.String()
}

// Prune folds the oldest messages into the running summary when the
// buffer exceeds its threshold.
//
// Description:
//
//	When more than bufferThreshold messages are buffered, the oldest
//	summarizeBatch are rendered as a transcript and passed to the
//	summarizer. Summarization failure is non-fatal: the messages are
//	dropped either way so the buffer cannot grow without bound.
//
// Outputs:
//
//	bool - True if a prune happened
func (b *SummaryBuffer) Prune(ctx context.Context, summarize Summarizer) bool {
	b.mu.Lock()
	if len(b.messages) <= bufferThreshold {
		b.mu.Unlock()
		return false
	}
	oldest := make([]Message, summarizeBatch)
	copy(oldest, b.messages[:summarizeBatch])
	b.messages = append([]Message(nil), b.messages[summarizeBatch:]...)
	prior := b.summary
	b.mu.Unlock()

	if summarize == nil {
		return true
	}

	var transcript strings.Builder
	if prior != "" {
		transcript.WriteString("Existing summary:\n")
		transcript.WriteString(prior)
		transcript.WriteString("\n\nNew messages to fold in:\n")
	}
	for _, m := range oldest {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	updated, err := summarize(ctx, transcript.String())
	if err != nil || strings.TrimSpace(updated) == "" {
		// Messages are already dropped; keep the prior summary.
		return true
	}

	b.mu.Lock()
	b.summary = strings.TrimSpace(updated)
	b.mu.Unlock()
	return true
}
