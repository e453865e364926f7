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
	"regexp"
	"strings"
)

const (
	openThinkTag  = "<think>"
	closeThinkTag = "</think>"

	// minThoughtChunk batches incremental in-thought emission so a
	// token-per-callback stream doesn't flood subscribers.
	minThoughtChunk = 10
)

var (
	thinkBlockPattern    = regexp.MustCompile(`(?is)<think>.*?</think>`)
	danglingThinkPattern = regexp.MustCompile(`(?is)<think>.*$`)
)

// ThinkExtractor separates <think>...</think> reasoning from a
// streamed completion.
//
// # Description
//
// Feed accepts tokens of any size, including tokens that split an
// open or close tag across chunk boundaries: each scan re-examines a
// small window before the new token so a tag straddling two chunks
// is still found. Thought text is emitted through the callback in
// stream order; Result returns the completion with all reasoning
// blocks removed.
//
// # Thread Safety
//
// Not safe for concurrent use; create one per generation.
type ThinkExtractor struct {
	emit      func(string)
	full      strings.Builder
	inThought bool
	pos       int
}

// NewThinkExtractor creates an extractor. emit may be nil, in which
// case reasoning is still stripped but discarded.
func NewThinkExtractor(emit func(string)) *ThinkExtractor {
	return &ThinkExtractor{emit: emit}
}

// Feed consumes the next streamed token.
func (e *ThinkExtractor) Feed(token string) {
	if token == "" {
		return
	}
	e.full.WriteString(token)
	text := e.full.String()
	lower := strings.ToLower(text)

	if !e.inThought {
		// Look back far enough to catch a tag split across chunks.
		window := len(text) - len(token) - len(openThinkTag)
		if window < 0 {
			window = 0
		}
		if idx := strings.Index(lower[window:], openThinkTag); idx != -1 {
			abs := window + idx
			if abs >= e.pos {
				e.inThought = true
				e.pos = abs + len(openThinkTag)
			}
		}
	}

	if !e.inThought {
		return
	}

	if end := strings.Index(lower[e.pos:], closeThinkTag); end != -1 {
		abs := e.pos + end
		if thought := strings.TrimSpace(text[e.pos:abs]); thought != "" {
			e.send(thought)
		}
		e.inThought = false
		e.pos = abs + len(closeThinkTag)
		return
	}

	// Hold back enough bytes to cover a close tag straddling the
	// chunk boundary; the next Feed can then still match it.
	if flushEnd := len(text) - (len(closeThinkTag) - 1); flushEnd-e.pos > minThoughtChunk {
		e.send(text[e.pos:flushEnd])
		e.pos = flushEnd
	}
}

// Result flushes any unterminated thought and returns the completion
// with all reasoning blocks stripped.
func (e *ThinkExtractor) Result() string {
	text := e.full.String()
	if e.inThought {
		if tail := strings.TrimSpace(text[e.pos:]); tail != "" {
			e.send(tail)
		}
		e.inThought = false
		e.pos = len(text)
	}
	return StripThoughts(text)
}

func (e *ThinkExtractor) send(thought string) {
	if e.emit != nil {
		e.emit(thought)
	}
}

// StripThoughts removes complete and unterminated <think> blocks.
func StripThoughts(text string) string {
	text = thinkBlockPattern.ReplaceAllString(text, "")
	text = danglingThinkPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
