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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(e *ThinkExtractor, tokens ...string) {
	for _, tok := range tokens {
		e.Feed(tok)
	}
}

func TestThinkExtractorNoMarkup(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	feedAll(e, "plain ", "answer")

	assert.Equal(t, "plain answer", e.Result())
	assert.Empty(t, thoughts)
}

func TestThinkExtractorWholeBlock(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	e.Feed("<think>chain of reasoning</think>the answer")

	assert.Equal(t, "the answer", e.Result())
	require.Len(t, thoughts, 1)
	assert.Equal(t, "chain of reasoning", thoughts[0])
}

func TestThinkExtractorSplitOpenTag(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	feedAll(e, "before <thi", "nk>secret</think> after")

	result := e.Result()
	assert.Contains(t, result, "before")
	assert.Contains(t, result, "after")
	assert.NotContains(t, result, "secret")
	assert.Equal(t, "secret", strings.TrimSpace(strings.Join(thoughts, "")))
}

func TestThinkExtractorSplitCloseTag(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	feedAll(e, "<think>idea</th", "ink>done")

	assert.Equal(t, "done", e.Result())
	assert.Equal(t, "idea", strings.TrimSpace(strings.Join(thoughts, "")))
}

func TestThinkExtractorSplitCloseTagAfterLongThought(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	// The first token is long enough to flush mid-thought; the close
	// tag straddles the boundary and must not leak to subscribers.
	feedAll(e, "<think>reasoning goes here</thi", "nk>the final answer")

	assert.Equal(t, "the final answer", e.Result())
	joined := strings.Join(thoughts, "")
	assert.Equal(t, "reasoning goes here", strings.TrimSpace(joined))
	assert.NotContains(t, joined, "</")
	assert.NotContains(t, joined, "final answer")
}

func TestThinkExtractorIncrementalEmission(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	feedAll(e, "<think>", "a long stretch of reasoning ", "that keeps going", "</think>final")

	require.GreaterOrEqual(t, len(thoughts), 2, "long thoughts stream incrementally")
	joined := strings.Join(thoughts, "")
	assert.Equal(t, "a long stretch of reasoning that keeps going", strings.TrimSpace(joined))
	assert.Equal(t, "final", e.Result())
}

func TestThinkExtractorUnterminatedBlock(t *testing.T) {
	var thoughts []string
	e := NewThinkExtractor(func(s string) { thoughts = append(thoughts, s) })

	e.Feed("<think>cut off")

	assert.Equal(t, "", e.Result())
	assert.Equal(t, "cut off", strings.TrimSpace(strings.Join(thoughts, "")))
}

func TestThinkExtractorCaseInsensitiveTags(t *testing.T) {
	e := NewThinkExtractor(nil)
	e.Feed("<THINK>loud reasoning</THINK>quiet answer")
	assert.Equal(t, "quiet answer", e.Result())
}

func TestThinkExtractorNilCallback(t *testing.T) {
	e := NewThinkExtractor(nil)
	e.Feed("<think>discarded</think>kept")
	assert.Equal(t, "kept", e.Result())
}

func TestStripThoughts(t *testing.T) {
	assert.Equal(t, "a b", StripThoughts("a <think>x</think>b"))
	assert.Equal(t, "a", StripThoughts("a <think>never closed"))
	assert.Equal(t, "plain", StripThoughts("plain"))
}
