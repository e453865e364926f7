// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

func rule(name, kind string, value any, required bool) workflow.AgreementRule {
	return workflow.AgreementRule{Name: name, Kind: kind, Value: value, Required: required}
}

func TestContainsIsCaseInsensitive(t *testing.T) {
	res := Evaluate("The FINAL Answer", []workflow.AgreementRule{
		rule("r", KindContains, "final answer", true),
	})
	assert.True(t, res.Passed)
}

func TestNotContains(t *testing.T) {
	res := Evaluate("contains a TODO marker", []workflow.AgreementRule{
		rule("no-todo", KindNotContains, "todo", true),
	})
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"no-todo"}, res.FailedRequired)
}

func TestWordCounts(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		value  any
		output string
		passed bool
	}{
		{"min met", KindMinWords, 3, "one two three four", true},
		{"min unmet", KindMinWords, float64(5), "one two", false},
		{"max met", KindMaxWords, 5, "one two three", true},
		{"max exceeded", KindMaxWords, "2", "one two three", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.output, []workflow.AgreementRule{
				rule("r", tt.kind, tt.value, true),
			})
			assert.Equal(t, tt.passed, res.Passed)
		})
	}
}

func TestRegexPresence(t *testing.T) {
	res := Evaluate("version 2.14.1 released", []workflow.AgreementRule{
		rule("semver", KindRegex, `\d+\.\d+\.\d+`, true),
	})
	assert.True(t, res.Passed)

	res = Evaluate("no version here", []workflow.AgreementRule{
		rule("semver", KindRegex, `\d+\.\d+\.\d+`, true),
	})
	assert.False(t, res.Passed)
}

func TestInvalidRegexFails(t *testing.T) {
	res := Evaluate("anything", []workflow.AgreementRule{
		rule("bad", KindRegex, "([", true),
	})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Results[0].Message, "invalid pattern")
}

func TestJSONEmbeddedInProse(t *testing.T) {
	out := `Here is the result you asked for: {"status": "ok", "items": [1, 2]} hope it helps`
	res := Evaluate(out, []workflow.AgreementRule{rule("j", KindJSON, nil, true)})
	assert.True(t, res.Passed)
}

func TestJSONInCodeFence(t *testing.T) {
	out := "```json\n{\"a\": 1}\n```"
	res := Evaluate(out, []workflow.AgreementRule{rule("j", KindJSON, nil, true)})
	assert.True(t, res.Passed)
}

func TestJSONAbsent(t *testing.T) {
	res := Evaluate("no structured data here, sorry {not json}", []workflow.AgreementRule{
		rule("j", KindJSON, nil, true),
	})
	assert.False(t, res.Passed)
}

func TestSchemaKeyList(t *testing.T) {
	out := `{"title": "x", "body": "y"}`
	res := Evaluate(out, []workflow.AgreementRule{
		rule("s", KindSchema, []any{"title", "body"}, true),
	})
	assert.True(t, res.Passed)

	res = Evaluate(out, []workflow.AgreementRule{
		rule("s", KindSchema, []any{"title", "author"}, true),
	})
	require.False(t, res.Passed)
	assert.Contains(t, res.Results[0].Message, "author")
}

func TestSchemaKeyMap(t *testing.T) {
	out := `{"title": "x"}`
	res := Evaluate(out, []workflow.AgreementRule{
		rule("s", KindSchema, map[string]any{"title": "string"}, true),
	})
	assert.True(t, res.Passed)
}

func TestSchemaFullDocument(t *testing.T) {
	schemaDoc := map[string]any{
		"type":     "object",
		"required": []any{"count"},
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	}

	res := Evaluate(`{"count": 3}`, []workflow.AgreementRule{
		rule("s", KindSchema, schemaDoc, true),
	})
	assert.True(t, res.Passed)

	res = Evaluate(`{"count": "three"}`, []workflow.AgreementRule{
		rule("s", KindSchema, schemaDoc, true),
	})
	assert.False(t, res.Passed)
}

func TestUnknownRuleKindPasses(t *testing.T) {
	res := Evaluate("anything", []workflow.AgreementRule{
		rule("mystery", "sentiment", "positive", true),
	})
	assert.True(t, res.Passed)
}

func TestAdvisoryFailureDoesNotFailResult(t *testing.T) {
	res := Evaluate("short", []workflow.AgreementRule{
		rule("advisory", KindMinWords, 100, false),
		rule("required", KindContains, "short", true),
	})
	assert.True(t, res.Passed)
	assert.False(t, res.Results[0].Passed)
	assert.Empty(t, res.FailedRequired)
}

func TestExtractJSONPrefersWholeDocument(t *testing.T) {
	raw, ok := ExtractJSON(`  [1, 2, 3]  `)
	require.True(t, ok)
	assert.JSONEq(t, `[1,2,3]`, string(raw))
}
