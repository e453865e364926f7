// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate evaluates agreement rules against agent output.
//
// Agreement rules let a workflow author gate node completion on
// properties of the output: required substrings, word counts, regex
// patterns, or the presence of JSON matching a schema. Required-rule
// failures feed the agent retry loop; advisory failures are reported
// only.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// Rule kinds understood by Evaluate. Anything else passes by
// default so newer documents keep working on older engines.
const (
	KindContains    = "contains"
	KindNotContains = "not_contains"
	KindMinWords    = "min_words"
	KindMaxWords    = "max_words"
	KindRegex       = "regex"
	KindJSON        = "json"
	KindSchema      = "schema"
)

// RuleResult is the outcome of one rule.
type RuleResult struct {
	Name     string `json:"name"`
	Kind     string `json:"type"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`

	// Message explains a failure in terms usable in a correction
	// prompt.
	Message string `json:"message,omitempty"`
}

// Result aggregates all rule outcomes for one output.
type Result struct {
	// Passed is true when no required rule failed.
	Passed bool `json:"passed"`

	Results []RuleResult `json:"results"`

	// FailedRequired lists the names of required rules that failed.
	FailedRequired []string `json:"failed_required,omitempty"`
}

// fencedJSONPattern extracts the body of a ```json code fence.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Evaluate runs every rule against the output.
//
// Inputs:
//
//	output - The agent output to check
//	rules - The node's agreement rules
//
// Outputs:
//
//	Result - Per-rule outcomes plus the required-failure roll-up
func Evaluate(output string, rules []workflow.AgreementRule) Result {
	result := Result{Passed: true}

	for _, rule := range rules {
		rr := evaluateRule(output, rule)
		result.Results = append(result.Results, rr)
		if !rr.Passed && rule.Required {
			result.Passed = false
			result.FailedRequired = append(result.FailedRequired, rule.Name)
		}
	}
	return result
}

func evaluateRule(output string, rule workflow.AgreementRule) RuleResult {
	rr := RuleResult{Name: rule.Name, Kind: rule.Kind, Required: rule.Required, Passed: true}

	switch rule.Kind {
	case KindContains:
		needle := valueString(rule.Value)
		if !strings.Contains(strings.ToLower(output), strings.ToLower(needle)) {
			rr.Passed = false
			rr.Message = fmt.Sprintf("output must contain %q", needle)
		}

	case KindNotContains:
		needle := valueString(rule.Value)
		if strings.Contains(strings.ToLower(output), strings.ToLower(needle)) {
			rr.Passed = false
			rr.Message = fmt.Sprintf("output must not contain %q", needle)
		}

	case KindMinWords:
		min := valueInt(rule.Value)
		if words := len(strings.Fields(output)); words < min {
			rr.Passed = false
			rr.Message = fmt.Sprintf("output has %d words, needs at least %d", words, min)
		}

	case KindMaxWords:
		max := valueInt(rule.Value)
		if words := len(strings.Fields(output)); words > max {
			rr.Passed = false
			rr.Message = fmt.Sprintf("output has %d words, limit is %d", words, max)
		}

	case KindRegex:
		pattern := valueString(rule.Value)
		re, err := regexp.Compile(pattern)
		if err != nil {
			rr.Passed = false
			rr.Message = fmt.Sprintf("invalid pattern %q: %v", pattern, err)
			break
		}
		if !re.MatchString(output) {
			rr.Passed = false
			rr.Message = fmt.Sprintf("output does not match pattern %q", pattern)
		}

	case KindJSON:
		if _, ok := ExtractJSON(output); !ok {
			rr.Passed = false
			rr.Message = "output contains no parseable JSON object or array"
		}

	case KindSchema:
		rr = evaluateSchema(output, rule, rr)

	default:
		// Unknown rule kinds pass.
	}
	return rr
}

// evaluateSchema checks extracted JSON against the rule value.
//
// Three value shapes are accepted: a list of required key names, a
// key-map whose keys must all be present, or a full JSON Schema
// document (detected by $schema/type/properties), which is compiled
// and applied.
func evaluateSchema(output string, rule workflow.AgreementRule, rr RuleResult) RuleResult {
	raw, ok := ExtractJSON(output)
	if !ok {
		rr.Passed = false
		rr.Message = "output contains no parseable JSON to check against the schema"
		return rr
	}

	switch value := rule.Value.(type) {
	case []any:
		missing := missingKeys(raw, value)
		if len(missing) > 0 {
			rr.Passed = false
			rr.Message = fmt.Sprintf("JSON is missing required keys: %s", strings.Join(missing, ", "))
		}

	case map[string]any:
		if isSchemaDocument(value) {
			return applySchema(raw, value, rr)
		}
		keys := make([]any, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		missing := missingKeys(raw, keys)
		if len(missing) > 0 {
			rr.Passed = false
			rr.Message = fmt.Sprintf("JSON is missing required keys: %s", strings.Join(missing, ", "))
		}

	default:
		// Unusable schema value; pass rather than block the node.
	}
	return rr
}

func isSchemaDocument(value map[string]any) bool {
	_, hasSchema := value["$schema"]
	_, hasType := value["type"]
	_, hasProps := value["properties"]
	return hasSchema || hasType || hasProps
}

func applySchema(raw json.RawMessage, schemaDoc map[string]any, rr RuleResult) RuleResult {
	schemaJSON, err := json.Marshal(schemaDoc)
	if err != nil {
		rr.Passed = false
		rr.Message = fmt.Sprintf("unusable schema: %v", err)
		return rr
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rule.json", strings.NewReader(string(schemaJSON))); err != nil {
		rr.Passed = false
		rr.Message = fmt.Sprintf("unusable schema: %v", err)
		return rr
	}
	schema, err := compiler.Compile("rule.json")
	if err != nil {
		rr.Passed = false
		rr.Message = fmt.Sprintf("unusable schema: %v", err)
		return rr
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		rr.Passed = false
		rr.Message = fmt.Sprintf("unparseable JSON: %v", err)
		return rr
	}
	if err := schema.Validate(doc); err != nil {
		rr.Passed = false
		rr.Message = fmt.Sprintf("JSON does not satisfy the schema: %v", err)
	}
	return rr
}

func missingKeys(raw json.RawMessage, keys []any) []string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		// A top-level array cannot satisfy key requirements.
		missing := make([]string, 0, len(keys))
		for _, k := range keys {
			missing = append(missing, valueString(k))
		}
		return missing
	}

	var missing []string
	for _, k := range keys {
		if _, ok := obj[valueString(k)]; !ok {
			missing = append(missing, valueString(k))
		}
	}
	return missing
}

// ExtractJSON finds the first JSON object or array in an output,
// possibly embedded in prose or a code fence.
//
// Outputs:
//
//	json.RawMessage - The extracted document
//	bool - False when no parseable JSON was found
func ExtractJSON(output string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(output)
	if isValidJSONContainer(trimmed) {
		return json.RawMessage(trimmed), true
	}

	for _, match := range fencedJSONPattern.FindAllStringSubmatch(output, -1) {
		candidate := strings.TrimSpace(match[1])
		if isValidJSONContainer(candidate) {
			return json.RawMessage(candidate), true
		}
	}

	if candidate, ok := scanBalanced(output, '{', '}'); ok {
		return json.RawMessage(candidate), true
	}
	if candidate, ok := scanBalanced(output, '[', ']'); ok {
		return json.RawMessage(candidate), true
	}
	return nil, false
}

// isValidJSONContainer accepts only objects and arrays, not bare
// scalars.
func isValidJSONContainer(s string) bool {
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return json.Valid([]byte(s))
}

// scanBalanced extracts the first balanced open..close span that
// parses as JSON, respecting string literals and escapes.
func scanBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s) // abandon this start position
				}
			}
		}
		next := strings.IndexByte(s[start+1:], open)
		if next < 0 {
			break
		}
		start = start + 1 + next
	}
	return "", false
}

func valueString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}

func valueInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case float64:
		return int(value)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return 0
}
