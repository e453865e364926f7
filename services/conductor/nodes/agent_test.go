// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flowmesh/services/conductor/memory"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
)

// scriptedGenerate replays canned outputs in order and records every
// request it sees.
type scriptedGenerate struct {
	outputs  []string
	requests []GenerateRequest
}

func (s *scriptedGenerate) fn() GenerateFunc {
	return func(_ context.Context, req GenerateRequest) (string, string, string, error) {
		s.requests = append(s.requests, req)
		i := len(s.requests) - 1
		if i >= len(s.outputs) {
			i = len(s.outputs) - 1
		}
		return s.outputs[i], "local", "llama3", nil
	}
}

func newAgentContext(t *testing.T, node *workflow.Node, gen *scriptedGenerate) *ExecContext {
	t.Helper()
	ec := newExecContext(t, node)
	ec.Generate = gen.fn()
	ec.Conversation = memory.NewSummaryBuffer()
	return ec
}

func TestAgentExecutorHappyPath(t *testing.T) {
	node := workflow.NewNode("Writer", workflow.KindAgent)
	node.Persona = "You write short stories."
	gen := &scriptedGenerate{outputs: []string{"Once upon a time."}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "Write an opening line."

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, "Once upon a time.", res.Output)
	assert.Equal(t, "local", res.Data["provider"])
	assert.Equal(t, "llama3", res.Data["model"])

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Contains(t, req.System, "You write short stories.")
	assert.Contains(t, req.System, "## Available Tools:")
	assert.Equal(t, "Write an opening line.", req.User)
}

func TestAgentExecutorSystemPromptLayers(t *testing.T) {
	node := workflow.NewNode("Guide", workflow.KindAgent)
	node.Persona = "Base persona."
	node.Backstory = "Veteran of many projects."
	gen := &scriptedGenerate{outputs: []string{"ok"}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "task"
	ec.PersonaOverride = "Override persona."
	ec.Conversation.Add("user", "earlier question")
	ec.Blackboard.Set("phase", "design")

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)

	system := gen.requests[0].System
	assert.Contains(t, system, "Override persona.")
	assert.NotContains(t, system, "Base persona.")
	assert.Contains(t, system, "## Backstory:\nVeteran of many projects.")
	assert.Contains(t, system, "earlier question")
	assert.Contains(t, system, "## Shared State (Blackboard):")
	assert.Contains(t, system, "phase: design")
}

func TestAgentExecutorDefaultPersonaByKind(t *testing.T) {
	node := workflow.NewNode("Gate", workflow.KindAuditor)
	gen := &scriptedGenerate{outputs: []string{"APPROVED: validated"}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "review this"

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Contains(t, gen.requests[0].System, "strict auditor")
}

func TestAgentExecutorValidationRetryWithCorrection(t *testing.T) {
	node := workflow.NewNode("Planner", workflow.KindAgent)
	node.AgreementRules = []workflow.AgreementRule{
		{Name: "has_plan", Kind: "contains", Value: "PLAN:", Required: true},
	}
	gen := &scriptedGenerate{outputs: []string{
		"Here is my thinking, no structure yet.",
		"PLAN: step one, step two.",
	}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "Plan the migration."

	var logged []string
	ec.EmitLog = func(_, message string) { logged = append(logged, message) }

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Equal(t, "PLAN: step one, step two.", res.Output)

	require.Len(t, gen.requests, 2)
	retry := gen.requests[1].User
	assert.Contains(t, retry, "failed validation")
	assert.Contains(t, retry, "has_plan")
	assert.True(t, strings.HasSuffix(retry, "Plan the migration."))

	require.NotEmpty(t, logged)
	assert.Contains(t, logged[0], "Validation failed (attempt 1/3)")
}

func TestAgentExecutorValidationExhaustsRetries(t *testing.T) {
	node := workflow.NewNode("Planner", workflow.KindAgent)
	node.AgreementRules = []workflow.AgreementRule{
		{Name: "json_shape", Kind: "json", Required: true},
	}
	gen := &scriptedGenerate{outputs: []string{"not json at all"}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "Emit JSON."

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "validation failed after 3 attempts")
	assert.Contains(t, res.Err, "json_shape")
	assert.Len(t, gen.requests, 3)

	// The json rule adds a format hint to the correction preamble.
	assert.Contains(t, gen.requests[1].User, "valid JSON object")
}

func TestAgentExecutorAdvisoryRuleDoesNotRetry(t *testing.T) {
	node := workflow.NewNode("Writer", workflow.KindAgent)
	node.AgreementRules = []workflow.AgreementRule{
		{Name: "style", Kind: "contains", Value: "whimsical", Required: false},
	}
	gen := &scriptedGenerate{outputs: []string{"A plain answer."}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "answer"

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK, res.Err)
	assert.Len(t, gen.requests, 1)
}

func TestAgentExecutorTierUpgrade(t *testing.T) {
	node := workflow.NewNode("Heavy", workflow.KindAgent)
	node.Tier = "paid"
	node.Model = "gpt-4o-mini"
	gen := &scriptedGenerate{outputs: []string{"done"}}

	ec := newAgentContext(t, node, gen)
	ec.Input = strings.Repeat("requirements detail. ", 300)

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, "gpt-4", gen.requests[0].ModelOverride)
}

func TestAgentExecutorNoUpgradeOnFreeTier(t *testing.T) {
	node := workflow.NewNode("Heavy", workflow.KindAgent)
	node.Tier = "free"
	node.Model = "gpt-4o-mini"
	gen := &scriptedGenerate{outputs: []string{"done"}}

	ec := newAgentContext(t, node, gen)
	ec.Input = strings.Repeat("requirements detail. ", 300)

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Empty(t, gen.requests[0].ModelOverride)
}

func TestAgentExecutorRecordsConversation(t *testing.T) {
	node := workflow.NewNode("Chat", workflow.KindCharacter)
	gen := &scriptedGenerate{outputs: []string{"I am ready."}}

	ec := newAgentContext(t, node, gen)
	ec.Input = "introduce yourself"

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.True(t, res.OK)
	assert.Equal(t, 2, ec.Conversation.Len())
	assert.Contains(t, ec.Conversation.Context(), "I am ready.")
}

func TestAgentExecutorGenerationErrorFails(t *testing.T) {
	node := workflow.NewNode("Writer", workflow.KindAgent)
	ec := newExecContext(t, node)
	ec.Generate = func(_ context.Context, _ GenerateRequest) (string, string, string, error) {
		return "", "", "", context.DeadlineExceeded
	}
	ec.Input = "anything"

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "generation failed")
}

func TestAgentExecutorWithoutBackendFails(t *testing.T) {
	node := workflow.NewNode("Writer", workflow.KindAgent)
	ec := newExecContext(t, node)

	res := (&AgentExecutor{}).Execute(context.Background(), ec)
	require.False(t, res.OK)
	assert.Contains(t, res.Err, "no generation backend")
}
