// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/flowmesh/services/conductor/validate"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
	"github.com/AleutianAI/flowmesh/services/llm"
)

const (
	// defaultMaxRetries bounds validation-driven regeneration.
	defaultMaxRetries = 3

	// tierUpgradeThreshold is the user-message length past which a
	// paid-tier node may be bumped to a higher-capability model.
	tierUpgradeThreshold = 5000

	// conversationPreview caps what gets appended to conversation
	// memory per turn.
	conversationPreview = 500
)

// toolCatalogue is appended to every agent system prompt so models
// know the tag grammar the tool processor accepts.
const toolCatalogue = `## Available Tools:
Embed these tags in your response to act on the project workspace:
- <write_file path="...">content</write_file>
- <append_file path="...">content</append_file>
- <read_file path="..."/>
- <list_dir path="..."/>
- <create_dir path="..."/>
- <delete_file path="..."/> / <delete_dir path="..."/>
- <copy path="..." to="..."/> / <move path="..." to="..."/>
- <scaffold_project name="..." template="..."/>
- <install_package name="..." manager="npm|yarn|pip|pnpm"/>
- <run_command command="..." timeout="120"/>
- <run_build/>
You can store shared state with <set_state key="...">value</set_state>.`

// modelUpgrades maps a model to its higher-capability sibling for
// long paid-tier tasks.
var modelUpgrades = map[string]string{
	"gpt-4o-mini":      "gpt-4",
	"gpt-3.5-turbo":    "gpt-4",
	"gemini-1.5-flash": "gemini-1.5-pro",
	"llama3":           "deepseek-r1",
	"mistral":          "deepseek-r1",
	"haiku":            "sonnet",
	"sonnet":           "opus",
}

// defaultPersonas seed agent kinds that the author left without a
// persona.
var defaultPersonas = map[workflow.Kind]string{
	workflow.KindAgent:     "You are a capable assistant that completes the assigned task thoroughly.",
	workflow.KindAuditor:   "You are a strict auditor. Review the work in your context and answer with a clear verdict.",
	workflow.KindRouter:    "You are a router. Read the input and state which category it belongs to.",
	workflow.KindCharacter: "You are a character in an interactive story. Stay in role.",
	workflow.KindDirector:  "You are the director. Coordinate the other agents and keep the story moving.",
	workflow.KindOptimizer: "You are an optimizer. Improve the work in your context without changing its intent.",
	workflow.KindArchitect: "You are the lead architect. Produce a concrete, structured proposal.",
	workflow.KindCritic:    "You are a ruthless critic. Identify every weakness in the work in your context.",
}

// AgentExecutor drives the LLM agent protocol: prompt assembly,
// conversation memory, tiered model selection, generation through
// the failover path, and the validation retry loop.
type AgentExecutor struct{}

// Execute implements Executor.
//
// # Description
//
// The system prompt concatenates persona (or override), backstory,
// summarized conversation memory, the tool catalogue, and the
// blackboard snapshot. After each generation the agreement rules run;
// required failures regenerate with a correction preamble naming the
// failed rules until retries are exhausted.
func (e *AgentExecutor) Execute(ctx context.Context, ec *ExecContext) Result {
	if ec.Generate == nil {
		return failure("agent node %q has no generation backend", ec.Node.Name)
	}
	node := ec.Node

	system := e.buildSystemPrompt(ec)
	user := ec.Input
	if user == "" {
		user = ec.Context
	}

	category := configString(node, "category")
	if category == "" {
		category = llm.InferCategory(system + " " + user)
	}

	modelOverride := ""
	if node.Tier == "paid" && len(user) > tierUpgradeThreshold && !configBool(node, "disable_tier_upgrade") {
		if upgraded, ok := modelUpgrades[strings.ToLower(node.Model)]; ok {
			modelOverride = upgraded
			ec.log(fmt.Sprintf("Long task on paid tier, upgrading model %s -> %s", node.Model, upgraded))
		}
	}

	maxRetries := defaultMaxRetries
	if v, ok := node.ProviderConfig["max_retries"].(float64); ok && int(v) > 0 {
		maxRetries = int(v)
	}

	userMsg := user
	var lastFailed []string
	for attempt := 1; attempt <= maxRetries; attempt++ {
		output, provider, model, err := ec.Generate(ctx, GenerateRequest{
			Node:          node,
			System:        system,
			User:          userMsg,
			Context:       ec.Context,
			Category:      category,
			ModelOverride: modelOverride,
			OnThought:     func(t string) { ec.thought(t) },
		})
		if err != nil {
			return failure("generation failed: %v", err)
		}

		e.recordTurn(ctx, ec, userMsg, output)

		verdict := validate.Evaluate(output, node.AgreementRules)
		if verdict.Passed {
			return Result{
				OK:     true,
				Output: output,
				Data:   map[string]any{"provider": provider, "model": model, "category": category},
			}
		}

		lastFailed = verdict.FailedRequired
		ec.log(fmt.Sprintf("Validation failed (attempt %d/%d): %s",
			attempt, maxRetries, strings.Join(lastFailed, ", ")))
		if attempt < maxRetries {
			userMsg = correctionPreamble(verdict, node.AgreementRules) + "\n\n" + user
		}
	}

	return failure("validation failed after %d attempts: %s", maxRetries, strings.Join(lastFailed, ", "))
}

func (e *AgentExecutor) buildSystemPrompt(ec *ExecContext) string {
	node := ec.Node

	persona := ec.PersonaOverride
	if persona == "" {
		persona = node.Persona
	}
	if persona == "" {
		persona = defaultPersonas[node.Kind]
	}

	var sb strings.Builder
	sb.WriteString(persona)
	if node.Backstory != "" {
		sb.WriteString("\n\n## Backstory:\n")
		sb.WriteString(node.Backstory)
	}
	if ec.Conversation != nil {
		if memCtx := ec.Conversation.Context(); memCtx != "" {
			sb.WriteString("\n\n")
			sb.WriteString(memCtx)
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(toolCatalogue)
	if ec.Blackboard != nil {
		if snapshot := ec.Blackboard.Render(); snapshot != "" {
			sb.WriteString("\n\n")
			sb.WriteString(snapshot)
		}
	}
	return sb.String()
}

// recordTurn appends the exchange to conversation memory and folds
// old turns into the running summary using the same backend.
func (e *AgentExecutor) recordTurn(ctx context.Context, ec *ExecContext, user, assistant string) {
	if ec.Conversation == nil {
		return
	}
	ec.Conversation.Add("user", preview(user, conversationPreview))
	ec.Conversation.Add("assistant", preview(assistant, conversationPreview))

	ec.Conversation.Prune(ctx, func(ctx context.Context, transcript string) (string, error) {
		out, _, _, err := ec.Generate(ctx, GenerateRequest{
			Node:   ec.Node,
			System: "Summarize the following conversation in a few sentences, keeping every decision and open question.",
			User:   transcript,
		})
		return out, err
	})
}

// correctionPreamble names the failed required rules and adds format
// hints for structural rules.
func correctionPreamble(verdict validate.Result, rules []workflow.AgreementRule) string {
	var sb strings.Builder
	sb.WriteString("Your previous response failed validation. The following required rules failed: ")
	sb.WriteString(strings.Join(verdict.FailedRequired, ", "))
	sb.WriteString(".")

	failed := make(map[string]bool, len(verdict.FailedRequired))
	for _, name := range verdict.FailedRequired {
		failed[name] = true
	}
	for _, rule := range rules {
		if !failed[rule.Name] {
			continue
		}
		switch rule.Kind {
		case validate.KindJSON:
			sb.WriteString("\nHint: include a valid JSON object in your response, e.g. {\"key\": \"value\"}.")
		case validate.KindSchema:
			sb.WriteString(fmt.Sprintf("\nHint: the JSON must satisfy the schema: %v.", rule.Value))
		}
	}
	sb.WriteString("\nRegenerate your full response with these problems fixed.")
	return sb.String()
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
