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
	"context"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible backend. APIKeyEnv
// names the environment variable holding the key so keys never
// appear in workflow documents. BaseURL, when set, points the client
// at a compatible gateway instead of api.openai.com.
type OpenAIConfig struct {
	APIKeyEnv string
	BaseURL   string
	Model     string
}

// OpenAIProvider wraps any OpenAI-compatible chat completion API.
type OpenAIProvider struct {
	client      *openai.Client
	cfg         OpenAIConfig
	initialized bool
}

// NewOpenAIProvider creates the provider; the client is built during
// Initialize so a missing key fails loudly at startup rather than
// mid-workflow.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIProvider{cfg: cfg}
}

// Initialize reads the API key and builds the client.
func (p *OpenAIProvider) Initialize(_ context.Context) error {
	key := os.Getenv(p.cfg.APIKeyEnv)
	if key == "" {
		return fmt.Errorf("environment variable %s not set", p.cfg.APIKeyEnv)
	}

	clientCfg := openai.DefaultConfig(key)
	if p.cfg.BaseURL != "" {
		clientCfg.BaseURL = p.cfg.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientCfg)
	p.initialized = true
	slog.Info("OpenAI provider initialized", "default_model", p.cfg.Model, "base_url", clientCfg.BaseURL)
	return nil
}

// HealthCheck lists models to confirm the key and endpoint work.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	return nil
}

// Generate implements Provider. Inline <think> markup, which some
// compatible gateways pass through from reasoning models, is
// stripped and forwarded to OnThought.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	if !p.initialized {
		return "", ErrNotInitialized
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
	}
	if req.Context != "" {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Context for your task:\n" + req.Context},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "I understand the context. What is the specific task?"},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Params.Temperature != nil {
		chatReq.Temperature = *req.Params.Temperature
	}
	if req.Params.TopP != nil {
		chatReq.TopP = *req.Params.TopP
	}
	if req.Params.MaxTokens != nil {
		chatReq.MaxTokens = *req.Params.MaxTokens
	}
	if len(req.Params.Stop) > 0 {
		chatReq.Stop = req.Params.Stop
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	extractor := NewThinkExtractor(req.OnThought)
	extractor.Feed(resp.Choices[0].Message.Content)
	return extractor.Result(), nil
}

// ListModels returns the model ids visible to the configured key.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list openai models: %w", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

// Close implements Provider.
func (p *OpenAIProvider) Close() error {
	p.initialized = false
	return nil
}
