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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("flowmesh.llm.ollama")

// OllamaConfig configures an Ollama backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaProvider talks to a local Ollama server over its chat API
// with streaming enabled so reasoning tokens surface live.
type OllamaProvider struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	initialized bool
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Thinking carries native reasoning from models that separate
	// it from content.
	Thinking string `json:"thinking,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaProvider creates an Ollama provider. The base URL
// defaults to the local server and the timeout to 10 minutes, long
// enough to cover cold model loads.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// Initialize verifies the server is reachable.
func (o *OllamaProvider) Initialize(ctx context.Context) error {
	if err := o.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ollama at %s: %w", o.baseURL, err)
	}
	o.initialized = true
	slog.Info("Ollama provider initialized", "base_url", o.baseURL, "default_model", o.model)
	return nil
}

// HealthCheck pings the tags endpoint.
func (o *OllamaProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Generate implements Provider via the streaming chat endpoint.
//
// # Description
//
// Each streamed chunk may carry a native thinking field, inline
// <think> markup, or plain content. Native thinking goes straight to
// OnThought; inline markup runs through a ThinkExtractor so split
// tags across chunk boundaries are still recognized. The returned
// completion has all reasoning removed.
func (o *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	if !o.initialized {
		return "", ErrNotInitialized
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	ctx, span := tracer.Start(ctx, "OllamaProvider.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	payload := ollamaChatRequest{
		Model:    model,
		Messages: buildMessages(req),
		Stream:   true,
		Options:  buildOllamaOptions(req.Params),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound && bytes.Contains(respBody, []byte("not found")) {
			return "", fmt.Errorf("model %q not found, run: ollama pull %s", model, model)
		}
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return "", fmt.Errorf("ollama failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	extractor := NewThinkExtractor(req.OnThought)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Thinking != "" && req.OnThought != nil {
			req.OnThought(chunk.Message.Thinking)
		}
		extractor.Feed(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("read ollama stream: %w", err)
	}

	return extractor.Result(), nil
}

// ListModels returns the names of locally available models.
func (o *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	defer resp.Body.Close()

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("parse ollama tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Close implements Provider; the shared http.Client needs no
// teardown.
func (o *OllamaProvider) Close() error {
	o.initialized = false
	return nil
}

// buildMessages converts a Request into chat turns. Context becomes
// its own user turn with an acknowledging assistant turn so the task
// stays the final message.
func buildMessages(req Request) []ollamaMessage {
	messages := []ollamaMessage{{Role: "system", Content: req.System}}
	if req.Context != "" {
		messages = append(messages,
			ollamaMessage{Role: "user", Content: "Context for your task:\n" + req.Context},
			ollamaMessage{Role: "assistant", Content: "I understand the context. What is the specific task?"},
		)
	}
	return append(messages, ollamaMessage{Role: "user", Content: req.User})
}

func buildOllamaOptions(params GenerationParams) map[string]any {
	options := make(map[string]any)

	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	} else {
		options["temperature"] = float32(0.7)
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	} else {
		options["top_p"] = float32(0.9)
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if params.NumCtx != nil && *params.NumCtx > 0 {
		options["num_ctx"] = *params.NumCtx
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}
