// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model-provider abstraction: backend
// adapters (Ollama, OpenAI-compatible, mock), a registry with
// per-provider rate limiting, thought-stream extraction, and the
// failover manager that reroutes generation across providers when a
// backend degrades.
package llm

import (
	"context"
	"errors"
)

// Provider backend types.
const (
	TypeOllama = "ollama"
	TypeOpenAI = "openai"
	TypeMock   = "mock"
)

var (
	// ErrNotInitialized is returned when Generate is called before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("provider not initialized")

	// ErrUnknownProvider is returned by the registry for an
	// unregistered provider id.
	ErrUnknownProvider = errors.New("unknown provider")
)

// GenerationParams tunes sampling. Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	NumCtx      *int     `json:"num_ctx,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Request is one generation call.
//
// Context, when present, is delivered as a separate user turn ahead
// of the task so backends see task framing and task content as
// distinct messages. Model overrides the provider's default model
// for this call only. OnThought receives reasoning text as it
// streams; it may be nil.
type Request struct {
	System    string
	User      string
	Context   string
	Model     string
	OnThought func(string)
	Params    GenerationParams
}

// Provider is one LLM backend.
//
// # Description
//
// Generate returns the completion with any reasoning blocks already
// stripped (they are delivered through Request.OnThought instead).
// Transport and backend failures come back as errors; the failover
// manager additionally treats completions starting with "Error:" as
// failures, so adapters bridging engines without structured errors
// can surface them in-band.
//
// # Thread Safety
//
// Implementations must be safe for concurrent Generate calls.
type Provider interface {
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Generate(ctx context.Context, req Request) (string, error)
	ListModels(ctx context.Context) ([]string, error)
	Close() error
}
