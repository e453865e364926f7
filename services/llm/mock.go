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
	"strings"
	"time"
)

// MockProvider produces deterministic role-flavored replies so
// workflows can be exercised end to end without a model server.
//
// The reply shape depends on the persona in the system prompt:
// proposer/architect personas return a structured proposal, critic
// personas return a critique, and auditor personas return an
// APPROVE/REJECT verdict keyed off the review context.
type MockProvider struct {
	// Delay simulates generation latency. Zero means no delay.
	Delay time.Duration
}

// NewMockProvider creates a mock provider with no artificial delay.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Initialize implements Provider.
func (m *MockProvider) Initialize(context.Context) error { return nil }

// HealthCheck implements Provider.
func (m *MockProvider) HealthCheck(context.Context) error { return nil }

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, req Request) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	persona := strings.ToLower(req.System)

	if req.OnThought != nil {
		thoughts := []string{
			"Analyzing the request parameters...",
			"Formulating response strategy...",
		}
		switch {
		case strings.Contains(persona, "critic") || strings.Contains(persona, "adversary"):
			thoughts = append(thoughts, "Scanning for logical fallacies...")
		case strings.Contains(persona, "architect") || strings.Contains(persona, "proposer"):
			thoughts = append(thoughts, "Consulting design patterns...")
		}
		for _, thought := range thoughts {
			req.OnThought(thought)
		}
	}

	switch {
	case strings.Contains(persona, "auditor") || strings.Contains(persona, "consensus"):
		return m.auditorReply(req.Context), nil
	case strings.Contains(persona, "critic") || strings.Contains(persona, "adversary"):
		return m.criticReply(req.User), nil
	case strings.Contains(persona, "architect") || strings.Contains(persona, "proposer"):
		return m.architectReply(req.User), nil
	}
	return fmt.Sprintf("Mock response to: %s", truncate(req.User, 100)), nil
}

// ListModels implements Provider.
func (m *MockProvider) ListModels(context.Context) ([]string, error) {
	return []string{"mock-small", "mock-large"}, nil
}

// Close implements Provider.
func (m *MockProvider) Close() error { return nil }

func (m *MockProvider) architectReply(task string) string {
	return fmt.Sprintf(`**Proposal for: %s**

## Architecture Overview
1. **Core Module** - Central processing unit
2. **API Layer** - Interface with authentication
3. **Data Store** - Persistent storage with caching

This ensures scalability, security, and maintainability.`, truncate(task, 120))
}

func (m *MockProvider) criticReply(task string) string {
	if strings.Contains(strings.ToLower(task), "security") {
		return `## Critical Analysis

**Concerns Identified:**
1. No mention of rate limiting
2. Authentication flow unspecified - potential **Material Breach**

**Recommendation:** Address security concerns before proceeding.`
	}
	return `## Critical Analysis

The proposal is fundamentally sound but lacks a detailed
implementation timeline and failure recovery procedures.

**Overall:** Acceptable with noted improvements.`
}

func (m *MockProvider) auditorReply(reviewContext string) string {
	if strings.Contains(strings.ToLower(reviewContext), "material breach") {
		return "REJECT: Critical concerns identified require resolution."
	}
	return "APPROVE: Proposal meets agreement parameters."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
