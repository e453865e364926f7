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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want Reason
	}{
		{"429 Too Many Requests", ReasonRateLimit},
		{"request was throttled", ReasonRateLimit},
		{"context deadline exceeded: timed out", ReasonTimeout},
		{"monthly quota exhausted", ReasonQuotaExceeded},
		{"invalid api key", ReasonAuthentication},
		{"401 unauthorized", ReasonAuthentication},
		{"model does not exist", ReasonModelUnavailable},
		{"upstream 503", ReasonAPIError},
		{"something odd happened", ReasonUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.msg), tt.msg)
	}
}

func newTestFailover(t *testing.T) (*FailoverManager, *time.Time) {
	t.Helper()
	m := NewFailoverManager(DefaultFailoverConfig(), nil)
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	m.sleep = func(context.Context, time.Duration) {}
	return m, &clock
}

func TestExecuteFirstTrySuccess(t *testing.T) {
	m, _ := newTestFailover(t)
	m.RegisterProvider("primary", []string{"sonnet"}, 10)

	result, final, err := m.Execute(context.Background(), "primary", "sonnet",
		func(_ context.Context, p, model string) (string, error) {
			return "done by " + p + "/" + model, nil
		}, nil, "")

	require.NoError(t, err)
	assert.Equal(t, "done by primary/sonnet", result)
	assert.Equal(t, Candidate{Provider: "primary", Model: "sonnet"}, final)

	health := m.Status()["primary/sonnet"]
	assert.Equal(t, 1, health.SuccessCount)
}

func TestExecuteFailsOverWithinCapabilityGroup(t *testing.T) {
	m, _ := newTestFailover(t)
	// sonnet and mistral are both in the balanced group.
	m.RegisterProvider("primary", []string{"sonnet"}, 10)
	m.RegisterProvider("backup", []string{"mistral"}, 20)

	var transitions []string
	result, final, err := m.Execute(context.Background(), "primary", "sonnet",
		func(_ context.Context, p, model string) (string, error) {
			if p == "primary" {
				return "", errors.New("429 too many requests")
			}
			return "recovered", nil
		},
		func(oldP, oldM, newP, newM string, reason Reason) {
			transitions = append(transitions, fmt.Sprintf("%s/%s->%s/%s:%s", oldP, oldM, newP, newM, reason))
		}, "")

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, Candidate{Provider: "backup", Model: "mistral"}, final)
	assert.Equal(t, []string{"primary/sonnet->backup/mistral:rate_limit"}, transitions)
}

func TestExecuteTreatsErrorPrefixAsFailure(t *testing.T) {
	m, _ := newTestFailover(t)
	m.RegisterProvider("primary", []string{"sonnet"}, 10)
	m.RegisterProvider("backup", []string{"mistral"}, 20)

	result, final, err := m.Execute(context.Background(), "primary", "sonnet",
		func(_ context.Context, p, _ string) (string, error) {
			if p == "primary" {
				return "Error: Request timed out", nil
			}
			return "ok", nil
		}, nil, "")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "backup", final.Provider)

	health := m.Status()["primary/sonnet"]
	assert.Equal(t, 1, health.FailureCount)
}

func TestRateLimitAppliesCooldown(t *testing.T) {
	m, clock := newTestFailover(t)
	m.RegisterProvider("primary", []string{"sonnet"}, 10)

	_, _, _ = m.Execute(context.Background(), "primary", "sonnet",
		func(context.Context, string, string) (string, error) {
			return "", errors.New("rate limit reached")
		}, nil, "")

	health := m.Status()["primary/sonnet"]
	assert.Equal(t, clock.Add(300*time.Second), health.CooldownUntil)
}

func TestCooldownExcludesCandidate(t *testing.T) {
	m, _ := newTestFailover(t)
	m.RegisterProvider("primary", []string{"sonnet"}, 10)
	m.RegisterProvider("cooling", []string{"mistral"}, 20)
	m.RegisterProvider("healthy", []string{"llama3"}, 30)

	// Put the preferred fallback on cooldown first.
	m.recordFailure(Candidate{Provider: "cooling", Model: "mistral"}, ReasonRateLimit)

	_, final, err := m.Execute(context.Background(), "primary", "sonnet",
		func(_ context.Context, p, _ string) (string, error) {
			if p == "primary" {
				return "", errors.New("500 internal error")
			}
			return "ok", nil
		}, nil, "")

	require.NoError(t, err)
	assert.Equal(t, "healthy", final.Provider, "cooling provider is skipped while on cooldown")
}

func TestExplicitChainWinsOverGroups(t *testing.T) {
	m, _ := newTestFailover(t)
	m.RegisterProvider("primary", []string{"sonnet"}, 10)
	m.RegisterProvider("groupmate", []string{"mistral"}, 1)
	m.RegisterProvider("chained", []string{"phi3"}, 99)

	m.SetFallbackChain("primary", "sonnet", []Candidate{{Provider: "chained", Model: "phi3"}})

	_, final, err := m.Execute(context.Background(), "primary", "sonnet",
		func(_ context.Context, p, _ string) (string, error) {
			if p == "primary" {
				return "", errors.New("502 bad gateway")
			}
			return "ok", nil
		}, nil, "")

	require.NoError(t, err)
	assert.Equal(t, "chained", final.Provider)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	m, _ := newTestFailover(t)
	m.RegisterProvider("a", []string{"sonnet"}, 10)
	m.RegisterProvider("b", []string{"mistral"}, 20)
	m.RegisterProvider("c", []string{"llama3"}, 30)

	calls := 0
	_, _, err := m.Execute(context.Background(), "a", "sonnet",
		func(context.Context, string, string) (string, error) {
			calls++
			return "", errors.New("500 down")
		}, nil, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all failover attempts exhausted")
	assert.LessOrEqual(t, calls, DefaultFailoverConfig().MaxRetries+1)
}

func TestExecuteDisabledRunsOnce(t *testing.T) {
	m := NewFailoverManager(FailoverConfig{Enabled: false}, nil)
	calls := 0
	_, final, err := m.Execute(context.Background(), "p", "m",
		func(context.Context, string, string) (string, error) {
			calls++
			return "", errors.New("boom")
		}, nil, "")

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "p", final.Provider)
}

func TestPriorityOrdersFallbacks(t *testing.T) {
	m, _ := newTestFailover(t)
	m.RegisterProvider("primary", []string{"sonnet"}, 10)
	m.RegisterProvider("low-prio", []string{"mistral"}, 50)
	m.RegisterProvider("high-prio", []string{"llama3"}, 5)

	_, final, err := m.Execute(context.Background(), "primary", "sonnet",
		func(_ context.Context, p, _ string) (string, error) {
			if p == "primary" {
				return "", errors.New("503 unavailable")
			}
			return "ok", nil
		}, nil, "")

	require.NoError(t, err)
	assert.Equal(t, "high-prio", final.Provider)
}

func TestResponseTimeMovingAverage(t *testing.T) {
	h := &Health{}
	now := time.Now()
	h.recordSuccess(now, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, h.AvgResponseTime)

	h.recordSuccess(now, 200*time.Millisecond)
	assert.Equal(t, 110*time.Millisecond, h.AvgResponseTime)
}
