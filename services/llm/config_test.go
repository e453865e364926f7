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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "providers": [
    {
      "name": "local",
      "type": "ollama",
      "endpoint": "http://localhost:11434",
      "model": "llama3",
      "models": ["llama3", "mistral"],
      "priority": 30,
      "rate_limit": 5,
      "burst": 2
    },
    {
      "name": "cloud",
      "type": "openai",
      "api_key_env": "TEST_OPENAI_KEY",
      "model": "gpt-4",
      "priority": 10,
      "tier": "paid"
    },
    {
      "name": "stub",
      "type": "mock",
      "priority": 100
    }
  ],
  "fallback_chains": {
    "cloud/gpt-4": [
      {"provider": "local", "model": "llama3"}
    ]
  }
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 3)
	spec, ok := cfg.Provider("local")
	require.True(t, ok)
	assert.Equal(t, TypeOllama, spec.Type)
	assert.Equal(t, []string{"llama3", "mistral"}, spec.Models)
	assert.Len(t, cfg.FallbackChains["cloud/gpt-4"], 1)
}

func TestLoadConfigRejectsUnknownType(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"providers":[{"name":"x","type":"telepathy"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid provider config")
}

func TestLoadConfigRejectsBadChainKey(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{
      "providers": [{"name": "stub", "type": "mock"}],
      "fallback_chains": {"no-slash": [{"provider": "stub", "model": "m"}]}
    }`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider/model")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestBuildRegistersProvidersAndChains(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	registry, failover := Build(cfg, NewTierManager())

	assert.Equal(t, []string{"cloud", "local", "stub"}, registry.Names())

	status := failover.Status()
	assert.Contains(t, status, "local/llama3")
	assert.Contains(t, status, "local/mistral")
	assert.Contains(t, status, "cloud/gpt-4")
	assert.Equal(t, 10, status["cloud/gpt-4"].Priority)
}

func TestConfigManagerReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	var reloads int
	mgr, err := NewConfigManager(path, func(*Config) { reloads++ })
	require.NoError(t, err)
	require.Len(t, mgr.Current().Providers, 3)

	require.NoError(t, os.WriteFile(path, []byte(`{
      "providers": [{"name": "only", "type": "mock", "priority": 1}]
    }`), 0640))
	mgr.reload()

	assert.Equal(t, 1, reloads)
	require.Len(t, mgr.Current().Providers, 1)
	assert.Equal(t, "only", mgr.Current().Providers[0].Name)
}

func TestConfigManagerKeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	mgr, err := NewConfigManager(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0640))
	mgr.reload()

	assert.Len(t, mgr.Current().Providers, 3, "invalid rewrite is discarded")
}

func TestConfigManagerWatchStopsOnCancel(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	mgr, err := NewConfigManager(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Watch(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
