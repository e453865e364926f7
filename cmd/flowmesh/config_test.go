// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "providers.json", cfg.ProvidersFile)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestConfigUnmarshalAndDefaults(t *testing.T) {
	doc := []byte(`
logging:
  level: debug
  json: true
default_provider: local-ollama
concurrency: 8
metrics_addr: "127.0.0.1:9190"
`)
	var cfg Config
	require.NoError(t, yaml.Unmarshal(doc, &cfg))
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "local-ollama", cfg.DefaultProvider)
	assert.Equal(t, 8, cfg.Concurrency)

	// Unset fields fall back to defaults.
	assert.Equal(t, "providers.json", cfg.ProvidersFile)
	assert.Equal(t, "data", cfg.ExportsDir)
}

func TestConfigRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	require.Error(t, cfg.Validate())
}
