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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New()

// ProviderSpec declares one backend in providers.json. API keys are
// referenced by environment variable name, never stored inline.
type ProviderSpec struct {
	Name           string   `json:"name" validate:"required"`
	Type           string   `json:"type" validate:"required,oneof=ollama openai mock"`
	Endpoint       string   `json:"endpoint,omitempty" validate:"omitempty,url"`
	Model          string   `json:"model,omitempty"`
	Models         []string `json:"models,omitempty"`
	APIKeyEnv      string   `json:"api_key_env,omitempty"`
	Priority       int      `json:"priority"`
	RateLimit      float64  `json:"rate_limit,omitempty" validate:"gte=0"`
	Burst          int      `json:"burst,omitempty" validate:"gte=0"`
	Tier           string   `json:"tier,omitempty" validate:"omitempty,oneof=paid free"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// FallbackSpec is one entry of an explicit fallback chain.
type FallbackSpec struct {
	Provider string `json:"provider" validate:"required"`
	Model    string `json:"model" validate:"required"`
}

// Config is the providers.json document. Fallback chain keys use the
// "provider/model" form.
type Config struct {
	Providers      []ProviderSpec            `json:"providers" validate:"required,min=1,dive"`
	FallbackChains map[string][]FallbackSpec `json:"fallback_chains,omitempty" validate:"omitempty,dive,dive"`
}

// Provider returns the spec with the given name.
func (c *Config) Provider(name string) (ProviderSpec, bool) {
	for _, spec := range c.Providers {
		if spec.Name == name {
			return spec, true
		}
	}
	return ProviderSpec{}, false
}

// LoadConfig reads and validates a providers.json file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse provider config: %w", err)
	}
	if err := configValidator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	for key := range cfg.FallbackChains {
		if !strings.Contains(key, "/") {
			return nil, fmt.Errorf("invalid provider config: fallback chain key %q must be provider/model", key)
		}
	}
	return &cfg, nil
}

// Build constructs a registry and failover manager from a config.
//
// Each spec becomes a provider instance registered under its name,
// with its models registered as failover entries at the spec's
// priority. Explicit fallback chains are installed verbatim.
// Providers are constructed but not initialized; the caller decides
// when to connect.
func Build(cfg *Config, tiers *TierManager) (*Registry, *FailoverManager) {
	registry := NewRegistry()
	failover := NewFailoverManager(DefaultFailoverConfig(), tiers)

	for _, spec := range cfg.Providers {
		var p Provider
		switch spec.Type {
		case TypeOllama:
			p = NewOllamaProvider(OllamaConfig{
				BaseURL: spec.Endpoint,
				Model:   spec.Model,
				Timeout: time.Duration(spec.TimeoutSeconds) * time.Second,
			})
		case TypeOpenAI:
			p = NewOpenAIProvider(OpenAIConfig{
				APIKeyEnv: spec.APIKeyEnv,
				BaseURL:   spec.Endpoint,
				Model:     spec.Model,
			})
		case TypeMock:
			p = NewMockProvider()
		default:
			continue
		}

		registry.Register(spec.Name, p, spec.RateLimit, spec.Burst)

		models := spec.Models
		if len(models) == 0 && spec.Model != "" {
			models = []string{spec.Model}
		}
		if len(models) > 0 {
			failover.RegisterProvider(spec.Name, models, spec.Priority)
		}
	}

	for key, chain := range cfg.FallbackChains {
		provider, model, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		candidates := make([]Candidate, 0, len(chain))
		for _, fb := range chain {
			candidates = append(candidates, Candidate{Provider: fb.Provider, Model: fb.Model})
		}
		failover.SetFallbackChain(provider, model, candidates)
	}

	return registry, failover
}

// ConfigManager holds the live provider config and hot-reloads it
// when the file changes on disk.
//
// # Thread Safety
//
// ConfigManager is safe for concurrent use.
type ConfigManager struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	onReload func(*Config)
}

// NewConfigManager loads the config at path. onReload, if non-nil,
// fires after every successful hot reload.
func NewConfigManager(path string, onReload func(*Config)) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{path: path, current: cfg, onReload: onReload}, nil
}

// Current returns the most recently loaded config.
func (m *ConfigManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch blocks until ctx is done, reloading the config whenever the
// file is rewritten. A reload that fails validation is logged and
// discarded; the previous config stays live.
func (m *ConfigManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.path); err != nil {
		return fmt.Errorf("watch %s: %w", m.path, err)
	}
	slog.Info("Watching provider config", "path", m.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

func (m *ConfigManager) reload() {
	cfg, err := LoadConfig(m.path)
	if err != nil {
		slog.Error("Provider config reload rejected", "path", m.path, "error", err)
		return
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()

	slog.Info("Provider config reloaded", "path", m.path, "providers", len(cfg.Providers))
	if m.onReload != nil {
		m.onReload(cfg)
	}
}
