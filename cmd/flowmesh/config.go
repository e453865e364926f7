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
	"fmt"

	"github.com/go-playground/validator/v10"
)

const defaultConfigPath = "config.yaml"

// LoggingConfig selects the CLI log destination and verbosity.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// Config is the config.yaml document. Every field has a usable
// default so the CLI runs with no config file at all.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	// ProvidersFile points at the providers.json backend catalog.
	ProvidersFile string `yaml:"providers_file"`

	// DefaultProvider names the backend used when a node does not
	// pin one. Empty selects the first configured provider.
	DefaultProvider string `yaml:"default_provider"`

	// WatchProviders hot-reloads the backend catalog when the file
	// changes on disk.
	WatchProviders bool `yaml:"watch_providers"`

	// ExportsDir is the root under which per-session export
	// directories are created.
	ExportsDir string `yaml:"exports_dir"`

	// MemoryFile is the long-term memory JSON store. Empty disables
	// memory nodes' persistence.
	MemoryFile string `yaml:"memory_file"`

	// HistoryDir is the Badger session archive. Empty disables trace
	// and snapshot persistence.
	HistoryDir string `yaml:"history_dir"`

	// Concurrency caps simultaneously executing nodes.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`

	// MetricsAddr serves Prometheus metrics when set, e.g.
	// "127.0.0.1:9190".
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the configuration used when config.yaml is
// absent.
func DefaultConfig() Config {
	return Config{
		Logging:       LoggingConfig{Level: "info"},
		ProvidersFile: "providers.json",
		ExportsDir:    "data",
		MemoryFile:    "data/memory.json",
		HistoryDir:    "data/history",
		Concurrency:   4,
	}
}

// ApplyDefaults fills fields the YAML left zero-valued.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.ProvidersFile == "" {
		c.ProvidersFile = def.ProvidersFile
	}
	if c.ExportsDir == "" {
		c.ExportsDir = def.ExportsDir
	}
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
}

// Validate checks the structural constraints declared on the struct
// tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}
