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
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowmesh/pkg/ux"
	"github.com/AleutianAI/flowmesh/services/llm"
)

// checkTimeout bounds each backend probe.
const checkTimeout = 10 * time.Second

// runProvidersList is the entry point for "flowmesh providers list".
func runProvidersList(cmd *cobra.Command, args []string) {
	cfg, err := llm.LoadConfig(config.ProvidersFile)
	if err != nil {
		ux.Error("Cannot load " + config.ProvidersFile + ": " + err.Error())
		os.Exit(1)
	}

	ux.Title("Configured backends (" + config.ProvidersFile + ")")
	for _, spec := range cfg.Providers {
		models := spec.Models
		if len(models) == 0 && spec.Model != "" {
			models = []string{spec.Model}
		}
		line := fmt.Sprintf("%-20s type=%-7s priority=%d", spec.Name, spec.Type, spec.Priority)
		if spec.Tier != "" {
			line += " tier=" + spec.Tier
		}
		if len(models) > 0 {
			line += " models=" + strings.Join(models, ",")
		}
		ux.Info(line)
	}

	if len(cfg.FallbackChains) > 0 {
		ux.Title("Fallback chains")
		for key, chain := range cfg.FallbackChains {
			steps := make([]string, len(chain))
			for i, step := range chain {
				steps[i] = step.Provider + "/" + step.Model
			}
			ux.Info(key + " -> " + strings.Join(steps, " -> "))
		}
	}
}

// runProvidersCheck is the entry point for "flowmesh providers check".
func runProvidersCheck(cmd *cobra.Command, args []string) {
	cfg, err := llm.LoadConfig(config.ProvidersFile)
	if err != nil {
		ux.Error("Cannot load " + config.ProvidersFile + ": " + err.Error())
		os.Exit(1)
	}

	registry, _ := llm.Build(cfg, llm.NewTierManager())
	defer registry.Close()

	unhealthy := 0
	for _, name := range registry.Names() {
		p, ok := registry.Get(name)
		if !ok {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		err := p.Initialize(ctx)
		if err == nil {
			err = p.HealthCheck(ctx)
		}
		if err != nil {
			cancel()
			unhealthy++
			ux.Warning(fmt.Sprintf("%-20s unreachable: %v", name, err))
			continue
		}

		models, _ := p.ListModels(ctx)
		cancel()
		ux.Success(fmt.Sprintf("%-20s ok (%d model(s) available)", name, len(models)))
	}

	if unhealthy > 0 {
		ux.Error(fmt.Sprintf("%d backend(s) unreachable", unhealthy))
		os.Exit(1)
	}
}
