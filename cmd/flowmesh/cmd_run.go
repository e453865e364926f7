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
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowmesh/pkg/logging"
	"github.com/AleutianAI/flowmesh/pkg/ux"
	"github.com/AleutianAI/flowmesh/services/conductor/engine"
	"github.com/AleutianAI/flowmesh/services/conductor/history"
	"github.com/AleutianAI/flowmesh/services/conductor/memory"
	"github.com/AleutianAI/flowmesh/services/conductor/traffic"
	"github.com/AleutianAI/flowmesh/services/conductor/workflow"
	"github.com/AleutianAI/flowmesh/services/llm"
)

// runWorkflow is the entry point for "flowmesh run".
func runWorkflow(cmd *cobra.Command, args []string) {
	if err := executeRun(args[0]); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}

func executeRun(path string) error {
	logger := newLogger("cli")
	defer logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	wf, err := workflow.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parse workflow: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []engine.Option{engine.WithLogger(logger)}

	// Model backends. Catalog changes on disk apply to the next run;
	// the in-flight run keeps the backends it started with.
	manager, err := llm.NewConfigManager(config.ProvidersFile, func(next *llm.Config) {
		logger.Info("provider catalog reloaded", "providers", len(next.Providers))
	})
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}
	providers := manager.Current()
	registry, failover := llm.Build(providers, llm.NewTierManager())
	defer registry.Close()

	defaultProvider := config.DefaultProvider
	if defaultProvider == "" && len(providers.Providers) > 0 {
		defaultProvider = providers.Providers[0].Name
	}
	opts = append(opts, engine.WithLLM(registry, failover, defaultProvider))

	if config.WatchProviders {
		go func() {
			if err := manager.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("provider watch stopped", "error", err)
			}
		}()
	}

	promReg := prometheus.NewRegistry()
	controller := traffic.NewController(config.Concurrency,
		traffic.WithLogger(logger),
		traffic.WithMetrics(traffic.NewMetrics(promReg)))
	defer controller.Close()
	opts = append(opts, engine.WithTraffic(controller))

	if config.MetricsAddr != "" {
		stop := serveMetrics(config.MetricsAddr, promReg, logger)
		defer stop()
	}

	if config.MemoryFile != "" {
		store, err := memory.NewStore(config.MemoryFile)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		opts = append(opts, engine.WithMemory(store))
	}

	var archive *history.Store
	if config.HistoryDir != "" {
		archive, err = history.Open(config.HistoryDir)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer archive.Close()
		opts = append(opts, engine.WithHistory(archive))
	}

	eng, err := engine.New(wf, opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	if !noExport {
		dir, err := eng.EnableExport(config.ExportsDir)
		if err != nil {
			return fmt.Errorf("enable export: %w", err)
		}
		ux.Info("Session " + eng.SessionID() + " exporting to " + dir)
	}

	unsubscribe := eng.Bus().Subscribe(newConsolePrinter())
	defer unsubscribe()

	// First interrupt requests a graceful stop; a second one kills
	// the process the usual way.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			ux.Warning("Interrupt received; stopping workflow")
			eng.Stop()
			signal.Stop(sigs)
		case <-ctx.Done():
		}
	}()

	ux.Title("Running workflow: " + wf.Name)
	result := eng.Execute(ctx, runInput, runResume)

	names := make([]string, 0, len(result.Outputs))
	for name := range result.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ux.Box(name, result.Outputs[name])
	}

	if !result.Success {
		return fmt.Errorf("workflow %q: %s", wf.Name, result.Message)
	}
	ux.Success(result.Message)
	return nil
}

// serveMetrics exposes the Prometheus registry over HTTP and returns
// a shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// newLogger builds the structured logger from the loaded config.
func newLogger(service string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(config.Logging.Level),
		LogDir:  config.Logging.Dir,
		Service: service,
		JSON:    config.Logging.JSON,
		Quiet:   config.Logging.Quiet,
	})
}
