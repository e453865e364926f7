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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	outputMode string // console style: rich, plain, or machine
	runInput   string // initial input handed to the workflow entry nodes
	runResume  bool
	noExport   bool

	rootCmd = &cobra.Command{
		Use:   "flowmesh",
		Short: "A cli to run multi-agent workflows against local or hosted model backends",
		Long: `Flowmesh executes agent workflow graphs: nodes are agents, routers,
				auditors, tools and scripts; edges carry routing conditions and
				rework feedback. Runs are archived per session and can be
				inspected or replayed afterwards.`,
	}

	// --- Execution ---
	runCmd = &cobra.Command{
		Use:   "run [workflow.json]",
		Short: "Execute a workflow file until it completes, stalls, or is stopped",
		Args:  cobra.ExactArgs(1),
		Run:   runWorkflow, // Defined in cmd_run.go
	}
	validateCmd = &cobra.Command{
		Use:   "validate [workflow.json]",
		Short: "Parse and validate a workflow file without executing it",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate, // Defined in cmd_validate.go
	}

	// --- Providers ---
	providersCmd = &cobra.Command{
		Use:   "providers",
		Short: "Inspect the configured model backends",
	}
	providersListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the backends declared in providers.json",
		Run:   runProvidersList, // Defined in cmd_providers.go
	}
	providersCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Probe every configured backend and report reachability",
		Run:   runProvidersCheck, // Defined in cmd_providers.go
	}

	// --- Sessions ---
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect archived workflow sessions",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List archived session ids",
		Run:   runSessionsList, // Defined in cmd_sessions.go
	}
	sessionsTraceCmd = &cobra.Command{
		Use:   "trace [session_id]",
		Short: "Print the node-by-node trace of an archived session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsTrace, // Defined in cmd_sessions.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath,
		"Path to the flowmesh config file")
	rootCmd.PersistentFlags().StringVar(&outputMode, "output", "",
		"Console style: rich (default), plain, or machine (scripting)")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runInput, "input", "i", "",
		"Initial input handed to the workflow entry nodes")
	runCmd.Flags().BoolVar(&runResume, "resume", false,
		"Requeue nodes left mid-flight by a previous run instead of starting fresh")
	runCmd.Flags().BoolVar(&noExport, "no-export", false,
		"Skip creating the per-session export directory")

	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersCheckCmd)

	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsTraceCmd)
}
