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
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowmesh/pkg/ux"
	"github.com/AleutianAI/flowmesh/services/conductor/history"
)

func openArchive() *history.Store {
	if config.HistoryDir == "" {
		ux.Error("history_dir is not configured; nothing is archived")
		os.Exit(1)
	}
	archive, err := history.Open(config.HistoryDir)
	if err != nil {
		ux.Error("Cannot open history store: " + err.Error())
		os.Exit(1)
	}
	return archive
}

// runSessionsList is the entry point for "flowmesh sessions list".
func runSessionsList(cmd *cobra.Command, args []string) {
	archive := openArchive()
	defer archive.Close()

	sessions, err := archive.Sessions()
	if err != nil {
		ux.Error("Cannot list sessions: " + err.Error())
		os.Exit(1)
	}
	if len(sessions) == 0 {
		ux.Info("No archived sessions")
		return
	}

	sort.Strings(sessions)
	ux.Title(fmt.Sprintf("%d archived session(s)", len(sessions)))
	for _, id := range sessions {
		snapshots, _ := archive.Snapshots(id)
		ux.Info(fmt.Sprintf("%s  (%d snapshot(s))", id, len(snapshots)))
	}
}

// runSessionsTrace is the entry point for "flowmesh sessions trace".
func runSessionsTrace(cmd *cobra.Command, args []string) {
	archive := openArchive()
	defer archive.Close()

	traces, err := archive.Traces(args[0])
	if err != nil {
		ux.Error("Cannot read traces: " + err.Error())
		os.Exit(1)
	}
	if len(traces) == 0 {
		ux.Info("No trace events for session " + args[0])
		return
	}

	ux.Title("Trace for session " + args[0])
	for _, tr := range traces {
		line := fmt.Sprintf("%s  %-9s %s", tr.Timestamp.Format("15:04:05"), tr.Status, tr.NodeName)
		switch {
		case tr.Error != "":
			line += "  error: " + tr.Error
		case tr.Status == "completed" && tr.Outputs != "":
			line += "  " + previewLine(tr.Outputs)
		}
		ux.Muted(line)
	}
}
