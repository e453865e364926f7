// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/AleutianAI/flowmesh/services/conductor/events"
)

// executionLogName is the per-session human-readable transcript.
const executionLogName = "workflow_execution.log"

// SessionDir builds the export directory for one run:
// <root>/exports/<workflow-slug>/<YYYYMMDD_HHMMSS>_<session>.
func SessionDir(root, workflowName, sessionID string, now time.Time) string {
	return filepath.Join(root, "exports", slugify(workflowName),
		fmt.Sprintf("%s_%s", now.Format("20060102_150405"), sessionID))
}

// EnableExport creates the session export directory, points the
// engine's base directory at it, and starts appending the run
// transcript to workflow_execution.log inside it. Close releases the
// log.
func (e *Engine) EnableExport(root string) (string, error) {
	dir := SessionDir(root, e.wf.Name, e.sessionID, time.Now())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, executionLogName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return "", fmt.Errorf("open execution log: %w", err)
	}

	e.baseDir = dir
	e.exportLog = f
	e.unsubscribe = e.bus.Subscribe(events.NewLogSink(f))
	e.logger.Info("session export enabled", "dir", dir, "session", e.sessionID)
	return dir, nil
}

// slugify lowercases a workflow name and collapses anything that is
// not a letter or digit into single underscores.
func slugify(name string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	slug := strings.Trim(sb.String(), "_")
	if slug == "" {
		slug = "workflow"
	}
	return slug
}
